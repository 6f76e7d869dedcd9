package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/docsync/internal/relay"
)

func newRelayCmd(opts *rootOptions) *cobra.Command {
	var (
		listenAddr   string
		allowOrigins []string
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the websocket relay for the frame-messaging fallback transport",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(allowOrigins) == 0 {
				return fmt.Errorf("at least one --allow-origin is required")
			}
			srv := relay.New(relay.Config{
				AllowedOrigins: allowOrigins,
				Logger:         opts.logger,
			})
			httpSrv := &http.Server{
				Addr:    listenAddr,
				Handler: srv.Router(),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				opts.logger.Info("relay listening", "addr", listenAddr, "origins", allowOrigins)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":8090", "relay listen address")
	cmd.Flags().StringSliceVar(&allowOrigins, "allow-origin", nil, "origin allowed to connect (repeatable, exact match)")
	return cmd
}
