package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/docsync/internal/bridge"
	cliconfig "github.com/antonkrylov/docsync/internal/cli/config"
	"github.com/antonkrylov/docsync/internal/client"
	"github.com/antonkrylov/docsync/internal/coordinator"
	"github.com/antonkrylov/docsync/internal/editor"
	"github.com/antonkrylov/docsync/internal/producer"
)

type rootOptions struct {
	configPath  string
	contextName string
	transport   string
	natsURL     string
	redisAddr   string
	relayURL    string
	origin      string
	timeout     time.Duration
	logJSON     bool

	conn   *client.Connection
	logger *slog.Logger
}

func (r *rootOptions) prepare() error {
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if r.logJSON {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	r.logger = slog.New(handler)

	flags := bridge.Config{
		Transport:     bridge.TransportKind(r.transport),
		NATSURL:       r.natsURL,
		RedisAddr:     r.redisAddr,
		RelayURL:      r.relayURL,
		AllowedOrigin: r.origin,
	}
	conn, err := client.ResolveConnection(r.configPath, r.contextName, flags, r.timeout)
	if err != nil {
		return err
	}
	r.conn = conn
	return nil
}

func (r *rootOptions) connect(doc string) (*bridge.Bridge, error) {
	cfg := r.conn.Bridge
	cfg.Context = doc
	cfg.Logger = r.logger
	return bridge.Connect(cfg)
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "docsync",
		Short: "Cross-context streaming document synchronization",
	}
	defaultConfig := os.Getenv("DOCSYNC_CONFIG")
	if defaultConfig == "" {
		defaultConfig = cliconfig.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to docsync config file (default $HOME/.docsync/config)")
	rootCmd.PersistentFlags().StringVar(&opts.contextName, "context", "", "context name within the config (overrides currentContext)")
	rootCmd.PersistentFlags().StringVar(&opts.transport, "transport", "", "force a bridge transport (auto|nats|redis|websocket|memory)")
	rootCmd.PersistentFlags().StringVar(&opts.natsURL, "nats-url", "", "NATS connection URL (DOCSYNC_NATS_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.redisAddr, "redis-addr", "", "Redis address (DOCSYNC_REDIS_ADDR)")
	rootCmd.PersistentFlags().StringVar(&opts.relayURL, "relay-url", "", "websocket relay URL (DOCSYNC_RELAY_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.origin, "origin", "", "origin to present to the relay (DOCSYNC_ORIGIN)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "client timeout; defaults to config or 15s")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return opts.prepare()
	}

	rootCmd.AddCommand(newProduceCmd(opts))
	rootCmd.AddCommand(newConsumeCmd(opts))
	rootCmd.AddCommand(newRelayCmd(opts))
	rootCmd.AddCommand(newDoctorCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newProduceCmd(opts *rootOptions) *cobra.Command {
	var (
		doc         string
		endpoint    string
		prompt      string
		position    int
		opType      string
		operationID string
	)
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Stream a generation endpoint onto the bridge, token by token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if doc == "" {
				return fmt.Errorf("--doc is required")
			}
			if endpoint == "" {
				return fmt.Errorf("--endpoint is required")
			}
			b, err := opts.connect(doc)
			if err != nil {
				return err
			}
			defer b.Disconnect()

			p, err := producer.New(producer.Config{
				Bridge:         b,
				Endpoint:       endpoint,
				Body:           []byte(prompt),
				OperationID:    operationID,
				TargetPosition: position,
				OperationType:  bridge.OperationType(opType),
				Logger:         opts.logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				p.Abort()
			}()
			return p.Run(context.Background())
		},
	}
	cmd.Flags().StringVar(&doc, "doc", "", "document context identifier")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "generation endpoint URL")
	cmd.Flags().StringVar(&prompt, "prompt", "", "request body for the generation endpoint")
	cmd.Flags().IntVar(&position, "position", 0, "target position in the document")
	cmd.Flags().StringVar(&opType, "type", string(bridge.OperationInsert), "operation type (insert|replace|diff)")
	cmd.Flags().StringVar(&operationID, "operation-id", "", "operation id (default: random UUID)")
	return cmd
}

func newConsumeCmd(opts *rootOptions) *cobra.Command {
	var (
		doc     string
		initial string
	)
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Apply bridge stream events to an in-memory document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if doc == "" {
				return fmt.Errorf("--doc is required")
			}
			b, err := opts.connect(doc)
			if err != nil {
				return err
			}
			defer b.Disconnect()

			ed := editor.NewMemory(initial)
			history := editor.NewUndoStack()
			coord, err := coordinator.New(ed, history, opts.logger)
			if err != nil {
				return err
			}
			detach, err := coord.Attach(b)
			if err != nil {
				return err
			}
			defer detach()

			// Print the applied result whenever a stream closes.
			offEnd, err := b.Subscribe(bridge.EventStreamEnd, func(json.RawMessage) {
				fmt.Fprintf(os.Stdout, "content=%q undo_depth=%d\n", ed.GetHTML(), history.Len())
			})
			if err != nil {
				return err
			}
			defer offEnd()

			opts.logger.Info("consuming", "channel", b.Channel(), "transport", b.TransportName())
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&doc, "doc", "", "document context identifier")
	cmd.Flags().StringVar(&initial, "initial", "", "initial document content")
	return cmd
}
