package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/docsync/internal/bridge"
)

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Report which bridge transports the current config can reach",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.conn.Bridge
			fmt.Fprintf(os.Stdout, "config_path=%s\n", opts.conn.ConfigPath)
			if opts.conn.ContextName != "" {
				fmt.Fprintf(os.Stdout, "context=%s\n", opts.conn.ContextName)
			}
			fmt.Fprintf(os.Stdout, "nats_url=%s\n", cfg.NATSURL)
			fmt.Fprintf(os.Stdout, "redis_addr=%s\n", cfg.RedisAddr)
			fmt.Fprintf(os.Stdout, "relay_url=%s\n", cfg.RelayURL)
			fmt.Fprintf(os.Stdout, "origin=%s\n", cfg.AllowedOrigin)

			probe := func(kind bridge.TransportKind) {
				probeCfg := cfg
				probeCfg.Context = "doctor-probe"
				probeCfg.Transport = kind
				probeCfg.Logger = opts.logger
				b, err := bridge.Connect(probeCfg)
				if err != nil {
					fmt.Fprintf(os.Stdout, "transport_%s=unreachable (%s)\n", kind, err)
					return
				}
				b.Disconnect()
				fmt.Fprintf(os.Stdout, "transport_%s=ok\n", kind)
			}
			if cfg.NATSURL != "" {
				probe(bridge.TransportNATS)
			}
			if cfg.RedisAddr != "" {
				probe(bridge.TransportRedis)
			}
			if cfg.RelayURL != "" {
				probe(bridge.TransportWebSocket)
			}
			if cfg.NATSURL == "" && cfg.RedisAddr == "" && cfg.RelayURL == "" {
				fmt.Fprintln(os.Stdout, "transports=none_configured")
			}
			return nil
		},
	}
	return cmd
}
