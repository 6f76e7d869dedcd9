package client

import (
	"os"
	"time"

	"github.com/antonkrylov/docsync/internal/bridge"
	cliconfig "github.com/antonkrylov/docsync/internal/cli/config"
)

// Connection is the resolved bridge reachability for one CLI invocation.
type Connection struct {
	ConfigPath  string
	ContextName string
	Config      *cliconfig.Config
	Context     *cliconfig.Context

	Bridge  bridge.Config
	Timeout time.Duration
}

// ResolveConnection mirrors cmd/docsync's config semantics:
// 1) flags (transport endpoints, origin, timeout)
// 2) config file values
// 3) environment (DOCSYNC_NATS_URL, DOCSYNC_REDIS_ADDR, DOCSYNC_RELAY_URL, DOCSYNC_ORIGIN)
// 4) defaults (15s timeout)
func ResolveConnection(configPath, contextName string, flags bridge.Config, timeout time.Duration) (*Connection, error) {
	conn := &Connection{
		ConfigPath:  configPath,
		ContextName: contextName,
		Bridge:      flags,
		Timeout:     timeout,
	}

	if conn.ConfigPath != "" {
		cfg, err := cliconfig.Load(conn.ConfigPath)
		if err != nil {
			return nil, err
		}
		conn.Config = cfg
	}

	if conn.Config != nil {
		ctx, name, err := conn.Config.Resolve(conn.ContextName)
		if err != nil {
			return nil, err
		}
		conn.Context = ctx
		conn.ContextName = name
	}

	if fc := conn.Context; fc != nil {
		if conn.Bridge.Transport == "" && fc.Transport != "" {
			conn.Bridge.Transport = bridge.TransportKind(fc.Transport)
		}
		fillString(&conn.Bridge.NATSURL, fc.NATSURL)
		fillString(&conn.Bridge.NATSUser, fc.NATSUser)
		fillString(&conn.Bridge.NATSPassword, fc.NATSPassword)
		fillString(&conn.Bridge.RedisAddr, fc.RedisAddr)
		fillString(&conn.Bridge.RedisPassword, fc.RedisPassword)
		fillString(&conn.Bridge.RelayURL, fc.RelayURL)
		fillString(&conn.Bridge.AllowedOrigin, fc.AllowedOrigin)
		if conn.Timeout == 0 && fc.TimeoutSeconds > 0 {
			conn.Timeout = time.Duration(fc.TimeoutSeconds) * time.Second
		}
	}

	fillString(&conn.Bridge.NATSURL, os.Getenv("DOCSYNC_NATS_URL"))
	fillString(&conn.Bridge.RedisAddr, os.Getenv("DOCSYNC_REDIS_ADDR"))
	fillString(&conn.Bridge.RelayURL, os.Getenv("DOCSYNC_RELAY_URL"))
	fillString(&conn.Bridge.AllowedOrigin, os.Getenv("DOCSYNC_ORIGIN"))

	if conn.Timeout == 0 {
		conn.Timeout = 15 * time.Second
	}
	return conn, nil
}

func fillString(dst *string, value string) {
	if *dst == "" && value != "" {
		*dst = value
	}
}
