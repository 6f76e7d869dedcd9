package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	data := `
currentContext: staging
contexts:
  staging:
    transport: nats
    natsUrl: nats://127.0.0.1:4222
    timeoutSeconds: 30
  local:
    transport: websocket
    relayUrl: ws://127.0.0.1:8090
    allowedOrigin: https://editor.example.com
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil {
		t.Fatal("nil config")
	}

	ctx, name, err := cfg.Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if name != "staging" || ctx.Transport != "nats" || ctx.NATSURL != "nats://127.0.0.1:4222" {
		t.Fatalf("ctx=%+v name=%q", ctx, name)
	}
	if ctx.TimeoutSeconds != 30 {
		t.Fatalf("timeout=%d", ctx.TimeoutSeconds)
	}

	ctx, _, err = cfg.Resolve("local")
	if err != nil {
		t.Fatal(err)
	}
	if ctx.RelayURL != "ws://127.0.0.1:8090" || ctx.AllowedOrigin != "https://editor.example.com" {
		t.Fatalf("ctx=%+v", ctx)
	}

	if _, _, err := cfg.Resolve("missing"); !errors.Is(err, ErrContextNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestLoadMissingFileReturnsNil(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil || cfg != nil {
		t.Fatalf("cfg=%v err=%v", cfg, err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config")
	in := &Config{
		CurrentContext: "x",
		Contexts: map[string]*Context{
			"x": {Transport: "redis", RedisAddr: "127.0.0.1:6379"},
		},
	}
	if err := in.Save(path); err != nil {
		t.Fatal(err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if out.CurrentContext != "x" || out.Contexts["x"].RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("out=%+v", out)
	}
}
