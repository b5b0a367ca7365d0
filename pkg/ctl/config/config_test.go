package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketPath != "/var/run/motionbridge.sock" {
		t.Fatalf("unexpected default socket path: %q", cfg.SocketPath)
	}
	if cfg.OutputFormat != "table" {
		t.Fatalf("unexpected default output format: %q", cfg.OutputFormat)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.yaml")
	contents := "socket_path: /tmp/custom.sock\nws_address: ws://example:9000/ws\noutput_format: json\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketPath != "/tmp/custom.sock" {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath)
	}
	if cfg.WSAddr != "ws://example:9000/ws" {
		t.Fatalf("unexpected ws address: %q", cfg.WSAddr)
	}
	if cfg.OutputFormat != "json" {
		t.Fatalf("unexpected output format: %q", cfg.OutputFormat)
	}
}

func TestDefaultPathUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := DefaultPath()
	if filepath.Dir(path) != filepath.Join(home, ".motionbridge") {
		t.Fatalf("expected path under %s, got %s", home, path)
	}
	if filepath.Base(path) != "ctl.yaml" {
		t.Fatalf("expected ctl.yaml, got %s", filepath.Base(path))
	}
}
