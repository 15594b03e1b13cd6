package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pgnotifyhub/hub/settings"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Minimal(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "hub.toml")
	writeFile(t, confPath, `
[server]
listen = ":9000"
title = "hub"

[[channel]]
id = "orders"
allowed_events = ["new_order"]
connection_string = "host=db1 dbname=shop user=app"
`)

	s, err := settings.Load(confPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Server.Listen != ":9000" {
		t.Fatalf("expected listen :9000, got %q", s.Server.Listen)
	}
	if len(s.Channel) != 1 || s.Channel[0].ID != "orders" {
		t.Fatalf("expected one channel 'orders', got %+v", s.Channel)
	}
	if s.WorkerBufferSize != 1 || s.EventsBufferSize != 1024 {
		t.Fatalf("expected defaults to apply, got %+v", s)
	}
	if s.ReconnectDelay.Seconds() != 60 {
		t.Fatalf("expected default reconnect_delay of 60s, got %v", s.ReconnectDelay)
	}
}

func TestLoad_LeadingSlashTrimmedAndDedup(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "hub.toml")
	writeFile(t, confPath, `
[[channel]]
id = "/orders"
connection_string = "host=db1"

[[channel]]
id = "orders"
connection_string = "host=db2"
`)

	_, err := settings.Load(confPath)
	if err == nil {
		t.Fatal("expected duplicate channel id error after trimming leading slash")
	}
}

func TestLoad_FragmentDirectoryMerged(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "hub.toml")
	writeFile(t, confPath, `
[[channel]]
id = "orders"
connection_string = "host=db1"
`)
	writeFile(t, filepath.Join(dir, "hub.d", "extra.toml"), `
[[channel]]
id = "shipping"
connection_string = "host=db1"
`)

	s, err := settings.Load(confPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Channel) != 2 {
		t.Fatalf("expected 2 channels after fragment merge, got %d", len(s.Channel))
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "hub.toml")
	writeFile(t, confPath, `
[server]
listen = ":9000"

[[channel]]
id = "orders"
connection_string = "host=db1"
`)

	t.Setenv("CONF_SERVER__LISTEN", ":9999")

	s, err := settings.Load(confPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Server.Listen != ":9999" {
		t.Fatalf("expected env override to win, got %q", s.Server.Listen)
	}
}

func TestLoad_MissingConnectionStringRejected(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "hub.toml")
	writeFile(t, confPath, `
[[channel]]
id = "orders"
`)

	if _, err := settings.Load(confPath); err == nil {
		t.Fatal("expected validation error for missing connection_string")
	}
}
