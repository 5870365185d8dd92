package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("page:\n  url: https://example.com\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != TransportCDP {
		t.Fatalf("transport: got %q", cfg.Transport)
	}
	if cfg.Agent.Inbox != 1024 || cfg.Feed.Window != 250*time.Millisecond || cfg.Feed.MaxBuffer != 1000 {
		t.Fatalf("defaults: %+v %+v", cfg.Agent, cfg.Feed)
	}
	if cfg.Browser.NavigateTimeout != 30*time.Second || !*cfg.Browser.Headless {
		t.Fatalf("browser defaults: %+v", cfg.Browser)
	}
	if cfg.MCP.Name != "dommirror" {
		t.Fatalf("mcp name: got %q", cfg.MCP.Name)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestParse_TransportInferred(t *testing.T) {
	cfg, err := Parse([]byte("html:\n  file: page.html\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != TransportHTML {
		t.Fatalf("transport: got %q, want html", cfg.Transport)
	}
	cfg, err = Parse([]byte("websocket:\n  url: ws://localhost:9000/mirror\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != TransportWebSocket {
		t.Fatalf("transport: got %q, want websocket", cfg.Transport)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dommirror.yaml")
	data := `
transport: html
html:
  file: index.html
agent:
  call_timeout: 5s
browser:
  headless: false
journal:
  path: /tmp/j.db
sinks:
  - type: webhook
    url: http://localhost:8080/hook
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.CallTimeout != 5*time.Second || *cfg.Browser.Headless || cfg.Journal.Path != "/tmp/j.db" {
		t.Fatalf("config: %+v", cfg)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].URL != "http://localhost:8080/hook" {
		t.Fatalf("sinks: %+v", cfg.Sinks)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidate(t *testing.T) {
	bad := []string{
		"transport: cdp",
		"transport: websocket",
		"transport: html",
		"transport: carrier-pigeon",
		"html: {file: a.html}\nsinks: [{type: webhook}]",
		"html: {file: a.html}\nsinks: [{type: nats}]",
	}
	for _, data := range bad {
		cfg, err := Parse([]byte(data))
		if err != nil {
			t.Fatalf("%q: parse: %v", data, err)
		}
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%q: expected validation error", data)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
