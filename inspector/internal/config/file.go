// Package config holds the inspector configuration, loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names.
const (
	TransportCDP       = "cdp"
	TransportWebSocket = "websocket"
	TransportHTML      = "html"
)

// Config is the top-level inspector configuration.
type Config struct {
	Transport string          `yaml:"transport"` // cdp | websocket | html
	Browser   BrowserConfig   `yaml:"browser"`
	Page      PageConfig      `yaml:"page"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	HTML      HTMLConfig      `yaml:"html"`
	Agent     AgentConfig     `yaml:"agent"`
	Journal   JournalConfig   `yaml:"journal"`
	HTTP      HTTPConfig      `yaml:"http"`
	MCP       MCPConfig       `yaml:"mcp"`
	Feed      FeedConfig      `yaml:"feed"`
	Sinks     []SinkConfig    `yaml:"sinks"`
}

// BrowserConfig controls Chrome for the cdp transport.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"` // DevTools websocket URL; empty launches Chrome
	Headless        *bool         `yaml:"headless"`
	Stealth         bool          `yaml:"stealth"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
}

// PageConfig is the page to inspect over cdp.
type PageConfig struct {
	URL string `yaml:"url"`
}

// WebSocketConfig is the remote endpoint for the websocket transport.
type WebSocketConfig struct {
	URL string `yaml:"url"`
}

// HTMLConfig is the document served by the in-process html transport.
type HTMLConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"` // reload the document when the file changes
}

// AgentConfig tunes the mirror agent and its loop.
type AgentConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"` // 0 = calls never expire
	Inbox       int           `yaml:"inbox"`
}

// JournalConfig enables the SQLite message journal.
type JournalConfig struct {
	Path string `yaml:"path"` // empty = disabled
}

// HTTPConfig enables the JSON API.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty = disabled
}

// MCPConfig controls the MCP tool server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// FeedConfig controls change-feed batching.
type FeedConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// SinkConfig defines a change-feed output.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every zero field that has a default.
func (c *Config) ApplyDefaults() {
	if c.Transport == "" {
		switch {
		case c.HTML.File != "":
			c.Transport = TransportHTML
		case c.WebSocket.URL != "":
			c.Transport = TransportWebSocket
		default:
			c.Transport = TransportCDP
		}
	}
	if c.Browser.Headless == nil {
		on := true
		c.Browser.Headless = &on
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Agent.Inbox <= 0 {
		c.Agent.Inbox = 1024
	}
	if c.MCP.Name == "" {
		c.MCP.Name = "dommirror"
	}
	if c.Feed.Window <= 0 {
		c.Feed.Window = 250 * time.Millisecond
	}
	if c.Feed.MaxBuffer <= 0 {
		c.Feed.MaxBuffer = 1000
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportCDP:
		if c.Page.URL == "" {
			return fmt.Errorf("config: transport cdp needs page.url")
		}
	case TransportWebSocket:
		if c.WebSocket.URL == "" {
			return fmt.Errorf("config: transport websocket needs websocket.url")
		}
	case TransportHTML:
		if c.HTML.File == "" {
			return fmt.Errorf("config: transport html needs html.file")
		}
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sink %d: webhook needs url", i)
			}
		default:
			return fmt.Errorf("config: sink %d: unknown type %q", i, s.Type)
		}
	}
	return nil
}
