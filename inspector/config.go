package inspector

import (
	"github.com/hazyhaar/dommirror/inspector/internal/config"
)

// Config is the top-level inspector configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome for the cdp transport.
type BrowserConfig = config.BrowserConfig

// PageConfig is the page to inspect over cdp.
type PageConfig = config.PageConfig

// WebSocketConfig is the remote endpoint for the websocket transport.
type WebSocketConfig = config.WebSocketConfig

// HTMLConfig is the document served by the in-process html transport.
type HTMLConfig = config.HTMLConfig

// AgentConfig tunes the mirror agent.
type AgentConfig = config.AgentConfig

// JournalConfig enables the SQLite journal.
type JournalConfig = config.JournalConfig

// HTTPConfig enables the JSON API.
type HTTPConfig = config.HTTPConfig

// MCPConfig controls the MCP tools.
type MCPConfig = config.MCPConfig

// FeedConfig controls change-feed batching.
type FeedConfig = config.FeedConfig

// SinkConfig defines a change-feed output.
type SinkConfig = config.SinkConfig

// Transport names accepted in Config.Transport.
const (
	TransportCDP       = config.TransportCDP
	TransportWebSocket = config.TransportWebSocket
	TransportHTML      = config.TransportHTML
)

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}
