// Command dommirror mirrors a remote DOM and serves it over HTTP and MCP.
//
// Usage:
//
//	dommirror -config dommirror.yaml          # everything from YAML
//	dommirror -url https://example.com -addr :8090
//	dommirror -html page.html -mcp            # MCP on stdio over a local file
//	dommirror -html page.html -watch -addr :8090
//	dommirror -ws ws://host:8091/             # mirror a WebSocket remote
//	dommirror -serve page.html -addr :8091    # be a WebSocket remote
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dommirror/inspector"
)

type flags struct {
	config   string
	url      string
	html     string
	watch    bool
	ws       string
	serve    string
	addr     string
	mcp      bool
	journal  string
	logLevel string
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to dommirror.yaml config file")
	flag.StringVar(&f.url, "url", "", "mirror this page in Chrome (cdp transport)")
	flag.StringVar(&f.html, "html", "", "mirror a local HTML file (html transport)")
	flag.BoolVar(&f.watch, "watch", false, "reload the -html file when it changes")
	flag.StringVar(&f.ws, "ws", "", "mirror a WebSocket remote (websocket transport)")
	flag.StringVar(&f.serve, "serve", "", "serve this HTML file as a WebSocket remote on -addr")
	flag.StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8090")
	flag.BoolVar(&f.mcp, "mcp", false, "serve MCP tools on stdio")
	flag.StringVar(&f.journal, "journal", "", "SQLite journal path")
	flag.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch f.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// stdout carries MCP frames and the stdout sink, logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if f.serve != "" {
		err = serveRemote(ctx, logger, f.serve, f.addr)
	} else {
		err = run(ctx, logger, f)
	}
	if err != nil {
		logger.Error("dommirror: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(f flags) (*inspector.Config, error) {
	cfg := &inspector.Config{}
	if f.config != "" {
		var err error
		if cfg, err = inspector.LoadConfigFile(f.config); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	// Flags override the file.
	switch {
	case f.url != "":
		cfg.Transport = inspector.TransportCDP
		cfg.Page.URL = f.url
	case f.html != "":
		cfg.Transport = inspector.TransportHTML
		cfg.HTML.File = f.html
		cfg.HTML.Watch = cfg.HTML.Watch || f.watch
	case f.ws != "":
		cfg.Transport = inspector.TransportWebSocket
		cfg.WebSocket.URL = f.ws
	}
	if f.addr != "" {
		cfg.HTTP.Addr = f.addr
	}
	if f.journal != "" {
		cfg.Journal.Path = f.journal
	}
	if f.config == "" && f.url == "" && f.html == "" && f.ws == "" {
		return nil, fmt.Errorf("usage: dommirror -config <file> | -url <url> | -html <file> | -ws <url> | -serve <file> -addr <addr>")
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	if f.mcp {
		for _, s := range cfg.Sinks {
			if s.Type == "stdout" {
				return fmt.Errorf("the stdout sink cannot be used with -mcp")
			}
		}
	}

	in, err := inspector.New(cfg, logger)
	if err != nil {
		return err
	}
	defer in.Stop()
	if err := in.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if f.mcp {
		logger.Info("dommirror: mcp on stdio")
		if err := in.MCPServer().Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

func serveRemote(ctx context.Context, logger *slog.Logger, path, addr string) error {
	if addr == "" {
		addr = ":8091"
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           inspector.NewRemoteHandler(path, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("dommirror: serving remote", "file", path, "addr", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
