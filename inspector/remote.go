package inspector

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/hazyhaar/dommirror/inspector/internal/htmlremote"
	"github.com/hazyhaar/dommirror/inspector/internal/wsremote"
)

// NewRemoteHandler serves the HTML document at path as a mirror remote over
// WebSocket: the peer side of the websocket transport. Every connection
// gets its own copy of the document, parsed when it connects.
func NewRemoteHandler(path string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return wsremote.Handler(logger, func(ctx context.Context, c *wsremote.Conn) {
		f, err := os.Open(path)
		if err != nil {
			logger.Error("inspector: remote document", "path", path, "error", err)
			return
		}
		r, err := htmlremote.New(f, htmlremote.WithLogger(logger))
		f.Close()
		if err != nil {
			logger.Error("inspector: parse remote document", "path", path, "error", err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := r.Run(ctx, wsremote.DeliverFunc(c.Write)); err != nil && ctx.Err() == nil {
				logger.Warn("inspector: remote push", "error", err)
			}
		}()
		if err := c.Serve(ctx, wsremote.DeliverFunc(r.Handle)); err != nil {
			logger.Warn("inspector: remote peer", "error", err)
		}
	})
}
