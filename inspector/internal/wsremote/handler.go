package wsremote

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler accepts WebSocket connections for the remote side of the
// protocol. serve owns each connection until it returns; the connection is
// closed afterwards.
func Handler(logger *slog.Logger, serve func(ctx context.Context, c *Conn)) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("wsremote: upgrade", "remote", r.RemoteAddr, "error", err)
			return
		}
		c := NewConn(ws, logger)
		defer c.Close()
		logger.Info("wsremote: peer connected", "remote", r.RemoteAddr)
		serve(r.Context(), c)
	})
}
