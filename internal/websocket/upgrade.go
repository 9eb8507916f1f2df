package websocket

import (
	"net/http"

	"github.com/coder/websocket"
)

// Upgrade accepts a WebSocket handshake. With no allowed origins every origin
// is accepted, which is what local development needs.
func Upgrade(w http.ResponseWriter, r *http.Request, allowedOrigins []string) (*websocket.Conn, error) {
	opts := &websocket.AcceptOptions{}
	if len(allowedOrigins) == 0 {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = allowedOrigins
	}
	return websocket.Accept(w, r, opts)
}
