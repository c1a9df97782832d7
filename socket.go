package nostr

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// Socket is the seam between the Connection FSM and the underlying
// WebSocket transport. Production code gets one from DefaultDialer;
// tests substitute a fake so the FSM's reconnect/backoff/flap logic
// can be driven deterministically without a live relay.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Socket to url. Production code never needs to build
// one by hand — DefaultDialer is used unless ConnectionConfig.Dialer
// overrides it.
type Dialer func(ctx context.Context, url string, header http.Header) (Socket, error)

// DefaultDialer wraps gorilla/websocket, the teacher's own transport
// dependency; *websocket.Conn already satisfies Socket.
func DefaultDialer(ctx context.Context, url string, header http.Header) (Socket, error) {
	d := websocket.Dialer{}
	conn, _, err := d.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

const (
	wsTextMessage = websocket.TextMessage
	wsPingMessage = websocket.PingMessage
	wsPongMessage = websocket.PongMessage
)
