package transport

import (
	"context"

	"github.com/gorilla/websocket"
)

// Socket is the minimal surface of one physical connection. *websocket.Conn
// satisfies it; tests substitute a scripted fake.
type Socket interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

type Dialer interface {
	DialContext(ctx context.Context, url string) (Socket, error)
}

// WebsocketDialer dials a plain websocket. A single transport mode, no
// negotiation or long-poll fallback.
type WebsocketDialer struct{}

func (WebsocketDialer) DialContext(ctx context.Context, url string) (Socket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
