package pairux

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
)

// ============================================================================
// Transport
// ============================================================================

// Transport is an open, message-oriented connection carrying text frames.
type Transport interface {
	// Read blocks for the next text frame. It returns ErrTransportClosed
	// when the peer closed the connection cleanly.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) {
	return f(ctx, url)
}

// ErrTransportClosed reports a clean close by the peer.
var ErrTransportClosed = errors.New("transport closed")

// ── WebSocket ────────────────────────────────────────────

// WebsocketDialer dials the realtime endpoint over WebSocket.
type WebsocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
	// ReadLimit caps the size of one inbound frame. Zero keeps 1 MiB.
	ReadLimit int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, networkError(err, "websocket dial %s", redactQuery(url))
	}
	limit := d.ReadLimit
	if limit == 0 {
		limit = 1 << 20
	}
	conn.SetReadLimit(limit)
	return &websocketTransport{conn: conn}, nil
}

type websocketTransport struct {
	conn *websocket.Conn
}

func (t *websocketTransport) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return nil, ErrTransportClosed
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (t *websocketTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *websocketTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}

// redactQuery drops the query string, which carries the api key.
func redactQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
