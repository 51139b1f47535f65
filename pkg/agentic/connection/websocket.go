package connection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8 << 20
	searchPath     = "/ws/search"
)

// WebSocketDialer dials the search endpoint of the backend.
type WebSocketDialer struct {
	URL    string
	Header http.Header
	dialer *websocket.Dialer
}

// NewWebSocketDialer targets wsURL, which may be the bare backend base
// (http, https, ws or wss) or the full search endpoint.
func NewWebSocketDialer(wsURL string, handshakeTimeout time.Duration) (*WebSocketDialer, error) {
	target, err := SearchURL(wsURL)
	if err != nil {
		return nil, err
	}
	return &WebSocketDialer{
		URL:    target,
		Header: http.Header{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}, nil
}

// SearchURL converts an http(s) base to ws(s) and appends the search path
// when the URL has none.
func SearchURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid websocket url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = searchPath
	}
	return u.String(), nil
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Stream, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.URL, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", d.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *wsStream) Send(ctx context.Context, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// Receive blocks until the next data message. Close unblocks it.
func (s *wsStream) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		// WriteControl may run concurrently with a pending Send.
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
