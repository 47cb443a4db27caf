package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annolab/framegate/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// WebSocketTransport carries bridge envelopes over one websocket connection
// to the embedded context's agent. A write pump serializes outbound frames;
// the read pump feeds every inbound frame to the receiver tagged with the
// peer origin, so the bridge's allow-list applies uniformly.
type WebSocketTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	origin string
	send   chan []byte
	done   chan struct{}
	closed bool
}

// DialWebSocket connects to the agent endpoint and starts the pumps.
// onInbound receives every raw frame together with the peer origin.
func DialWebSocket(ctx context.Context, endpoint string, onInbound func(origin string, raw []byte)) (*WebSocketTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %s: %w", endpoint, err)
	}

	header := http.Header{}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	scheme := "https"
	if u.Scheme == "ws" {
		scheme = "http"
	}
	t := &WebSocketTransport{
		conn:   conn,
		origin: scheme + "://" + u.Host,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	go t.writePump()
	go t.readPump(onInbound)
	return t, nil
}

// Origin returns the peer origin derived from the endpoint.
func (t *WebSocketTransport) Origin() string { return t.origin }

// Send queues one frame for the write pump.
func (t *WebSocketTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return fmt.Errorf("transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WebSocketTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case <-t.done:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.WarnCF(component, "write failed", map[string]interface{}{"error": err.Error()})
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *WebSocketTransport) readPump(onInbound func(origin string, raw []byte)) {
	t.conn.SetReadLimit(maxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WarnCF(component, "read failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		if onInbound != nil {
			onInbound(t.origin, data)
		}
	}
}

// Close stops the pumps and closes the connection. Idempotent.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}
