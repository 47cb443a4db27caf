// Package bridge carries messages across the embedding boundary. Outbound
// sends get a correlated response with per-message timeout and bounded retry;
// inbound traffic passes an origin allow-list and a validating parse before
// anything downstream sees it. Validated inbound events are republished on
// the event bus under their declared type, which is how the embedded tool's
// annotation progress reaches host-side state.
package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/annolab/framegate/pkg/bus"
	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/logger"
)

const component = "bridge"

// Source values a message may declare.
const (
	SourceMain  = "main"
	SourceFrame = "iframe"
)

// Default send policy.
const (
	DefaultMessageTimeout = 5 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 500 * time.Millisecond
)

// Message is the cross-boundary envelope.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"` // unix milliseconds
	Source    string      `json:"source,omitempty"`
}

// Response answers one Message, correlated by id.
type Response struct {
	ID      string      `json:"id"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Transport moves raw envelope bytes to the embedded context.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Options tunes one bridge instance.
type Options struct {
	// AllowedOrigins is the inbound allow-list. Entries are exact origins
	// ("https://tool.example.com"), wildcard subdomains ("*.example.com"),
	// or "*" for everything. Empty denies all inbound traffic.
	AllowedOrigins []string
	MessageTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

func (o *Options) normalize() {
	if o.MessageTimeout <= 0 {
		o.MessageTimeout = DefaultMessageTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
}

// Bridge is one bound transport plus the validation boundary around it.
type Bridge struct {
	mu sync.Mutex

	transport Transport
	bus       *bus.EventBus
	opts      Options

	pending map[string]chan *Response
	closed  bool
}

// New creates a bridge over a transport. Inbound bytes are fed through
// HandleInbound by the transport's read loop.
func New(transport Transport, b *bus.EventBus, opts Options) *Bridge {
	opts.normalize()
	return &Bridge{
		transport: transport,
		bus:       b,
		opts:      opts,
		pending:   make(map[string]chan *Response),
	}
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Send delivers a typed payload and waits for the correlated response.
// Transport failures retry with backoff up to the budget; the overall wait
// is bounded by the message timeout, after which a TimeoutError surfaces.
func (b *Bridge) Send(ctx context.Context, msgType string, payload interface{}) (*Response, error) {
	msg := Message{
		ID:        domain.NewID().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		Source:    SourceMain,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, &domain.ValidationError{Reason: "unmarshalable payload: " + err.Error()}
	}

	respCh := make(chan *Response, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, &domain.ValidationError{Reason: "bridge is closed"}
	}
	b.pending[msg.ID] = respCh
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, b.opts.MessageTimeout)
	defer cancel()

	if err := b.sendWithRetry(ctx, data); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, &domain.ValidationError{Reason: "bridge closed while waiting"}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, &domain.TimeoutError{Op: "bridge send " + msgType}
	}
}

func (b *Bridge) sendWithRetry(ctx context.Context, data []byte) error {
	var lastErr error
	backoff := b.opts.RetryBackoff
	for attempt := 0; attempt <= b.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return &domain.TimeoutError{Op: "bridge send", Retries: attempt - 1}
			}
		}
		if lastErr = b.transport.Send(ctx, data); lastErr == nil {
			return nil
		}
		logger.WarnCF(component, "send attempt failed", map[string]interface{}{
			"attempt": attempt + 1, "error": lastErr.Error(),
		})
	}
	return &domain.TimeoutError{Op: "bridge send", Retries: b.opts.MaxRetries}
}

// Notify delivers a typed payload without waiting for a response.
func (b *Bridge) Notify(ctx context.Context, msgType string, payload interface{}) error {
	msg := Message{
		ID:        domain.NewID().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		Source:    SourceMain,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return &domain.ValidationError{Reason: "unmarshalable payload: " + err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.MessageTimeout)
	defer cancel()
	return b.sendWithRetry(ctx, data)
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// HandleInbound processes one raw inbound payload. Failing the origin
// allow-list or the structural parse logs and drops it; this boundary never
// errors back to the sender. Responses resolve their pending send; event
// messages are republished on the bus under their declared type.
func (b *Bridge) HandleInbound(origin string, raw []byte) {
	if !b.OriginAllowed(origin) {
		logger.WarnCF(component, "dropped message from disallowed origin", map[string]interface{}{
			"origin": origin,
		})
		return
	}

	if resp, ok := parseResponse(raw); ok {
		b.resolve(resp)
		return
	}

	msg, err := ParseMessage(raw)
	if err != nil {
		logger.DebugCF(component, "dropped malformed message", map[string]interface{}{
			"origin": origin, "error": err.Error(),
		})
		return
	}

	if b.bus != nil {
		if err := b.bus.Emit(context.Background(), msg.Type, msg.Payload, bus.FromSource(domain.SourceFrame)); err != nil {
			logger.WarnCF(component, "republish failed", map[string]interface{}{
				"type": msg.Type, "error": err.Error(),
			})
		}
	}
}

func (b *Bridge) resolve(resp *Response) {
	b.mu.Lock()
	ch, ok := b.pending[resp.ID]
	if ok {
		delete(b.pending, resp.ID)
	}
	b.mu.Unlock()
	if !ok {
		logger.DebugCF(component, "response with no pending send", map[string]interface{}{"id": resp.ID})
		return
	}
	ch <- resp
}

// OriginAllowed applies the allow-list: exact match, "*.suffix" wildcard,
// or "*".
func (b *Bridge) OriginAllowed(origin string) bool {
	for _, allowed := range b.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			if strings.HasSuffix(origin, allowed[1:]) { // keeps the dot
				return true
			}
		}
	}
	return false
}

// ParseMessage is the validating parse for inbound envelopes: id, type and
// timestamp are required, the declared source (when present) must be known.
func ParseMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &domain.ValidationError{Reason: "not a message envelope: " + err.Error()}
	}
	if msg.ID == "" {
		return nil, &domain.ValidationError{Reason: "missing id"}
	}
	if msg.Type == "" {
		return nil, &domain.ValidationError{Reason: "missing type"}
	}
	if msg.Timestamp == 0 {
		return nil, &domain.ValidationError{Reason: "missing timestamp"}
	}
	switch msg.Source {
	case "", SourceMain, SourceFrame:
	default:
		return nil, &domain.ValidationError{Reason: "unknown source " + msg.Source}
	}
	return &msg, nil
}

// parseResponse recognizes a response envelope: an id plus an explicit
// success field and no type.
func parseResponse(raw []byte) (*Response, bool) {
	var head struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Success *bool  `json:"success"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, false
	}
	if head.ID == "" || head.Type != "" || head.Success == nil {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

// Close rejects future sends and closes the transport.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.mu.Unlock()
	return b.transport.Close()
}
