package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annolab/framegate/pkg/bus"
	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/events"
)

// fakeTransport records sent frames and lets tests script failures.
type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	failures int // fail this many sends before succeeding
	closed   bool
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("transport glitch")
	}
	cp := append([]byte(nil), data...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) lastSent(t *testing.T) Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	var msg Message
	require.NoError(t, json.Unmarshal(f.sent[len(f.sent)-1], &msg))
	return msg
}

func respond(b *Bridge, origin, id string, success bool, data interface{}) {
	raw, _ := json.Marshal(Response{ID: id, Success: success, Data: data})
	b.HandleInbound(origin, raw)
}

const okOrigin = "https://tool.example.com"

func newBridge(tr Transport, eventBus *bus.EventBus, opts Options) *Bridge {
	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = []string{okOrigin}
	}
	return New(tr, eventBus, opts)
}

func TestSendCorrelatesResponse(t *testing.T) {
	tr := &fakeTransport{}
	b := newBridge(tr, nil, Options{})

	done := make(chan *Response, 1)
	go func() {
		resp, err := b.Send(context.Background(), "annotation.fetch", map[string]string{"taskId": "t1"})
		if err != nil {
			t.Error(err)
		}
		done <- resp
	}()

	// Wait for the envelope to hit the transport, then answer it.
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.sent) == 1
	}, time.Second, 5*time.Millisecond)

	sent := tr.lastSent(t)
	require.NotEmpty(t, sent.ID)
	require.Equal(t, "annotation.fetch", sent.Type)
	require.Equal(t, SourceMain, sent.Source)
	require.NotZero(t, sent.Timestamp)

	respond(b, okOrigin, sent.ID, true, "payload")
	select {
	case resp := <-done:
		require.True(t, resp.Success)
		require.Equal(t, "payload", resp.Data)
	case <-time.After(time.Second):
		t.Fatal("send did not resolve")
	}
}

func TestSendTimesOutWithoutResponse(t *testing.T) {
	tr := &fakeTransport{}
	b := newBridge(tr, nil, Options{MessageTimeout: 30 * time.Millisecond})

	_, err := b.Send(context.Background(), "annotation.fetch", nil)
	var te *domain.TimeoutError
	require.ErrorAs(t, err, &te)
}

func TestSendRetriesTransportFailures(t *testing.T) {
	tr := &fakeTransport{failures: 2}
	b := newBridge(tr, nil, Options{
		MessageTimeout: time.Second,
		MaxRetries:     3,
		RetryBackoff:   time.Millisecond,
	})

	require.NoError(t, b.Notify(context.Background(), "ping", nil))
	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.sent, 1, "third attempt succeeds")
}

func TestSendSurfacesTimeoutAfterRetryBudget(t *testing.T) {
	tr := &fakeTransport{failures: 100}
	b := newBridge(tr, nil, Options{
		MessageTimeout: time.Second,
		MaxRetries:     2,
		RetryBackoff:   time.Millisecond,
	})

	err := b.Notify(context.Background(), "ping", nil)
	var te *domain.TimeoutError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 2, te.Retries)
}

func TestOriginAllowList(t *testing.T) {
	b := New(&fakeTransport{}, nil, Options{
		AllowedOrigins: []string{"https://exact.example.com", "*.annolab.io"},
	})

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://exact.example.com", true},
		{"https://other.example.com", false},
		{"https://tool.annolab.io", true},
		{"https://deep.tool.annolab.io", true},
		{"https://annolab.io", false}, // wildcard requires a subdomain
		{"", false},
	}
	for _, tt := range tests {
		if got := b.OriginAllowed(tt.origin); got != tt.want {
			t.Errorf("OriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}

	all := New(&fakeTransport{}, nil, Options{AllowedOrigins: []string{"*"}})
	if !all.OriginAllowed("https://anything.example") {
		t.Error("wildcard * must allow everything")
	}
}

func TestInboundEventRepublishedOnBus(t *testing.T) {
	eventBus := bus.NewDefault()
	b := newBridge(&fakeTransport{}, eventBus, Options{})

	got := make(chan bus.Record, 1)
	eventBus.Subscribe(events.FrameAnnotationUpdated, func(_ context.Context, rec bus.Record) error {
		got <- rec
		return nil
	})

	raw, _ := json.Marshal(Message{
		ID:        "m1",
		Type:      events.FrameAnnotationUpdated,
		Payload:   map[string]interface{}{"taskId": "t1"},
		Timestamp: time.Now().UnixMilli(),
		Source:    SourceFrame,
	})
	b.HandleInbound(okOrigin, raw)

	select {
	case rec := <-got:
		require.Equal(t, domain.SourceFrame, rec.Source)
		payload, ok := rec.Data.(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, "t1", payload["taskId"])
	case <-time.After(time.Second):
		t.Fatal("event not republished")
	}
}

func TestInboundDroppedOnBadOriginOrShape(t *testing.T) {
	eventBus := bus.NewDefault()
	b := newBridge(&fakeTransport{}, eventBus, Options{})

	var delivered int
	eventBus.Subscribe(events.FrameAnnotationUpdated, func(context.Context, bus.Record) error {
		delivered++
		return nil
	})

	valid, _ := json.Marshal(Message{
		ID: "m1", Type: events.FrameAnnotationUpdated, Timestamp: time.Now().UnixMilli(),
	})
	b.HandleInbound("https://evil.example.com", valid)

	for _, raw := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"x","timestamp":1}`),                        // no id
		[]byte(`{"id":"m2","timestamp":1}`),                         // no type
		[]byte(`{"id":"m3","type":"x"}`),                            // no timestamp
		[]byte(`{"id":"m4","type":"x","timestamp":1,"source":"?"}`), // bad source
	} {
		b.HandleInbound(okOrigin, raw)
	}

	require.Zero(t, delivered, "invalid traffic must never reach handlers")
}

func TestParseMessageValidation(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"id":"m1","type":"t","payload":{"k":1},"timestamp":1700000000000,"source":"iframe"}`))
	require.NoError(t, err)
	require.Equal(t, "m1", msg.ID)
	require.Equal(t, SourceFrame, msg.Source)

	_, err = ParseMessage([]byte(`{"id":"","type":"t","timestamp":1}`))
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestCloseRejectsFurtherSends(t *testing.T) {
	tr := &fakeTransport{}
	b := newBridge(tr, nil, Options{})
	require.NoError(t, b.Close())
	require.True(t, tr.closed)
	require.NoError(t, b.Close(), "close is idempotent")

	_, err := b.Send(context.Background(), "x", nil)
	require.Error(t, err)
}
