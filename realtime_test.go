package ramavan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer is a minimal websocket peer: it records received envelopes and
// acks any command that carries a requestId.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	received chan Envelope
	push     chan Envelope
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:        t,
		received: make(chan Envelope, 32),
		push:     make(chan Envelope, 32),
	}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for env := range fs.push {
				data, _ := json.Marshal(env)
				if conn.WriteMessage(websocket.TextMessage, data) != nil {
					return
				}
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(data, &env) != nil {
				continue
			}
			fs.received <- env
			if env.RequestID != "" {
				ack, _ := json.Marshal(SendAck{OK: true, Message: &Message{ID: "acked"}})
				fs.push <- Envelope{Event: env.Event, Payload: ack, RequestID: env.RequestID}
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return fs.srv.URL
}

func (fs *fakeServer) waitFor(event string) Envelope {
	fs.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-fs.received:
			if env.Event == event {
				return env
			}
		case <-deadline:
			fs.t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func connectedTransport(t *testing.T, fs *fakeServer) *Transport {
	t.Helper()
	tr := NewTransport(fs.url(), "test-token")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	t.Cleanup(func() { tr.Disconnect() })
	return tr
}

func TestTransportDuplicateSuppression(t *testing.T) {
	tr := NewTransport("http://localhost", "tok")
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	payload := json.RawMessage(`{"_id":"m1"}`)

	if tr.isDuplicateLocked(EventMessageNew, payload) {
		t.Fatal("first delivery flagged as duplicate")
	}
	now = now.Add(300 * time.Millisecond)
	if !tr.isDuplicateLocked(EventMessageNew, payload) {
		t.Fatal("redelivery within window not suppressed")
	}

	// The same payload under a different event kind is distinct.
	if tr.isDuplicateLocked(EventMessageEdited, payload) {
		t.Fatal("different kind suppressed")
	}

	// A duplicate must not refresh the fingerprint: two seconds after the
	// original, delivery is allowed again even though only 1.7s passed
	// since the suppressed copy.
	now = now.Add(1700 * time.Millisecond)
	if tr.isDuplicateLocked(EventMessageNew, payload) {
		t.Fatal("delivery after window suppressed")
	}
}

func TestTransportFingerprintPurge(t *testing.T) {
	tr := NewTransport("http://localhost", "tok")
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.isDuplicateLocked(EventMessageNew, json.RawMessage(`{"_id":"old"}`))
	now = now.Add(6 * time.Second)
	tr.isDuplicateLocked(EventMessageNew, json.RawMessage(`{"_id":"new"}`))

	if len(tr.recent) != 1 {
		t.Fatalf("expected stale fingerprint purged, have %d entries", len(tr.recent))
	}
}

func TestTransportSubscribeIdentity(t *testing.T) {
	tr := NewTransport("http://localhost", "tok")

	h := func(json.RawMessage) {}
	if sub := tr.Subscribe(EventMessageNew, h); sub == nil {
		t.Fatal("first registration rejected")
	}
	if sub := tr.Subscribe(EventMessageNew, h); sub != nil {
		t.Fatal("duplicate registration accepted")
	}
	// The same function under a different kind is fine.
	if sub := tr.Subscribe(EventMessageEdited, h); sub == nil {
		t.Fatal("registration for second kind rejected")
	}
}

type countingHandler struct {
	calls int
}

func (c *countingHandler) handle(json.RawMessage) { c.calls++ }

func TestTransportSubscribeMethodValues(t *testing.T) {
	tr := NewTransport("http://localhost", "tok")
	a := &countingHandler{}
	b := &countingHandler{}

	// Method values share one code pointer regardless of receiver, so the
	// second registration is treated as a duplicate.
	if sub := tr.Subscribe(EventMessageNew, a.handle); sub == nil {
		t.Fatal("first method-value registration rejected")
	}
	if sub := tr.Subscribe(EventMessageNew, b.handle); sub != nil {
		t.Fatal("second receiver's method value accepted; identity rule changed")
	}

	// Distinct closures give each receiver its own identity.
	if sub := tr.Subscribe(EventMessageEdited, func(p json.RawMessage) { a.handle(p) }); sub == nil {
		t.Fatal("first closure rejected")
	}
	if sub := tr.Subscribe(EventMessageEdited, func(p json.RawMessage) { b.handle(p) }); sub == nil {
		t.Fatal("second closure rejected")
	}
	tr.dispatch(Envelope{Event: EventMessageEdited, Payload: json.RawMessage(`{}`)})
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", a.calls, b.calls)
	}
}

func TestTransportUnsubscribe(t *testing.T) {
	tr := NewTransport("http://localhost", "tok")

	var calls int
	sub := tr.Subscribe(EventMessageNew, func(json.RawMessage) { calls++ })
	tr.dispatch(Envelope{Event: EventMessageNew, Payload: json.RawMessage(`{"n":1}`)})
	tr.Unsubscribe(sub)
	tr.dispatch(Envelope{Event: EventMessageNew, Payload: json.RawMessage(`{"n":2}`)})

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	tr.Unsubscribe(nil) // tolerated
}

func TestTransportDispatchOrder(t *testing.T) {
	tr := NewTransport("http://localhost", "tok")

	var got []int
	tr.Subscribe(EventMessageNew, func(p json.RawMessage) {
		var v struct {
			N int `json:"n"`
		}
		json.Unmarshal(p, &v)
		got = append(got, v.N)
	})
	for i := 1; i <= 5; i++ {
		tr.dispatch(Envelope{Event: EventMessageNew, Payload: json.RawMessage(`{"n":` + string(rune('0'+i)) + `}`)})
	}
	for i, n := range got {
		if n != i+1 {
			t.Fatalf("delivery out of order: %v", got)
		}
	}
}

func TestTransportConnectIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	tr := connectedTransport(t, fs)

	ctx := context.Background()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("second Connect error: %v", err)
	}
	if tr.State() != StateConnected {
		t.Fatalf("state = %s, want connected", tr.State())
	}
}

func TestTransportJoinGroup(t *testing.T) {
	fs := newFakeServer(t)
	tr := connectedTransport(t, fs)
	ctx := context.Background()

	if err := tr.JoinGroup(ctx, "g1"); err != nil {
		t.Fatalf("JoinGroup error: %v", err)
	}
	fs.waitFor(EventGroupJoin)

	// Re-joining on the same connection emits nothing.
	if err := tr.JoinGroup(ctx, "g1"); err != nil {
		t.Fatalf("second JoinGroup error: %v", err)
	}
	if err := tr.JoinGroup(ctx, "g2"); err != nil {
		t.Fatalf("JoinGroup g2 error: %v", err)
	}
	env := fs.waitFor(EventGroupJoin)
	var p map[string]string
	json.Unmarshal(env.Payload, &p)
	if p["groupId"] != "g2" {
		t.Fatalf("unexpected join for %q, duplicate was re-emitted", p["groupId"])
	}

	if err := tr.LeaveGroup(ctx, "g1"); err != nil {
		t.Fatalf("LeaveGroup error: %v", err)
	}
	fs.waitFor(EventGroupLeave)
}

func TestTransportEmitWithAck(t *testing.T) {
	fs := newFakeServer(t)
	tr := connectedTransport(t, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := tr.EmitWithAck(ctx, EventMessageSend, map[string]string{"groupId": "g1", "text": "hi"})
	if err != nil {
		t.Fatalf("EmitWithAck error: %v", err)
	}
	var ack SendAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.OK || ack.Message.ID != "acked" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestTransportEmitNotConnected(t *testing.T) {
	tr := NewTransport("http://localhost", "tok")
	err := tr.Emit(context.Background(), EventTypingStart, nil)
	if err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestTransportDisconnectClearsState(t *testing.T) {
	fs := newFakeServer(t)
	tr := connectedTransport(t, fs)
	ctx := context.Background()

	if err := tr.JoinGroup(ctx, "g1"); err != nil {
		t.Fatalf("JoinGroup error: %v", err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", tr.State())
	}
	if len(tr.joined) != 0 {
		t.Fatal("room membership survived disconnect")
	}
}

func TestBackoff(t *testing.T) {
	b := NewBackoff()
	b.BaseDelay = 100 * time.Millisecond
	b.MaxDelay = 1 * time.Second
	b.MaxAttempts = 3

	var prev time.Duration
	for i := 0; i < 3; i++ {
		if !b.ShouldRetry() {
			t.Fatalf("attempt %d disallowed", i)
		}
		d := b.NextDelay()
		if d > b.MaxDelay {
			t.Fatalf("delay %v exceeds cap", d)
		}
		if d < prev/2 {
			t.Fatalf("delay %v not growing from %v", d, prev)
		}
		prev = d
	}
	if b.ShouldRetry() {
		t.Fatal("retry allowed past max attempts")
	}

	b.Reset()
	if !b.ShouldRetry() {
		t.Fatal("retry disallowed after reset")
	}
}
