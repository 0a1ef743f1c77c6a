package ramavan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Event kinds
// ============================================================================

// Events the engine subscribes to on the live connection.
const (
	EventMessageNew       = "message:new"
	EventMessageEdited    = "message:edited"
	EventMessageDeleted   = "message:deleted"
	EventMessagesDeleted  = "messages:deleted"
	EventMessageDelivered = "message:delivered"
	EventMessageSeen      = "message:seen"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventUserOnline       = "user:online"
	EventUserOffline      = "user:offline"
	EventUserStatus       = "user:status:changed"
	EventUserJoined       = "user:joined"
	EventUserLeft         = "user:left"
	EventNotificationNew  = "notification:new"
	EventGroupUpdated     = "group:updated"
	EventGroupJoined      = "group:joined"
	EventGroupLeft        = "group:left"
)

// Events the engine emits.
const (
	EventMessageSend = "message:send"
	EventGroupJoin   = "group:join"
	EventGroupLeave  = "group:leave"
)

// ============================================================================
// Event payload types
// ============================================================================

// Envelope is the wire format for every event and command on the live
// connection. RequestID correlates a command with its ack.
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// MessageDeletedPayload accompanies a message:deleted event.
type MessageDeletedPayload struct {
	MessageID string   `json:"messageId"`
	DeletedBy *UserRef `json:"deletedBy,omitempty"`
}

// MessagesDeletedPayload accompanies a messages:deleted (bulk) event.
type MessagesDeletedPayload struct {
	MessageIDs []string `json:"messageIds"`
	DeletedBy  *UserRef `json:"deletedBy,omitempty"`
}

// ReceiptPayload accompanies message:delivered and message:seen events.
type ReceiptPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// TypingPayload accompanies typing:start and typing:stop events.
type TypingPayload struct {
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// PresencePayload accompanies user:online, user:offline, user:status:changed,
// user:joined, and user:left events.
type PresencePayload struct {
	UserID   string     `json:"userId"`
	Username string     `json:"username,omitempty"`
	IsOnline bool       `json:"isOnline,omitempty"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// GroupUpdatedPayload accompanies a group:updated event.
type GroupUpdatedPayload struct {
	Group  Group    `json:"group"`
	Action string   `json:"action,omitempty"` // "user_added", "user_removed", "manager_added", "manager_removed"
	User   *UserRef `json:"user,omitempty"`
}

// GroupMembershipPayload accompanies group:joined and group:left events for
// the current user.
type GroupMembershipPayload struct {
	Group   Group  `json:"group"`
	Message string `json:"message,omitempty"`
}

// SendAck is the ack payload for a message:send command.
type SendAck struct {
	OK      bool     `json:"ok"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ============================================================================
// Connection state
// ============================================================================

// ConnState represents the transport connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// ErrNotConnected is returned by emit operations while the transport has no
// live connection.
var ErrNotConnected = errors.New("ramavan: not connected")

const (
	dedupWindow     = 1 * time.Second
	dedupPurgeAfter = 5 * time.Second
	ackTimeout      = 10 * time.Second
)

// ============================================================================
// Transport
// ============================================================================

// EventHandler receives the raw payload of one event delivery.
type EventHandler func(payload json.RawMessage)

// Subscription identifies one registered handler so it can be removed.
type Subscription struct {
	kind string
	id   int
}

type subscriber struct {
	id int
	fn uintptr // handler identity, for duplicate-registration rejection
	h  EventHandler
}

// Transport owns the single live connection to the server. It delivers
// server-pushed events to subscribers in arrival order per event kind, after
// suppressing duplicate deliveries, and sends client commands with optional
// ack correlation.
//
// The transport never reconnects on its own; the Session owns reconnection
// policy. Room membership and duplicate-suppression records are cleared when
// the connection drops.
type Transport struct {
	baseURL string
	token   string
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ConnState
	closing bool
	cancel  context.CancelFunc

	nextSubID int
	subs      map[string][]subscriber
	recent    map[string]time.Time
	joined    map[string]bool
	pending   map[string]chan json.RawMessage

	onConnected    []func()
	onDisconnected []func(reason string)
	onError        []func(error)
}

type TransportOption func(*Transport)

func WithTransportLogger(log *slog.Logger) TransportOption {
	return func(t *Transport) { t.log = log }
}

// NewTransport creates a transport for the given server base URL and token.
// Call Connect to establish the connection.
func NewTransport(baseURL, token string, opts ...TransportOption) *Transport {
	t := &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		log:     slog.Default(),
		now:     time.Now,
		state:   StateDisconnected,
		subs:    make(map[string][]subscriber),
		recent:  make(map[string]time.Time),
		joined:  make(map[string]bool),
		pending: make(map[string]chan json.RawMessage),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnConnected registers a handler invoked after each successful connect.
func (t *Transport) OnConnected(h func()) {
	t.mu.Lock()
	t.onConnected = append(t.onConnected, h)
	t.mu.Unlock()
}

// OnDisconnected registers a handler invoked when the connection drops for
// any reason other than an intentional Disconnect.
func (t *Transport) OnDisconnected(h func(reason string)) {
	t.mu.Lock()
	t.onDisconnected = append(t.onDisconnected, h)
	t.mu.Unlock()
}

// OnTransportError registers a handler for connection-level errors.
func (t *Transport) OnTransportError(h func(error)) {
	t.mu.Lock()
	t.onError = append(t.onError, h)
	t.mu.Unlock()
}

// Connect establishes the websocket connection. Calling Connect while a
// connection is open or opening is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateConnected || t.state == StateConnecting {
		t.mu.Unlock()
		return nil
	}
	t.state = StateConnecting
	t.closing = false
	t.mu.Unlock()

	wsURL := strings.Replace(t.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + t.token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	connCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.conn = conn
	t.state = StateConnected
	t.cancel = cancel
	connected := append([]func(){}, t.onConnected...)
	t.mu.Unlock()

	go t.readLoop(connCtx, conn)

	for _, h := range connected {
		h()
	}
	return nil
}

// Disconnect closes the connection intentionally. Room membership and
// duplicate-suppression records are cleared.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.closing = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.state = StateDisconnected
	t.joined = make(map[string]bool)
	t.recent = make(map[string]time.Time)
	t.failPendingLocked()
	t.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// MarkReconnecting records that the owner is between reconnect attempts.
func (t *Transport) MarkReconnecting() {
	t.mu.Lock()
	if t.state == StateDisconnected {
		t.state = StateReconnecting
	}
	t.mu.Unlock()
}

// ============================================================================
// Subscriptions
// ============================================================================

// Subscribe registers a handler for an event kind. Registering the same
// handler function twice for the same kind is rejected with a warning and
// returns nil, preventing silent double invocation.
//
// Identity is the handler's code pointer. Method values taken from
// different receivers share one code pointer and therefore count as the
// same handler; wrap each in its own closure to register them separately.
func (t *Transport) Subscribe(kind string, h EventHandler) *Subscription {
	fn := reflect.ValueOf(h).Pointer()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs[kind] {
		if s.fn == fn {
			t.log.Warn("listener already registered", "event", kind)
			return nil
		}
	}
	t.nextSubID++
	sub := subscriber{id: t.nextSubID, fn: fn, h: h}
	t.subs[kind] = append(t.subs[kind], sub)
	return &Subscription{kind: kind, id: sub.id}
}

// Unsubscribe removes a previously registered handler. A nil subscription is
// ignored.
func (t *Transport) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.subs[sub.kind]
	for i, s := range list {
		if s.id == sub.id {
			t.subs[sub.kind] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.subs[sub.kind]) == 0 {
		delete(t.subs, sub.kind)
	}
}

// UnsubscribeAll detaches every handler and clears the duplicate-suppression
// and room-membership records. Used on teardown and logout.
func (t *Transport) UnsubscribeAll() {
	t.mu.Lock()
	t.subs = make(map[string][]subscriber)
	t.recent = make(map[string]time.Time)
	t.joined = make(map[string]bool)
	t.mu.Unlock()
}

// ============================================================================
// Rooms
// ============================================================================

// JoinGroup joins a group room. Re-joining an already-joined group on the
// same connection is a no-op.
func (t *Transport) JoinGroup(ctx context.Context, groupID string) error {
	t.mu.Lock()
	if t.joined[groupID] {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.Emit(ctx, EventGroupJoin, map[string]string{"groupId": groupID}); err != nil {
		return err
	}
	t.mu.Lock()
	t.joined[groupID] = true
	t.mu.Unlock()
	return nil
}

// LeaveGroup leaves a group room and clears its membership record.
func (t *Transport) LeaveGroup(ctx context.Context, groupID string) error {
	t.mu.Lock()
	delete(t.joined, groupID)
	t.mu.Unlock()
	return t.Emit(ctx, EventGroupLeave, map[string]string{"groupId": groupID})
}

// ============================================================================
// Emit
// ============================================================================

// Emit sends a command without waiting for an ack.
func (t *Transport) Emit(ctx context.Context, kind string, payload interface{}) error {
	return t.write(ctx, kind, payload, "")
}

// EmitWithAck sends a command and blocks until the server's ack for it
// arrives, the context is cancelled, or the ack timeout elapses. The raw ack
// payload is returned for the caller to decode.
func (t *Transport) EmitWithAck(ctx context.Context, kind string, payload interface{}) (json.RawMessage, error) {
	requestID := uuid.NewString()

	ch := make(chan json.RawMessage, 1)
	t.mu.Lock()
	t.pending[requestID] = ch
	t.mu.Unlock()

	if err := t.write(ctx, kind, payload, requestID); err != nil {
		t.mu.Lock()
		delete(t.pending, requestID)
		t.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()

	select {
	case ack, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: connection lost before ack", kind)
		}
		return ack, nil
	case <-timer.C:
		t.mu.Lock()
		delete(t.pending, requestID)
		t.mu.Unlock()
		return nil, fmt.Errorf("%s: ack timeout", kind)
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, requestID)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (t *Transport) write(ctx context.Context, kind string, payload interface{}, requestID string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = b
	}
	data, err := json.Marshal(Envelope{Event: kind, Payload: raw, RequestID: requestID})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ============================================================================
// Read loop
// ============================================================================

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			closing := t.closing
			if t.conn == conn {
				t.conn = nil
				t.state = StateDisconnected
				t.joined = make(map[string]bool)
				t.recent = make(map[string]time.Time)
				t.failPendingLocked()
			}
			disconnected := append([]func(string){}, t.onDisconnected...)
			errHandlers := append([]func(error){}, t.onError...)
			t.mu.Unlock()

			if closing {
				return
			}
			for _, h := range errHandlers {
				h(err)
			}
			for _, h := range disconnected {
				h(err.Error())
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		// Acks bypass dispatch and duplicate suppression.
		if env.RequestID != "" {
			t.mu.Lock()
			ch, ok := t.pending[env.RequestID]
			if ok {
				delete(t.pending, env.RequestID)
			}
			t.mu.Unlock()
			if ok {
				ch <- env.Payload
				continue
			}
		}
		if env.Event == "" {
			continue
		}

		t.dispatch(env)
	}
}

// dispatch delivers one event to its subscribers synchronously, preserving
// per-kind arrival order.
func (t *Transport) dispatch(env Envelope) {
	t.mu.Lock()
	if t.isDuplicateLocked(env.Event, env.Payload) {
		t.mu.Unlock()
		t.log.Debug("duplicate event dropped", "event", env.Event)
		return
	}
	handlers := make([]EventHandler, 0, len(t.subs[env.Event]))
	for _, s := range t.subs[env.Event] {
		handlers = append(handlers, s.h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(env.Payload)
	}
}

// isDuplicateLocked reports whether an identical (kind, payload) pair was
// delivered within the last second, and purges fingerprints older than five
// seconds to bound memory.
func (t *Transport) isDuplicateLocked(kind string, payload json.RawMessage) bool {
	key := kind + "_" + string(payload)
	now := t.now()

	if last, ok := t.recent[key]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	t.recent[key] = now

	for k, ts := range t.recent {
		if now.Sub(ts) > dedupPurgeAfter {
			delete(t.recent, k)
		}
	}
	return false
}

// failPendingLocked closes every pending ack channel; waiters see the closed
// channel and report a lost connection.
func (t *Transport) failPendingLocked() {
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// ============================================================================
// Backoff
// ============================================================================

// Backoff computes reconnect delays: exponential with jitter, capped, and
// reset after a connection survives for a minute. The Session drives it; the
// transport itself never retries.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	attempt     int
	connectedAt time.Time
}

// NewBackoff returns a Backoff with the default policy.
func NewBackoff() *Backoff {
	return &Backoff{
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// ShouldRetry reports whether another attempt is allowed.
func (b *Backoff) ShouldRetry() bool {
	return b.MaxAttempts == 0 || b.attempt < b.MaxAttempts
}

// MarkConnected records a successful connect.
func (b *Backoff) MarkConnected() {
	b.connectedAt = time.Now()
}

// NextDelay returns the delay before the next attempt.
func (b *Backoff) NextDelay() time.Duration {
	if !b.connectedAt.IsZero() && time.Since(b.connectedAt) > 60*time.Second {
		b.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(b.BaseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(b.BaseDelay)*math.Pow(2, float64(b.attempt))+float64(jitter),
		float64(b.MaxDelay),
	))
	b.attempt++
	return delay
}

// Reset clears attempt history.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.connectedAt = time.Time{}
}
