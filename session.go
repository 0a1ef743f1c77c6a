package ramavan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LastGroupStore persists which group the user had open, so a new session
// can restore it.
type LastGroupStore interface {
	LoadLastGroup() (groupID string, ok bool)
	SaveLastGroup(g *Group)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// SelfID and SelfUsername identify the authenticated user. Required.
	SelfID       string
	SelfUsername string

	// PresenceRefresh is the interval between authoritative member-roster
	// fetches for the active group. Defaults to 30 seconds.
	PresenceRefresh time.Duration

	// TypingSweep is how often expired typing indicators are collected.
	// Defaults to 1 second.
	TypingSweep time.Duration

	// Reconnect enables automatic reconnection with backoff when the
	// connection drops.
	Reconnect bool

	// LastGroup, when set, persists and restores the selected group.
	LastGroup LastGroupStore

	// Notice, when set, receives human-readable connection and membership
	// notices ("Reconnected", "You were added to Avalanche Ops").
	Notice func(text string)

	Logger *slog.Logger
}

// Session orchestrates the live chat state for one authenticated user: the
// group list, the active group's message history, presence, typing, unread
// counts, and the notification feed. All state is guarded by one mutex, so
// every snapshot accessor observes a consistent view.
type Session struct {
	api *Client
	rt  *Transport
	cfg SessionConfig
	log *slog.Logger

	mu       sync.Mutex
	groups   []Group
	active   *Group
	store    *MessageStore
	presence *PresenceTracker
	typing   *TypingTracker
	unread   *UnreadCounters
	feed     *NotificationFeed

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSession creates a session over the given REST client and transport.
func NewSession(api *Client, rt *Transport, cfg SessionConfig) *Session {
	if cfg.PresenceRefresh <= 0 {
		cfg.PresenceRefresh = 30 * time.Second
	}
	if cfg.TypingSweep <= 0 {
		cfg.TypingSweep = 1 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		api:      api,
		rt:       rt,
		cfg:      cfg,
		log:      log,
		presence: NewPresenceTracker(),
		typing:   NewTypingTracker(),
		unread:   NewUnreadCounters(),
		feed:     NewNotificationFeed(),
		stopCh:   make(chan struct{}),
	}
	s.store = NewMessageStore(api.FetchMessagePage)
	return s
}

// Start connects, loads the group list and notification feed, restores the
// last open group, and begins the background refresh loops. It is not safe
// to call twice.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	s.mu.Unlock()

	s.subscribeAll()

	if err := s.rt.Connect(ctx); err != nil {
		return err
	}

	groups, err := s.api.FetchGroups(ctx)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()

	if items, err := s.api.FetchNotifications(ctx); err != nil {
		s.log.Warn("load notifications failed", "error", err)
	} else {
		s.mu.Lock()
		s.feed.Reload(items, len(items))
		s.mu.Unlock()
	}

	if s.cfg.LastGroup != nil {
		if id, ok := s.cfg.LastGroup.LoadLastGroup(); ok {
			if g := findGroup(groups, id); g != nil {
				if err := s.SelectGroup(ctx, g.ID); err != nil {
					s.log.Warn("restore last group failed", "group", g.ID, "error", err)
				}
			}
		}
	}

	s.wg.Add(2)
	go s.presenceLoop()
	go s.typingSweepLoop()
	if s.cfg.Reconnect {
		s.rt.OnDisconnected(func(reason string) {
			// A drop can race Stop; only a live session may add to the
			// wait group Stop is about to wait on.
			s.mu.Lock()
			if !s.started {
				s.mu.Unlock()
				return
			}
			s.wg.Add(1)
			s.mu.Unlock()
			go s.reconnectLoop(reason)
		})
	}
	return nil
}

// Stop tears the session down: background loops end, handlers detach, and
// the connection closes.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.rt.UnsubscribeAll()
	if err := s.rt.Disconnect(); err != nil {
		s.log.Debug("disconnect", "error", err)
	}
	s.wg.Wait()
}

func findGroup(groups []Group, id string) *Group {
	for i := range groups {
		if groups[i].ID == id {
			return &groups[i]
		}
	}
	return nil
}

// ============================================================================
// Group selection and history
// ============================================================================

// SelectGroup switches the active group: the old room is left, the new one
// joined, the message store reset and its first page loaded, the unread
// count zeroed, and the presence roster refreshed. Events for the old group
// that arrive during the switch cannot leak into the new group's state.
func (s *Session) SelectGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := findGroup(s.groups, groupID)
	if g == nil {
		return fmt.Errorf("unknown group %q", groupID)
	}
	if s.active != nil && s.active.ID == groupID {
		return nil
	}

	if s.active != nil {
		if err := s.rt.LeaveGroup(ctx, s.active.ID); err != nil {
			s.log.Debug("leave group", "group", s.active.ID, "error", err)
		}
	}
	if err := s.rt.JoinGroup(ctx, groupID); err != nil {
		return fmt.Errorf("join group: %w", err)
	}

	selected := *g
	s.active = &selected
	s.store.Reset(groupID)
	s.typing.SetGroup(groupID)
	s.presence.Clear()
	s.unread.SetActive(groupID)

	if s.cfg.LastGroup != nil {
		s.cfg.LastGroup.SaveLastGroup(&selected)
	}

	if err := s.store.LoadPage(ctx); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	s.refreshPresenceLocked(ctx)

	if ids := s.store.UnseenIDs(s.cfg.SelfID); len(ids) > 0 {
		go s.markSeen(ids)
	}
	return nil
}

// CloseGroup deselects the active group without selecting another.
func (s *Session) CloseGroup(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}
	if err := s.rt.LeaveGroup(ctx, s.active.ID); err != nil {
		s.log.Debug("leave group", "group", s.active.ID, "error", err)
	}
	s.active = nil
	s.store.Reset("")
	s.typing.SetGroup("")
	s.presence.Clear()
	s.unread.SetActive("")
}

// LoadMore fetches the next older page of the active group's history. When
// history is exhausted the call is a no-op.
func (s *Session) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.LoadPage(ctx)
}

// MarkScrolledToEnd reports that the user has viewed the newest messages;
// any unseen ones are marked seen on the server.
func (s *Session) MarkScrolledToEnd() {
	s.mu.Lock()
	ids := s.store.UnseenIDs(s.cfg.SelfID)
	s.mu.Unlock()
	if len(ids) > 0 {
		go s.markSeen(ids)
	}
}

func (s *Session) markSeen(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	if err := s.api.MarkSeen(ctx, ids); err != nil {
		s.log.Debug("mark seen", "error", err)
	}
}

func (s *Session) markDelivered(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	if err := s.api.MarkDelivered(ctx, ids); err != nil {
		s.log.Debug("mark delivered", "error", err)
	}
}

// ============================================================================
// Sending and editing
// ============================================================================

// SendMessage sends a text message, with an optional uploaded file attached,
// to the active group and waits for the server's ack. The acked message is
// merged into the history; the broadcast copy that follows is suppressed as
// a duplicate insert.
func (s *Session) SendMessage(ctx context.Context, text string, file *FileDescriptor) (*Message, error) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("no active group")
	}
	groupID := s.active.ID
	s.mu.Unlock()

	payload := map[string]interface{}{
		"groupId": groupID,
		"text":    text,
	}
	if file != nil {
		payload["file"] = file
	}

	// The ack arrives on the read loop, which also delivers regular events
	// into handlers that take the session lock. Holding it here would
	// deadlock the wait.
	raw, err := s.rt.EmitWithAck(ctx, EventMessageSend, payload)
	if err != nil {
		return nil, err
	}
	ack, err := decodeJSON[SendAck](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal send ack: %w", err)
	}
	if !ack.OK {
		return nil, fmt.Errorf("send rejected: %s", ack.Error)
	}

	if ack.Message != nil {
		s.mu.Lock()
		s.store.ApplyInsert(ack.Message)
		s.mu.Unlock()
	}
	return ack.Message, nil
}

// EditMessage edits a message's text on the server and merges the result.
func (s *Session) EditMessage(ctx context.Context, messageID, text string) error {
	m, err := s.api.EditMessage(ctx, messageID, text)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.store.ApplyEdit(m)
	s.mu.Unlock()
	return nil
}

// DeleteMessage deletes one message.
func (s *Session) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	s.mu.Lock()
	s.store.ApplyDelete(messageID, &UserRef{ID: s.cfg.SelfID, Username: s.cfg.SelfUsername})
	s.mu.Unlock()
	return nil
}

// DeleteMessages deletes several messages at once.
func (s *Session) DeleteMessages(ctx context.Context, messageIDs []string) error {
	if err := s.api.BulkDelete(ctx, messageIDs); err != nil {
		return err
	}
	s.mu.Lock()
	s.store.ApplyBulkDelete(messageIDs, &UserRef{ID: s.cfg.SelfID, Username: s.cfg.SelfUsername})
	s.mu.Unlock()
	return nil
}

// StartTyping announces that the user is typing in the active group. Callers
// re-invoke it while typing continues, which refreshes the indicator on
// other clients.
func (s *Session) StartTyping(ctx context.Context) error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil
	}
	groupID := s.active.ID
	s.mu.Unlock()
	return s.rt.Emit(ctx, EventTypingStart, TypingPayload{
		GroupID: groupID, UserID: s.cfg.SelfID, Username: s.cfg.SelfUsername,
	})
}

// StopTyping retracts the typing indicator.
func (s *Session) StopTyping(ctx context.Context) error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil
	}
	groupID := s.active.ID
	s.mu.Unlock()
	return s.rt.Emit(ctx, EventTypingStop, TypingPayload{
		GroupID: groupID, UserID: s.cfg.SelfID,
	})
}

// ============================================================================
// Notifications
// ============================================================================

// OpenNotificationPanel reloads the feed from the server, replacing any
// locally accumulated state with the authoritative list.
func (s *Session) OpenNotificationPanel(ctx context.Context) error {
	items, err := s.api.FetchNotifications(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.feed.Reload(items, len(items))
	s.mu.Unlock()
	return nil
}

// ClickNotification acts on one notification: it is removed from the feed
// and, when it points at a group, that group is selected.
func (s *Session) ClickNotification(ctx context.Context, notificationID string) error {
	s.mu.Lock()
	var groupID string
	for _, n := range s.feed.Items() {
		if n.ID == notificationID {
			groupID = n.GroupID
			break
		}
	}
	s.feed.Remove(notificationID)
	s.mu.Unlock()

	if err := s.api.MarkNotificationsSeen(ctx, []string{notificationID}); err != nil {
		s.log.Debug("mark notification seen", "error", err)
	}
	if groupID != "" {
		return s.SelectGroup(ctx, groupID)
	}
	return nil
}

// ClearAllNotifications empties the feed locally and on the server.
func (s *Session) ClearAllNotifications(ctx context.Context) error {
	if err := s.api.ClearNotifications(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.feed.Clear()
	s.mu.Unlock()
	return nil
}

// ============================================================================
// Event handlers
// ============================================================================

func (s *Session) subscribeAll() {
	s.rt.Subscribe(EventMessageNew, s.handleMessageNew)
	s.rt.Subscribe(EventMessageEdited, s.handleMessageEdited)
	s.rt.Subscribe(EventMessageDeleted, s.handleMessageDeleted)
	s.rt.Subscribe(EventMessagesDeleted, s.handleMessagesDeleted)
	s.rt.Subscribe(EventMessageDelivered, s.handleDelivered)
	s.rt.Subscribe(EventMessageSeen, s.handleSeen)
	s.rt.Subscribe(EventTypingStart, s.handleTypingStart)
	s.rt.Subscribe(EventTypingStop, s.handleTypingStop)
	s.rt.Subscribe(EventUserOnline, s.handleUserOnline)
	s.rt.Subscribe(EventUserOffline, s.handleUserOffline)
	s.rt.Subscribe(EventUserStatus, s.handleUserStatus)
	s.rt.Subscribe(EventUserJoined, s.handleUserJoined)
	s.rt.Subscribe(EventUserLeft, s.handleUserLeft)
	s.rt.Subscribe(EventNotificationNew, s.handleNotification)
	s.rt.Subscribe(EventGroupUpdated, s.handleGroupUpdated)
	s.rt.Subscribe(EventGroupJoined, s.handleGroupJoined)
	s.rt.Subscribe(EventGroupLeft, s.handleGroupLeft)
}

func (s *Session) handleMessageNew(payload json.RawMessage) {
	m, err := decodeJSON[Message](payload)
	if err != nil {
		s.log.Debug("bad message:new payload", "error", err)
		return
	}

	s.mu.Lock()
	activeID := ""
	if s.active != nil {
		activeID = s.active.ID
	}
	fromSelf := m.Sender.ID == s.cfg.SelfID

	if m.GroupID == activeID {
		s.store.ApplyInsert(m)
		// A message arriving replaces the sender's typing indicator.
		s.typing.Stop(m.GroupID, m.Sender.ID)
	} else if !fromSelf {
		s.unread.Increment(m.GroupID)
	}
	s.mu.Unlock()

	if !fromSelf {
		go s.markDelivered([]string{m.ID})
		if m.GroupID == activeID {
			go s.markSeen([]string{m.ID})
		}
	}
}

func (s *Session) handleMessageEdited(payload json.RawMessage) {
	m, err := decodeJSON[Message](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.store.ApplyEdit(m)
	s.mu.Unlock()
}

func (s *Session) handleMessageDeleted(payload json.RawMessage) {
	p, err := decodeJSON[MessageDeletedPayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.store.ApplyDelete(p.MessageID, p.DeletedBy)
	s.mu.Unlock()
}

func (s *Session) handleMessagesDeleted(payload json.RawMessage) {
	p, err := decodeJSON[MessagesDeletedPayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.store.ApplyBulkDelete(p.MessageIDs, p.DeletedBy)
	s.mu.Unlock()
}

func (s *Session) handleDelivered(payload json.RawMessage) {
	p, err := decodeJSON[ReceiptPayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.store.ApplyDeliveryAck(p.MessageID, p.UserID)
	s.mu.Unlock()
}

func (s *Session) handleSeen(payload json.RawMessage) {
	p, err := decodeJSON[ReceiptPayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.store.ApplySeenAck(p.MessageID, p.UserID)
	s.mu.Unlock()
}

func (s *Session) handleTypingStart(payload json.RawMessage) {
	p, err := decodeJSON[TypingPayload](payload)
	if err != nil {
		return
	}
	if p.UserID == s.cfg.SelfID {
		return
	}
	s.mu.Lock()
	s.typing.Start(p.GroupID, p.UserID, p.Username)
	s.mu.Unlock()
}

func (s *Session) handleTypingStop(payload json.RawMessage) {
	p, err := decodeJSON[TypingPayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.typing.Stop(p.GroupID, p.UserID)
	s.mu.Unlock()
}

func (s *Session) handleUserOnline(payload json.RawMessage) {
	p, err := decodeJSON[PresencePayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.presence.ApplyOnline(p.UserID)
	s.mu.Unlock()
}

func (s *Session) handleUserOffline(payload json.RawMessage) {
	p, err := decodeJSON[PresencePayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.presence.ApplyOffline(p.UserID, p.LastSeen)
	s.mu.Unlock()
}

func (s *Session) handleUserStatus(payload json.RawMessage) {
	p, err := decodeJSON[PresencePayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.presence.ApplyStatus(p.UserID, p.IsOnline, p.LastSeen)
	s.mu.Unlock()
}

func (s *Session) handleUserJoined(payload json.RawMessage) {
	p, err := decodeJSON[PresencePayload](payload)
	if err != nil {
		return
	}
	if s.cfg.Notice != nil && p.Username != "" {
		s.cfg.Notice(p.Username + " joined")
	}
}

func (s *Session) handleUserLeft(payload json.RawMessage) {
	p, err := decodeJSON[PresencePayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.presence.ApplyOffline(p.UserID, nil)
	s.mu.Unlock()
	if s.cfg.Notice != nil && p.Username != "" {
		s.cfg.Notice(p.Username + " left")
	}
}

func (s *Session) handleNotification(payload json.RawMessage) {
	n, err := decodeJSON[Notification](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.feed.Push(*n)
	s.mu.Unlock()
}

func (s *Session) handleGroupUpdated(payload json.RawMessage) {
	p, err := decodeJSON[GroupUpdatedPayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	for i := range s.groups {
		if s.groups[i].ID == p.Group.ID {
			s.groups[i] = p.Group
			break
		}
	}
	if s.active != nil && s.active.ID == p.Group.ID {
		updated := p.Group
		s.active = &updated
	}
	s.mu.Unlock()
}

func (s *Session) handleGroupJoined(payload json.RawMessage) {
	p, err := decodeJSON[GroupMembershipPayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	if findGroup(s.groups, p.Group.ID) == nil {
		s.groups = append(s.groups, p.Group)
	}
	s.mu.Unlock()
	if s.cfg.Notice != nil {
		s.cfg.Notice("You were added to " + p.Group.Name)
	}
}

func (s *Session) handleGroupLeft(payload json.RawMessage) {
	p, err := decodeJSON[GroupMembershipPayload](payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	for i := range s.groups {
		if s.groups[i].ID == p.Group.ID {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			break
		}
	}
	wasActive := s.active != nil && s.active.ID == p.Group.ID
	if wasActive {
		s.active = nil
		s.store.Reset("")
		s.typing.SetGroup("")
		s.presence.Clear()
		s.unread.SetActive("")
	}
	s.unread.ClearGroup(p.Group.ID)
	s.mu.Unlock()
	if s.cfg.Notice != nil {
		s.cfg.Notice("You were removed from " + p.Group.Name)
	}
}

// ============================================================================
// Background loops
// ============================================================================

func (s *Session) presenceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PresenceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
			s.mu.Lock()
			s.refreshPresenceLocked(ctx)
			s.mu.Unlock()
			cancel()
		}
	}
}

// refreshPresenceLocked fetches the active group's roster and installs it
// wholesale, superseding any state built from live events.
func (s *Session) refreshPresenceLocked(ctx context.Context) {
	if s.active == nil {
		return
	}
	members, err := s.api.FetchGroupMembers(ctx, s.active.ID)
	if err != nil {
		s.log.Debug("refresh presence", "group", s.active.ID, "error", err)
		return
	}
	roster := append([]GroupMember{}, members.Users...)
	roster = append(roster, members.Managers...)
	s.presence.Replace(roster, members.OnlineMembers)
}

func (s *Session) typingSweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TypingSweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.typing.Sweep()
			s.mu.Unlock()
		}
	}
}

// reconnectLoop retries the connection with backoff, then resynchronizes
// every piece of state that may have drifted while offline.
func (s *Session) reconnectLoop(reason string) {
	defer s.wg.Done()
	s.log.Info("connection lost, reconnecting", "reason", reason)
	if s.cfg.Notice != nil {
		s.cfg.Notice("Connection lost, reconnecting...")
	}

	backoff := NewBackoff()
	for backoff.ShouldRetry() {
		delay := backoff.NextDelay()
		s.rt.MarkReconnecting()

		select {
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		err := s.rt.Connect(ctx)
		cancel()
		if err != nil {
			s.log.Debug("reconnect attempt failed", "error", err)
			continue
		}
		backoff.MarkConnected()

		if err := s.resync(); err != nil {
			s.log.Warn("resync after reconnect failed", "error", err)
		}
		s.log.Info("reconnected")
		if s.cfg.Notice != nil {
			s.cfg.Notice("Reconnected")
		}
		return
	}
	s.log.Error("reconnect attempts exhausted")
	if s.cfg.Notice != nil {
		s.cfg.Notice("Could not reconnect")
	}
}

// resync reloads groups, rejoins the active room, replaces the message
// history with a fresh first page, and reloads presence and notifications.
func (s *Session) resync() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	groups, err := s.api.FetchGroups(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = groups

	if s.active != nil {
		if g := findGroup(groups, s.active.ID); g != nil {
			selected := *g
			s.active = &selected
			if err := s.rt.JoinGroup(ctx, g.ID); err != nil {
				return err
			}
			s.store.Reset(g.ID)
			if err := s.store.LoadPage(ctx); err != nil {
				return err
			}
			s.refreshPresenceLocked(ctx)
		} else {
			s.active = nil
			s.store.Reset("")
			s.typing.SetGroup("")
			s.presence.Clear()
			s.unread.SetActive("")
		}
	}

	if items, err := s.api.FetchNotifications(ctx); err == nil {
		s.feed.Reload(items, len(items))
	}
	return nil
}

// ============================================================================
// Snapshot accessors
// ============================================================================

// Groups returns a copy of the user's group list.
func (s *Session) Groups() []Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Group{}, s.groups...)
}

// ActiveGroup returns the currently selected group, or nil.
func (s *Session) ActiveGroup() *Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	g := *s.active
	return &g
}

// Messages returns the active group's history in chronological order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Messages()
}

// Timeline returns the active group's history bucketed by day.
func (s *Session) Timeline() []DayBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Timeline()
}

// HasMoreHistory reports whether older messages can still be loaded.
func (s *Session) HasMoreHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.HasMore()
}

// TypingBanner returns the typing indicator line for the active group.
func (s *Session) TypingBanner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing.Sweep()
	return s.typing.Banner(s.cfg.SelfID)
}

// Presence returns the active group's member roster.
func (s *Session) Presence() []PresenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.Entries()
}

// OnlineCount returns how many members of the active group are online.
func (s *Session) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.OnlineCount()
}

// UnreadCounts returns the per-group unread counts.
func (s *Session) UnreadCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread.Counts()
}

// TotalUnread returns the unread count across all groups.
func (s *Session) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread.Total()
}

// NotificationCount returns the notification badge count.
func (s *Session) NotificationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed.Count()
}

// Notifications returns a copy of the notification feed, newest first.
func (s *Session) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed.Items()
}
