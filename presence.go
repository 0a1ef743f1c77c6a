package ramavan

import (
	"sort"
	"strings"
	"time"
)

// PresenceEntry is the tracked presence of one group member.
type PresenceEntry struct {
	UserID   string
	Username string
	IsOnline bool
	LastSeen *time.Time
}

// PresenceTracker maintains the online state of the active group's members.
// The authoritative roster comes from periodic member fetches; live presence
// events adjust it between refreshes. Not safe for concurrent use, the
// owning Session serializes access.
type PresenceTracker struct {
	now func() time.Time

	entries map[string]*PresenceEntry
	order   []string
	online  int
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		now:     time.Now,
		entries: make(map[string]*PresenceEntry),
	}
}

// Replace installs a fresh roster wholesale, discarding all prior state.
// onlineCount overrides the derived count when non-negative, since the
// server may count members the roster page omits.
func (p *PresenceTracker) Replace(members []GroupMember, onlineCount int) {
	p.entries = make(map[string]*PresenceEntry, len(members))
	p.order = p.order[:0]
	derived := 0
	for _, m := range members {
		p.entries[m.ID] = &PresenceEntry{
			UserID:   m.ID,
			Username: m.Username,
			IsOnline: m.IsOnline,
			LastSeen: m.LastSeen,
		}
		p.order = append(p.order, m.ID)
		if m.IsOnline {
			derived++
		}
	}
	if onlineCount >= 0 {
		p.online = onlineCount
	} else {
		p.online = derived
	}
}

// ApplyOnline marks a member online. Only an actual offline-to-online
// transition changes the online count; repeated online events for the same
// user are no-ops. Events for users not in the roster are dropped.
func (p *PresenceTracker) ApplyOnline(userID string) {
	e, ok := p.entries[userID]
	if !ok || e.IsOnline {
		return
	}
	e.IsOnline = true
	now := p.now()
	e.LastSeen = &now
	p.online++
}

// ApplyOffline marks a member offline and records when they were last seen.
func (p *PresenceTracker) ApplyOffline(userID string, lastSeen *time.Time) {
	e, ok := p.entries[userID]
	if !ok || !e.IsOnline {
		return
	}
	e.IsOnline = false
	if lastSeen != nil {
		e.LastSeen = lastSeen
	} else {
		now := p.now()
		e.LastSeen = &now
	}
	p.online--
}

// ApplyStatus handles a combined status event carrying the new state.
func (p *PresenceTracker) ApplyStatus(userID string, isOnline bool, lastSeen *time.Time) {
	if isOnline {
		p.ApplyOnline(userID)
	} else {
		p.ApplyOffline(userID, lastSeen)
	}
}

// OnlineCount returns the number of members currently online.
func (p *PresenceTracker) OnlineCount() int { return p.online }

// Entries returns a copy of the roster in its fetched order.
func (p *PresenceTracker) Entries() []PresenceEntry {
	out := make([]PresenceEntry, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.entries[id])
	}
	return out
}

// Clear empties the tracker.
func (p *PresenceTracker) Clear() {
	p.entries = make(map[string]*PresenceEntry)
	p.order = nil
	p.online = 0
}

// typingExpiry is how long a typing indicator survives without a refresh.
// Senders re-emit while typing continues, so an expired entry means the
// stop event was lost.
const typingExpiry = 5 * time.Second

type typingEntry struct {
	username    string
	refreshedAt time.Time
}

// TypingTracker maintains who is typing in the active group. Indicators are
// scoped to one group at a time and expire when not refreshed, so a lost
// typing:stop cannot strand a stale indicator. Not safe for concurrent use.
type TypingTracker struct {
	now func() time.Time

	groupID string
	entries map[string]typingEntry
}

// NewTypingTracker creates an empty tracker.
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		now:     time.Now,
		entries: make(map[string]typingEntry),
	}
}

// SetGroup scopes the tracker to a group, clearing all indicators.
func (t *TypingTracker) SetGroup(groupID string) {
	t.groupID = groupID
	t.entries = make(map[string]typingEntry)
}

// Start records that a user is typing. Events for other groups are dropped;
// a repeat event refreshes the expiry clock.
func (t *TypingTracker) Start(groupID, userID, username string) {
	if groupID != t.groupID || t.groupID == "" {
		return
	}
	t.entries[userID] = typingEntry{username: username, refreshedAt: t.now()}
}

// Stop removes a user's typing indicator.
func (t *TypingTracker) Stop(groupID, userID string) {
	if groupID != t.groupID {
		return
	}
	delete(t.entries, userID)
}

// Sweep drops indicators that have not been refreshed within the expiry
// window. The Session calls it periodically.
func (t *TypingTracker) Sweep() {
	now := t.now()
	for id, e := range t.entries {
		if now.Sub(e.refreshedAt) >= typingExpiry {
			delete(t.entries, id)
		}
	}
}

// Names returns the usernames currently typing, excluding selfID, sorted
// for stable display.
func (t *TypingTracker) Names(selfID string) []string {
	var names []string
	for id, e := range t.entries {
		if id == selfID {
			continue
		}
		names = append(names, e.username)
	}
	sort.Strings(names)
	return names
}

// Banner renders the typing indicator line, or "" when nobody is typing.
func (t *TypingTracker) Banner(selfID string) string {
	names := t.Names(selfID)
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	default:
		return strings.Join(names, ", ") + " are typing..."
	}
}
