package ramavan

// UnreadCounters tracks per-group unread message counts. The active group is
// pinned at zero: its messages are seen as they arrive, so they never count.
// Not safe for concurrent use, the owning Session serializes access.
type UnreadCounters struct {
	counts map[string]int
	active string
}

// NewUnreadCounters creates an empty counter set.
func NewUnreadCounters() *UnreadCounters {
	return &UnreadCounters{counts: make(map[string]int)}
}

// SetActive marks a group as the one being viewed and zeroes its count.
// Pass "" when no group is open.
func (u *UnreadCounters) SetActive(groupID string) {
	u.active = groupID
	if groupID != "" {
		delete(u.counts, groupID)
	}
}

// Increment bumps a group's unread count. Incrementing the active group is
// a no-op.
func (u *UnreadCounters) Increment(groupID string) {
	if groupID == "" || groupID == u.active {
		return
	}
	u.counts[groupID]++
}

// ClearGroup zeroes one group's count.
func (u *UnreadCounters) ClearGroup(groupID string) {
	delete(u.counts, groupID)
}

// Count returns one group's unread count.
func (u *UnreadCounters) Count(groupID string) int {
	return u.counts[groupID]
}

// Total returns the unread count across all groups.
func (u *UnreadCounters) Total() int {
	total := 0
	for _, n := range u.counts {
		total += n
	}
	return total
}

// Counts returns a copy of the per-group counts.
func (u *UnreadCounters) Counts() map[string]int {
	out := make(map[string]int, len(u.counts))
	for k, v := range u.counts {
		out[k] = v
	}
	return out
}

// feedOp is one mutation of the notification feed. The three live channels
// that feed notifications (server reloads, realtime pushes, and user
// interaction) are reconciled by expressing each as an op and applying them
// in arrival order.
type feedOp interface {
	apply(f *NotificationFeed)
}

// feedReload replaces the feed with the server's authoritative list.
type feedReload struct {
	items []Notification
	count int
}

func (op feedReload) apply(f *NotificationFeed) {
	f.items = append([]Notification{}, op.items...)
	f.count = op.count
}

// feedIncrement prepends a pushed notification and bumps the badge.
type feedIncrement struct {
	item Notification
}

func (op feedIncrement) apply(f *NotificationFeed) {
	f.items = append([]Notification{op.item}, f.items...)
	f.count++
}

// feedRemove drops one notification after the user acts on it.
type feedRemove struct {
	id string
}

func (op feedRemove) apply(f *NotificationFeed) {
	for i, n := range f.items {
		if n.ID == op.id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			if f.count > 0 {
				f.count--
			}
			return
		}
	}
}

// feedClear empties the feed.
type feedClear struct{}

func (feedClear) apply(f *NotificationFeed) {
	f.items = nil
	f.count = 0
}

// NotificationFeed holds the notification list and its badge count. A reload
// from the server replaces both; a pushed notification increments; acting on
// one decrements, never below zero; clearing zeroes everything. Not safe for
// concurrent use.
type NotificationFeed struct {
	items []Notification
	count int
}

// NewNotificationFeed creates an empty feed.
func NewNotificationFeed() *NotificationFeed {
	return &NotificationFeed{}
}

func (f *NotificationFeed) apply(op feedOp) {
	op.apply(f)
}

// Reload replaces the feed with the server's list and count.
func (f *NotificationFeed) Reload(items []Notification, count int) {
	f.apply(feedReload{items: items, count: count})
}

// Push merges a realtime-pushed notification.
func (f *NotificationFeed) Push(n Notification) {
	f.apply(feedIncrement{item: n})
}

// Remove drops a notification the user acted on.
func (f *NotificationFeed) Remove(id string) {
	f.apply(feedRemove{id: id})
}

// Clear empties the feed.
func (f *NotificationFeed) Clear() {
	f.apply(feedClear{})
}

// Count returns the badge count.
func (f *NotificationFeed) Count() int { return f.count }

// Items returns a copy of the notification list, newest first.
func (f *NotificationFeed) Items() []Notification {
	return append([]Notification{}, f.items...)
}
