package ramavan

import (
	"context"
	"sort"
	"time"
)

// PageFetcher loads one page of a group's history, newest page first.
type PageFetcher func(ctx context.Context, groupID string, page, limit int) ([]*Message, error)

// MessageStore holds the message history of one group. Pages are fetched
// backward from the newest; live events are merged idempotently. The store
// does no locking of its own, the owning Session serializes access.
type MessageStore struct {
	fetch    PageFetcher
	pageSize int
	now      func() time.Time

	groupID string
	page    int
	hasMore bool

	order []string
	byID  map[string]*Message
}

// NewMessageStore creates an empty store backed by the given fetcher.
func NewMessageStore(fetch PageFetcher) *MessageStore {
	s := &MessageStore{
		fetch:    fetch,
		pageSize: PageSize,
		now:      time.Now,
		hasMore:  false,
		byID:     make(map[string]*Message),
	}
	return s
}

// Reset clears the store and points it at a new group. The next LoadPage
// fetches page one.
func (s *MessageStore) Reset(groupID string) {
	s.groupID = groupID
	s.page = 0
	s.hasMore = true
	s.order = nil
	s.byID = make(map[string]*Message)
}

// GroupID returns the group the store currently tracks.
func (s *MessageStore) GroupID() string { return s.groupID }

// Len returns the number of messages held.
func (s *MessageStore) Len() int { return len(s.order) }

// HasMore reports whether older history may remain on the server.
func (s *MessageStore) HasMore() bool { return s.hasMore }

// NextPage returns the page number the next LoadPage will request.
func (s *MessageStore) NextPage() int { return s.page + 1 }

// LoadPage fetches the next (older) page and merges it in. The first page
// replaces the store contents; later pages are prepended, skipping any
// message already known. When no more history remains the call is a no-op.
// On error the store is left untouched, so the call can simply be retried.
func (s *MessageStore) LoadPage(ctx context.Context) error {
	if !s.hasMore || s.groupID == "" {
		return nil
	}

	page := s.page + 1
	msgs, err := s.fetch(ctx, s.groupID, page, s.pageSize)
	if err != nil {
		return err
	}

	s.page = page
	// A short page means history is exhausted.
	s.hasMore = len(msgs) == s.pageSize

	if page == 1 {
		s.order = nil
		s.byID = make(map[string]*Message)
		for _, m := range msgs {
			s.appendMessage(m)
		}
		return nil
	}

	fresh := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, known := s.byID[m.ID]; known {
			continue
		}
		s.byID[m.ID] = m.clone()
		fresh = append(fresh, m.ID)
	}
	s.order = append(fresh, s.order...)
	return nil
}

func (s *MessageStore) appendMessage(m *Message) {
	if _, known := s.byID[m.ID]; known {
		return
	}
	s.byID[m.ID] = m.clone()
	s.order = append(s.order, m.ID)
}

// ApplyInsert merges a newly arrived message. Inserting a message the store
// already holds is a no-op, so redelivered events and send acks that race
// with the broadcast are harmless.
func (s *MessageStore) ApplyInsert(m *Message) {
	if m == nil || m.GroupID != s.groupID {
		return
	}
	s.appendMessage(m)
}

// ApplyEdit replaces an existing message with its edited form. Receipt sets
// already accumulated locally are kept by unioning them with the server's.
// Edits for unknown messages are dropped.
func (s *MessageStore) ApplyEdit(m *Message) {
	if m == nil {
		return
	}
	old, ok := s.byID[m.ID]
	if !ok {
		return
	}
	next := m.clone()
	next.DeliveredTo = unionStrings(old.DeliveredTo, next.DeliveredTo)
	next.SeenBy = unionStrings(old.SeenBy, next.SeenBy)
	s.byID[m.ID] = next
}

// ApplyDelete marks a message deleted in place. Its position in history is
// retained so the tombstone renders where the message was.
func (s *MessageStore) ApplyDelete(messageID string, deletedBy *UserRef) {
	m, ok := s.byID[messageID]
	if !ok {
		return
	}
	now := s.now()
	m.Deleted = DeletionInfo{IsDeleted: true, DeletedBy: deletedBy, DeletedAt: &now}
}

// ApplyBulkDelete marks several messages deleted. Unknown ids are skipped.
func (s *MessageStore) ApplyBulkDelete(messageIDs []string, deletedBy *UserRef) {
	for _, id := range messageIDs {
		s.ApplyDelete(id, deletedBy)
	}
}

// ApplyDeliveryAck records that a user received a message. Duplicate acks
// and acks for unknown messages are no-ops.
func (s *MessageStore) ApplyDeliveryAck(messageID, userID string) {
	m, ok := s.byID[messageID]
	if !ok {
		return
	}
	if !m.DeliveredToUser(userID) {
		m.DeliveredTo = append(m.DeliveredTo, userID)
	}
}

// ApplySeenAck records that a user read a message.
func (s *MessageStore) ApplySeenAck(messageID, userID string) {
	m, ok := s.byID[messageID]
	if !ok {
		return
	}
	if !m.SeenByUser(userID) {
		m.SeenBy = append(m.SeenBy, userID)
	}
}

// Messages returns the held messages in chronological order. The slice and
// its elements are copies.
func (s *MessageStore) Messages() []Message {
	out := make([]Message, 0, len(s.order))
	for _, id := range s.sortedIDs() {
		out = append(out, *s.byID[id].clone())
	}
	return out
}

// UnseenIDs returns the ids of messages from other senders that selfID has
// not yet seen, oldest first.
func (s *MessageStore) UnseenIDs(selfID string) []string {
	var out []string
	for _, id := range s.sortedIDs() {
		m := s.byID[id]
		if m.Sender.ID == selfID || m.IsDeleted() {
			continue
		}
		if !m.SeenByUser(selfID) {
			out = append(out, id)
		}
	}
	return out
}

func (s *MessageStore) sortedIDs() []string {
	ids := append([]string{}, s.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		return s.byID[ids[i]].CreatedAt.Before(s.byID[ids[j]].CreatedAt)
	})
	return ids
}

// DayBucket groups the messages of one calendar day for display.
type DayBucket struct {
	Label    string
	Date     time.Time
	Messages []Message
}

// Timeline returns the held messages bucketed by calendar day in
// chronological order. Today's bucket is labeled "Today" and yesterday's
// "Yesterday"; older days use the date. Days are the viewer's calendar
// days: wire timestamps arrive in UTC, so each one is converted to the
// clock's zone before bucketing.
func (s *MessageStore) Timeline() []DayBucket {
	loc := s.now().Location()
	var buckets []DayBucket
	for _, id := range s.sortedIDs() {
		m := s.byID[id]
		day := startOfDay(m.CreatedAt.In(loc))
		if n := len(buckets); n == 0 || !buckets[n-1].Date.Equal(day) {
			buckets = append(buckets, DayBucket{Label: s.dayLabel(day), Date: day})
		}
		b := &buckets[len(buckets)-1]
		b.Messages = append(b.Messages, *m.clone())
	}
	return buckets
}

func (s *MessageStore) dayLabel(day time.Time) string {
	today := startOfDay(s.now())
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format("Jan 2, 2006")
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
