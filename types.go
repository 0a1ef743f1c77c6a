package ramavan

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error reported by the Ramavan API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// UserRef is a populated user reference as the server embeds it in messages
// and groups.
type UserRef struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
}

// ============================================================================
// Messages
// ============================================================================

// FileDescriptor describes an uploaded file attached to a message. The core
// treats it as opaque: it is produced by UploadFile and carried through
// message payloads unchanged.
type FileDescriptor struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	Path         string `json:"path,omitempty"`
	URL          string `json:"url,omitempty"`
}

// DeletionInfo marks a message as deleted while keeping its record in place.
type DeletionInfo struct {
	IsDeleted bool       `json:"isDeleted"`
	DeletedBy *UserRef   `json:"deletedBy,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Message is a single chat message. The id is stable across edits; deleting
// a message flips Deleted but retains the record so timeline positions of
// surrounding messages stay stable.
type Message struct {
	ID          string          `json:"_id"`
	GroupID     string          `json:"groupId"`
	Sender      UserRef         `json:"senderId"`
	Text        string          `json:"text,omitempty"`
	File        *FileDescriptor `json:"file,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Edited      bool            `json:"edited,omitempty"`
	EditedAt    *time.Time      `json:"editedAt,omitempty"`
	Deleted     DeletionInfo    `json:"deleted,omitempty"`
	DeliveredTo []string        `json:"deliveredTo,omitempty"`
	SeenBy      []string        `json:"seenBy,omitempty"`
}

// IsDeleted reports whether the message has been deleted.
func (m *Message) IsDeleted() bool {
	return m.Deleted.IsDeleted
}

// DisplayText returns the text to render: empty for deleted messages.
func (m *Message) DisplayText() string {
	if m.Deleted.IsDeleted {
		return ""
	}
	return m.Text
}

// DisplayFile returns the file to render: nil for deleted messages.
func (m *Message) DisplayFile() *FileDescriptor {
	if m.Deleted.IsDeleted {
		return nil
	}
	return m.File
}

// DeliveredToUser reports whether userID is in the delivery set.
func (m *Message) DeliveredToUser(userID string) bool {
	for _, id := range m.DeliveredTo {
		if id == userID {
			return true
		}
	}
	return false
}

// SeenByUser reports whether userID is in the seen set.
func (m *Message) SeenByUser(userID string) bool {
	for _, id := range m.SeenBy {
		if id == userID {
			return true
		}
	}
	return false
}

func (m *Message) clone() *Message {
	c := *m
	c.DeliveredTo = append([]string(nil), m.DeliveredTo...)
	c.SeenBy = append([]string(nil), m.SeenBy...)
	if m.File != nil {
		f := *m.File
		c.File = &f
	}
	return &c
}

// ============================================================================
// Groups
// ============================================================================

// Group is a chat group. Read-mostly from the engine's perspective; replaced
// wholesale on membership-change events.
type Group struct {
	ID       string    `json:"_id"`
	Name     string    `json:"name"`
	Region   string    `json:"region,omitempty"`
	Users    []string  `json:"users,omitempty"`
	Managers []UserRef `json:"managers,omitempty"`
}

// GroupMember is one member row from the group-members endpoint, carrying
// the server's view of presence.
type GroupMember struct {
	ID       string     `json:"_id"`
	Username string     `json:"username"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// GroupMembers is the full roster of a group plus the server's online count.
type GroupMembers struct {
	Users         []GroupMember `json:"users"`
	Managers      []GroupMember `json:"managers"`
	OnlineMembers int           `json:"onlineMembers"`
}

// ============================================================================
// Notifications
// ============================================================================

// Notification is one item of the global notification feed.
type Notification struct {
	ID        string    `json:"_id"`
	Type      string    `json:"type"` // "message", "user_joined", "user_left", "group_update"
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message,omitempty"`
	GroupID   string    `json:"groupId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ============================================================================
// REST envelopes
// ============================================================================

type groupsResponse struct {
	Groups []Group `json:"groups"`
}

type messagesResponse struct {
	Messages []*Message `json:"messages"`
}

type messageResponse struct {
	Message *Message `json:"message"`
}

type notificationsResponse struct {
	Notifications []Notification `json:"notifications"`
}

type uploadResponse struct {
	File *FileDescriptor `json:"file"`
}

type errorResponse struct {
	Error   *APIError `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
