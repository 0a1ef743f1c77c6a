// Package ramavan provides the Go client SDK for the Ramavan group-chat
// server, including the realtime synchronization engine that keeps a local
// view of groups, messages, presence, and notifications consistent with the
// server's event stream.
//
// Example:
//
//	client := ramavan.NewClient("https://chat.example.com", token)
//	sess := ramavan.NewSession(client, client.Transport(), ramavan.SessionConfig{
//		SelfID: me.ID,
//	})
//	if err := sess.Start(ctx); err != nil { ... }
//	defer sess.Stop()
//
//	sess.SelectGroup(ctx, groupID)
//	for _, bucket := range sess.Timeline() { ... }
package ramavan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds each REST call.
	DefaultTimeout = 30 * time.Second

	// PageSize is the message history page size. A page shorter than this
	// terminates backward pagination.
	PageSize = 50

	// MaxUploadSize is the upload cap enforced locally, before any network
	// call is made.
	MaxUploadSize = 10 * 1024 * 1024
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client for the Ramavan API. It covers the request/
// response collaborators the sync engine consumes: group listing, message
// history pages, edits and deletions, receipt acknowledgements, the
// notification feed, and file upload.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithLogger sets the logger used by the client and by transports created
// from it. Defaults to slog.Default().
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new Ramavan client for the given server base URL and
// auth token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the auth token, e.g. after a re-login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Transport creates a realtime transport bound to this client's server and
// credentials. The transport is not connected; call Connect on it.
func (c *Client) Transport(opts ...TransportOption) *Transport {
	return NewTransport(c.baseURL, c.token, append([]TransportOption{
		WithTransportLogger(c.log),
	}, opts...)...)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + "/api" + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, apiErrorFrom(resp.StatusCode, data)
	}
	return data, nil
}

// apiErrorFrom builds an *APIError from a non-2xx response body, falling
// back to the HTTP status when the body carries no structured error.
func apiErrorFrom(status int, data []byte) error {
	var er errorResponse
	if json.Unmarshal(data, &er) == nil {
		if er.Error != nil && er.Error.Message != "" {
			return er.Error
		}
		if er.Message != "" {
			return &APIError{Code: http.StatusText(status), Message: er.Message}
		}
	}
	return &APIError{Code: http.StatusText(status), Message: fmt.Sprintf("HTTP %d", status)}
}

// ============================================================================
// Groups
// ============================================================================

// FetchGroups lists the groups the current user is a member of.
func (c *Client) FetchGroups(ctx context.Context) ([]Group, error) {
	data, err := c.doRequest(ctx, "GET", "/groups", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[groupsResponse](data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal groups: %w", err)
	}
	return resp.Groups, nil
}

// FetchGroupMembers returns the full member roster of a group plus the
// server's online count. The presence tracker replaces its table wholesale
// from this on each periodic refresh.
func (c *Client) FetchGroupMembers(ctx context.Context, groupID string) (*GroupMembers, error) {
	data, err := c.doRequest(ctx, "GET", "/groups/"+groupID+"/members", nil, nil)
	if err != nil {
		return nil, err
	}
	members, err := decodeJSON[GroupMembers](data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal group members: %w", err)
	}
	return members, nil
}

// ============================================================================
// Messages
// ============================================================================

// FetchMessagePage fetches one page of message history for a group. Pages
// are numbered from 1 and walk backward in time: page 1 is the newest.
func (c *Client) FetchMessagePage(ctx context.Context, groupID string, page, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = PageSize
	}
	data, err := c.doRequest(ctx, "GET", "/messages/"+groupID, nil, map[string]string{
		"page":  fmt.Sprintf("%d", page),
		"limit": fmt.Sprintf("%d", limit),
	})
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[messagesResponse](data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return resp.Messages, nil
}

// EditMessage replaces a message's text. The authoritative edited message is
// also pushed to every member as a message:edited event.
func (c *Client) EditMessage(ctx context.Context, messageID, text string) (*Message, error) {
	data, err := c.doRequest(ctx, "PUT", "/messages/"+messageID, map[string]string{"text": text}, nil)
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[messageResponse](data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal edited message: %w", err)
	}
	return resp.Message, nil
}

// DeleteMessage deletes one message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/messages/"+messageID, nil, nil)
	return err
}

// BulkDelete deletes a set of messages.
func (c *Client) BulkDelete(ctx context.Context, messageIDs []string) error {
	_, err := c.doRequest(ctx, "DELETE", "/messages/bulk", map[string][]string{"messageIds": messageIDs}, nil)
	return err
}

// SearchMessages searches message text, optionally scoped to one group.
func (c *Client) SearchMessages(ctx context.Context, query, groupID string) ([]*Message, error) {
	q := map[string]string{"q": query}
	if groupID != "" {
		q["groupId"] = groupID
	}
	data, err := c.doRequest(ctx, "GET", "/messages/search", nil, q)
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[messagesResponse](data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal search results: %w", err)
	}
	return resp.Messages, nil
}

// ForwardMessage forwards a message to other groups.
func (c *Client) ForwardMessage(ctx context.Context, messageID string, groupIDs []string) error {
	_, err := c.doRequest(ctx, "POST", "/messages/"+messageID+"/forward", map[string][]string{"groupIds": groupIDs}, nil)
	return err
}

// MarkDelivered acknowledges delivery of a set of messages. Callers treat
// this as fire-and-forget; the authoritative delivery sets come back as
// message:delivered events.
func (c *Client) MarkDelivered(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := c.doRequest(ctx, "POST", "/messages/delivered", map[string][]string{"messageIds": messageIDs}, nil)
	return err
}

// MarkSeen acknowledges that a set of messages has been read.
func (c *Client) MarkSeen(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := c.doRequest(ctx, "POST", "/messages/seen", map[string][]string{"messageIds": messageIDs}, nil)
	return err
}

// ============================================================================
// Notifications
// ============================================================================

// FetchNotifications returns the current unseen notification list. The feed
// count is replaced with the length of this list on every reload.
func (c *Client) FetchNotifications(ctx context.Context) ([]Notification, error) {
	data, err := c.doRequest(ctx, "GET", "/notifications", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[notificationsResponse](data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal notifications: %w", err)
	}
	return resp.Notifications, nil
}

// MarkNotificationsSeen marks specific notifications as seen.
func (c *Client) MarkNotificationsSeen(ctx context.Context, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	_, err := c.doRequest(ctx, "PUT", "/notifications/seen", map[string][]string{"notificationIds": notificationIDs}, nil)
	return err
}

// ClearNotifications removes every notification for the current user.
func (c *Client) ClearNotifications(ctx context.Context) error {
	_, err := c.doRequest(ctx, "DELETE", "/notifications/clear", nil, nil)
	return err
}

// ============================================================================
// File upload
// ============================================================================

// UploadFile uploads a file and returns its descriptor, which can then be
// attached to an outgoing message. Files over MaxUploadSize are rejected
// locally before any network call.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader, size int64) (*FileDescriptor, error) {
	if size > MaxUploadSize {
		return nil, &APIError{Code: "FILE_TOO_LARGE", Message: "file size must be less than 10MB"}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/files/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, apiErrorFrom(resp.StatusCode, data)
	}

	up, err := decodeJSON[uploadResponse](data)
	if err != nil || up.File == nil {
		return nil, fmt.Errorf("failed to unmarshal upload response: %w", err)
	}
	return up.File, nil
}
