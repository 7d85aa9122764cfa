// Package linsta provides the Go client core for the Linsta chat backend.
//
// It maintains a local, eventually-consistent mirror of conversations and
// unread-notification state against the remote service: a request/response
// Client, a ConversationStore that merges server-confirmed records into
// local state, and a NotificationChannel that keeps a live push subscription
// alive across reconnects.
//
// Example:
//
//	session, _ := linsta.NewSession(token)
//	defer session.Close()
//
//	session.Store.LoadCached()
//	session.Store.LoadConversations(ctx)
//	conv, _ := session.Store.OpenConversationWithUser(ctx, "user-42", "")
//	session.Store.SendMessage(ctx, conv.ID, "hello", "")
package linsta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL = "https://api.linsta.app"

	// DefaultTimeout bounds request/response calls; HealthTimeout bounds
	// the lighter discovery call.
	DefaultTimeout = 10 * time.Second
	HealthTimeout  = 3 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client issues authenticated request/response calls to the chat service.
type Client struct {
	credential string
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a chat service client carrying the given bearer
// credential on every call.
func NewClient(credential string, opts ...ClientOption) *Client {
	c := &Client{
		credential: credential,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCredential replaces the bearer credential, e.g. after a token refresh.
func (c *Client) SetCredential(credential string) {
	c.credential = credential
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

// doRequest issues one JSON request and returns the envelope's data field.
// Failures are mapped onto the APIError taxonomy: 401/403 UNAUTHENTICATED,
// 404 NOT_FOUND, 5xx SERVER_ERROR, transport-level errors and timeouts
// NETWORK_UNAVAILABLE.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) (json.RawMessage, error) {
	var bodyReader io.Reader
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, bodyReader, contentType, query)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, query map[string]string) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Code: CodeNetworkUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Code: CodeNetworkUnavailable, Message: err.Error()}
	}

	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, data)
	}

	result, err := decodeJSON[apiResult](data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !result.OK {
		if result.Error != nil {
			if result.Error.Code == "" {
				result.Error.Code = CodeServerError
			}
			return nil, result.Error
		}
		return nil, &APIError{Code: CodeServerError, Message: "request rejected"}
	}
	return result.Data, nil
}

// statusError maps a non-2xx response onto the error taxonomy, preferring
// the server's error body when it carries one.
func statusError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if result, err := decodeJSON[apiResult](body); err == nil && result.Error != nil {
		apiErr.Code = result.Error.Code
		apiErr.Message = result.Error.Message
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		apiErr.Code = CodeUnauthenticated
	case status == http.StatusNotFound:
		apiErr.Code = CodeNotFound
	case status >= 500:
		apiErr.Code = CodeServerError
	case apiErr.Code == "":
		apiErr.Code = CodeServerError
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// ============================================================================
// Room and message endpoints
// ============================================================================

// Health checks service reachability with a short timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()
	_, err := c.doRequest(ctx, "GET", "/api/health", nil, nil)
	return err
}

// ListRooms fetches all rooms visible to the current session.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	data, err := c.doRequest(ctx, "GET", "/api/chat/rooms", nil, nil)
	if err != nil {
		return nil, err
	}
	rooms, err := decodeJSON[[]Room](data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal rooms: %w", err)
	}
	return *rooms, nil
}

// CreateOrGetRoom resolves the room shared with otherUserID, creating it if
// absent. The server guarantees the same pair of users always resolves to
// the same room id.
func (c *Client) CreateOrGetRoom(ctx context.Context, otherUserID string) (*Room, error) {
	data, err := c.doRequest(ctx, "POST", "/api/chat/rooms", map[string]string{"otherUserId": otherUserID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Room](data)
}

// ListMessages returns one page of a room's history, oldest-first within
// the page, ordered by server-assigned creation time.
func (c *Client) ListMessages(ctx context.Context, roomID string, limit, skip int) ([]Message, error) {
	query := map[string]string{}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	if skip > 0 {
		query["skip"] = strconv.Itoa(skip)
	}
	data, err := c.doRequest(ctx, "GET", "/api/chat/messages/"+roomID, nil, query)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return *msgs, nil
}

// SendMessage posts a text message and returns the server-confirmed record
// with its stable id.
func (c *Client) SendMessage(ctx context.Context, roomID, text, replyToID string) (*Message, error) {
	payload := map[string]string{"roomId": roomID, "text": text}
	if replyToID != "" {
		payload["replyTo"] = replyToID
	}
	data, err := c.doRequest(ctx, "POST", "/api/chat/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// SendMediaMessage uploads the referenced media file and posts it as a
// message in one logical operation. The returned record's MediaURL is the
// only one the caller should trust.
func (c *Client) SendMediaMessage(ctx context.Context, roomID string, media MediaRef, text, replyToID string) (*Message, error) {
	file, err := os.Open(media.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("roomId", roomID)
	_ = w.WriteField("kind", string(media.Kind))
	if text != "" {
		_ = w.WriteField("text", text)
	}
	if replyToID != "" {
		_ = w.WriteField("replyTo", replyToID)
	}
	part, err := w.CreateFormFile("media", filepath.Base(media.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to write media data: %w", err)
	}
	_ = w.Close()

	data, err := c.do(ctx, "POST", "/api/chat/messages/upload", &buf, w.FormDataContentType(), nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// DeleteMessage tombstones a message and returns the tombstoned record.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) (*Message, error) {
	data, err := c.doRequest(ctx, "DELETE", "/api/chat/messages/"+messageID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// MarkRoomRead marks every message in the room as read by the caller.
func (c *Client) MarkRoomRead(ctx context.Context, roomID string) error {
	_, err := c.doRequest(ctx, "POST", "/api/chat/rooms/"+roomID+"/read", nil, nil)
	return err
}

// PushURL returns the WebSocket endpoint for the push channel.
func (c *Client) PushURL() string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/ws"
}
