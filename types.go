package linsta

import (
	"encoding/json"
	"errors"
	"sort"
)

// ============================================================================
// Error taxonomy
// ============================================================================

// Error codes returned by the API client and the push channel.
const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeNotFound           = "NOT_FOUND"
	CodeNetworkUnavailable = "NETWORK_UNAVAILABLE"
	CodeServerError        = "SERVER_ERROR"
	CodeChannelExhausted   = "CHANNEL_EXHAUSTED"
)

// APIError represents a failed operation against the chat service.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

func apiErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsUnauthenticated reports whether err is a credential failure.
// Such failures are fatal to the operation and should trigger re-login.
func IsUnauthenticated(err error) bool {
	return apiErrorCode(err) == CodeUnauthenticated
}

// IsNotFound reports whether err means the room or message is absent.
func IsNotFound(err error) bool {
	return apiErrorCode(err) == CodeNotFound
}

// IsTransient reports whether err is worth retrying at the caller level.
// The store never retries mutating operations itself.
func IsTransient(err error) bool {
	code := apiErrorCode(err)
	return code == CodeNetworkUnavailable || code == CodeServerError
}

// IsChannelExhausted reports whether the push channel gave up reconnecting.
func IsChannelExhausted(err error) bool {
	return apiErrorCode(err) == CodeChannelExhausted
}

// ============================================================================
// Chat data model
// ============================================================================

// Participant identifies the other party in a one-to-one conversation.
type Participant struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	AvatarRef     string `json:"avatarRef,omitempty"`
	PresenceLabel string `json:"presenceLabel,omitempty"`
}

// MediaKind classifies an attached media file.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaRef is an opaque reference to a local media file pending upload.
type MediaRef struct {
	Path string
	Kind MediaKind
}

// Message is a single server-confirmed chat message. Deleted messages keep
// their id and timestamp; the server replaces the text with a tombstone
// marker.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Text           string    `json:"text"`
	Timestamp      string    `json:"timestamp"`
	Delivered      bool      `json:"delivered"`
	Deleted        bool      `json:"deleted"`
	MediaURL       string    `json:"mediaUrl,omitempty"`
	MediaKind      MediaKind `json:"mediaKind,omitempty"`
	ReplyToID      string    `json:"replyToId,omitempty"`
	ReadBy         []string  `json:"readBy,omitempty"`
}

// IsReadBy reports whether userID is in the message's read set.
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// markReadBy adds userID to the read set if not already present.
func (m *Message) markReadBy(userID string) {
	if !m.IsReadBy(userID) {
		m.ReadBy = append(m.ReadBy, userID)
	}
}

// Conversation is a one-to-one thread with its loaded message history.
// Messages are sorted ascending by timestamp; LastMessage mirrors the last
// element; UpdatedAt mirrors LastMessage.Timestamp when present.
type Conversation struct {
	ID          string      `json:"id"`
	Participant Participant `json:"participant"`
	Messages    []Message   `json:"messages"`
	LastMessage *Message    `json:"lastMessage,omitempty"`
	UnreadCount int         `json:"unreadCount"`
	UpdatedAt   string      `json:"updatedAt"`
}

// clone returns a deep copy safe to hand to consumers.
func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i := range c.Messages {
		out.Messages[i] = c.Messages[i]
		if c.Messages[i].ReadBy != nil {
			out.Messages[i].ReadBy = append([]string(nil), c.Messages[i].ReadBy...)
		}
	}
	if len(out.Messages) > 0 {
		out.LastMessage = &out.Messages[len(out.Messages)-1]
	} else {
		out.LastMessage = nil
	}
	return out
}

// normalize sorts the message sequence and recomputes the derived fields.
// Stable sort keeps insertion order for equal timestamps.
func (c *Conversation) normalize() {
	sort.SliceStable(c.Messages, func(i, j int) bool {
		return c.Messages[i].Timestamp < c.Messages[j].Timestamp
	})
	if len(c.Messages) > 0 {
		last := c.Messages[len(c.Messages)-1]
		c.LastMessage = &last
		c.UpdatedAt = last.Timestamp
	} else {
		c.LastMessage = nil
	}
}

// ============================================================================
// Notification model
// ============================================================================

// NotificationKind enumerates the event kinds the backend pushes.
type NotificationKind string

const (
	KindLike      NotificationKind = "LIKE"
	KindComment   NotificationKind = "COMMENT"
	KindEventRSVP NotificationKind = "EVENT_RSVP"
	KindNewStory  NotificationKind = "NEW_STORY"
	KindNewPost   NotificationKind = "NEW_POST"
	KindNewEvent  NotificationKind = "NEW_EVENT"
)

// NotificationActor identifies the user who caused a notification.
type NotificationActor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarRef string `json:"avatarRef,omitempty"`
}

// Notification is one entry of the append-only notification stream.
type Notification struct {
	ID          string             `json:"id"`
	Kind        NotificationKind   `json:"kind"`
	Message     string             `json:"message"`
	ReferenceID string             `json:"referenceId"`
	Read        bool               `json:"read"`
	CreatedAt   string             `json:"createdAt"`
	Actor       *NotificationActor `json:"actor,omitempty"`
}

// ============================================================================
// Wire types
// ============================================================================

// Room is the server-side representation of a conversation.
type Room struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	CreatedAt    string        `json:"createdAt"`
	UpdatedAt    string        `json:"updatedAt,omitempty"`
}

// Other returns the participant that is not selfID.
func (r *Room) Other(selfID string) Participant {
	for _, p := range r.Participants {
		if p.ID != selfID {
			return p
		}
	}
	if len(r.Participants) > 0 {
		return r.Participants[0]
	}
	return Participant{}
}

// apiResult is the generic response envelope of the chat API.
type apiResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
