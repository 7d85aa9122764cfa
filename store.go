package linsta

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// historyPageSize is how much history is pulled per room on load.
const historyPageSize = 50

// snapshotVersion guards the persisted blob format; a mismatch is treated
// as no cached state.
const snapshotVersion = 1

// Transport is the server-facing surface the store depends on. *Client
// implements it.
type Transport interface {
	ListRooms(ctx context.Context) ([]Room, error)
	CreateOrGetRoom(ctx context.Context, otherUserID string) (*Room, error)
	ListMessages(ctx context.Context, roomID string, limit, skip int) ([]Message, error)
	SendMessage(ctx context.Context, roomID, text, replyToID string) (*Message, error)
	SendMediaMessage(ctx context.Context, roomID string, media MediaRef, text, replyToID string) (*Message, error)
	DeleteMessage(ctx context.Context, messageID string) (*Message, error)
	MarkRoomRead(ctx context.Context, roomID string) error
}

// ConversationListener receives the full conversation list after every
// published change, sorted descending by updatedAt. The slice and its
// contents are copies; consumers must not assume identity across calls.
type ConversationListener func([]Conversation)

// ============================================================================
// ConversationStore
// ============================================================================

// ConversationStore owns the local mirror of conversations and their
// message histories for one authenticated session. Every mutating
// operation either completes with consistent, re-sorted state or rejects
// without touching local state; the sequence only ever holds
// server-confirmed records.
type ConversationStore struct {
	transport Transport
	storage   Storage
	userID    string

	mu            sync.Mutex
	conversations []*Conversation
	listeners     map[int]ConversationListener
	nextListener  int
}

// NewConversationStore creates a session-scoped store for userID. A nil
// storage falls back to in-memory snapshots.
func NewConversationStore(transport Transport, storage Storage, userID string) *ConversationStore {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &ConversationStore{
		transport: transport,
		storage:   storage,
		userID:    userID,
		listeners: make(map[int]ConversationListener),
	}
}

// UserID returns the session's current user identifier.
func (s *ConversationStore) UserID() string {
	return s.userID
}

// Subscribe registers a listener and immediately delivers the current
// snapshot. The initial snapshot is delivered before registration takes
// effect; deliveries to a listener never go backward in time. The
// returned function unregisters it.
func (s *ConversationStore) Subscribe(listener ConversationListener) func() {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	listener(snapshot)

	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Conversations returns a deep copy of the conversation list, sorted
// descending by updatedAt.
func (s *ConversationStore) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Conversation returns a deep copy of one conversation by room id.
func (s *ConversationStore) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ID == id {
			return c.clone(), true
		}
	}
	return Conversation{}, false
}

// ============================================================================
// Load and merge
// ============================================================================

// LoadCached restores the persisted snapshot, if any. It is a cold-start
// hint only: the first successful LoadConversations supersedes it. Corrupt
// or missing snapshots are treated as no cached state. Reports whether a
// snapshot was applied.
func (s *ConversationStore) LoadCached() bool {
	blob, err := s.storage.Get(s.snapshotKey())
	if err != nil {
		return false
	}
	var snap storedSnapshot
	if json.Unmarshal([]byte(blob), &snap) != nil {
		return false
	}
	if snap.Version != snapshotVersion || snap.UserID != s.userID {
		return false
	}
	for _, c := range snap.Conversations {
		if c == nil {
			// A null entry means the blob is corrupt.
			return false
		}
	}

	s.mu.Lock()
	s.conversations = snap.Conversations
	for _, c := range s.conversations {
		c.normalize()
	}
	s.sortLocked()
	snapshot := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snapshot)
	return true
}

// LoadConversations fetches all rooms and the most recent page of each
// room's history, rebuilds the conversation list, and replaces local state.
// Any fetch failure leaves local state untouched.
func (s *ConversationStore) LoadConversations(ctx context.Context) error {
	rooms, err := s.transport.ListRooms(ctx)
	if err != nil {
		return err
	}

	built := make([]*Conversation, 0, len(rooms))
	for i := range rooms {
		conv, err := s.buildConversation(ctx, &rooms[i])
		if err != nil {
			return err
		}
		built = append(built, conv)
	}

	s.mu.Lock()
	s.conversations = built
	s.sortLocked()
	s.publishLocked()
	return nil
}

// OpenConversationWithUser resolves the room shared with otherUserID and
// merges it into the local list: an existing entry with the same room id is
// replaced in place, otherwise the conversation is appended. Idempotent —
// the server resolves the same pair of users to the same room, and the
// merge never appends a second entry for a known room id.
func (s *ConversationStore) OpenConversationWithUser(ctx context.Context, otherUserID, displayNameHint string) (Conversation, error) {
	room, err := s.transport.CreateOrGetRoom(ctx, otherUserID)
	if err != nil {
		return Conversation{}, err
	}
	conv, err := s.buildConversation(ctx, room)
	if err != nil {
		return Conversation{}, err
	}
	if conv.Participant.DisplayName == "" {
		conv.Participant.ID = otherUserID
		conv.Participant.DisplayName = displayNameHint
	}

	s.mu.Lock()
	replaced := false
	for i, existing := range s.conversations {
		if existing.ID == conv.ID {
			s.conversations[i] = conv
			replaced = true
			break
		}
	}
	if !replaced {
		s.conversations = append(s.conversations, conv)
	}
	s.sortLocked()
	out := conv.clone()
	s.publishLocked()
	return out, nil
}

// buildConversation fetches the newest history page for a room and shapes
// it into a Conversation. Unread accounting for past messages is not
// modeled; unread state is driven only by live notification events.
func (s *ConversationStore) buildConversation(ctx context.Context, room *Room) (*Conversation, error) {
	msgs, err := s.transport.ListMessages(ctx, room.ID, historyPageSize, 0)
	if err != nil {
		return nil, err
	}
	conv := &Conversation{
		ID:          room.ID,
		Participant: room.Other(s.userID),
		Messages:    msgs,
		UpdatedAt:   room.UpdatedAt,
	}
	if conv.UpdatedAt == "" {
		conv.UpdatedAt = room.CreatedAt
	}
	conv.normalize()
	return conv, nil
}

// ============================================================================
// Mutating operations
// ============================================================================

// SendMessage posts text to a conversation and appends the
// server-confirmed record. No optimistic placeholder is inserted before
// the call returns; a failed send leaves the sequence untouched.
func (s *ConversationStore) SendMessage(ctx context.Context, conversationID, text, replyToID string) (*Message, error) {
	if err := s.requireIdentity(); err != nil {
		return nil, err
	}
	msg, err := s.transport.SendMessage(ctx, conversationID, text, replyToID)
	if err != nil {
		return nil, err
	}
	s.absorbMessage(conversationID, msg)
	out := *msg
	return &out, nil
}

// SendMediaMessage is SendMessage routed through the media upload call.
// The returned record's MediaURL is authoritative.
func (s *ConversationStore) SendMediaMessage(ctx context.Context, conversationID string, media MediaRef, text, replyToID string) (*Message, error) {
	if err := s.requireIdentity(); err != nil {
		return nil, err
	}
	msg, err := s.transport.SendMediaMessage(ctx, conversationID, media, text, replyToID)
	if err != nil {
		return nil, err
	}
	s.absorbMessage(conversationID, msg)
	out := *msg
	return &out, nil
}

// DeleteMessage tombstones a message in place: the record keeps its
// position, id, and timestamp, so ordering and reply references stay
// intact. If it was the conversation's last message, the derived fields
// are recomputed from the (possibly tombstoned) last element.
func (s *ConversationStore) DeleteMessage(ctx context.Context, conversationID, messageID string) (*Message, error) {
	tombstone, err := s.transport.DeleteMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if conv := s.findLocked(conversationID); conv != nil {
		for i := range conv.Messages {
			if conv.Messages[i].ID == messageID {
				// Only the tombstoned fields change; id, timestamp, and
				// sender stay so ordering and reply references hold.
				conv.Messages[i].Text = tombstone.Text
				conv.Messages[i].Deleted = true
				conv.Messages[i].MediaURL = ""
				conv.Messages[i].MediaKind = ""
				break
			}
		}
		conv.normalize()
		s.sortLocked()
		s.publishLocked()
	} else {
		s.mu.Unlock()
	}
	out := *tombstone
	return &out, nil
}

// MarkAsRead clears the conversation's unread counter and adds the current
// user to every message's read set. Idempotent — repeated calls converge
// to the same state.
func (s *ConversationStore) MarkAsRead(ctx context.Context, conversationID string) error {
	if err := s.transport.MarkRoomRead(ctx, conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	if conv := s.findLocked(conversationID); conv != nil {
		conv.UnreadCount = 0
		for i := range conv.Messages {
			conv.Messages[i].markReadBy(s.userID)
		}
		s.publishLocked()
	} else {
		s.mu.Unlock()
	}
	return nil
}

// UpdatePresence refreshes the presence label shown for a participant.
// Local only; the presence query itself lives outside the core.
func (s *ConversationStore) UpdatePresence(participantID, label string) {
	s.mu.Lock()
	changed := false
	for _, c := range s.conversations {
		if c.Participant.ID == participantID && c.Participant.PresenceLabel != label {
			c.Participant.PresenceLabel = label
			changed = true
		}
	}
	if changed {
		s.publishLocked()
	} else {
		s.mu.Unlock()
	}
}

// ApplyNotification feeds a live push event in. When the notification
// references a known conversation its unread counter is bumped, letting
// the UI badge rooms without a full refresh.
func (s *ConversationStore) ApplyNotification(n Notification) {
	s.mu.Lock()
	if conv := s.findLocked(n.ReferenceID); conv != nil {
		conv.UnreadCount++
		s.publishLocked()
	} else {
		s.mu.Unlock()
	}
}

// ClearCache removes the persisted snapshot. In-memory state is untouched.
func (s *ConversationStore) ClearCache() error {
	return s.storage.Remove(s.snapshotKey())
}

// ============================================================================
// Internals
// ============================================================================

func (s *ConversationStore) requireIdentity() error {
	if s.userID == "" {
		return &APIError{Code: CodeUnauthenticated, Message: "no current user identity"}
	}
	return nil
}

// absorbMessage merges a server-confirmed record into its conversation:
// replace on matching id, append otherwise, then re-sort and republish.
func (s *ConversationStore) absorbMessage(conversationID string, msg *Message) {
	s.mu.Lock()
	conv := s.findLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return
	}
	replaced := false
	for i := range conv.Messages {
		if conv.Messages[i].ID == msg.ID {
			conv.Messages[i] = *msg
			replaced = true
			break
		}
	}
	if !replaced {
		conv.Messages = append(conv.Messages, *msg)
	}
	conv.normalize()
	s.sortLocked()
	s.publishLocked()
}

// findLocked returns the conversation with the given room id, or nil.
func (s *ConversationStore) findLocked(id string) *Conversation {
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// sortLocked re-sorts the conversation list descending by updatedAt.
func (s *ConversationStore) sortLocked() {
	sort.SliceStable(s.conversations, func(i, j int) bool {
		return s.conversations[i].UpdatedAt > s.conversations[j].UpdatedAt
	})
}

func (s *ConversationStore) snapshotLocked() []Conversation {
	out := make([]Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.clone()
	}
	return out
}

func (s *ConversationStore) listenersLocked() []ConversationListener {
	out := make([]ConversationListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

// publishLocked persists a snapshot, releases the lock, and notifies
// listeners. Sorting has already happened, so consumers never observe an
// unsorted list. Must be called with the lock held; unlocks it.
func (s *ConversationStore) publishLocked() {
	s.persistLocked()
	snapshot := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snapshot)
}

// persistLocked writes the snapshot blob. Persistence failures are
// swallowed: the cache is a hint, never the source of truth.
func (s *ConversationStore) persistLocked() {
	blob, err := json.Marshal(storedSnapshot{
		Version:       snapshotVersion,
		UserID:        s.userID,
		Conversations: s.conversations,
	})
	if err != nil {
		return
	}
	_ = s.storage.Set(s.snapshotKey(), string(blob))
}

func (s *ConversationStore) snapshotKey() string {
	return "linsta.chat.snapshot:" + s.userID
}

func notify(listeners []ConversationListener, snapshot []Conversation) {
	for _, l := range listeners {
		l(snapshot)
	}
}

// storedSnapshot is the persisted blob format.
type storedSnapshot struct {
	Version       int             `json:"version"`
	UserID        string          `json:"userId"`
	Conversations []*Conversation `json:"conversations"`
}
