package linsta

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims is the subset of the bearer token the client cares about.
// The token is issued and verified server-side; the client only reads the
// identity claims out of it.
type sessionClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// identityFromCredential extracts the current user id from a bearer token
// without verifying the signature (the client holds no key). Empty or
// expired credentials fail with UNAUTHENTICATED.
func identityFromCredential(credential string) (string, error) {
	if credential == "" {
		return "", &APIError{Code: CodeUnauthenticated, Message: "missing credential"}
	}
	claims := &sessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return "", &APIError{Code: CodeUnauthenticated, Message: "malformed credential: " + err.Error()}
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return "", &APIError{Code: CodeUnauthenticated, Message: "credential expired"}
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", &APIError{Code: CodeUnauthenticated, Message: "credential carries no user identity"}
	}
	return userID, nil
}

// ============================================================================
// Session
// ============================================================================

// SessionOption configures optional session collaborators.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	storage       Storage
	clientOpts    []ClientOption
	channelConfig *ChannelConfig
}

// WithStorage supplies a durable Storage for conversation snapshots.
// Without it the session keeps snapshots in memory only.
func WithStorage(storage Storage) SessionOption {
	return func(o *sessionOptions) { o.storage = storage }
}

// WithClientOptions forwards options to the underlying API client.
func WithClientOptions(opts ...ClientOption) SessionOption {
	return func(o *sessionOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithChannelConfig overrides the push channel reconnect settings.
func WithChannelConfig(config *ChannelConfig) SessionOption {
	return func(o *sessionOptions) { o.channelConfig = config }
}

// Session bundles the client core for one authenticated user. It is
// constructed per login and torn down on logout so no state leaks across
// accounts on the same device.
type Session struct {
	UserID        string
	Client        *Client
	Store         *ConversationStore
	Notifications *NotificationChannel

	credential string
}

// NewSession builds a session-scoped core from a bearer credential. The
// user id is read from the credential's claims.
func NewSession(credential string, opts ...SessionOption) (*Session, error) {
	userID, err := identityFromCredential(credential)
	if err != nil {
		return nil, err
	}

	var options sessionOptions
	for _, opt := range opts {
		opt(&options)
	}

	client := NewClient(credential, options.clientOpts...)
	session := &Session{
		UserID:        userID,
		Client:        client,
		Store:         NewConversationStore(client, options.storage, userID),
		Notifications: NewNotificationChannel(client.PushURL(), options.channelConfig),
		credential:    credential,
	}
	// Wired once here; StartNotifications may be called again after a
	// teardown or an exhausted reconnect sequence.
	session.Notifications.OnNotification(session.Store.ApplyNotification)
	return session, nil
}

// StartNotifications connects the push channel. Received notifications
// feed the store's per-conversation unread accounting.
func (s *Session) StartNotifications(ctx context.Context) {
	s.Notifications.Start(ctx, s.credential)
}

// Close tears the push channel down. In-memory conversation state dies
// with the session; the persisted snapshot remains for the next login of
// the same user.
func (s *Session) Close() {
	s.Notifications.Teardown()
}
