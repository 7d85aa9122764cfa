package linsta

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// pushEnvelope is the wire format for all push-channel messages.
type pushEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Control and event message types.
const (
	msgSubscribe    = "subscribe_notifications"
	msgUnsubscribe  = "unsubscribe_notifications"
	msgSubscribed   = "notification_subscribed"
	msgNotification = "notification"
)

// ============================================================================
// Channel state
// ============================================================================

// ChannelState is the push channel's connection state.
type ChannelState string

const (
	ChannelDisconnected ChannelState = "disconnected"
	ChannelConnecting   ChannelState = "connecting"
	ChannelConnected    ChannelState = "connected"
	ChannelSubscribed   ChannelState = "subscribed"
	ChannelReconnecting ChannelState = "reconnecting"
)

// ChannelConfig configures the push channel's reconnect behavior.
type ChannelConfig struct {
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

func (c *ChannelConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *ChannelConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// next records one failure and returns the delay before the next attempt.
// ok is false once the bounded attempt count is exhausted. The counter
// resets after 60s of stable connection.
func (r *reconnector) next() (delay time.Duration, ok bool) {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	r.attempt++
	if r.maxAttempts > 0 && r.attempt >= r.maxAttempts {
		return 0, false
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay = time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt-1))+float64(jitter),
		float64(r.maxDelay),
	))
	return delay, true
}

// ============================================================================
// Push connection
// ============================================================================

// pushConn abstracts the persistent connection so the state machine can be
// driven by a fake in tests.
type pushConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type pushDialer func(ctx context.Context, rawURL string) (pushConn, error)

type wsPushConn struct {
	conn *websocket.Conn
}

func (w *wsPushConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsPushConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsPushConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

func dialWebSocket(ctx context.Context, rawURL string) (pushConn, error) {
	conn, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return &wsPushConn{conn: conn}, nil
}

// ============================================================================
// NotificationChannel
// ============================================================================

// NotificationChannel maintains the live push subscription: it connects
// with the session credential, subscribes to the notification topic,
// reconnects with capped exponential backoff on transport failure, and
// surfaces received notifications plus a running unread counter to
// registered listeners. After the bounded attempt count is exhausted it
// settles into Disconnected and signals ChannelExhausted exactly once.
type NotificationChannel struct {
	url    string
	config ChannelConfig
	dialer pushDialer

	mu         sync.Mutex
	state      ChannelState
	conn       pushConn
	cancel     context.CancelFunc
	credential string
	unread     int

	onNotification []func(Notification)
	onState        []func(ChannelState)
	onExhausted    []func(error)
}

// NewNotificationChannel creates a channel for the given push endpoint.
// A nil config uses the defaults (1s base delay, 30s cap, 5 attempts).
func NewNotificationChannel(pushURL string, config *ChannelConfig) *NotificationChannel {
	cfg := ChannelConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &NotificationChannel{
		url:    pushURL,
		config: cfg,
		dialer: dialWebSocket,
		state:  ChannelDisconnected,
	}
}

// OnNotification registers a listener for received notifications.
// Listeners run synchronously in receipt order.
func (nc *NotificationChannel) OnNotification(h func(Notification)) {
	nc.mu.Lock()
	nc.onNotification = append(nc.onNotification, h)
	nc.mu.Unlock()
}

// OnStateChange registers a listener for state transitions.
func (nc *NotificationChannel) OnStateChange(h func(ChannelState)) {
	nc.mu.Lock()
	nc.onState = append(nc.onState, h)
	nc.mu.Unlock()
}

// OnExhausted registers a listener for the persistent-failure signal,
// delivered once per exhausted reconnect sequence so the UI can show a
// "notifications paused" state.
func (nc *NotificationChannel) OnExhausted(h func(error)) {
	nc.mu.Lock()
	nc.onExhausted = append(nc.onExhausted, h)
	nc.mu.Unlock()
}

// State returns the current connection state.
func (nc *NotificationChannel) State() ChannelState {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.state
}

// UnreadCount returns the running unread counter.
func (nc *NotificationChannel) UnreadCount() int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.unread
}

// ResetUnread clears the running unread counter.
func (nc *NotificationChannel) ResetUnread() {
	nc.mu.Lock()
	nc.unread = 0
	nc.mu.Unlock()
}

// Start begins the connect/subscribe lifecycle with the given credential.
// An empty credential is a no-op and the channel stays Disconnected.
// Starting an already running channel is a no-op.
func (nc *NotificationChannel) Start(ctx context.Context, credential string) {
	if credential == "" {
		return
	}
	nc.mu.Lock()
	if nc.cancel != nil {
		nc.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	nc.cancel = cancel
	nc.credential = credential
	nc.mu.Unlock()

	go nc.run(runCtx)
}

// Teardown unsubscribes best-effort, closes the connection, cancels any
// pending backoff timer, and settles into Disconnected.
func (nc *NotificationChannel) Teardown() {
	nc.mu.Lock()
	cancel := nc.cancel
	conn := nc.conn
	state := nc.state
	nc.cancel = nil
	nc.conn = nil
	nc.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if state == ChannelSubscribed {
			nc.sendControl(conn, msgUnsubscribe)
		}
		conn.Close()
	}
	nc.setState(ChannelDisconnected)
}

// ============================================================================
// Lifecycle loop
// ============================================================================

func (nc *NotificationChannel) run(ctx context.Context) {
	recon := newReconnector(&nc.config)

	for {
		nc.setState(ChannelConnecting)

		conn, err := nc.dialer(ctx, nc.connectURL())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !nc.backOff(ctx, recon) {
				return
			}
			continue
		}

		nc.mu.Lock()
		nc.conn = conn
		nc.mu.Unlock()
		nc.setState(ChannelConnected)

		// The server does not remember subscriptions across reconnects,
		// so every connection re-issues the subscribe.
		if err := nc.writeEnvelope(ctx, conn, pushEnvelope{Type: msgSubscribe}); err != nil {
			nc.dropConn(conn, ChannelConnected)
			if ctx.Err() != nil {
				return
			}
			if !nc.backOff(ctx, recon) {
				return
			}
			continue
		}
		nc.setState(ChannelSubscribed)
		recon.markConnected()

		_ = nc.readLoop(ctx, conn)
		nc.dropConn(conn, ChannelSubscribed)
		if ctx.Err() != nil {
			return
		}
		if !nc.backOff(ctx, recon) {
			return
		}
	}
}

// backOff records a failure and sleeps before the next attempt. Returns
// false when the attempt bound is exhausted or the context is cancelled;
// on exhaustion the channel settles into Disconnected and signals
// ChannelExhausted.
func (nc *NotificationChannel) backOff(ctx context.Context, recon *reconnector) bool {
	delay, ok := recon.next()
	if !ok {
		nc.exhaust()
		return false
	}

	// Enter Reconnecting only while the run loop still owns the channel;
	// a concurrent Teardown has already settled it into Disconnected.
	nc.mu.Lock()
	if nc.cancel == nil {
		nc.mu.Unlock()
		return false
	}
	changed := nc.state != ChannelReconnecting
	nc.state = ChannelReconnecting
	handlers := append([]func(ChannelState){}, nc.onState...)
	nc.mu.Unlock()
	if changed {
		for _, h := range handlers {
			h(ChannelReconnecting)
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (nc *NotificationChannel) exhaust() {
	nc.mu.Lock()
	if nc.cancel != nil {
		nc.cancel()
		nc.cancel = nil
	}
	nc.mu.Unlock()
	nc.setState(ChannelDisconnected)

	nc.mu.Lock()
	handlers := append([]func(error){}, nc.onExhausted...)
	nc.mu.Unlock()
	err := &APIError{Code: CodeChannelExhausted, Message: "push channel gave up reconnecting"}
	for _, h := range handlers {
		h(err)
	}
}

func (nc *NotificationChannel) readLoop(ctx context.Context, conn pushConn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env pushEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		switch env.Type {
		case msgSubscribed:
			// Acknowledgment only; Subscribed was entered on send.
		case msgNotification:
			var n Notification
			if json.Unmarshal(env.Payload, &n) != nil {
				continue
			}
			nc.mu.Lock()
			nc.unread++
			handlers := append([]func(Notification){}, nc.onNotification...)
			nc.mu.Unlock()
			for _, h := range handlers {
				h(n)
			}
		}
	}
}

// dropConn best-effort unsubscribes and closes a connection that is being
// abandoned, clearing it from the channel if still current.
func (nc *NotificationChannel) dropConn(conn pushConn, from ChannelState) {
	nc.mu.Lock()
	if nc.conn == conn {
		nc.conn = nil
	}
	nc.mu.Unlock()

	if from == ChannelSubscribed {
		nc.sendControl(conn, msgUnsubscribe)
	}
	conn.Close()
}

// sendControl writes a control message with a short deadline, ignoring
// failures: the connection may already be dead.
func (nc *NotificationChannel) sendControl(conn pushConn, msgType string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = nc.writeEnvelope(ctx, conn, pushEnvelope{Type: msgType})
}

func (nc *NotificationChannel) writeEnvelope(ctx context.Context, conn pushConn, env pushEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, data)
}

func (nc *NotificationChannel) connectURL() string {
	nc.mu.Lock()
	credential := nc.credential
	nc.mu.Unlock()
	return nc.url + "?token=" + url.QueryEscape(credential)
}

func (nc *NotificationChannel) setState(state ChannelState) {
	nc.mu.Lock()
	if nc.state == state {
		nc.mu.Unlock()
		return
	}
	nc.state = state
	handlers := append([]func(ChannelState){}, nc.onState...)
	nc.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}
