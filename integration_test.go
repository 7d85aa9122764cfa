//go:build integration

package linsta

import (
	"context"
	"os"
	"testing"
	"time"
)

// Integration tests run against a live backend:
//
//	LINSTA_TEST_TOKEN=<bearer token> LINSTA_TEST_BASE_URL=<url> \
//	  go test -tags integration ./...

func integrationSession(t *testing.T) *Session {
	t.Helper()
	token := os.Getenv("LINSTA_TEST_TOKEN")
	if token == "" {
		t.Skip("LINSTA_TEST_TOKEN not set")
	}
	var opts []SessionOption
	if baseURL := os.Getenv("LINSTA_TEST_BASE_URL"); baseURL != "" {
		opts = append(opts, WithClientOptions(WithBaseURL(baseURL)))
	}
	session, err := NewSession(token, opts...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(session.Close)
	return session
}

func TestIntegration_Health(t *testing.T) {
	session := integrationSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), HealthTimeout)
	defer cancel()
	if err := session.Client.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestIntegration_LoadConversations(t *testing.T) {
	session := integrationSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := session.Store.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	for _, c := range session.Store.Conversations() {
		if c.ID == "" {
			t.Errorf("conversation with empty id: %+v", c)
		}
		for i := 1; i < len(c.Messages); i++ {
			if c.Messages[i-1].Timestamp > c.Messages[i].Timestamp {
				t.Errorf("conversation %s not sorted at index %d", c.ID, i)
			}
		}
	}
}

func TestIntegration_Notifications(t *testing.T) {
	session := integrationSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	states := make(chan ChannelState, 8)
	session.Notifications.OnStateChange(func(s ChannelState) { states <- s })
	session.StartNotifications(ctx)

	deadline := time.After(10 * time.Second)
	for {
		select {
		case s := <-states:
			if s == ChannelSubscribed {
				return
			}
		case <-deadline:
			t.Fatalf("channel never reached subscribed, state %s", session.Notifications.State())
		}
	}
}
