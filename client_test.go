package linsta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// writeOK wraps data in the API response envelope.
func writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	raw, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": json.RawMessage(raw)})
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": map[string]string{"code": code, "message": message},
	})
}

func TestClient_RequestHeaders(t *testing.T) {
	var gotAuth, gotReqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		writeOK(w, []Room{})
	}))
	defer srv.Close()

	client := NewClient("tok-123", WithBaseURL(srv.URL))
	if _, err := client.ListRooms(context.Background()); err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotReqID == "" {
		t.Error("expected X-Request-ID to be set")
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, IsUnauthenticated},
		{"forbidden", http.StatusForbidden, IsUnauthenticated},
		{"not found", http.StatusNotFound, IsNotFound},
		{"server error", http.StatusInternalServerError, IsTransient},
		{"bad gateway", http.StatusBadGateway, IsTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			client := NewClient("tok", WithBaseURL(srv.URL))
			_, err := client.ListRooms(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !tc.check(err) {
				t.Errorf("wrong classification for status %d: %v", tc.status, err)
			}
		})
	}

	t.Run("network unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // refuse connections

		client := NewClient("tok", WithBaseURL(srv.URL))
		_, err := client.ListRooms(context.Background())
		if err == nil {
			t.Fatal("expected error")
		}
		if !IsTransient(err) {
			t.Errorf("expected transient network error, got %v", err)
		}
	})

	t.Run("envelope error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeErr(w, http.StatusNotFound, "NOT_FOUND", "no such room")
		}))
		defer srv.Close()

		client := NewClient("tok", WithBaseURL(srv.URL))
		_, err := client.ListMessages(context.Background(), "room-x", 50, 0)
		if !IsNotFound(err) {
			t.Fatalf("expected NOT_FOUND, got %v", err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "no such room" {
			t.Errorf("expected server message to survive, got %v", err)
		}
	})
}

func TestClient_CreateOrGetRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/rooms" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["otherUserId"] != "user-2" {
			t.Errorf("expected otherUserId=user-2, got %q", body["otherUserId"])
		}
		writeOK(w, Room{
			ID: "room-1",
			Participants: []Participant{
				{ID: "user-1", DisplayName: "Me"},
				{ID: "user-2", DisplayName: "Them"},
			},
			CreatedAt: "2026-02-01T10:00:00Z",
		})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	room, err := client.CreateOrGetRoom(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("CreateOrGetRoom: %v", err)
	}
	if room.ID != "room-1" {
		t.Errorf("expected room-1, got %s", room.ID)
	}
	if got := room.Other("user-1"); got.ID != "user-2" {
		t.Errorf("expected other participant user-2, got %s", got.ID)
	}
}

func TestClient_ListMessages_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/messages/room-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "50" || r.URL.Query().Get("skip") != "10" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		writeOK(w, []Message{{ID: "m1", Timestamp: "2026-02-01T10:00:00Z"}})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	msgs, err := client.ListMessages(context.Background(), "room-1", 50, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestClient_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["roomId"] != "room-1" || body["text"] != "hi" || body["replyTo"] != "m0" {
			t.Errorf("unexpected payload %v", body)
		}
		writeOK(w, Message{ID: "m1", ConversationID: "room-1", Text: "hi", Timestamp: "2026-02-01T10:00:00Z", Delivered: true})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	msg, err := client.SendMessage(context.Background(), "room-1", "hi", "m0")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID != "m1" || !msg.Delivered {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestClient_SendMediaMessage(t *testing.T) {
	dir := t.TempDir()
	mediaPath := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(mediaPath, []byte("jpeg-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/messages/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("roomId") != "room-1" || r.FormValue("kind") != "image" || r.FormValue("text") != "look" {
			t.Errorf("unexpected form fields: roomId=%q kind=%q text=%q",
				r.FormValue("roomId"), r.FormValue("kind"), r.FormValue("text"))
		}
		file, header, err := r.FormFile("media")
		if err != nil {
			t.Fatalf("media file: %v", err)
		}
		defer file.Close()
		if header.Filename != "photo.jpg" {
			t.Errorf("expected photo.jpg, got %s", header.Filename)
		}
		writeOK(w, Message{
			ID: "m9", ConversationID: "room-1", Text: "look",
			MediaURL: "https://cdn.linsta.app/m9.jpg", MediaKind: MediaImage,
			Timestamp: "2026-02-01T10:00:00Z",
		})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	msg, err := client.SendMediaMessage(context.Background(), "room-1", MediaRef{Path: mediaPath, Kind: MediaImage}, "look", "")
	if err != nil {
		t.Fatalf("SendMediaMessage: %v", err)
	}
	if msg.MediaURL != "https://cdn.linsta.app/m9.jpg" {
		t.Errorf("expected server media URL, got %s", msg.MediaURL)
	}
}

func TestClient_MarkRoomRead(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/rooms/room-1/read" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		writeOK(w, nil)
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	if err := client.MarkRoomRead(context.Background(), "room-1"); err != nil {
		t.Fatalf("MarkRoomRead: %v", err)
	}
	if !called {
		t.Error("expected request to be issued")
	}
}

func TestClient_RejectedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 with ok=false still counts as a failure.
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": map[string]string{"code": "SERVER_ERROR", "message": "shard unavailable"},
		})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	_, err := client.ListRooms(context.Background())
	if !IsTransient(err) {
		t.Fatalf("expected SERVER_ERROR, got %v", err)
	}
}

func ExampleClient_SendMessage() {
	client := NewClient("token", WithBaseURL("https://api.linsta.app"))
	msg, err := client.SendMessage(context.Background(), "room-1", "hello", "")
	if err != nil {
		fmt.Println("send failed:", err)
		return
	}
	fmt.Println(msg.ID)
}
