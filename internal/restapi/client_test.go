package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRoomMessagesSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/mobile/chat/messages/r1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header: %q", got)
		}
		_, _ = w.Write([]byte(`{"success":true,"messages":[{"_id":"m1","room_id":"r1","content":"hi"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	msgs, err := c.RoomMessages(context.Background(), "tok", "r1")
	if err != nil {
		t.Fatalf("room messages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestBackendFailureFlagSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"room not found"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	if _, err := c.RoomMessages(context.Background(), "tok", "missing"); err == nil || !strings.Contains(err.Error(), "room not found") {
		t.Fatalf("expected backend error surfaced, got %v", err)
	}
}

func TestUnauthorizedStatusMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	if _, err := c.ListRooms(context.Background(), "stale"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestUpdatePushTokenBody(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/drivers/d1/update_push_token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad body: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	if err := c.UpdatePushToken(context.Background(), "tok", "d1", "ExponentPushToken[abc]"); err != nil {
		t.Fatalf("update push token failed: %v", err)
	}
	if body["expo_push_token"] != "ExponentPushToken[abc]" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestSendWithAttachmentsPostsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/mobile/chat/send/r1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("not multipart: %v", err)
		}
		if got := r.FormValue("content"); got != "see attached" {
			t.Errorf("unexpected content field: %q", got)
		}
		file, header, err := r.FormFile("attachments")
		if err != nil {
			t.Errorf("missing attachment: %v", err)
		} else {
			_ = file.Close()
			if header.Filename != "pod.pdf" {
				t.Errorf("unexpected filename: %s", header.Filename)
			}
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	err := c.SendWithAttachments(context.Background(), "tok", "r1", "see attached", nil, []AttachmentUpload{
		{Filename: "pod.pdf", Reader: strings.NewReader("%PDF-1.4")},
	})
	if err != nil {
		t.Fatalf("send with attachments failed: %v", err)
	}
}

func TestLoginReturnsUserRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds["username"] != "driver1" {
			t.Errorf("unexpected credentials: %v err=%v", creds, err)
		}
		_, _ = w.Write([]byte(`{"success":true,"user":{"user_id":"u1","role":"driver","driver_id":"d1","token":"tok"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	user, err := c.Login(context.Background(), "driver1", "pw")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if user.DriverID != "d1" || user.Token != "tok" {
		t.Fatalf("unexpected user record: %+v", user)
	}
}
