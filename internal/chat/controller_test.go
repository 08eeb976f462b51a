package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"haulsync/driver-client/internal/platform/ratelimiter"
	"haulsync/driver-client/internal/session"
	"haulsync/driver-client/internal/transport"
	"haulsync/driver-client/pkg/models"
)

type fakeWire struct {
	mu       sync.Mutex
	connects int
	emits    []transport.Frame
	handlers map[string]transport.Handler
}

func newFakeWire() *fakeWire {
	return &fakeWire{handlers: make(map[string]transport.Handler)}
}

func (w *fakeWire) Connect(context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connects++
}

func (w *fakeWire) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emits = append(w.emits, transport.Frame{Event: event, Data: data})
	return nil
}

func (w *fakeWire) On(event string, handler transport.Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[event] = handler
}

func (w *fakeWire) Off(event string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.handlers, event)
}

func (w *fakeWire) deliver(t *testing.T, event string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event failed: %v", err)
	}
	w.mu.Lock()
	handler := w.handlers[event]
	w.mu.Unlock()
	if handler == nil {
		return
	}
	handler(data)
}

func (w *fakeWire) emitted() []transport.Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]transport.Frame(nil), w.emits...)
}

func (w *fakeWire) hasHandler(event string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.handlers[event]
	return ok
}

type fakeHistory struct {
	mu       sync.Mutex
	messages []models.Message
	err      error
	release  chan struct{}
	calls    int
}

func (h *fakeHistory) RoomMessages(ctx context.Context, _, _ string) ([]models.Message, error) {
	h.mu.Lock()
	h.calls++
	release := h.release
	h.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.messages, h.err
}

type fakeTokens struct {
	token string
	err   error
}

func (f fakeTokens) Token() (string, error) {
	return f.token, f.err
}

func newTestSession(wire *fakeWire, history *fakeHistory, opts Options) *Session {
	opts.Wire = wire
	opts.History = history
	if opts.Tokens == nil {
		opts.Tokens = fakeTokens{token: "tok"}
	}
	return NewSession(opts)
}

func TestOpenWithoutTokenStaysIdle(t *testing.T) {
	wire := newFakeWire()
	s := newTestSession(wire, &fakeHistory{}, Options{Tokens: fakeTokens{err: session.ErrUnauthenticated}})

	if err := s.Open(context.Background(), "r1"); !errors.Is(err, session.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle state, got %s", s.State())
	}
	if wire.connects != 0 {
		t.Fatal("unauthenticated open touched the wire")
	}
}

func TestOpenLoadsHistoryJoinsAndGoesLive(t *testing.T) {
	wire := newFakeWire()
	history := &fakeHistory{messages: []models.Message{msg("m1", "r1", "hi")}}
	s := newTestSession(wire, history, Options{})

	if err := s.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if s.State() != StateLive {
		t.Fatalf("expected live state, got %s", s.State())
	}
	if wire.connects != 1 {
		t.Fatalf("expected one connect, got %d", wire.connects)
	}

	emits := wire.emitted()
	if len(emits) != 1 || emits[0].Event != EventJoin {
		t.Fatalf("unexpected emits: %+v", emits)
	}
	var join joinPayload
	if err := json.Unmarshal(emits[0].Data, &join); err != nil {
		t.Fatalf("join payload not JSON: %v", err)
	}
	if join.RoomID != "r1" || join.Token != "tok" {
		t.Fatalf("unexpected join payload: %+v", join)
	}

	if !wire.hasHandler(EventNewMessage) {
		t.Fatal("live listener not attached")
	}
	if pos, ok := s.Log().PositionOf("m1"); !ok || pos != 0 {
		t.Fatalf("history not indexed: pos=%d ok=%v", pos, ok)
	}
}

func TestLiveEventsFilteredByRoom(t *testing.T) {
	wire := newFakeWire()
	history := &fakeHistory{messages: []models.Message{msg("m1", "r1", "hi")}}
	s := newTestSession(wire, history, Options{})
	if err := s.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	wire.deliver(t, EventNewMessage, msg("other", "r2", "leak"))
	if s.Log().Len() != 1 {
		t.Fatalf("cross-room event mutated the store: %d messages", s.Log().Len())
	}

	wire.deliver(t, EventNewMessage, msg("m2", "r1", "yo"))
	if s.Log().Len() != 2 {
		t.Fatalf("same-room event not appended: %d messages", s.Log().Len())
	}
	if pos, ok := s.Log().PositionOf("m2"); !ok || pos != 1 {
		t.Fatalf("m2 position = %d ok=%v", pos, ok)
	}
	got := s.Log().Messages()
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("order broken: %+v", got)
	}
}

func TestDuplicateEchoShownOnce(t *testing.T) {
	wire := newFakeWire()
	s := newTestSession(wire, &fakeHistory{}, Options{})
	if err := s.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	wire.deliver(t, EventNewMessage, msg("m1", "r1", "hi"))
	wire.deliver(t, EventNewMessage, msg("m1", "r1", "hi"))
	if s.Log().Len() != 1 {
		t.Fatalf("duplicate delivery stored twice: %d messages", s.Log().Len())
	}
}

func TestSendValidatesEmitsAndNeverAppendsLocally(t *testing.T) {
	wire := newFakeWire()
	s := newTestSession(wire, &fakeHistory{}, Options{})

	if err := s.Send("hello", nil); !errors.Is(err, ErrNotLive) {
		t.Fatalf("send before open: expected ErrNotLive, got %v", err)
	}

	if err := s.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.Send("   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	reply := &models.ReplyRef{MessageID: "m0", SenderName: "Bo", Snippet: "old"}
	if err := s.Send("  hello  ", reply); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	emits := wire.emitted()
	last := emits[len(emits)-1]
	if last.Event != EventSendMessage {
		t.Fatalf("expected send_message, got %s", last.Event)
	}
	var sent sendPayload
	if err := json.Unmarshal(last.Data, &sent); err != nil {
		t.Fatalf("send payload not JSON: %v", err)
	}
	if sent.Content != "hello" || sent.RoomID != "r1" || sent.Token != "tok" {
		t.Fatalf("unexpected send payload: %+v", sent)
	}
	if sent.ReplyTo == nil || sent.ReplyTo.MessageID != "m0" {
		t.Fatalf("reply reference lost: %+v", sent.ReplyTo)
	}

	// Append happens only on the server echo.
	if s.Log().Len() != 0 {
		t.Fatalf("send appended locally: %d messages", s.Log().Len())
	}
}

func TestSendThrottledPerRoom(t *testing.T) {
	wire := newFakeWire()
	s := newTestSession(wire, &fakeHistory{}, Options{Limiter: ratelimiter.New(0.1, 1, time.Minute)})
	if err := s.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if err := s.Send("one", nil); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := s.Send("two", nil); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
}

func TestReplyJumpHighlightsAndAutoClears(t *testing.T) {
	wire := newFakeWire()
	history := &fakeHistory{messages: []models.Message{msg("m1", "r1", "a"), msg("m2", "r1", "b")}}

	var mu sync.Mutex
	var scrolled []int
	s := newTestSession(wire, history, Options{
		HighlightTTL: 30 * time.Millisecond,
		ScrollTo: func(pos int) {
			mu.Lock()
			scrolled = append(scrolled, pos)
			mu.Unlock()
		},
	})
	if err := s.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	s.ReplyJump("m1")
	if id, ok := s.Highlighted(); !ok || id != "m1" {
		t.Fatalf("expected m1 highlighted, got %q ok=%v", id, ok)
	}

	// A second jump moves the single highlight, it never adds one.
	s.ReplyJump("m2")
	if id, _ := s.Highlighted(); id != "m2" {
		t.Fatalf("expected m2 highlighted, got %q", id)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.Highlighted(); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("highlight never cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(scrolled) != 2 || scrolled[0] != 0 || scrolled[1] != 1 {
		t.Fatalf("unexpected scroll positions: %v", scrolled)
	}
}

func TestReplyJumpUnknownTargetIsNoOp(t *testing.T) {
	wire := newFakeWire()
	history := &fakeHistory{messages: []models.Message{msg("m1", "r1", "a")}}
	scrolls := 0
	s := newTestSession(wire, history, Options{ScrollTo: func(int) { scrolls++ }})
	if err := s.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	s.ReplyJump("way-before-loaded-page")
	if _, ok := s.Highlighted(); ok {
		t.Fatal("unknown target set a highlight")
	}
	if scrolls != 0 {
		t.Fatal("unknown target scrolled")
	}
	if s.Log().Len() != 1 {
		t.Fatal("unknown target mutated the store")
	}
}

func TestCloseDetachesListenerKeepsWire(t *testing.T) {
	wire := newFakeWire()
	s := newTestSession(wire, &fakeHistory{messages: []models.Message{msg("m1", "r1", "a")}}, Options{})
	if err := s.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	s.Close()
	if s.State() != StateIdle {
		t.Fatalf("expected idle after close, got %s", s.State())
	}
	if wire.hasHandler(EventNewMessage) {
		t.Fatal("live listener survived close")
	}
	if s.Log() != nil {
		t.Fatal("room log survived close")
	}

	// Reopening works against the still-shared wire.
	if err := s.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if s.State() != StateLive {
		t.Fatalf("expected live after reopen, got %s", s.State())
	}
}

func TestAbandonedOpenDropsStaleHistory(t *testing.T) {
	wire := newFakeWire()
	history := &fakeHistory{
		messages: []models.Message{msg("m1", "r1", "a")},
		release:  make(chan struct{}),
	}
	s := newTestSession(wire, history, Options{})

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background(), "r1") }()

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateLoading {
		if time.Now().After(deadline) {
			t.Fatal("open never reached loading")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Close()
	close(history.release)

	if err := <-done; err != nil {
		t.Fatalf("abandoned open returned error: %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if s.Log() != nil {
		t.Fatal("stale history populated a log")
	}
	if len(wire.emitted()) != 0 {
		t.Fatal("abandoned open still joined")
	}
}
