package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"haulsync/driver-client/internal/platform/ratelimiter"
	"haulsync/driver-client/internal/transport"
	"haulsync/driver-client/pkg/models"
)

const (
	StateIdle    = "idle"
	StateLoading = "loading"
	StateJoining = "joining"
	StateLive    = "live"
	StateLeaving = "leaving"
)

const (
	EventJoin        = "join"
	EventSendMessage = "send_message"
	EventNewMessage  = "new_message"
)

const defaultHighlightTTL = 2 * time.Second

var (
	ErrSessionOpen  = errors.New("chat session already open")
	ErrNotLive      = errors.New("chat session is not live")
	ErrEmptyMessage = errors.New("message content is empty")
	ErrThrottled    = errors.New("send rate limit exceeded")
)

// Wire is the slice of the shared transport the controller needs.
// *transport.Conn satisfies it.
type Wire interface {
	Connect(ctx context.Context)
	Emit(event string, payload any) error
	On(event string, handler transport.Handler)
	Off(event string)
}

// HistoryFetcher loads the paginated room history. *restapi.Client
// satisfies it.
type HistoryFetcher interface {
	RoomMessages(ctx context.Context, token, roomID string) ([]models.Message, error)
}

// TokenSource yields the current bearer token or an authentication error.
type TokenSource interface {
	Token() (string, error)
}

type joinPayload struct {
	RoomID string `json:"room_id"`
	Token  string `json:"token"`
}

type sendPayload struct {
	RoomID  string           `json:"room_id"`
	Content string           `json:"content"`
	Token   string           `json:"token"`
	ReplyTo *models.ReplyRef `json:"reply_to,omitempty"`
}

type Options struct {
	Wire    Wire
	History HistoryFetcher
	Tokens  TokenSource
	Logger  *slog.Logger
	Limiter *ratelimiter.SendLimiter

	HighlightTTL time.Duration

	// OnMessage fires for every message appended live. ScrollTo receives
	// the display position for a resolved reply jump. Both are optional
	// presentation hooks and run on the transport read goroutine.
	OnMessage func(models.Message)
	ScrollTo  func(position int)
}

// Session drives one open room: authenticate, load history, join, go
// live, leave. One instance per open room; the wire is shared.
type Session struct {
	wire    Wire
	history HistoryFetcher
	tokens  TokenSource
	logger  *slog.Logger
	limiter *ratelimiter.SendLimiter

	highlightTTL time.Duration
	onMessage    func(models.Message)
	scrollTo     func(int)

	mu             sync.Mutex
	state          string
	roomID         string
	gen            int
	log            *RoomLog
	highlighted    string
	highlightTimer *time.Timer
}

func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HighlightTTL <= 0 {
		opts.HighlightTTL = defaultHighlightTTL
	}
	return &Session{
		wire:         opts.Wire,
		history:      opts.History,
		tokens:       opts.Tokens,
		logger:       opts.Logger,
		limiter:      opts.Limiter,
		highlightTTL: opts.HighlightTTL,
		onMessage:    opts.OnMessage,
		scrollTo:     opts.ScrollTo,
		state:        StateIdle,
	}
}

func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Log returns the room's message log; nil while no room is open.
func (s *Session) Log() *RoomLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// Open runs Idle → Loading → Joining → Live for one room. History is fully
// loaded and indexed before the live listener attaches, so batch and live
// messages never interleave out of order. Join is optimistic: no server
// ack is awaited, the per-room filter makes cross-room leakage impossible.
func (s *Session) Open(ctx context.Context, roomID string) error {
	token, err := s.tokens.Token()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionOpen
	}
	s.state = StateLoading
	s.roomID = roomID
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	messages, err := s.history.RoomMessages(ctx, token, roomID)

	s.mu.Lock()
	if gen != s.gen || s.state != StateLoading {
		s.mu.Unlock()
		s.logger.Warn("history response for abandoned room open dropped", "room_id", roomID)
		return nil
	}
	if err != nil {
		s.state = StateIdle
		s.roomID = ""
		s.mu.Unlock()
		return err
	}
	log := NewRoomLog(roomID)
	log.LoadHistory(messages)
	s.log = log
	s.state = StateJoining
	s.mu.Unlock()

	s.wire.Connect(ctx)
	if err := s.wire.Emit(EventJoin, joinPayload{RoomID: roomID, Token: token}); err != nil {
		s.logger.Warn("join emit failed", "room_id", roomID, "error", err.Error())
	}
	s.wire.On(EventNewMessage, s.handleNewMessage)

	s.mu.Lock()
	if gen == s.gen && s.state == StateJoining {
		s.state = StateLive
	}
	s.mu.Unlock()
	return nil
}

// Send emits one message. There is no local append: the message shows up
// when the server echoes it back through the live event, with its
// server-assigned identifier and in the order every participant sees.
func (s *Session) Send(content string, replyTo *models.ReplyRef) error {
	s.mu.Lock()
	live := s.state == StateLive
	roomID := s.roomID
	s.mu.Unlock()
	if !live {
		return ErrNotLive
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	if !s.limiter.Allow(roomID, time.Now()) {
		return ErrThrottled
	}

	token, err := s.tokens.Token()
	if err != nil {
		return err
	}
	if err := s.wire.Emit(EventSendMessage, sendPayload{
		RoomID:  roomID,
		Content: content,
		Token:   token,
		ReplyTo: replyTo,
	}); err != nil {
		// Transport trouble is not the sender's problem; the message is
		// simply absent until a retry from the screen.
		s.logger.Warn("send emit failed", "room_id", roomID, "error", err.Error())
	}
	return nil
}

// ReplyJump scrolls to an earlier message and highlights it briefly. A
// target outside the loaded history is a logged no-op; backfilling older
// pages is out of scope.
func (s *Session) ReplyJump(targetID string) {
	s.mu.Lock()
	log := s.log
	if log == nil {
		s.mu.Unlock()
		s.logger.Warn("reply jump with no open room", "message_id", targetID)
		return
	}
	position, ok := log.PositionOf(targetID)
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("reply target outside loaded history", "message_id", targetID)
		return
	}
	if s.highlightTimer != nil {
		s.highlightTimer.Stop()
	}
	s.highlighted = targetID
	s.highlightTimer = time.AfterFunc(s.highlightTTL, func() {
		s.clearHighlight(targetID)
	})
	scroll := s.scrollTo
	s.mu.Unlock()

	if scroll != nil {
		scroll(position)
	}
}

// Highlighted returns the currently highlighted message id, if any. At
// most one message is highlighted at a time.
func (s *Session) Highlighted() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highlighted, s.highlighted != ""
}

// Close releases the room subscription and discards the log. The shared
// wire stays up: rooms are ephemeral subscriptions, not server sessions,
// and no leave event exists on the protocol.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateLeaving
	s.gen++
	if s.highlightTimer != nil {
		s.highlightTimer.Stop()
		s.highlightTimer = nil
	}
	s.highlighted = ""
	s.log = nil
	s.roomID = ""
	s.mu.Unlock()

	s.wire.Off(EventNewMessage)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

func (s *Session) handleNewMessage(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("malformed live message dropped", "error", err.Error())
		return
	}
	if msg.ID == "" {
		s.logger.Warn("live message without identifier dropped")
		return
	}

	s.mu.Lock()
	log := s.log
	roomID := s.roomID
	live := s.state == StateLive
	onMessage := s.onMessage
	s.mu.Unlock()

	if !live || log == nil {
		return
	}
	if msg.RoomID != roomID {
		return
	}
	if log.Append(msg) && onMessage != nil {
		onMessage(msg)
	}
}

func (s *Session) clearHighlight(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.highlighted == id {
		s.highlighted = ""
		s.highlightTimer = nil
	}
}
