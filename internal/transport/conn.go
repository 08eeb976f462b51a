package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

var ErrNotConnected = errors.New("transport is not connected")

// Frame is the wire unit: a named event with a JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler consumes the payload of one inbound event. Handlers run on the
// read loop goroutine and must not block.
type Handler func(data json.RawMessage)

type Options struct {
	Dialer              Dialer
	Logger              *slog.Logger
	Metrics             *Metrics
	DialTimeout         time.Duration
	ReconnectInterval   time.Duration
	ReconnectBackoffMax time.Duration
}

// Conn is the process-wide event channel to the backend. It connects
// lazily, reconnects with capped exponential backoff and jitter, and is
// shared by every logical room through room-scoped join events.
type Conn struct {
	url     string
	dialer  Dialer
	logger  *slog.Logger
	metrics *Metrics

	dialTimeout  time.Duration
	retryBase    time.Duration
	retryMax     time.Duration

	mu               sync.Mutex
	state            string
	stateTransitions int
	sock             Socket
	gen              int
	handlers         map[string]Handler
	pending          []Frame
}

// Emits buffered while a dial is in flight beyond this point are dropped
// oldest-first.
const maxPendingEmits = 64

func New(url string, opts Options) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = time.Second
	}
	if opts.ReconnectBackoffMax < opts.ReconnectInterval {
		opts.ReconnectBackoffMax = 30 * time.Second
	}
	return &Conn{
		url:         url,
		dialer:      opts.Dialer,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		dialTimeout: opts.DialTimeout,
		retryBase:   opts.ReconnectInterval,
		retryMax:    opts.ReconnectBackoffMax,
		state:       StateDisconnected,
		handlers:    make(map[string]Handler),
	}
}

func (c *Conn) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) StateTransitions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateTransitions
}

// Connect starts the connection if it is down. It is a no-op while a dial
// is in flight or the socket is already up; dial failures never reach the
// caller, they only show up as state transitions and log lines.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(StateConnecting)
	gen := c.gen
	c.mu.Unlock()

	go c.dialLoop(ctx, gen)
}

// Disconnect tears the socket down. Pending handlers stay registered so a
// later Connect resumes delivery.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.gen++
	sock := c.sock
	c.sock = nil
	c.pending = nil
	c.transitionLocked(StateDisconnected)
	c.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}
}

// Emit sends one named event. While a dial is in flight the frame is
// buffered and flushed once the socket is up, matching the lazy-connect
// contract; with the connection fully down it fails fast.
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := Frame{Event: event, Data: data}

	c.mu.Lock()
	if c.sock == nil {
		if c.state != StateConnecting {
			c.mu.Unlock()
			return ErrNotConnected
		}
		c.pending = append(c.pending, frame)
		if len(c.pending) > maxPendingEmits {
			c.pending = c.pending[len(c.pending)-maxPendingEmits:]
			c.logger.Warn("pending emit buffer overflow, dropping oldest")
		}
		c.mu.Unlock()
		return nil
	}
	sock := c.sock
	c.mu.Unlock()

	if err := sock.WriteJSON(frame); err != nil {
		c.metrics.EmitErrors.Inc()
		return err
	}
	return nil
}

// On registers the handler for an event name, replacing any previous one.
func (c *Conn) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

func (c *Conn) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

func (c *Conn) dialLoop(ctx context.Context, gen int) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBase
	policy.MaxInterval = c.retryMax
	policy.MaxElapsedTime = 0

	dial := func() (Socket, error) {
		dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
		c.metrics.ConnectAttempts.Inc()
		return c.dialer.DialContext(dialCtx, c.url)
	}

	sock, err := backoff.RetryWithData(func() (Socket, error) {
		if c.stale(gen) {
			return nil, backoff.Permanent(errors.New("connection superseded"))
		}
		s, err := dial()
		if err != nil {
			c.logger.Warn("transport connect failed", "url", c.url, "error", err.Error())
			return nil, err
		}
		return s, nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		c.setDisconnected(gen)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = sock.Close()
		return
	}
	c.sock = sock
	c.transitionLocked(StateConnected)
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()
	c.logger.Info("transport connected", "url", c.url)

	for _, frame := range queued {
		if err := sock.WriteJSON(frame); err != nil {
			c.metrics.EmitErrors.Inc()
			c.logger.Warn("buffered emit failed", "event", frame.Event, "error", err.Error())
		}
	}

	c.readLoop(ctx, gen, sock)
}

func (c *Conn) readLoop(ctx context.Context, gen int, sock Socket) {
	for {
		var frame Frame
		if err := sock.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil || c.stale(gen) {
				return
			}
			c.logger.Warn("transport read failed, reconnecting", "error", err.Error())
			_ = sock.Close()
			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return
			}
			c.sock = nil
			c.transitionLocked(StateConnecting)
			c.mu.Unlock()
			c.dialLoop(ctx, gen)
			return
		}

		c.metrics.EventsReceived.WithLabelValues(frame.Event).Inc()
		c.mu.Lock()
		handler := c.handlers[frame.Event]
		c.mu.Unlock()
		if handler == nil {
			continue
		}
		handler(frame.Data)
	}
}

func (c *Conn) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen
}

func (c *Conn) setDisconnected(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.transitionLocked(StateDisconnected)
}

func (c *Conn) transitionLocked(next string) {
	if c.state == next {
		return
	}
	c.state = next
	c.stateTransitions++
	c.metrics.StateTransitions.Inc()
}
