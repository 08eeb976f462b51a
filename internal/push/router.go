package push

import (
	"context"
	"log/slog"
	"sync"

	"haulsync/driver-client/pkg/models"
)

// Notifier is the OS notification surface: foreground deliveries, tap
// responses, and the response that cold-started the process.
type Notifier interface {
	OnReceived(fn func(payload map[string]any)) (remove func())
	OnTapped(fn func(payload map[string]any)) (remove func())
	LastTapped(ctx context.Context) (map[string]any, bool)
}

// Detach removes a router's listeners. Attaching an already-attached
// router hands back a no-op Detach.
type Detach func()

// LoadsRouter turns load push payloads into navigation intents. One
// foreground listener, one tap listener, attached at most once.
type LoadsRouter struct {
	notifier  Notifier
	registrar *Registrar
	logger    *slog.Logger

	mu       sync.Mutex
	attached bool
}

func NewLoadsRouter(notifier Notifier, registrar *Registrar, logger *slog.Logger) *LoadsRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadsRouter{notifier: notifier, registrar: registrar, logger: logger}
}

// Attach registers listeners and replays a cold-start tap exactly once.
// The callback sees an intent either from a live tap or from the replay,
// never both for the same tap.
func (r *LoadsRouter) Attach(ctx context.Context, onOpenLoad func(models.LoadIntent)) Detach {
	r.registrar.RegisterForFeed(ctx, "loads")

	r.mu.Lock()
	if r.attached {
		r.mu.Unlock()
		return func() {}
	}
	r.attached = true
	r.mu.Unlock()

	removeReceived := r.notifier.OnReceived(func(map[string]any) {
		// Foreground deliveries carry no navigation; the in-app surface
		// is the presentation layer's business.
	})
	removeTapped := r.notifier.OnTapped(func(payload map[string]any) {
		if id, ok := DecodeLoadID(payload); ok {
			onOpenLoad(models.LoadIntent{LoadID: id})
		} else {
			r.logger.Warn("load push payload without identifier dropped")
		}
	})

	if payload, ok := r.notifier.LastTapped(ctx); ok {
		if id, ok := DecodeLoadID(payload); ok {
			onOpenLoad(models.LoadIntent{LoadID: id})
		}
	}

	return func() {
		removeReceived()
		removeTapped()
		r.mu.Lock()
		r.attached = false
		r.mu.Unlock()
	}
}

// StatementsRouter is the statements-feed counterpart; it accepts only
// payloads tagged type == "statement".
type StatementsRouter struct {
	notifier  Notifier
	registrar *Registrar
	logger    *slog.Logger

	mu       sync.Mutex
	attached bool
}

func NewStatementsRouter(notifier Notifier, registrar *Registrar, logger *slog.Logger) *StatementsRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatementsRouter{notifier: notifier, registrar: registrar, logger: logger}
}

func (r *StatementsRouter) Attach(ctx context.Context, onOpenStatement func(models.StatementIntent)) Detach {
	r.registrar.RegisterForFeed(ctx, "statements")

	r.mu.Lock()
	if r.attached {
		r.mu.Unlock()
		return func() {}
	}
	r.attached = true
	r.mu.Unlock()

	removeReceived := r.notifier.OnReceived(func(map[string]any) {})
	removeTapped := r.notifier.OnTapped(func(payload map[string]any) {
		if intent, ok := DecodeStatement(payload); ok {
			onOpenStatement(intent)
		}
	})

	if payload, ok := r.notifier.LastTapped(ctx); ok {
		if intent, ok := DecodeStatement(payload); ok {
			onOpenStatement(intent)
		}
	}

	return func() {
		removeReceived()
		removeTapped()
		r.mu.Lock()
		r.attached = false
		r.mu.Unlock()
	}
}
