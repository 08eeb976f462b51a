// Package app wires the client together. Every process-wide piece --
// session store, socket, REST client, push registrar -- is constructed
// here and handed down explicitly; nothing reaches for a global.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"haulsync/driver-client/internal/chat"
	"haulsync/driver-client/internal/config"
	"haulsync/driver-client/internal/platform/ratelimiter"
	"haulsync/driver-client/internal/push"
	"haulsync/driver-client/internal/restapi"
	"haulsync/driver-client/internal/session"
	"haulsync/driver-client/internal/transport"
	"haulsync/driver-client/pkg/models"
)

const sendLimiterIdleTTL = time.Hour

type Options struct {
	Config config.Config
	Logger *slog.Logger

	// Registry receives the transport metrics. Nil means a private
	// registry, which is what tests want.
	Registry prometheus.Registerer

	// Dialer overrides the websocket dialer, for tests.
	Dialer transport.Dialer

	Device      push.Device
	Permissions push.Permissions
	Handles     push.HandleSource
	Notifier    push.Notifier
}

type App struct {
	cfg    config.Config
	logger *slog.Logger

	Sessions *session.Store
	API      *restapi.Client
	Wire     *transport.Conn
	DeviceID string

	Registrar  *push.Registrar
	Loads      *push.LoadsRouter
	Statements *push.StatementsRouter

	limiter *ratelimiter.SendLimiter

	mu       sync.Mutex
	detaches []push.Detach
}

func New(opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sessions *session.Store
	if cfg.Storage.SessionPath != "" {
		var err error
		sessions, err = session.NewPersistentStore(cfg.Storage.SessionPath, cfg.Storage.SessionSecret, logger)
		if err != nil {
			return nil, err
		}
	} else {
		sessions = session.NewStore(logger)
	}

	api := restapi.New(cfg.API.BaseURL, cfg.API.Timeout, logger)
	wire := transport.New(cfg.Transport.URL, transport.Options{
		Dialer:              opts.Dialer,
		Logger:              logger,
		Metrics:             transport.NewMetrics(opts.Registry),
		DialTimeout:         cfg.Transport.DialTimeout,
		ReconnectInterval:   cfg.Transport.ReconnectInterval,
		ReconnectBackoffMax: cfg.Transport.ReconnectBackoffMax,
	})

	registrar := push.NewRegistrar(opts.Device, opts.Permissions, opts.Handles, api, sessions, logger)

	app := &App{
		cfg:        cfg,
		logger:     logger,
		Sessions:   sessions,
		API:        api,
		Wire:       wire,
		DeviceID:   loadDeviceID(cfg.Storage.DeviceIDPath, logger),
		Registrar:  registrar,
		Loads:      push.NewLoadsRouter(opts.Notifier, registrar, logger),
		Statements: push.NewStatementsRouter(opts.Notifier, registrar, logger),
		limiter:    ratelimiter.New(cfg.Chat.SendRatePerSecond, cfg.Chat.SendBurst, sendLimiterIdleTTL),
	}
	return app, nil
}

// Login authenticates against the backend and installs the returned
// record as the current session.
func (a *App) Login(ctx context.Context, username, password string) (models.UserRecord, error) {
	record, err := a.API.Login(ctx, username, password)
	if err != nil {
		return models.UserRecord{}, err
	}
	if err := a.Sessions.Set(record); err != nil {
		return models.UserRecord{}, err
	}
	return record, nil
}

// NewRoomSession builds a chat session on the shared wire. The caller
// owns it: Open to enter a room, Close when navigating away.
func (a *App) NewRoomSession(onMessage func(models.Message), scrollTo func(int)) *chat.Session {
	return chat.NewSession(chat.Options{
		Wire:         a.Wire,
		History:      a.API,
		Tokens:       a.Sessions,
		Logger:       a.logger,
		Limiter:      a.limiter,
		HighlightTTL: a.cfg.Chat.HighlightTTL,
		OnMessage:    onMessage,
		ScrollTo:     scrollTo,
	})
}

// AttachFeeds starts both notification feeds. Safe to call once at
// startup; Logout detaches them again.
func (a *App) AttachFeeds(ctx context.Context, onLoad func(models.LoadIntent), onStatement func(models.StatementIntent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detaches = append(a.detaches,
		a.Loads.Attach(ctx, onLoad),
		a.Statements.Attach(ctx, onStatement),
	)
}

// Logout tears the authenticated state down: best-effort push token
// removal for drivers, socket disconnect, feed detach, registrar reset
// so a later login registers again, then the session itself.
func (a *App) Logout(ctx context.Context) error {
	if record, ok := a.Sessions.Current(); ok && record.IsDriver() {
		token, err := a.Sessions.Token()
		if err == nil {
			if err := a.API.ClearPushToken(ctx, token, record.DriverID); err != nil {
				a.logger.Warn("push token removal failed", "error", err)
			}
		}
	}

	a.Wire.Disconnect()

	a.mu.Lock()
	detaches := a.detaches
	a.detaches = nil
	a.mu.Unlock()
	for _, detach := range detaches {
		detach()
	}
	a.Registrar.Reset()

	return a.Sessions.Clear()
}
