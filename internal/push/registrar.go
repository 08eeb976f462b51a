package push

import (
	"context"
	"log/slog"
	"sync"

	"haulsync/driver-client/pkg/models"
)

// Device reports whether the process runs on real hardware; simulators
// and browser builds never register for push.
type Device interface {
	IsPhysical() bool
}

// Permissions prompts the OS notification permission.
type Permissions interface {
	Request(ctx context.Context) (bool, error)
}

// HandleSource obtains the device push handle from the OS push service.
type HandleSource interface {
	PushHandle(ctx context.Context) (string, error)
}

// TokenPoster uploads the push handle to the backend. *restapi.Client
// satisfies it.
type TokenPoster interface {
	UpdatePushToken(ctx context.Context, token, driverID, pushToken string) error
}

// UserSource exposes the session record and bearer token. *session.Store
// satisfies it.
type UserSource interface {
	Current() (models.UserRecord, bool)
	Token() (string, error)
}

// Registrar registers the device push handle with the backend for the
// current driver. Both notification feeds share one registrar; the POST
// fires at most once per process no matter how many feeds initialize.
type Registrar struct {
	device  Device
	perms   Permissions
	handles HandleSource
	api     TokenPoster
	users   UserSource
	logger  *slog.Logger

	mu      sync.Mutex
	claimed bool
}

func NewRegistrar(device Device, perms Permissions, handles HandleSource, api TokenPoster, users UserSource, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		device:  device,
		perms:   perms,
		handles: handles,
		api:     api,
		users:   users,
		logger:  logger,
	}
}

// RegisterForFeed runs the registration once. Every failure mode here is
// non-fatal: the app keeps working over the live socket and manual
// refresh, just without push delivery.
func (r *Registrar) RegisterForFeed(ctx context.Context, feed string) {
	if !r.device.IsPhysical() {
		return
	}
	user, ok := r.users.Current()
	if !ok || !user.IsDriver() {
		return
	}

	r.mu.Lock()
	if r.claimed {
		r.mu.Unlock()
		return
	}
	r.claimed = true
	r.mu.Unlock()

	granted, err := r.perms.Request(ctx)
	if err != nil {
		r.logger.Warn("push permission prompt failed", "feed", feed, "error", err.Error())
		return
	}
	if !granted {
		r.logger.Warn("push permission denied", "feed", feed)
		return
	}

	handle, err := r.handles.PushHandle(ctx)
	if err != nil {
		r.logger.Warn("push handle lookup failed", "feed", feed, "error", err.Error())
		return
	}
	token, err := r.users.Token()
	if err != nil {
		r.logger.Warn("push registration without token", "feed", feed, "error", err.Error())
		return
	}
	if err := r.api.UpdatePushToken(ctx, token, user.DriverID, handle); err != nil {
		r.logger.Warn("push token upload failed", "feed", feed, "error", err.Error())
		return
	}
	r.logger.Info("push token registered", "feed", feed, "driver_id", user.DriverID)
}

// Registered reports whether a registration attempt has claimed the
// process-wide slot.
func (r *Registrar) Registered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claimed
}

// Reset clears the once-per-process claim so a fresh login in the same
// process registers again.
func (r *Registrar) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed = false
}
