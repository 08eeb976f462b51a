// Package headless adapts the push interfaces for daemon use, where no
// mobile shell provides a device, permission prompt, or notification
// surface.
package headless

import (
	"context"

	"github.com/pkg/errors"
)

// Device reports physical hardware unless built for a bench run.
type Device struct {
	Simulated bool
}

func (d Device) IsPhysical() bool { return !d.Simulated }

// AutoGrant answers permission prompts affirmatively. The daemon has no
// user to ask.
type AutoGrant struct{}

func (AutoGrant) Request(context.Context) (bool, error) { return true, nil }

// StaticHandle serves a pre-provisioned push handle. Daemons receive
// theirs out of band instead of from an OS push service.
type StaticHandle struct {
	Handle string
}

func (h StaticHandle) PushHandle(context.Context) (string, error) {
	if h.Handle == "" {
		return "", errors.New("no push handle provisioned")
	}
	return h.Handle, nil
}

// InertNotifier is a notification surface that never delivers. Listeners
// attach and detach normally; nothing ever fires.
type InertNotifier struct{}

func (InertNotifier) OnReceived(func(map[string]any)) func() { return func() {} }

func (InertNotifier) OnTapped(func(map[string]any)) func() { return func() {} }

func (InertNotifier) LastTapped(context.Context) (map[string]any, bool) { return nil, false }
