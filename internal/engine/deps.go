package engine

import (
	"context"
	"time"

	"github.com/smukkama/safewalk/internal/alert"
	"github.com/smukkama/safewalk/internal/contacts"
	"github.com/smukkama/safewalk/internal/protocol"
	"github.com/smukkama/safewalk/internal/settings"
	"github.com/smukkama/safewalk/internal/store"
	"github.com/smukkama/safewalk/pkg/config"
	"go.uber.org/zap"
)

// Actuator pushes a command to a connected device.
type Actuator interface {
	SendCommand(ctx context.Context, deviceID string, cmd *protocol.CommandMessage) error
}

// Dispatcher fans an alert out to emergency contacts.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceID string, list []contacts.Contact, msg alert.Message) alert.Result
}

// Timers arms keyed callbacks. timer.Manager satisfies it.
type Timers interface {
	Schedule(id string, at time.Time, fn func()) error
	Cancel(id string) bool
}

// Deps is everything an engine needs from the outside world. One Deps value
// is shared by all engines of a registry.
type Deps struct {
	KV         store.KV
	Contacts   *contacts.Store
	Settings   *settings.Store
	Dispatcher Dispatcher
	Actuator   Actuator
	Timers     Timers
	Safety     config.SafetyConfig
	Logger     *zap.Logger
	Now        func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Contacts == nil {
		d.Contacts = contacts.NewStore(d.KV, d.Logger)
	}
	if d.Settings == nil {
		d.Settings = settings.NewStore(d.KV, d.Logger)
	}
	if d.Safety.EngineQueueSize < 1 {
		d.Safety.EngineQueueSize = 256
	}
	return d
}
