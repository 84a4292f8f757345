package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/smukkama/safewalk/internal/protocol"
	"go.uber.org/zap"
)

// Registry lazily creates one engine per device id and keeps it running
// until Close. Engines outlive device connections so that pending check-in
// and emergency timers still fire while a device is offline.
type Registry struct {
	deps    Deps
	mu      sync.Mutex
	engines map[string]*Engine
	closed  bool
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:    deps.withDefaults(),
		engines: make(map[string]*Engine),
	}
}

// Get returns the engine for deviceID, starting one if needed.
func (r *Registry) Get(deviceID string) (*Engine, error) {
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrStopped
	}
	if e, ok := r.engines[deviceID]; ok {
		return e, nil
	}

	e := New(deviceID, r.deps)
	e.Start()
	r.engines[deviceID] = e
	activeEngines.Inc()
	r.deps.Logger.Debug("Engine started", zap.String("device_id", deviceID))
	return e, nil
}

// Lookup returns a running engine without creating one.
func (r *Registry) Lookup(deviceID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[deviceID]
	return e, ok
}

// Remove stops and forgets the engine for deviceID.
func (r *Registry) Remove(deviceID string) bool {
	r.mu.Lock()
	e, ok := r.engines[deviceID]
	delete(r.engines, deviceID)
	r.mu.Unlock()

	if ok {
		e.Stop()
		activeEngines.Dec()
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Close stops every engine. Later calls to Get fail with ErrStopped.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	for _, e := range engines {
		e.Stop()
		activeEngines.Dec()
	}
}

// MultiActuator delivers a command through the first actuator that accepts
// it, for example the TCP connection and then MQTT.
type MultiActuator []Actuator

func (m MultiActuator) SendCommand(ctx context.Context, deviceID string, cmd *protocol.CommandMessage) error {
	var errs []error
	for _, a := range m {
		err := a.SendCommand(ctx, deviceID, cmd)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
