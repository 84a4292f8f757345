// Package ingest turns device protocol messages into engine events. It is
// shared by the TCP server and the MQTT subscriber.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/safewalk/internal/engine"
	"github.com/smukkama/safewalk/internal/geo"
	"github.com/smukkama/safewalk/internal/protocol"
	"github.com/smukkama/safewalk/internal/shake"
	"go.uber.org/zap"
)

const callTimeout = 5 * time.Second

// Engines resolves the engine of a device.
type Engines interface {
	Get(deviceID string) (*engine.Engine, error)
}

// Router applies parsed device messages to the device's engine.
type Router struct {
	engines Engines
	logger  *zap.Logger
}

func NewRouter(engines Engines, logger *zap.Logger) *Router {
	return &Router{engines: engines, logger: logger}
}

// Route applies msg for deviceID. The returned ack is nil for streaming
// messages (accel, location) that are not acknowledged.
func (r *Router) Route(ctx context.Context, deviceID string, msg interface{}) (*protocol.AckMessage, error) {
	if _, ok := msg.(*protocol.KeepaliveMessage); ok {
		return protocol.NewAckMessage(protocol.AckStatusAlive), nil
	}

	eng, err := r.engines.Get(deviceID)
	if err != nil {
		return protocol.NewAckMessage(protocol.AckStatusError), err
	}

	switch m := msg.(type) {
	case *protocol.AccelMessage:
		return nil, eng.Accel(shake.Sample{X: m.X, Y: m.Y, Z: m.Z, At: time.UnixMilli(m.TimestampMs)})

	case *protocol.LocationMessage:
		return nil, eng.Location(geo.Point{Latitude: m.Latitude, Longitude: m.Longitude})

	case *protocol.TriggerMessage:
		return ackFor(eng.Trigger(m.Name))

	case *protocol.TrackMessage:
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		if m.Action == protocol.TrackStart {
			lat, lon := m.Destination()
			return ackFor(eng.StartTracking(ctx, geo.Point{Latitude: lat, Longitude: lon}))
		}
		return ackFor(eng.StopTracking(ctx))

	case *protocol.CheckInMessage:
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		return ackFor(eng.ScheduleCheckIn(ctx, m.IntervalMinutes))

	case *protocol.IdentifyMessage:
		return protocol.NewAckMessage(protocol.AckStatusError), fmt.Errorf("device %s is already identified", deviceID)

	default:
		return protocol.NewAckMessage(protocol.AckStatusError), fmt.Errorf("unexpected message type: %T", msg)
	}
}

func ackFor(err error) (*protocol.AckMessage, error) {
	if err != nil {
		return protocol.NewAckMessage(protocol.AckStatusError), err
	}
	return protocol.NewAckMessage(protocol.AckStatusAccepted), nil
}
