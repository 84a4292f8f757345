package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/smukkama/safewalk/internal/alert"
	"github.com/smukkama/safewalk/internal/connection"
	"github.com/smukkama/safewalk/internal/engine"
	"github.com/smukkama/safewalk/internal/ingest"
	"github.com/smukkama/safewalk/internal/store"
	"github.com/smukkama/safewalk/internal/timer"
	"github.com/smukkama/safewalk/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopMessenger struct{}

func (nopMessenger) Send(context.Context, string, string) error { return nil }

type testEnv struct {
	server   *TCPServer
	conns    *connection.Manager
	registry *engine.Registry
}

func startServer(t *testing.T, inactivity time.Duration) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	timers := timer.NewManager(2, logger)
	timers.Start()

	conns := connection.NewManager(10)
	registry := engine.NewRegistry(engine.Deps{
		KV:         store.NewMemoryKV(),
		Dispatcher: alert.NewDispatcher(nopMessenger{}, nil, logger),
		Actuator:   conns,
		Timers:     timers,
		Safety: config.SafetyConfig{
			ShakeThreshold:        800,
			ShakeSampleGap:        100 * time.Millisecond,
			ShakeWindow:           time.Second,
			ShakeCountThreshold:   3,
			DeviationMeters:       500,
			ArrivalMeters:         50,
			CheckInGrace:          5 * time.Minute,
			EmergencyRepeatWindow: 10 * time.Minute,
			TorchAutoOff:          30 * time.Second,
			FrontCameraDelay:      3 * time.Second,
			EngineQueueSize:       16,
		},
		Logger: logger,
	})

	cfg := &config.TCPServerConfig{
		MaxConnections:    10,
		IdentifyTimeout:   time.Second,
		InactivityTimeout: inactivity,
	}
	srv := NewTCPServer(cfg, conns, timers, ingest.NewRouter(registry, logger), logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, srv.Serve(listener))

	t.Cleanup(func() {
		srv.Stop()
		registry.Close()
		timers.Stop()
	})
	return &testEnv{server: srv, conns: conns, registry: registry}
}

type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, env *testEnv) *client {
	t.Helper()
	conn, err := net.Dial("tcp", env.server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *client) read(t *testing.T) map[string]interface{} {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	return msg
}

func TestTCPServer_IdentifyAndKeepalive(t *testing.T) {
	env := startServer(t, time.Minute)
	c := dial(t, env)

	c.send(t, `{"type":"identify","device_id":"phone-1"}`)
	assert.Equal(t, map[string]interface{}{"type": "ack", "status": "identified"}, c.read(t))
	assert.True(t, env.conns.IsConnected("phone-1"))

	c.send(t, `{"type":"keepalive"}`)
	assert.Equal(t, "alive", c.read(t)["status"])

	c.send(t, `{"type":"bogus"}`)
	assert.Equal(t, "error", c.read(t)["status"])
}

func TestTCPServer_RejectsMissingIdentify(t *testing.T) {
	env := startServer(t, time.Minute)
	c := dial(t, env)

	c.send(t, `{"type":"keepalive"}`)
	assert.Equal(t, "error", c.read(t)["status"])

	_, err := c.reader.ReadString('\n')
	assert.Error(t, err, "server closes the connection")
}

func TestTCPServer_TriggerPushesCommand(t *testing.T) {
	env := startServer(t, time.Minute)
	c := dial(t, env)

	c.send(t, `{"type":"identify","device_id":"phone-1"}`)
	c.read(t)

	c.send(t, `{"type":"trigger","name":"call_police"}`)

	// The ack and the engine's command race; collect both.
	got := map[string]map[string]interface{}{}
	for i := 0; i < 2; i++ {
		msg := c.read(t)
		got[msg["type"].(string)] = msg
	}
	assert.Equal(t, "accepted", got["ack"]["status"])
	assert.Equal(t, "start_call", got["command"]["action"])
	assert.Equal(t, "112", got["command"]["number"])
}

func TestTCPServer_CheckInAndTracking(t *testing.T) {
	env := startServer(t, time.Minute)
	c := dial(t, env)

	c.send(t, `{"type":"identify","device_id":"phone-2"}`)
	c.read(t)

	c.send(t, `{"type":"checkin","interval_minutes":30}`)
	assert.Equal(t, "accepted", c.read(t)["status"])

	c.send(t, `{"type":"track","action":"start"}`)
	assert.Equal(t, "error", c.read(t)["status"])

	c.send(t, `{"type":"track","action":"start","latitude":12.97,"longitude":77.59}`)
	assert.Equal(t, "accepted", c.read(t)["status"])

	eng, ok := env.registry.Lookup("phone-2")
	require.True(t, ok)
	st, err := eng.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Tracking)
	assert.Equal(t, "scheduled", st.CheckIn.State)
	assert.Equal(t, 30, st.CheckIn.IntervalMinutes)
}

func TestTCPServer_InactivityTimeoutClosesConnection(t *testing.T) {
	env := startServer(t, 100*time.Millisecond)
	c := dial(t, env)

	c.send(t, `{"type":"identify","device_id":"phone-3"}`)
	c.read(t)

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.reader.ReadString('\n')
	assert.Error(t, err)

	assert.Eventually(t, func() bool { return !env.conns.IsConnected("phone-3") },
		time.Second, 10*time.Millisecond)
}
