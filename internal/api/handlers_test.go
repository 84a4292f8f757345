package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smukkama/safewalk/internal/alert"
	"github.com/smukkama/safewalk/internal/contacts"
	"github.com/smukkama/safewalk/internal/database"
	"github.com/smukkama/safewalk/internal/engine"
	"github.com/smukkama/safewalk/internal/protocol"
	"github.com/smukkama/safewalk/internal/settings"
	"github.com/smukkama/safewalk/internal/store"
	"github.com/smukkama/safewalk/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingTimers struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func (r *recordingTimers) Schedule(id string, at time.Time, _ func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = at
	return nil
}

func (r *recordingTimers) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	delete(r.ids, id)
	return ok
}

func (r *recordingTimers) deadline(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.ids[id]
	return at, ok
}

type recordingActuator struct {
	mu   sync.Mutex
	cmds []*protocol.CommandMessage
}

func (a *recordingActuator) SendCommand(_ context.Context, _ string, cmd *protocol.CommandMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cmds = append(a.cmds, cmd)
	return nil
}

func (a *recordingActuator) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.cmds))
	for _, c := range a.cmds {
		out = append(out, c.Action)
	}
	return out
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(_ context.Context, _ string, list []contacts.Contact, _ alert.Message) alert.Result {
	return alert.Result{Sent: len(list)}
}

type fakeHistory struct {
	rows []*database.AlertLog
	err  error
}

func (f *fakeHistory) RecentAlerts(_ context.Context, _ string, limit int) ([]*database.AlertLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

type fixture struct {
	router   *gin.Engine
	registry *engine.Registry
	timers   *recordingTimers
	actuator *recordingActuator
	now      time.Time
}

func newFixture(t *testing.T, history AlertHistory) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kv := store.NewMemoryKV()
	logger := zap.NewNop()
	contactStore := contacts.NewStore(kv, logger)
	settingsStore := settings.NewStore(kv, logger)

	f := &fixture{
		timers:   &recordingTimers{ids: make(map[string]time.Time)},
		actuator: &recordingActuator{},
		now:      time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC),
	}
	f.registry = engine.NewRegistry(engine.Deps{
		KV:         kv,
		Contacts:   contactStore,
		Settings:   settingsStore,
		Dispatcher: nopDispatcher{},
		Actuator:   f.actuator,
		Timers:     f.timers,
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
		Now:    func() time.Time { return f.now },
	})
	t.Cleanup(f.registry.Close)

	h := NewHandlers(contactStore, settingsStore, f.registry, Options{History: history}, logger)
	f.router = NewRouter(h, logger)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestContacts_AddListRemove(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/v1/devices/phone-1/contacts"

	w := f.do(t, http.MethodPost, path, gin.H{"name": "Asha", "phone": "+911"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = f.do(t, http.MethodPost, path, gin.H{"name": "Ravi", "phone": "+912"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["contacts"].([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, "Asha", list[0].(map[string]interface{})["name"])

	w = f.do(t, http.MethodDelete, path, gin.H{"name": "Asha", "phone": "+911"})
	require.Equal(t, http.StatusOK, w.Code)
	list = decode(t, w)["contacts"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "Ravi", list[0].(map[string]interface{})["name"])

	w = f.do(t, http.MethodDelete, path, gin.H{"name": "Asha", "phone": "+911"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContacts_RejectsBlankFields(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/devices/phone-1/contacts", gin.H{"name": "  ", "phone": "+911"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContacts_ConcurrentAddsAreAllKept(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/v1/devices/phone-1/contacts"

	const n = 10
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"name":"Contact %d","phone":"+91%d"}`, i, i)
			req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)
			codes <- w.Code
		}(i)
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Equal(t, http.StatusCreated, code)
	}
	w := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["contacts"].([]interface{}), n)
}

func TestSettings_DefaultsAndPartialUpdate(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/v1/devices/phone-1/settings"

	w := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, float64(60), got["checkin_interval"])
	assert.Equal(t, "112", got["police_number"])

	w = f.do(t, http.MethodPut, path, gin.H{"silent_mode": true, "police_number": "100"})
	require.Equal(t, http.StatusOK, w.Code)
	got = decode(t, w)
	assert.Equal(t, true, got["silent_mode"])
	assert.Equal(t, "100", got["police_number"])
	assert.Equal(t, "181", got["women_helpline"])

	w = f.do(t, http.MethodPut, path, gin.H{"checkin_interval": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettings_IntervalChangeRearmsCheckIn(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/devices/phone-1/checkin", gin.H{"interval_minutes": 30})
	require.Equal(t, http.StatusOK, w.Code)
	at, ok := f.timers.deadline("phone-1:checkin-reminder")
	require.True(t, ok)
	assert.Equal(t, f.now.Add(30*time.Minute), at)

	w = f.do(t, http.MethodPut, "/api/v1/devices/phone-1/settings", gin.H{"checkin_interval": 15})
	require.Equal(t, http.StatusOK, w.Code)

	at, ok = f.timers.deadline("phone-1:checkin-reminder")
	require.True(t, ok)
	assert.Equal(t, f.now.Add(15*time.Minute), at)
	missed, ok := f.timers.deadline("phone-1:checkin-missed")
	require.True(t, ok)
	assert.Equal(t, f.now.Add(20*time.Minute), missed)
}

func TestCheckIn_EmptyBodyUsesSavedInterval(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/phone-1/checkin", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "scheduled", got["state"])
	assert.Equal(t, float64(60), got["interval_minutes"])
}

func TestCheckIn_RejectsNegativeInterval(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/devices/phone-1/checkin", gin.H{"interval_minutes": -5})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrigger(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/devices/phone-1/triggers/call_police", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Eventually(t, func() bool {
		for _, a := range f.actuator.actions() {
			if a == protocol.ActionStartCall {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	w = f.do(t, http.MethodPost, "/api/v1/devices/phone-1/triggers/self_destruct", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTracking_StartStatusStop(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/v1/devices/phone-1/tracking"

	w := f.do(t, http.MethodPost, path, gin.H{"latitude": 12.97, "longitude": 77.59})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/devices/phone-1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["tracking"])

	w = f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/devices/phone-1/status", nil)
	assert.Equal(t, false, decode(t, w)["tracking"])
}

func TestTracking_InvalidDestination(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/devices/phone-1/tracking", gin.H{"latitude": 95.0, "longitude": 10.0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/devices/phone-1/tracking", gin.H{"latitude": 10.0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlerts(t *testing.T) {
	lat, lon := 12.5, 77.5
	at := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	history := &fakeHistory{rows: []*database.AlertLog{
		{ID: "a2", DeviceID: "phone-1", Kind: "ROUTE_DEVIATION", Sent: 2, Latitude: &lat, Longitude: &lon, CreatedAt: at},
		{ID: "a1", DeviceID: "phone-1", Kind: "SAFE_CHECKIN", Sent: 2, CreatedAt: at.Add(-time.Hour)},
	}}
	f := newFixture(t, history)

	w := f.do(t, http.MethodGet, "/api/v1/devices/phone-1/alerts?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	alerts := decode(t, w)["alerts"].([]interface{})
	require.Len(t, alerts, 1)
	first := alerts[0].(map[string]interface{})
	assert.Equal(t, "ROUTE_DEVIATION", first["kind"])
	assert.Equal(t, 12.5, first["latitude"])

	w = f.do(t, http.MethodGet, "/api/v1/devices/phone-1/alerts?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	history.err = errors.New("db down")
	w = f.do(t, http.MethodGet, "/api/v1/devices/phone-1/alerts", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAlerts_NotConfigured(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/v1/devices/phone-1/alerts", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
