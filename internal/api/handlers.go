// Package api exposes the per-device safety operations over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smukkama/safewalk/internal/checkin"
	"github.com/smukkama/safewalk/internal/contacts"
	"github.com/smukkama/safewalk/internal/database"
	"github.com/smukkama/safewalk/internal/engine"
	"github.com/smukkama/safewalk/internal/geo"
	"github.com/smukkama/safewalk/internal/protocol"
	"github.com/smukkama/safewalk/internal/route"
	"github.com/smukkama/safewalk/internal/settings"
	"go.uber.org/zap"
)

const (
	requestTimeout     = 5 * time.Second
	defaultAlertsLimit = 50
	maxAlertsLimit     = 500
)

// ContactStore is the contact list persistence used by the handlers.
type ContactStore interface {
	List(ctx context.Context, deviceID string) []contacts.Contact
	Add(ctx context.Context, deviceID string, c contacts.Contact) ([]contacts.Contact, error)
	Remove(ctx context.Context, deviceID string, c contacts.Contact) ([]contacts.Contact, bool, error)
}

// SettingsStore is the settings persistence used by the handlers.
type SettingsStore interface {
	Load(ctx context.Context, deviceID string) settings.Settings
	Update(ctx context.Context, deviceID string, fn func(*settings.Settings)) (before, after settings.Settings, err error)
}

// Engines resolves the engine of a device, creating it when needed.
type Engines interface {
	Get(deviceID string) (*engine.Engine, error)
	Len() int
}

// AlertHistory reads the persisted alert log.
type AlertHistory interface {
	RecentAlerts(ctx context.Context, deviceID string, limit int) ([]*database.AlertLog, error)
}

// ConnectionCounter reports live device connections.
type ConnectionCounter interface {
	Count() int
}

// Handlers serves the REST API.
type Handlers struct {
	contacts    ContactStore
	settings    SettingsStore
	engines     Engines
	history     AlertHistory
	connections ConnectionCounter
	logger      *zap.Logger
}

// Options carries the optional collaborators of Handlers.
type Options struct {
	History     AlertHistory
	Connections ConnectionCounter
}

func NewHandlers(contactStore ContactStore, settingsStore SettingsStore, engines Engines, opts Options, logger *zap.Logger) *Handlers {
	return &Handlers{
		contacts:    contactStore,
		settings:    settingsStore,
		engines:     engines,
		history:     opts.History,
		connections: opts.Connections,
		logger:      logger,
	}
}

type contactRequest struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone" binding:"required"`
}

type settingsRequest struct {
	CheckInInterval *int    `json:"checkin_interval"`
	SilentMode      *bool   `json:"silent_mode"`
	SMSInterval     *string `json:"sms_interval"`
	PoliceNumber    *string `json:"police_number"`
	WomenHelpline   *string `json:"women_helpline"`
}

type trackingRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type checkInRequest struct {
	IntervalMinutes int `json:"interval_minutes"`
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// Health reports liveness and basic counters.
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"engines": h.engines.Len(),
	}
	if h.connections != nil {
		body["connections"] = h.connections.Count()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handlers) ListContacts(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	c.JSON(http.StatusOK, gin.H{"contacts": h.contacts.List(ctx, c.Param("id"))})
}

func (h *Handlers) AddContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid contact: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	list, err := h.contacts.Add(ctx, c.Param("id"), contacts.Contact{Name: req.Name, Phone: req.Phone})
	if err != nil {
		h.logger.Warn("Failed to add contact", zap.String("device_id", c.Param("id")), zap.Error(err))
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"contacts": list})
}

func (h *Handlers) RemoveContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid contact: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	list, found, err := h.contacts.Remove(ctx, c.Param("id"), contacts.Contact{Name: req.Name, Phone: req.Phone})
	if err != nil {
		h.logger.Error("Failed to remove contact", zap.String("device_id", c.Param("id")), zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to remove contact")
		return
	}
	if !found {
		fail(c, http.StatusNotFound, "contact not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": list})
}

func (h *Handlers) GetSettings(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	c.JSON(http.StatusOK, h.settings.Load(ctx, c.Param("id")))
}

// UpdateSettings merges the supplied fields into the saved settings. A new
// check-in interval re-arms a running check-in schedule.
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}

	deviceID := c.Param("id")
	ctx, cancel := requestContext(c)
	defer cancel()

	current, next, err := h.settings.Update(ctx, deviceID, func(s *settings.Settings) {
		if req.CheckInInterval != nil {
			s.CheckInInterval = *req.CheckInInterval
		}
		if req.SilentMode != nil {
			s.SilentMode = *req.SilentMode
		}
		if req.SMSInterval != nil {
			s.SMSInterval = *req.SMSInterval
		}
		if req.PoliceNumber != nil {
			s.PoliceNumber = *req.PoliceNumber
		}
		if req.WomenHelpline != nil {
			s.WomenHelpline = *req.WomenHelpline
		}
	})
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if next.CheckInInterval != current.CheckInInterval {
		eng, err := h.engines.Get(deviceID)
		if err == nil {
			err = eng.IntervalChanged(ctx, next.CheckInInterval)
		}
		if err != nil {
			h.logger.Warn("Failed to re-arm check-in after interval change",
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, next)
}

// Trigger posts a named trigger to the device engine.
func (h *Handlers) Trigger(c *gin.Context) {
	name := c.Param("name")
	if !protocol.IsKnownTrigger(name) {
		fail(c, http.StatusBadRequest, "unknown trigger: "+name)
		return
	}

	eng, ok := h.engine(c)
	if !ok {
		return
	}
	if err := eng.Trigger(name); err != nil {
		h.engineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": protocol.AckStatusAccepted, "trigger": name})
}

func (h *Handlers) StartTracking(c *gin.Context) {
	var req trackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid destination: "+err.Error())
		return
	}

	eng, ok := h.engine(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	dest := geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := eng.StartTracking(ctx, dest); err != nil {
		h.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking": true, "destination": dest})
}

func (h *Handlers) StopTracking(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := eng.StopTracking(ctx); err != nil {
		h.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking": false})
}

// ScheduleCheckIn arms the check-in cycle. An empty body uses the saved
// interval.
func (h *Handlers) ScheduleCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "invalid check-in request: "+err.Error())
		return
	}
	if req.IntervalMinutes < 0 {
		fail(c, http.StatusBadRequest, checkin.ErrInvalidInterval.Error())
		return
	}

	eng, ok := h.engine(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := eng.ScheduleCheckIn(ctx, req.IntervalMinutes); err != nil {
		h.engineError(c, err)
		return
	}
	st, err := eng.Status(ctx)
	if err != nil {
		h.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, st.CheckIn)
}

func (h *Handlers) Status(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	st, err := eng.Status(ctx)
	if err != nil {
		h.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Alerts lists the device's persisted alert log, newest first.
func (h *Handlers) Alerts(c *gin.Context) {
	if h.history == nil {
		fail(c, http.StatusServiceUnavailable, "alert history is not configured")
		return
	}

	limit := defaultAlertsLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAlertsLimit)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	rows, err := h.history.RecentAlerts(ctx, c.Param("id"), limit)
	if err != nil {
		h.logger.Error("Failed to read alert history", zap.String("device_id", c.Param("id")), zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to read alert history")
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		entry := gin.H{
			"id":         r.ID,
			"kind":       r.Kind,
			"sent":       r.Sent,
			"failed":     r.Failed,
			"created_at": r.CreatedAt,
		}
		if r.Latitude != nil && r.Longitude != nil {
			entry["latitude"] = *r.Latitude
			entry["longitude"] = *r.Longitude
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out})
}

func (h *Handlers) engine(c *gin.Context) (*engine.Engine, bool) {
	eng, err := h.engines.Get(c.Param("id"))
	if err != nil {
		h.engineError(c, err)
		return nil, false
	}
	return eng, true
}

func (h *Handlers) engineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, route.ErrInvalidDestination), errors.Is(err, checkin.ErrInvalidInterval):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrStopped):
		fail(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, "device engine did not respond")
	default:
		h.logger.Error("Engine request failed", zap.String("device_id", c.Param("id")), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
	}
}
