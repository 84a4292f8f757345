// Package settings reads and writes the per-device preferences.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/safewalk/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultCheckInInterval = 60
	DefaultSMSInterval     = "1"
	DefaultPoliceNumber    = "112"
	DefaultWomenHelpline   = "181"
)

// Settings are the persisted preferences of one device.
type Settings struct {
	CheckInInterval int    `json:"checkin_interval"`
	SilentMode      bool   `json:"silent_mode"`
	SMSInterval     string `json:"sms_interval"`
	PoliceNumber    string `json:"police_number"`
	WomenHelpline   string `json:"women_helpline"`
}

// Defaults returns the settings of a device that never saved any.
func Defaults() Settings {
	return Settings{
		CheckInInterval: DefaultCheckInInterval,
		SMSInterval:     DefaultSMSInterval,
		PoliceNumber:    DefaultPoliceNumber,
		WomenHelpline:   DefaultWomenHelpline,
	}
}

// Validate rejects blank numbers and non-positive intervals.
func (s Settings) Validate() error {
	if s.CheckInInterval < 1 {
		return fmt.Errorf("checkin_interval must be at least 1 minute")
	}
	if strings.TrimSpace(s.PoliceNumber) == "" || strings.TrimSpace(s.WomenHelpline) == "" {
		return fmt.Errorf("police_number and women_helpline are required")
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s.SMSInterval)); err != nil || n < 1 {
		return fmt.Errorf("sms_interval must be a positive number of minutes")
	}
	return nil
}

// SMSRepeatInterval is the emergency repeat period. Unparseable values fall
// back to the default of one minute.
func (s Settings) SMSRepeatInterval() time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(s.SMSInterval))
	if err != nil || n < 1 {
		n, _ = strconv.Atoi(DefaultSMSInterval)
	}
	return time.Duration(n) * time.Minute
}

// Store gives typed access to the settings keys. Writes for the same device
// are serialized.
type Store struct {
	kv     store.KV
	locks  *store.DeviceLocks
	logger *zap.Logger
}

func NewStore(kv store.KV, logger *zap.Logger) *Store {
	return &Store{kv: kv, locks: store.NewDeviceLocks(), logger: logger}
}

// Load returns the device settings, substituting defaults key by key.
func (s *Store) Load(ctx context.Context, deviceID string) Settings {
	out := Defaults()

	if v, ok := s.get(ctx, deviceID, store.KeyCheckInInterval); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			out.CheckInInterval = n
		}
	}
	if v, ok := s.get(ctx, deviceID, store.KeySilentMode); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			out.SilentMode = b
		}
	}
	if v, ok := s.get(ctx, deviceID, store.KeySMSInterval); ok && v != "" {
		out.SMSInterval = v
	}
	if v, ok := s.get(ctx, deviceID, store.KeyPoliceNumber); ok && v != "" {
		out.PoliceNumber = v
	}
	if v, ok := s.get(ctx, deviceID, store.KeyWomenHelpline); ok && v != "" {
		out.WomenHelpline = v
	}
	return out
}

// Save validates and persists every setting.
func (s *Store) Save(ctx context.Context, deviceID string, in Settings) error {
	defer s.locks.Lock(deviceID)()
	return s.save(ctx, deviceID, in)
}

// Update applies fn to the current settings and persists the result as one
// step. It returns the settings before and after the change.
func (s *Store) Update(ctx context.Context, deviceID string, fn func(*Settings)) (before, after Settings, err error) {
	defer s.locks.Lock(deviceID)()
	before = s.Load(ctx, deviceID)
	after = before
	fn(&after)
	if err := s.save(ctx, deviceID, after); err != nil {
		return before, before, err
	}
	return before, s.Load(ctx, deviceID), nil
}

func (s *Store) save(ctx context.Context, deviceID string, in Settings) error {
	in.SMSInterval = strings.TrimSpace(in.SMSInterval)
	in.PoliceNumber = strings.TrimSpace(in.PoliceNumber)
	in.WomenHelpline = strings.TrimSpace(in.WomenHelpline)
	if err := in.Validate(); err != nil {
		return err
	}

	values := map[string]string{
		store.KeyCheckInInterval: strconv.Itoa(in.CheckInInterval),
		store.KeySilentMode:      strconv.FormatBool(in.SilentMode),
		store.KeySMSInterval:     in.SMSInterval,
		store.KeyPoliceNumber:    in.PoliceNumber,
		store.KeyWomenHelpline:   in.WomenHelpline,
	}
	for key, value := range values {
		if err := s.kv.Set(ctx, store.DeviceKey(deviceID, key), value); err != nil {
			return fmt.Errorf("failed to save %s: %w", key, err)
		}
	}
	return nil
}

// SetCheckInInterval persists only the check-in interval.
func (s *Store) SetCheckInInterval(ctx context.Context, deviceID string, minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("checkin_interval must be at least 1 minute")
	}
	defer s.locks.Lock(deviceID)()
	return s.kv.Set(ctx, store.DeviceKey(deviceID, store.KeyCheckInInterval), strconv.Itoa(minutes))
}

func (s *Store) get(ctx context.Context, deviceID, key string) (string, bool) {
	v, err := s.kv.Get(ctx, store.DeviceKey(deviceID, key))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read setting", zap.String("device_id", deviceID), zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return v, true
}
