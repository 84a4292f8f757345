// Package contacts persists the ordered emergency contact list of a device.
package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smukkama/safewalk/internal/store"
	"go.uber.org/zap"
)

// Contact is an emergency contact. Equality is by value.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Validate checks that both fields are present after trimming.
func (c Contact) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("contact name is required")
	}
	if strings.TrimSpace(c.Phone) == "" {
		return fmt.Errorf("contact phone is required")
	}
	return nil
}

// Encode serializes a contact list as a JSON array, preserving order.
func Encode(list []Contact) (string, error) {
	if list == nil {
		list = []Contact{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a JSON array of contacts. Entries missing a name or phone
// make the whole list invalid.
func Decode(data string) ([]Contact, error) {
	var raw []map[string]interface{}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("invalid contact list: %w", err)
	}
	list := make([]Contact, 0, len(raw))
	for i, obj := range raw {
		name, okName := obj["name"].(string)
		phone, okPhone := obj["phone"].(string)
		if !okName || !okPhone {
			return nil, fmt.Errorf("invalid contact at index %d", i)
		}
		list = append(list, Contact{Name: name, Phone: phone})
	}
	return list, nil
}

// Store reads and writes contact lists through the KV layer. Writes for the
// same device are serialized.
type Store struct {
	kv     store.KV
	locks  *store.DeviceLocks
	logger *zap.Logger
}

func NewStore(kv store.KV, logger *zap.Logger) *Store {
	return &Store{kv: kv, locks: store.NewDeviceLocks(), logger: logger}
}

// List returns the device's contacts. Missing or corrupt data yields an
// empty list.
func (s *Store) List(ctx context.Context, deviceID string) []Contact {
	data, err := s.kv.Get(ctx, store.DeviceKey(deviceID, store.KeyEmergencyContacts))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read contacts", zap.String("device_id", deviceID), zap.Error(err))
		}
		return []Contact{}
	}
	list, err := Decode(data)
	if err != nil {
		s.logger.Warn("discarding corrupt contact list", zap.String("device_id", deviceID), zap.Error(err))
		return []Contact{}
	}
	return list
}

// Save replaces the device's contact list.
func (s *Store) Save(ctx context.Context, deviceID string, list []Contact) error {
	defer s.locks.Lock(deviceID)()
	return s.save(ctx, deviceID, list)
}

func (s *Store) save(ctx context.Context, deviceID string, list []Contact) error {
	data, err := Encode(list)
	if err != nil {
		return fmt.Errorf("failed to encode contacts: %w", err)
	}
	return s.kv.Set(ctx, store.DeviceKey(deviceID, store.KeyEmergencyContacts), data)
}

// Add appends a contact and returns the new list.
func (s *Store) Add(ctx context.Context, deviceID string, c Contact) ([]Contact, error) {
	c = Contact{Name: strings.TrimSpace(c.Name), Phone: strings.TrimSpace(c.Phone)}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	defer s.locks.Lock(deviceID)()
	list := append(s.List(ctx, deviceID), c)
	if err := s.save(ctx, deviceID, list); err != nil {
		return nil, err
	}
	return list, nil
}

// Remove deletes the first contact equal to c. It reports whether one was found.
func (s *Store) Remove(ctx context.Context, deviceID string, c Contact) ([]Contact, bool, error) {
	defer s.locks.Lock(deviceID)()
	list := s.List(ctx, deviceID)
	for i, existing := range list {
		if existing == c {
			list = append(list[:i], list[i+1:]...)
			if err := s.save(ctx, deviceID, list); err != nil {
				return nil, false, err
			}
			return list, true, nil
		}
	}
	return list, false, nil
}
