// Package store is the persisted key-value layer for per-device state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Logical keys kept for every device.
const (
	KeyEmergencyContacts   = "emergency_contacts"
	KeyCheckInInterval     = "checkin_interval"
	KeySilentMode          = "silent_mode"
	KeySMSInterval         = "sms_interval"
	KeyPoliceNumber        = "police_number"
	KeyWomenHelpline       = "women_helpline"
	KeyTrackingDestination = "tracking_destination"
	KeyLastDeviationAlert  = "last_deviation_alert"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// KV is the minimal key-value contract the safety components persist through.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// DeviceKey namespaces a logical key under a device id.
func DeviceKey(deviceID, name string) string {
	return deviceID + ":" + name
}

// RedisKV stores values in Redis under "<prefix>:<key>" without expiry.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV creates a Redis backed KV.
func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

func (r *RedisKV) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// GetJSON decodes the JSON value at key into v.
func GetJSON(ctx context.Context, kv KV, key string, v interface{}) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v as JSON and stores it at key.
func SetJSON(ctx context.Context, kv KV, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return kv.Set(ctx, key, string(data))
}
