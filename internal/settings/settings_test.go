package settings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/safewalk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_Defaults(t *testing.T) {
	s := NewStore(store.NewMemoryKV(), zap.NewNop())
	got := s.Load(context.Background(), "d1")

	assert.Equal(t, Settings{
		CheckInInterval: 60,
		SilentMode:      false,
		SMSInterval:     "1",
		PoliceNumber:    "112",
		WomenHelpline:   "181",
	}, got)
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	s := NewStore(kv, zap.NewNop())

	in := Settings{CheckInInterval: 30, SilentMode: true, SMSInterval: " 2 ", PoliceNumber: "100", WomenHelpline: "1091"}
	require.NoError(t, s.Save(ctx, "d1", in))

	got := s.Load(ctx, "d1")
	assert.Equal(t, 30, got.CheckInInterval)
	assert.True(t, got.SilentMode)
	assert.Equal(t, "2", got.SMSInterval)
	assert.Equal(t, 2*time.Minute, got.SMSRepeatInterval())

	raw, err := kv.Get(ctx, store.DeviceKey("d1", store.KeySMSInterval))
	require.NoError(t, err)
	assert.Equal(t, "2", raw)
}

func TestSave_Rejects(t *testing.T) {
	s := NewStore(store.NewMemoryKV(), zap.NewNop())
	bad := []Settings{
		{CheckInInterval: 0, SMSInterval: "1", PoliceNumber: "1", WomenHelpline: "1"},
		{CheckInInterval: 1, SMSInterval: "x", PoliceNumber: "1", WomenHelpline: "1"},
		{CheckInInterval: 1, SMSInterval: "1", PoliceNumber: " ", WomenHelpline: "1"},
	}
	for _, b := range bad {
		assert.Error(t, s.Save(context.Background(), "d1", b))
	}
}

func TestLoad_IgnoresMalformedValues(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, store.DeviceKey("d1", store.KeyCheckInInterval), "soon"))
	require.NoError(t, kv.Set(ctx, store.DeviceKey("d1", store.KeySilentMode), "maybe"))

	got := NewStore(kv, zap.NewNop()).Load(ctx, "d1")
	assert.Equal(t, DefaultCheckInInterval, got.CheckInInterval)
	assert.False(t, got.SilentMode)
}

func TestSMSRepeatInterval_Fallback(t *testing.T) {
	assert.Equal(t, time.Minute, Settings{SMSInterval: "abc"}.SMSRepeatInterval())
	assert.Equal(t, 5*time.Minute, Settings{SMSInterval: "5"}.SMSRepeatInterval())
}

// slowKV delays reads so concurrent writers overlap on the round trip.
type slowKV struct {
	store.KV
}

func (k slowKV) Get(ctx context.Context, key string) (string, error) {
	time.Sleep(2 * time.Millisecond)
	return k.KV.Get(ctx, key)
}

func TestUpdate_ReturnsBeforeAndAfter(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemoryKV(), zap.NewNop())

	before, after, err := s.Update(ctx, "d1", func(in *Settings) { in.CheckInInterval = 15 })
	require.NoError(t, err)
	assert.Equal(t, DefaultCheckInInterval, before.CheckInInterval)
	assert.Equal(t, 15, after.CheckInInterval)
	assert.Equal(t, 15, s.Load(ctx, "d1").CheckInInterval)

	_, after, err = s.Update(ctx, "d1", func(in *Settings) { in.PoliceNumber = " " })
	require.Error(t, err)
	assert.Equal(t, "112", after.PoliceNumber)
	assert.Equal(t, "112", s.Load(ctx, "d1").PoliceNumber)
}

func TestUpdate_ConcurrentFieldsAreAllKept(t *testing.T) {
	ctx := context.Background()
	s := NewStore(slowKV{KV: store.NewMemoryKV()}, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		_, _, err := s.Update(ctx, "d1", func(in *Settings) { in.SilentMode = true })
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, _, err := s.Update(ctx, "d1", func(in *Settings) { in.PoliceNumber = "100" })
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, s.SetCheckInInterval(ctx, "d1", 20))
	}()
	wg.Wait()

	got := s.Load(ctx, "d1")
	assert.True(t, got.SilentMode)
	assert.Equal(t, "100", got.PoliceNumber)
	assert.Equal(t, 20, got.CheckInInterval)
}
