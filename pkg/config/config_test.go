package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 800.0, cfg.Safety.ShakeThreshold)
	assert.Equal(t, 3, cfg.Safety.ShakeCountThreshold)
	assert.Equal(t, 500.0, cfg.Safety.DeviationMeters)
	assert.Equal(t, 50.0, cfg.Safety.ArrivalMeters)
	assert.Equal(t, 5*time.Minute, cfg.Safety.CheckInGrace)
	assert.Equal(t, 30*time.Second, cfg.Safety.TorchAutoOff)
	assert.Equal(t, time.Duration(0), cfg.Safety.DeviationCooldown)
	assert.False(t, cfg.MQTT.Enabled())
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Disabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SHAKE_THRESHOLD", "15")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ROUTE_DEVIATION_COOLDOWN", "2m")
	t.Setenv("MQTT_BROKER", "tcp://localhost:1883")
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("REDIS_DISABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15.0, cfg.Safety.ShakeThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.Safety.DeviationCooldown)
	assert.True(t, cfg.MQTT.Enabled())
	assert.True(t, cfg.Database.Enabled)
	assert.True(t, cfg.Redis.Disabled)
}

func TestLoad_RejectsInvertedRouteThresholds(t *testing.T) {
	t.Setenv("ROUTE_ARRIVAL_METERS", "600")

	_, err := Load()
	require.Error(t, err)
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.ConnectionString())
}
