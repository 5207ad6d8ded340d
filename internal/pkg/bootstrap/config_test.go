package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Reservation.LockWait)
	assert.Equal(t, 10*time.Second, cfg.Reservation.LockHold)
	assert.Equal(t, 8*time.Second, cfg.Reservation.ReserveTimeout)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, "payment.result", cfg.Infra.Kafka.PaymentResultTopic)
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
app:
  port: 9090
reservation:
  lock_wait: 500ms
  reserve_timeout: 3s
  ttl: 2m
  admission_rule: "quantity <= 50"
storage:
  driver: memory
infra:
  kafka:
    brokers: "k1:9092, k2:9092"
`)
	t.Setenv("RESERVATION_LOCK_HOLD", "4s")
	t.Setenv("LOCK_BACKEND", "zookeeper")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Reservation.LockWait)
	assert.Equal(t, 4*time.Second, cfg.Reservation.LockHold)
	assert.Equal(t, 2*time.Minute, cfg.Reservation.TTL)
	assert.Equal(t, "quantity <= 50", cfg.Reservation.AdmissionRule)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "zookeeper", cfg.Lock.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Infra.Kafka.BrokerList())
	// 未在文件中出现的字段保留默认值
	assert.Equal(t, "payment.result.dlt", cfg.Infra.Kafka.DLTTopic)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "storage:\n  driver: postgres\n"},
		{"unknown lock backend", "lock:\n  backend: etcd\n"},
		{"non positive wait", "reservation:\n  lock_wait: 0s\n"},
		{"reserve timeout outlives lease", "reservation:\n  lock_hold: 10s\n  reserve_timeout: 15s\n"},
		{"zero attempts", "infra:\n  kafka:\n    max_attempts: 0\n"},
		{"broken yaml", "app: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestInit_SetsCurrentConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "app:\n  name: inventory-test\n"))

	cfg, err := Init()
	require.NoError(t, err)
	assert.Equal(t, "inventory-test", GetCurrentConfig().App.Name)
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_ShippedFile(t *testing.T) {
	cfg, err := LoadConfig("../../../configs/inventory-service.yaml")
	require.NoError(t, err)
	assert.Equal(t, "inventory-service", cfg.App.Name)
	assert.Equal(t, 3*time.Second, cfg.Reservation.LockWait)
	assert.Equal(t, 10*time.Second, cfg.Reservation.LockHold)
	assert.LessOrEqual(t, cfg.Reservation.ReserveTimeout, cfg.Reservation.LockHold)
	assert.Equal(t, 15*time.Minute, cfg.Reservation.TTL)
	assert.Equal(t, "payment.result", cfg.Infra.Kafka.PaymentResultTopic)
}
