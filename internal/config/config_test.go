package config

import (
	"testing"
	"time"

	"github.com/fortressi/durablesaga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "durablesaga", cfg.Temporal.TaskQueue)
	assert.Equal(t, 30*time.Second, cfg.Activity.Timeout)
	assert.Equal(t, 3, cfg.Compensation.MaxAttempts)

	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, durablesaga.CompensationSequential, mode)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DURABLESAGA_LOG_LEVEL", "debug")
	t.Setenv("DURABLESAGA_COMPENSATION_MODE", "parallel")
	t.Setenv("DURABLESAGA_ACTIVITY_TIMEOUT", "2s")
	t.Setenv("DURABLESAGA_COMPENSATION_MAX_ATTEMPTS", "7")
	t.Setenv("DURABLESAGA_STORE", "sqlite")
	t.Setenv("DURABLESAGA_STORE_PATH", "/tmp/sagas.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Activity.Timeout)
	assert.Equal(t, 3, cfg.Activity.MaxAttempts)
	assert.Equal(t, 7, cfg.Compensation.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Store.Driver)

	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, durablesaga.CompensationParallel, mode)

	opts := cfg.Compensation.Options()
	require.NotNil(t, opts.RetryPolicy)
	assert.Equal(t, 7, opts.RetryPolicy.MaxAttempts)
	assert.Equal(t, 30*time.Second, opts.StartToCloseTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"log level", map[string]string{"DURABLESAGA_LOG_LEVEL": "trace"}, "invalid log level"},
		{"mode", map[string]string{"DURABLESAGA_COMPENSATION_MODE": "random"}, "unknown compensation mode"},
		{"store", map[string]string{"DURABLESAGA_STORE": "postgres"}, "unsupported store"},
		{"attempts", map[string]string{"DURABLESAGA_ACTIVITY_MAX_ATTEMPTS": "0"}, "max attempts"},
		{"coefficient", map[string]string{"DURABLESAGA_COMPENSATION_BACKOFF_COEFFICIENT": "0.5"}, "backoff coefficient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
