package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestLogger_RedactsSecrets(t *testing.T) {
	log, logs := newObserved()

	log.Info("calling generator", "job_id", "job-1", "api_key", "sk-live", "Authorization", "Bearer x", "jwt_secret", "s")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-1", fields["job_id"])
	assert.Equal(t, "[REDACTED]", fields["api_key"])
	assert.Equal(t, "[REDACTED]", fields["Authorization"])
	assert.Equal(t, "[REDACTED]", fields["jwt_secret"])
}

func TestLogger_With(t *testing.T) {
	log, logs := newObserved()

	log.With("service", "JobService", "token", "abc").Warn("job failed", "job_id", "job-2")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "JobService", fields["service"])
	assert.Equal(t, "[REDACTED]", fields["token"])
	assert.Equal(t, "job-2", fields["job_id"])
}

func TestSanitizeKVs_OddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"job_id", "job-1", "dangling"})
	assert.Equal(t, []interface{}{"job_id", "job-1", "dangling"}, out)
	assert.Empty(t, sanitizeKVs(nil))
}

func TestNew(t *testing.T) {
	for _, mode := range []string{"development", "production", ""} {
		log, err := New(mode)
		require.NoError(t, err)
		assert.NotNil(t, log.SugaredLogger)
	}
}
