package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HEARTH_STEP_BUDGET", "")
	t.Setenv("HEARTH_FAST_TRACK", "")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 6, cfg.Model.StepBudget)
	assert.True(t, cfg.Model.FastTrack)
	assert.Equal(t, DefaultFastTrackPrompt, cfg.Model.FastTrackPrompt)
	assert.False(t, cfg.Langfuse.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HEARTH_STEP_BUDGET", "3")
	t.Setenv("HEARTH_FAST_TRACK", "false")
	t.Setenv("HEARTH_TEMPERATURE", "0.9")
	t.Setenv("HEARTH_TOOL_TIMEOUT", "5s")
	t.Setenv("HEARTH_API_KEYS", " a, ,b ")
	t.Setenv("HEARTH_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk")
	t.Setenv("LANGFUSE_SECRET_KEY", "sk")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Model.StepBudget)
	assert.False(t, cfg.Model.FastTrack)
	assert.InDelta(t, 0.9, cfg.Model.Temperature, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.Tools.HTTPTimeout)
	assert.Equal(t, []string{"a", "b"}, cfg.Auth.APIKeys)
	assert.Equal(t, "/tmp/x.db", cfg.Store.SQLiteFile())
	assert.True(t, cfg.Langfuse.Enabled())
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("HEARTH_PORT", "not-a-number")
	t.Setenv("HEARTH_FAST_TRACK", "maybe")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.Model.FastTrack)
}

func TestValidateRejects(t *testing.T) {
	cfg := Load()
	cfg.Model.StepBudget = 0
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Store.Driver = "postgres"
	assert.Error(t, cfg.Validate())
}

func TestGuardsAndStateDefaults(t *testing.T) {
	t.Setenv("HEARTH_STATE_TTL", "30m")
	t.Setenv("HEARTH_GUARD_SENSITIVITY", "")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Minute, cfg.State.TTL)
	assert.Equal(t, 10*time.Minute, cfg.State.SweepInterval)
	assert.Equal(t, 16000, cfg.Guards.MaxMessageChars)
	assert.Equal(t, "medium", cfg.Guards.Sensitivity)

	cfg.Guards.Sensitivity = "paranoid"
	assert.Error(t, cfg.Validate())
}

func TestTelemetrySampling(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)
	assert.True(t, cfg.Telemetry.Insecure)

	cfg.Telemetry.SampleRatio = 1.5
	assert.Error(t, cfg.Validate())
}
