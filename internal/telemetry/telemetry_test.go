package telemetry

import (
	"context"
	"testing"

	"github.com/agentoven/hearth/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	for _, cfg := range []config.TelemetryConfig{
		{Enabled: false, OTLPEndpoint: "localhost:4317"},
		{Enabled: true},
	} {
		shutdown, err := Init(cfg, "test")
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	}
}

func TestSamplerByRatio(t *testing.T) {
	for ratio, want := range map[float64]string{
		1:    "root:AlwaysOnSampler",
		2:    "root:AlwaysOnSampler",
		0:    "root:AlwaysOffSampler",
		0.25: "root:TraceIDRatioBased{0.25}",
	} {
		desc := sampler(ratio).Description()
		assert.Contains(t, desc, "ParentBased")
		assert.Contains(t, desc, want, ratio)
	}
}
