package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/internal/tracing"
	"github.com/agentoven/hearth/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRegistryProbesCredentials(t *testing.T) {
	r := BuildRegistry(config.ToolsConfig{WebEnabled: true}, DefaultCapabilities())

	_, err := r.Lookup(WebName)
	require.NoError(t, err)
	_, err = r.Lookup(FinalAnswerName)
	require.NoError(t, err)

	_, err = r.Lookup(SpotifyName)
	require.ErrorIs(t, err, ErrToolNotFound)

	assert.Equal(t, []string{FinalAnswerName, WebName}, r.Names())
	assert.Contains(t, r.Infos(), models.ToolInfo{ID: SpotifyName, Name: SpotifyName, Available: false})
	assert.Contains(t, r.Infos(), models.ToolInfo{ID: WebName, Name: WebName, Available: true})
}

func TestLookupIsDeterministic(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		_, err := r.Lookup("spotify")
		require.ErrorIs(t, err, ErrToolNotFound)
		assert.Contains(t, err.Error(), "spotify")
	}
}

func TestFailingCapabilityIsSkipped(t *testing.T) {
	caps := []Capability{{
		Name:  "broken",
		Build: func(config.ToolsConfig) (Tool, error) { return nil, errors.New("no socket") },
	}}
	r := BuildRegistry(config.ToolsConfig{}, caps)
	_, err := r.Lookup("broken")
	require.ErrorIs(t, err, ErrToolNotFound)
	assert.Equal(t, []models.ToolInfo{{ID: "broken", Name: "broken", Available: false}}, r.Infos())
}

type echoInput struct {
	Text  string `json:"text" validate:"required"`
	Times int    `json:"times,omitempty" validate:"omitempty,min=1,max=3"`
}

func TestBindValidatesPayload(t *testing.T) {
	echo, err := Bind("echo", "Echo text", func(_ context.Context, in echoInput, tc tracing.TraceContext) (Result, error) {
		return Ok(map[string]string{"text": in.Text, "trace": tc.TraceID}), nil
	})
	require.NoError(t, err)
	tool := NewTool("echo", "echo tool", echo)

	specs := tool.Actions()
	require.Len(t, specs, 1)
	assert.Contains(t, string(specs[0].Schema), `"text"`)

	res, err := tool.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`), tracing.TraceContext{TraceID: "t1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]string{"text": "hi", "trace": "t1"}, res.Data)

	// single-action tools accept an empty action name
	res, err = tool.Execute(context.Background(), "", json.RawMessage(`{"text":"hi"}`), tracing.TraceContext{})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = tool.Execute(context.Background(), "echo", json.RawMessage(`{"times":9}`), tracing.TraceContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid payload")

	res, err = tool.Execute(context.Background(), "shout", nil, tracing.TraceContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestDecodePayload(t *testing.T) {
	in, err := DecodePayload[echoInput](json.RawMessage(`{"text":"x","times":2}`))
	require.NoError(t, err)
	assert.Equal(t, 2, in.Times)

	_, err = DecodePayload[echoInput](json.RawMessage(`not json`))
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodePayload[echoInput](nil)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestFinalAnswerEchoes(t *testing.T) {
	tool, err := NewFinalAnswer()
	require.NoError(t, err)
	res, err := tool.Execute(context.Background(), "respond", json.RawMessage(`{"answer":"done"}`), tracing.TraceContext{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}
