package tools

import (
	"errors"
	"fmt"
	"sort"

	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrToolNotFound is returned by Lookup for names the registry does not hold.
var ErrToolNotFound = errors.New("tool not found")

// Capability describes a tool that may be installed if its credentials are
// configured.
type Capability struct {
	Name      string
	Available func(cfg config.ToolsConfig) bool
	Build     func(cfg config.ToolsConfig) (Tool, error)
}

// Registry maps tool names to tools. It is immutable after construction.
type Registry struct {
	tools map[string]Tool
	known []string
}

// BuildRegistry probes every capability once and installs the available
// ones. A capability that fails to build is left out and logged.
func BuildRegistry(cfg config.ToolsConfig, caps []Capability) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, c := range caps {
		r.known = append(r.known, c.Name)
		if c.Available != nil && !c.Available(cfg) {
			log.Info().Str("tool", c.Name).Msg("Tool unavailable: credentials not configured")
			continue
		}
		t, err := c.Build(cfg)
		if err != nil {
			log.Warn().Err(err).Str("tool", c.Name).Msg("Tool failed to initialize")
			continue
		}
		r.tools[c.Name] = t
		log.Info().Str("tool", c.Name).Msg("✅ Tool registered")
	}
	return r
}

// NewRegistry installs tools directly.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
		r.known = append(r.known, t.Name())
	}
	return r
}

// Lookup resolves a tool by name without I/O.
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Names lists installed tools in name order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Infos lists every known capability and whether it is installed.
func (r *Registry) Infos() []models.ToolInfo {
	out := make([]models.ToolInfo, 0, len(r.known))
	for _, name := range r.known {
		_, ok := r.tools[name]
		out = append(out, models.ToolInfo{ID: name, Name: name, Available: ok})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultCapabilities returns the built-in tool set.
func DefaultCapabilities() []Capability {
	return []Capability{
		{
			Name:  FinalAnswerName,
			Build: func(config.ToolsConfig) (Tool, error) { return NewFinalAnswer() },
		},
		{
			Name:      WebName,
			Available: func(cfg config.ToolsConfig) bool { return cfg.WebEnabled },
			Build:     func(cfg config.ToolsConfig) (Tool, error) { return NewWeb(cfg) },
		},
		{
			Name: SpotifyName,
			Available: func(cfg config.ToolsConfig) bool {
				return cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != ""
			},
			Build: func(cfg config.ToolsConfig) (Tool, error) { return NewSpotify(cfg) },
		},
	}
}
