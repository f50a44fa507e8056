// Package retention evicts conversation states that have been idle longer
// than the configured TTL. Conversation history lives in the store; the
// in-memory state is only a cache of the latest cycle and is rebuilt from
// the store on the next turn.
package retention

import (
	"context"
	"time"

	"github.com/agentoven/hearth/internal/state"
	"github.com/rs/zerolog/log"
)

// DefaultStateTTL is how long an idle conversation state is kept.
const DefaultStateTTL = time.Hour

// CycleStats tracks what happened in a single sweep.
type CycleStats struct {
	Evicted  int
	Duration time.Duration
}

// Janitor periodically evicts idle conversation states.
type Janitor struct {
	sessions *state.Manager
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
}

// NewJanitor creates a janitor sweeping every interval.
func NewJanitor(sessions *state.Manager, interval, ttl time.Duration) *Janitor {
	if interval < time.Second {
		interval = time.Minute
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &Janitor{sessions: sessions, interval: interval, ttl: ttl, now: time.Now}
}

// Start runs sweeps until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("ttl", j.ttl).
		Msg("State janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("State janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle()
		}
	}
}

// RunCycle performs one sweep. States with a cycle in flight are never
// evicted.
func (j *Janitor) RunCycle() CycleStats {
	start := j.now()
	stats := CycleStats{Evicted: j.sessions.Evict(start.Add(-j.ttl))}
	stats.Duration = j.now().Sub(start)

	if stats.Evicted > 0 {
		log.Info().
			Int("evicted", stats.Evicted).
			Dur("duration", stats.Duration).
			Msg("State janitor sweep")
	}
	return stats
}
