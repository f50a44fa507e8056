// Package executor implements the task and action engine.
//
// Tasks are planned units of work ordered by sequence. Each task holds
// actions, the individual tool invocations, which move through
//
//	pending → running → completed | failed
//
// with a direct pending → failed edge for actions whose tool could not be
// resolved. The engine persists every transition.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/hearth/internal/store"
	"github.com/agentoven/hearth/internal/tools"
	"github.com/agentoven/hearth/internal/tracing"
	"github.com/agentoven/hearth/pkg/models"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidTransition is returned for moves the status machine forbids.
	ErrInvalidTransition = errors.New("invalid action transition")
	// ErrToolExecution prefixes the error recorded on an action whose tool
	// raised an exception.
	ErrToolExecution = errors.New("tool execution failed")
)

// Engine creates and executes tasks and actions.
type Engine struct {
	store store.TaskStore
}

// NewEngine creates an engine persisting through s.
func NewEngine(s store.TaskStore) *Engine {
	return &Engine{store: s}
}

// CreateTasks persists specs as tasks with sequences 1..n in input order.
func (e *Engine) CreateTasks(ctx context.Context, conversationID string, specs []models.TaskSpec) ([]models.Task, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tasks := make([]models.Task, 0, len(specs))
	for i, spec := range specs {
		tasks = append(tasks, models.Task{
			ConversationID: conversationID,
			Name:           spec.Name,
			Description:    spec.Description,
			Sequence:       i + 1,
		})
	}
	stored, err := e.store.CreateTasks(ctx, tasks)
	if err != nil {
		return nil, fmt.Errorf("create tasks: %w", err)
	}
	log.Debug().Str("conversation_id", conversationID).Int("tasks", len(stored)).Msg("Tasks planned")
	return stored, nil
}

// CreateAction adds a pending action to task with the next sequence.
func (e *Engine) CreateAction(ctx context.Context, task models.Task, toolID, name string) (models.Action, error) {
	seq := 1
	for _, a := range task.Actions {
		if a.Sequence >= seq {
			seq = a.Sequence + 1
		}
	}
	stored, err := e.store.CreateAction(ctx, &models.Action{
		TaskID:   task.ID,
		ToolID:   toolID,
		Name:     name,
		Sequence: seq,
		Status:   models.ActionPending,
	})
	if err != nil {
		return models.Action{}, fmt.Errorf("create action: %w", err)
	}
	return *stored, nil
}

// SelectNextAction picks the lowest-sequence task that still has a pending
// action, then that task's lowest-sequence pending action.
func SelectNextAction(tasks []models.Task) (models.Action, models.Task, bool) {
	var (
		best    *models.Task
		bestAct *models.Action
	)
	for i := range tasks {
		t := &tasks[i]
		var cand *models.Action
		for j := range t.Actions {
			a := &t.Actions[j]
			if a.Status != models.ActionPending {
				continue
			}
			if cand == nil || a.Sequence < cand.Sequence {
				cand = a
			}
		}
		if cand == nil {
			continue
		}
		if best == nil || t.Sequence < best.Sequence {
			best, bestAct = t, cand
		}
	}
	if best == nil {
		return models.Action{}, models.Task{}, false
	}
	return *bestAct, *best, true
}

// NextUnplannedTask returns the lowest-sequence task with no actions yet.
func NextUnplannedTask(tasks []models.Task) (models.Task, bool) {
	var best *models.Task
	for i := range tasks {
		t := &tasks[i]
		if len(t.Actions) > 0 {
			continue
		}
		if best == nil || t.Sequence < best.Sequence {
			best = t
		}
	}
	if best == nil {
		return models.Task{}, false
	}
	return *best, true
}

// HasOpenWork reports whether any task has a pending action or no actions.
func HasOpenWork(tasks []models.Task) bool {
	for _, t := range tasks {
		if len(t.Actions) == 0 || t.HasPending() {
			return true
		}
	}
	return false
}

func (e *Engine) transition(ctx context.Context, a models.Action, to models.ActionStatus) (models.Action, error) {
	if !a.Status.CanTransition(to) {
		return a, fmt.Errorf("%w: %s → %s (action %s)", ErrInvalidTransition, a.Status, to, a.ID)
	}
	a.Status = to
	stored, err := e.store.UpdateAction(ctx, &a)
	if err != nil {
		return a, fmt.Errorf("persist action %s: %w", a.ID, err)
	}
	return *stored, nil
}

// NameAction sets the action a pending tool call will invoke, for calls
// whose action was only settled together with the payload.
func (e *Engine) NameAction(ctx context.Context, action models.Action, name string) (models.Action, error) {
	if action.Status != models.ActionPending {
		return action, fmt.Errorf("%w: %s is %s, not pending", ErrInvalidTransition, action.ID, action.Status)
	}
	action.Name = name
	stored, err := e.store.UpdateAction(ctx, &action)
	if err != nil {
		return action, fmt.Errorf("persist action %s: %w", action.ID, err)
	}
	return *stored, nil
}

// ExecuteAction runs a pending action against tool. Tool failures, both
// business failures and exceptions, end in the failed state and are not
// returned as errors; the error return is reserved for illegal transitions
// and persistence failures.
func (e *Engine) ExecuteAction(ctx context.Context, action models.Action, payload json.RawMessage, tool tools.Tool, tc tracing.TraceContext) (models.Action, error) {
	if action.Status != models.ActionPending {
		return action, fmt.Errorf("%w: %s is %s, not pending", ErrInvalidTransition, action.ID, action.Status)
	}
	action.Payload = payload
	running, err := e.transition(ctx, action, models.ActionRunning)
	if err != nil {
		return action, err
	}

	start := time.Now()
	res, execErr := invoke(ctx, tool, running.Name, payload, tc)

	final := running
	target := models.ActionCompleted
	switch {
	case execErr != nil:
		target = models.ActionFailed
		final.Error = fmt.Errorf("%w: %v", ErrToolExecution, execErr).Error()
	case !res.Success:
		target = models.ActionFailed
		final.Error = res.Error
		if final.Error == "" {
			final.Error = "tool reported failure"
		}
	}
	if res.Data != nil {
		if raw, err := json.Marshal(res.Data); err == nil {
			final.Result = raw
		} else {
			log.Warn().Err(err).Str("action_id", final.ID).Msg("Tool result not serializable")
		}
	}

	log.Info().
		Str("tool", tool.Name()).
		Str("action", running.Name).
		Str("status", string(target)).
		Dur("took", time.Since(start)).
		Msg("Action executed")

	return e.transition(ctx, final, target)
}

// FailAction moves a pending action straight to failed, for actions whose
// tool could not be resolved.
func (e *Engine) FailAction(ctx context.Context, action models.Action, cause error) (models.Action, error) {
	if cause != nil {
		action.Error = cause.Error()
	}
	return e.transition(ctx, action, models.ActionFailed)
}

// invoke calls the tool, turning panics into errors.
func invoke(ctx context.Context, tool tools.Tool, action string, payload json.RawMessage, tc tracing.TraceContext) (res tools.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), r)
		}
	}()
	return tool.Execute(ctx, action, payload, tc)
}
