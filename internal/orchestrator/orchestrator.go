// Package orchestrator runs the reasoning loop of a conversation turn.
//
// A turn starts with a fast-track classification. Turns that can be
// answered from model knowledge go straight to the reply. All others think
// first:
//
//	observe → draft → plan → (next → use → act)* → reply
//
// Each phase is a span of the turn's trace and each model call a
// generation. The reply is streamed; its generation stays open until the
// stream package finishes it.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/internal/executor"
	"github.com/agentoven/hearth/internal/router"
	"github.com/agentoven/hearth/internal/state"
	"github.com/agentoven/hearth/internal/tools"
	"github.com/agentoven/hearth/internal/tracing"
	"github.com/agentoven/hearth/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrReasoningFailed is returned when a turn cannot produce a reply.
var ErrReasoningFailed = errors.New("reasoning failed")

// Router is the model access the loop needs.
type Router interface {
	CompleteWithFallback(ctx context.Context, req router.Request, alt string) (*router.Response, string, error)
	StreamWithFallback(ctx context.Context, req router.Request, alt string) (router.TokenStream, string, error)
}

// Orchestrator drives turns. It holds no per-turn state and is safe for
// concurrent use across conversations.
type Orchestrator struct {
	router   Router
	registry *tools.Registry
	engine   *executor.Engine
	cfg      config.ModelConfig
}

func New(r Router, registry *tools.Registry, engine *executor.Engine, cfg config.ModelConfig) *Orchestrator {
	return &Orchestrator{router: r, registry: registry, engine: engine, cfg: cfg}
}

// Reply is the streamed answer of a turn.
type Reply struct {
	Stream       router.TokenStream
	GenerationID string
	Model        string
	FastTrack    bool
}

// cycle is the per-turn working set.
type cycle struct {
	st  *state.Store
	obs *tracing.Observer
}

// Run reasons over the conversation in st and opens the reply stream. The
// caller owns the trace: it must be initialized on obs before Run and is
// left open for the stream finalizer.
func (o *Orchestrator) Run(ctx context.Context, st *state.Store, obs *tracing.Observer) (*Reply, error) {
	c := &cycle{st: st, obs: obs}

	fast, err := o.FastTrack(ctx, c)
	if err != nil {
		return nil, err
	}
	st.UpdateConfig(func(cfg *state.Config) { cfg.FastTrack = fast })
	if fast {
		return o.reply(ctx, c, true)
	}

	if err := o.think(ctx, c); err != nil {
		return nil, err
	}
	return o.reply(ctx, c, false)
}

func (o *Orchestrator) think(ctx context.Context, c *cycle) error {
	if err := o.observe(ctx, c); err != nil {
		return err
	}
	if err := o.draft(ctx, c); err != nil {
		return err
	}
	if err := o.plan(ctx, c); err != nil {
		return err
	}
	for ShouldContinueThinking(c.st.Snapshot(), o.cfg.StepBudget) {
		if err := o.step(ctx, c); err != nil {
			return err
		}
	}
	snap := c.st.Snapshot()
	log.Debug().
		Str("conversation_id", snap.Config.ConversationID).
		Int("steps", snap.Config.Step).
		Str("last_tool", snap.Config.CurrentTool).
		Msg("Thinking finished")
	return nil
}

// ShouldContinueThinking reports whether the loop has work left. The
// final_answer tool stops it at once, as does reaching the step budget.
// Otherwise it continues while a task has a pending action or none yet.
func ShouldContinueThinking(s state.ConversationState, budget int) bool {
	if s.Config.CurrentTool == tools.FinalAnswerName {
		return false
	}
	if s.Config.Step >= budget {
		return false
	}
	return executor.HasOpenWork(s.Interaction.Tasks)
}

// FastTrack classifies whether the latest user turn can be answered without
// tools. Provider failures count as "no". The decision is recorded as an
// event so the fast path creates no generation besides the reply.
func (o *Orchestrator) FastTrack(ctx context.Context, c *cycle) (bool, error) {
	if !o.cfg.FastTrack {
		return false, nil
	}
	snap := c.st.Snapshot()
	last := lastUserMessage(snap.Interaction.Messages)
	if last == "" {
		return false, nil
	}

	resp, used, err := o.router.CompleteWithFallback(ctx, router.Request{
		Name:      "fast_track",
		Model:     snap.Config.Model,
		Messages:  fastTrackPrompt(o.cfg.FastTrackPrompt, snap),
		MaxTokens: 5,
	}, snap.Config.AltModel)

	ev := tracing.EventSpec{Name: "fast_track", Input: last}
	verdict := false
	if err != nil {
		log.Warn().Err(err).Msg("Fast-track classification failed, reasoning in full")
		ev.Level = tracing.LevelWarning
		ev.Output = map[string]interface{}{"fast_track": false, "error": err.Error()}
	} else {
		verdict = isAffirmative(resp.Content)
		ev.Output = map[string]interface{}{"fast_track": verdict, "answer": resp.Content, "model": used}
	}
	if _, err := c.obs.RecordEvent(ctx, ev, ""); err != nil {
		return false, err
	}
	return verdict, nil
}

// phase runs fn inside a span named name.
func (o *Orchestrator) phase(ctx context.Context, c *cycle, name string, fn func(spanID string) (interface{}, error)) error {
	spanID, err := c.obs.StartSpan(ctx, tracing.SpanSpec{Name: name})
	if err != nil {
		return err
	}
	out, err := fn(spanID)
	if err != nil {
		out = map[string]string{"error": err.Error()}
	}
	if endErr := c.obs.EndSpan(ctx, spanID, out); endErr != nil && err == nil {
		err = endErr
	}
	return err
}

// generate performs one traced model call under parentSpanID.
func (o *Orchestrator) generate(ctx context.Context, c *cycle, name, parentSpanID string, msgs []models.ChatMessage) (string, error) {
	cfg := c.st.Snapshot().Config
	genID, err := c.obs.StartGeneration(ctx, tracing.GenerationSpec{
		Name:            name,
		Model:           cfg.Model,
		ModelParameters: params(o.cfg.MaxTokens, o.cfg.Temperature),
		Input:           msgs,
	}, parentSpanID)
	if err != nil {
		return "", err
	}

	resp, used, err := o.router.CompleteWithFallback(ctx, router.Request{Name: name, Model: cfg.Model, Messages: msgs}, cfg.AltModel)
	if err != nil {
		if endErr := c.obs.EndGeneration(ctx, genID, nil, tracing.WithModel(used), tracing.WithError(err)); endErr != nil {
			return "", endErr
		}
		return "", err
	}
	if err := c.obs.EndGeneration(ctx, genID, resp.Content, tracing.WithModel(used), tracing.WithUsage(resp.Usage)); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// degradable reports whether a model failure may be replaced by an empty
// result. Rate limits left after the fallback retry are not degradable.
func degradable(err error) bool {
	return errors.Is(err, router.ErrProvider) && !errors.Is(err, router.ErrRateLimited)
}

func failed(phase string, err error) error {
	if errors.Is(err, tracing.ErrTracingMisuse) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrReasoningFailed, phase, err)
}

func (o *Orchestrator) observe(ctx context.Context, c *cycle) error {
	return o.phase(ctx, c, "observe", func(spanID string) (interface{}, error) {
		snap := c.st.Snapshot()

		env, err := o.generate(ctx, c, "environment", spanID, environmentPrompt(snap))
		if err != nil {
			if !degradable(err) {
				return nil, failed("observe", err)
			}
			log.Warn().Err(err).Msg("Observe: environment unavailable")
		}
		intent, err := o.generate(ctx, c, "context", spanID, contextPrompt(snap))
		if err != nil {
			if !degradable(err) {
				return nil, failed("observe", err)
			}
			log.Warn().Err(err).Msg("Observe: context unavailable")
		}

		c.st.UpdateThoughts(func(t *state.Thoughts) {
			t.Environment = env
			t.Context = intent
		})
		return map[string]string{"environment": env, "context": intent}, nil
	})
}

func (o *Orchestrator) draft(ctx context.Context, c *cycle) error {
	return o.phase(ctx, c, "draft", func(spanID string) (interface{}, error) {
		snap := c.st.Snapshot()

		var candidates, memory []string
		answer, err := o.generate(ctx, c, "tools", spanID, draftToolsPrompt(snap, o.registry))
		switch {
		case err != nil && !degradable(err):
			return nil, failed("draft", err)
		case err != nil:
			log.Warn().Err(err).Msg("Draft: tool candidates unavailable")
		default:
			if candidates, err = parseStringList(answer); err != nil {
				log.Warn().Err(err).Msg("Draft: tool candidates unreadable")
			}
		}

		answer, err = o.generate(ctx, c, "memory", spanID, draftMemoryPrompt(snap))
		switch {
		case err != nil && !degradable(err):
			return nil, failed("draft", err)
		case err != nil:
			log.Warn().Err(err).Msg("Draft: memory unavailable")
		default:
			if memory, err = parseStringList(answer); err != nil {
				log.Warn().Err(err).Msg("Draft: memory unreadable")
			}
		}

		c.st.UpdateThoughts(func(t *state.Thoughts) {
			t.Tools = candidates
			t.Memory = memory
		})
		return map[string][]string{"tools": candidates, "memory": memory}, nil
	})
}

func (o *Orchestrator) plan(ctx context.Context, c *cycle) error {
	return o.phase(ctx, c, "plan", func(spanID string) (interface{}, error) {
		snap := c.st.Snapshot()

		answer, err := o.generate(ctx, c, "plan", spanID, planPrompt(snap, o.registry))
		if err != nil {
			return nil, failed("plan", err)
		}
		specs, err := parseTaskSpecs(answer)
		if err != nil {
			log.Warn().Err(err).Msg("Plan unreadable, answering without tasks")
			return []models.TaskSpec{}, nil
		}

		tasks, err := o.engine.CreateTasks(ctx, snap.Config.ConversationID, specs)
		if err != nil {
			return nil, failed("plan", err)
		}
		c.st.UpdateInteraction(func(in *state.Interaction) {
			in.Tasks = append(in.Tasks, tasks...)
		})
		return specs, nil
	})
}

// step runs one next → use → act iteration and advances config.step.
func (o *Orchestrator) step(ctx context.Context, c *cycle) error {
	n := c.st.Snapshot().Config.Step + 1
	defer c.st.UpdateConfig(func(cfg *state.Config) { cfg.Step++ })

	return o.phase(ctx, c, fmt.Sprintf("step-%d", n), func(spanID string) (interface{}, error) {
		action, task, ok, err := o.next(ctx, c, spanID)
		if err != nil || !ok {
			return nil, err
		}
		action, payload, err := o.use(ctx, c, spanID, task, action)
		if err != nil {
			return nil, err
		}
		done, err := o.act(ctx, c, spanID, action, payload)
		if err != nil {
			return nil, err
		}
		return done, nil
	})
}

// next selects the pending action to run, or maps the next unplanned task
// to a tool and creates its action.
func (o *Orchestrator) next(ctx context.Context, c *cycle, spanID string) (models.Action, models.Task, bool, error) {
	snap := c.st.Snapshot()

	action, task, ok := executor.SelectNextAction(snap.Interaction.Tasks)
	if !ok {
		task, ok = executor.NextUnplannedTask(snap.Interaction.Tasks)
		if !ok {
			return models.Action{}, models.Task{}, false, nil
		}

		answer, err := o.generate(ctx, c, "next", spanID, nextPrompt(snap, o.registry, task))
		if err != nil {
			return models.Action{}, models.Task{}, false, failed("next", err)
		}
		choice := parseToolChoice(answer)
		if choice.Tool == "" {
			log.Warn().Str("task", task.Name).Msg("Next named no tool, finishing")
			choice.Tool = tools.FinalAnswerName
		}
		choice.Action = o.resolveAction(choice.Tool, choice.Action)

		action, err = o.engine.CreateAction(ctx, task, choice.Tool, choice.Action)
		if err != nil {
			return models.Action{}, models.Task{}, false, failed("next", err)
		}
		c.st.ReplaceAction(action)
	}

	c.st.UpdateConfig(func(cfg *state.Config) {
		cfg.CurrentTask = task.ID
		cfg.CurrentAction = action.ID
		cfg.CurrentTool = action.ToolID
	})
	return action, task, true, nil
}

// resolveAction keeps a named action only if the tool has it. A tool with a
// single action needs no name; otherwise an empty result leaves the choice
// to use.
func (o *Orchestrator) resolveAction(toolName, name string) string {
	t, err := o.registry.Lookup(toolName)
	if err != nil {
		return name
	}
	specs := t.Actions()
	for _, a := range specs {
		if a.Name == name {
			return name
		}
	}
	if len(specs) == 1 {
		return specs[0].Name
	}
	if name != "" {
		log.Warn().Str("tool", toolName).Str("action", name).Msg("Model named an action the tool lacks")
	}
	return ""
}

// use asks the model for the invocation payload. Unknown tools get no
// payload; act fails their action. When next left the action open the
// model picks it here and the action is renamed before it runs.
func (o *Orchestrator) use(ctx context.Context, c *cycle, spanID string, task models.Task, action models.Action) (models.Action, json.RawMessage, error) {
	tool, err := o.registry.Lookup(action.ToolID)
	if err != nil {
		return action, nil, nil
	}
	snap := c.st.Snapshot()

	answer, err := o.generate(ctx, c, "use", spanID, usePrompt(snap, task, action, tool))
	if err != nil {
		return action, nil, failed("use", err)
	}

	var payload map[string]interface{}
	if action.Name == "" {
		var call actionCall
		if err := extractJSON(answer, &call); err != nil || call.Action == "" {
			log.Warn().Str("tool", tool.Name()).Msg("Use chose no action")
			return action, json.RawMessage(`{}`), nil
		}
		named, err := o.engine.NameAction(ctx, action, o.resolveAction(tool.Name(), call.Action))
		if err != nil {
			return action, nil, failed("use", err)
		}
		action = named
		c.st.ReplaceAction(action)
		payload = call.Input
	} else if err := extractJSON(answer, &payload); err != nil {
		log.Warn().Err(err).Str("tool", tool.Name()).Msg("Use produced no payload")
		return action, json.RawMessage(`{}`), nil
	}

	if payload == nil {
		return action, json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return action, nil, failed("use", err)
	}
	return action, raw, nil
}

// act resolves the tool and executes the action. A missing tool fails the
// action only.
func (o *Orchestrator) act(ctx context.Context, c *cycle, spanID string, action models.Action, payload json.RawMessage) (models.Action, error) {
	var done models.Action
	tool, err := o.registry.Lookup(action.ToolID)
	if err != nil {
		done, err = o.engine.FailAction(ctx, action, err)
		if err != nil {
			return action, failed("act", err)
		}
	} else {
		done, err = o.engine.ExecuteAction(ctx, action, payload, tool, c.obs.Context(spanID))
		if err != nil {
			return action, failed("act", err)
		}
	}

	entry := toolContextEntry(done)
	c.st.ReplaceAction(done)
	c.st.UpdateInteraction(func(in *state.Interaction) {
		in.ToolContext = append(in.ToolContext, entry)
	})

	ev := tracing.EventSpec{Name: "act", Input: payload, Output: entry}
	if done.Status == models.ActionFailed {
		ev.Level = tracing.LevelWarning
	}
	if _, err := c.obs.RecordEvent(ctx, ev, spanID); err != nil {
		return done, err
	}
	return done, nil
}

// reply opens the streamed answer under the trace.
func (o *Orchestrator) reply(ctx context.Context, c *cycle, fast bool) (*Reply, error) {
	snap := c.st.Snapshot()
	msgs := replyPrompt(snap, fast)

	genID, err := c.obs.StartGeneration(ctx, tracing.GenerationSpec{
		Name:            "reply",
		Model:           snap.Config.Model,
		ModelParameters: params(o.cfg.MaxTokens, o.cfg.Temperature),
		Input:           msgs,
	}, "")
	if err != nil {
		return nil, err
	}

	src, used, err := o.router.StreamWithFallback(ctx, router.Request{Name: "reply", Model: snap.Config.Model, Messages: msgs}, snap.Config.AltModel)
	if err != nil {
		if endErr := c.obs.EndGeneration(ctx, genID, nil, tracing.WithModel(used), tracing.WithError(err)); endErr != nil {
			return nil, endErr
		}
		return nil, failed("reply", err)
	}
	return &Reply{Stream: src, GenerationID: genID, Model: used, FastTrack: fast}, nil
}
