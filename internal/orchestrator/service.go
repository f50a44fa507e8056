package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/internal/guardrails"
	"github.com/agentoven/hearth/internal/state"
	"github.com/agentoven/hearth/internal/store"
	"github.com/agentoven/hearth/internal/stream"
	"github.com/agentoven/hearth/internal/tools"
	"github.com/agentoven/hearth/internal/tracing"
	"github.com/agentoven/hearth/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrEmptyMessage is returned for turns without user content.
var ErrEmptyMessage = errors.New("message is required")

// Service runs turns end to end: it scopes state per conversation, loads
// history, traces the turn and hands the reply to the stream finalizer.
type Service struct {
	orch     *Orchestrator
	store    store.Store
	sessions *state.Manager
	registry *tools.Registry
	exporter tracing.Exporter
	guard    *guardrails.Screener
	cfg      *config.Config
}

func NewService(orch *Orchestrator, s store.Store, sessions *state.Manager, registry *tools.Registry, exp tracing.Exporter, cfg *config.Config) *Service {
	if exp == nil {
		exp = tracing.NopExporter{}
	}
	return &Service{
		orch:     orch,
		store:    s,
		sessions: sessions,
		registry: registry,
		exporter: exp,
		guard:    guardrails.NewScreener(cfg.Guards),
		cfg:      cfg,
	}
}

// TurnRequest is one user message.
type TurnRequest struct {
	ConversationID string
	UserID         string
	Message        string
}

// Turn is a turn whose reply is ready to stream. Stream must be called
// exactly once; it releases the conversation when done.
type Turn struct {
	ID             string
	ConversationID string
	TraceID        string
	Model          string
	FastTrack      bool

	reply   *Reply
	fin     *stream.Finalizer
	release func()
}

// Stream pipes the reply to sink and settles the turn.
func (t *Turn) Stream(ctx context.Context, sink stream.Sink) (string, error) {
	defer t.release()
	return t.fin.Pipe(ctx, t.reply.Stream, sink)
}

// Abandon settles a turn whose reply will never be streamed.
func (t *Turn) Abandon(ctx context.Context, cause error) {
	defer t.release()
	_ = t.reply.Stream.Close()
	if err := t.fin.Finish(ctx, "", cause); err != nil {
		log.Warn().Err(err).Str("turn_id", t.ID).Msg("Failed to settle abandoned turn")
	}
}

// Start runs the reasoning part of a turn. On failure the trace is closed
// with an error event and the conversation released.
func (s *Service) Start(ctx context.Context, req TurnRequest) (*Turn, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	findings, err := s.guard.Screen(req.Message)
	if err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	st := state.New(state.ConversationState{
		Config: state.Config{
			Model:          s.cfg.Model.Default,
			AltModel:       s.cfg.Model.Fallback,
			UserID:         req.UserID,
			ConversationID: req.ConversationID,
		},
		Profile: state.Profile{
			AssistantName: s.cfg.Profile.AssistantName,
			UserName:      s.cfg.Profile.UserName,
		},
		Session: state.Session{Tools: s.registry.Infos()},
	})
	release, err := s.sessions.Acquire(req.ConversationID, st)
	if err != nil {
		return nil, err
	}

	turn, err := s.start(ctx, req, st, findings, release)
	if err != nil {
		release()
		return nil, err
	}
	return turn, nil
}

func (s *Service) start(ctx context.Context, req TurnRequest, st *state.Store, findings []guardrails.Finding, release func()) (*Turn, error) {
	if _, err := s.store.EnsureConversation(ctx, req.ConversationID, req.UserID); err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	history, err := s.store.ListMessages(ctx, req.ConversationID, s.cfg.Model.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	userMsg, err := s.store.AppendMessage(ctx, &models.Message{
		ConversationID: req.ConversationID,
		Role:           models.RoleUser,
		Content:        req.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	st.UpdateInteraction(func(in *state.Interaction) {
		in.Messages = append(history, *userMsg)
	})

	obs := tracing.NewObserver(s.exporter)
	traceID, err := obs.InitializeTrace(ctx, tracing.TraceSpec{
		Name:      "turn",
		UserID:    req.UserID,
		SessionID: req.ConversationID,
		Input:     req.Message,
		Metadata:  map[string]interface{}{"model": s.cfg.Model.Default, "version": s.cfg.Version},
	})
	if err != nil {
		return nil, err
	}
	if len(findings) > 0 {
		if _, err := obs.RecordEvent(ctx, tracing.EventSpec{Name: "guardrail", Input: req.Message, Output: findings, Level: tracing.LevelWarning}, ""); err != nil {
			return nil, err
		}
	}

	reply, err := s.orch.Run(ctx, st, obs)
	if err != nil {
		s.abort(ctx, obs, st, err)
		return nil, err
	}

	turnID := "chatcmpl-" + uuid.NewString()
	fin := stream.NewFinalizer(turnID, reply.Model, stream.Flush{
		Observer:     obs,
		GenerationID: reply.GenerationID,
		Messages:     st.Snapshot().Interaction.Messages,
		Persist: func(ctx context.Context, content string) error {
			msg, err := s.store.AppendMessage(ctx, &models.Message{
				ConversationID: req.ConversationID,
				Role:           models.RoleAssistant,
				Content:        content,
			})
			if err != nil {
				return err
			}
			st.AppendMessage(*msg)
			return nil
		},
	})

	log.Info().
		Str("conversation_id", req.ConversationID).
		Str("trace_id", traceID).
		Bool("fast_track", reply.FastTrack).
		Str("model", reply.Model).
		Msg("Turn replying")

	return &Turn{
		ID:             turnID,
		ConversationID: req.ConversationID,
		TraceID:        traceID,
		Model:          reply.Model,
		FastTrack:      reply.FastTrack,
		reply:          reply,
		fin:            fin,
		release:        release,
	}, nil
}

// abort records why a turn failed and closes its trace.
func (s *Service) abort(ctx context.Context, obs *tracing.Observer, st *state.Store, cause error) {
	log.Error().Err(cause).Str("conversation_id", st.Snapshot().Config.ConversationID).Msg("Turn failed")
	ctx = context.WithoutCancel(ctx)
	if !obs.Active() {
		return
	}
	if _, err := obs.RecordEvent(ctx, tracing.EventSpec{Name: "error", Output: cause.Error(), Level: tracing.LevelError}, ""); err != nil {
		log.Error().Err(err).Msg("Failed to record turn error")
	}
	if err := obs.FinalizeTrace(ctx, st.Snapshot().Interaction.Messages, stream.FailureMessage); err != nil {
		log.Error().Err(err).Msg("Failed to finalize failed turn")
	}
}

// State returns the latest state snapshot of a conversation.
func (s *Service) State(conversationID string) (state.ConversationState, bool) {
	st, ok := s.sessions.Get(conversationID)
	if !ok {
		return state.ConversationState{}, false
	}
	return st.Snapshot(), true
}

func (s *Service) Registry() *tools.Registry { return s.registry }

// Shutdown flushes and closes the trace exporter shared by all turns.
func (s *Service) Shutdown(ctx context.Context) error {
	return tracing.NewObserver(s.exporter).Shutdown(ctx)
}
