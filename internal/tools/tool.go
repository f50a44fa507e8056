// Package tools defines the tool capability contract and the registry the
// reasoning loop resolves tools from.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/agentoven/hearth/internal/tracing"
	"github.com/go-playground/validator/v10"
	jsonschema "github.com/swaggest/jsonschema-go"
)

// Result separates a business failure (Success false) from an exception,
// which is reported through the error return of Execute instead.
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Ok wraps data in a successful result.
func Ok(data interface{}) Result { return Result{Success: true, Data: data} }

// Fail builds a business-failure result.
func Fail(format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// ActionSpec describes one action a tool exposes and the JSON Schema of its
// payload.
type ActionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Tool is an external capability the loop can invoke.
type Tool interface {
	Name() string
	Description() string
	Actions() []ActionSpec
	Execute(ctx context.Context, action string, payload json.RawMessage, tc tracing.TraceContext) (Result, error)
}

// ErrInvalidPayload is wrapped when a payload does not decode or validate.
var ErrInvalidPayload = errors.New("invalid payload")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// DecodePayload unmarshals and validates an action payload.
func DecodePayload[T any](payload json.RawMessage) (T, error) {
	var in T
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payloadValidator().Struct(in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return in, nil
}

// Action is a typed action handler bound to its schema.
type Action struct {
	spec ActionSpec
	run  func(ctx context.Context, payload json.RawMessage, tc tracing.TraceContext) (Result, error)
}

// Bind builds an Action whose payload schema is reflected from T.
func Bind[T any](name, description string, fn func(ctx context.Context, in T, tc tracing.TraceContext) (Result, error)) (Action, error) {
	var zero T
	reflector := jsonschema.Reflector{}
	schema, err := reflector.Reflect(zero)
	if err != nil {
		return Action{}, fmt.Errorf("reflect %s schema: %w", name, err)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return Action{}, fmt.Errorf("marshal %s schema: %w", name, err)
	}
	return Action{
		spec: ActionSpec{Name: name, Description: description, Schema: raw},
		run: func(ctx context.Context, payload json.RawMessage, tc tracing.TraceContext) (Result, error) {
			in, err := DecodePayload[T](payload)
			if err != nil {
				return Fail("%v", err), nil
			}
			return fn(ctx, in, tc)
		},
	}, nil
}

// FuncTool is a Tool assembled from bound actions.
type FuncTool struct {
	name        string
	description string
	actions     map[string]Action
}

// NewTool assembles a tool from actions.
func NewTool(name, description string, actions ...Action) *FuncTool {
	t := &FuncTool{name: name, description: description, actions: make(map[string]Action, len(actions))}
	for _, a := range actions {
		t.actions[a.spec.Name] = a
	}
	return t
}

func (t *FuncTool) Name() string        { return t.name }
func (t *FuncTool) Description() string { return t.description }

func (t *FuncTool) Actions() []ActionSpec {
	out := make([]ActionSpec, 0, len(t.actions))
	for _, a := range t.actions {
		out = append(out, a.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute dispatches to the named action. A single-action tool accepts an
// empty action name.
func (t *FuncTool) Execute(ctx context.Context, action string, payload json.RawMessage, tc tracing.TraceContext) (Result, error) {
	a, ok := t.actions[action]
	if !ok && action == "" && len(t.actions) == 1 {
		for _, only := range t.actions {
			a, ok = only, true
		}
	}
	if !ok {
		return Fail("%s has no action %q", t.name, action), nil
	}
	return a.run(ctx, payload, tc)
}
