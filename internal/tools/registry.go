// Package tools exposes the engine's operations as named, schema-validated
// tools. Any orchestration layer (an LLM agent, a CLI, a test) drives the
// engine through Invoke with JSON-shaped arguments and gets a JSON-shaped
// result carrying at least a status field.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownTool is returned when Invoke is called with an unregistered name.
var ErrUnknownTool = errors.New("unknown tool")

// Handler executes one tool call with raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is a named operation with a human-readable description for the
// orchestration layer's tool listing.
type Tool struct {
	Name        string
	Description string
	handler     Handler
}

// Registry holds the registered tools and the shared argument validator.
type Registry struct {
	logger   *slog.Logger
	validate *validator.Validate
	tools    map[string]*Tool
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		validate: validator.New(),
		tools:    make(map[string]*Tool),
	}
}

// Register adds a tool; a duplicate name overwrites the previous entry.
func (r *Registry) Register(name, description string, handler Handler) {
	r.tools[name] = &Tool{Name: name, Description: description, handler: handler}
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a tool by name.
func (r *Registry) Describe(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Invoke runs a tool by name and marshals its result.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	r.logger.Debug("Invoking tool.", "tool", name)
	out, err := tool.handler(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("tool %s: failed to marshal result: %w", name, err)
	}
	return data, nil
}

// decode unmarshals raw JSON arguments into the tool's argument struct and
// validates it. Unknown JSON keys are tolerated; missing or malformed
// required fields are not.
func decode[T any](r *Registry, raw json.RawMessage) (*T, error) {
	var args T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid JSON arguments: %w", err)
		}
	}
	if err := r.validate.Struct(&args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return &args, nil
}
