package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Call is one function-call request surfaced by the AI mid-conversation.
type Call struct {
	Name          string          `json:"name"`
	Args          json.RawMessage `json:"args"`
	CallID        string          `json:"call_id"`
	AgentID       string          `json:"agent_id"`
	SessionUserID string          `json:"session_user_id"`
}

// Dispatcher executes a named function and returns its JSON result.
type Dispatcher interface {
	Dispatch(ctx context.Context, call Call) (json.RawMessage, error)
}

var ErrUnknownFunction = errors.New("functions: unknown function")

// ErrorPayload wraps an error as the structured result fed back to the
// AI session so its turn is never left hanging.
func ErrorPayload(err error) json.RawMessage {
	msg := "function unavailable"
	if err != nil {
		msg = err.Error()
	}
	out, merr := json.Marshal(map[string]string{"error": msg})
	if merr != nil {
		return json.RawMessage(`{"error":"function unavailable"}`)
	}
	return out
}

// HandlerFunc implements one named function.
type HandlerFunc func(ctx context.Context, call Call) (json.RawMessage, error)

// Registry is an in-process Dispatcher wiring function names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	log      *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{handlers: make(map[string]HandlerFunc), log: log}
}

func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) Dispatch(ctx context.Context, call Call) (json.RawMessage, error) {
	r.mu.RLock()
	h, ok := r.handlers[call.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, call.Name)
	}

	r.log.Info("dispatching function",
		"function", call.Name,
		"call_id", call.CallID,
		"agent_id", call.AgentID,
	)
	res, err := h(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("functions: %s: %w", call.Name, err)
	}
	return res, nil
}
