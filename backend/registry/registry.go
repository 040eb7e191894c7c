// Package registry dispatches enveloped client messages to the callback
// registered for their type.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"Co-Edit/backend/types"

	"golang.org/x/xerrors"
)

// ErrUnknownMessage is returned for an envelope whose type has no callback.
var ErrUnknownMessage = xerrors.New("unknown message type")

// Origin identifies where a message came from.
type Origin struct {
	ConnectionID string
	UserID       string
}

// Exec is the callback run for a message. msg is a pointer to the registered
// type.
type Exec func(ctx context.Context, msg types.Message, origin Origin) error

// Registry maps message names to callbacks.
type Registry interface {
	// RegisterMessageCallback registers exec for messages named like msg.
	RegisterMessageCallback(msg types.Message, exec Exec)

	// ProcessEnvelope decodes env and runs its callback.
	ProcessEnvelope(ctx context.Context, env types.Envelope, origin Origin) error

	// MarshalMessage envelopes msg.
	MarshalMessage(msg types.Message) (types.Envelope, error)

	// UnmarshalMessage decodes env into a new message of the registered type.
	UnmarshalMessage(env types.Envelope) (types.Message, error)

	// GetMessageNames returns the registered names.
	GetMessageNames() []string
}

type handler struct {
	template types.Message
	exec     Exec
}

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return &registry{
		handlers: make(map[string]handler),
	}
}

// - implements registry.Registry
type registry struct {
	mu       sync.RWMutex
	handlers map[string]handler
}

func (r *registry) RegisterMessageCallback(msg types.Message, exec Exec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[msg.Name()] = handler{template: msg, exec: exec}
}

func (r *registry) ProcessEnvelope(ctx context.Context, env types.Envelope, origin Origin) error {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	if !ok {
		return xerrors.Errorf("%q: %w", env.Type, ErrUnknownMessage)
	}

	msg, err := decode(h.template, env)
	if err != nil {
		return err
	}

	err = h.exec(ctx, msg, origin)
	if err != nil {
		return xerrors.Errorf("failed to process %s: %w", env.Type, err)
	}
	return nil
}

func (r *registry) MarshalMessage(msg types.Message) (types.Envelope, error) {
	return types.NewEnvelope(msg)
}

func (r *registry) UnmarshalMessage(env types.Envelope) (types.Message, error) {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, xerrors.Errorf("%q: %w", env.Type, ErrUnknownMessage)
	}
	return decode(h.template, env)
}

func (r *registry) GetMessageNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func decode(template types.Message, env types.Envelope) (types.Message, error) {
	msg := template.NewEmpty()
	if len(env.Payload) == 0 {
		return nil, xerrors.Errorf("empty %s payload", env.Type)
	}
	err := json.Unmarshal(env.Payload, msg)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal %s: %w", env.Type, err)
	}
	return msg, nil
}
