// Package dispatch turns relay command rows into sheet mutations and view
// events. The dispatcher claims each row on the relay before running its
// handler, so two companions racing over one backlog never apply a command
// twice.
package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/sheetlink/companion/internal/profile"
	"github.com/sheetlink/companion/internal/relay"
	"github.com/sheetlink/companion/internal/rules"
)

// Characters is the slice of the local store the handlers need: resolve a
// command's target sheet and write the mutated sheet back.
type Characters interface {
	ResolveCharacter(name string) (string, *profile.Sheet, error)
	SaveSheet(slotKey string, sheet *profile.Sheet) error
}

// Effect is what a finished command fans out to attached views. Keys are
// camelCase because the views are browser code.
type Effect struct {
	Kind          string      `json:"kind"`
	CommandID     string      `json:"commandId"`
	Character     string      `json:"character,omitempty"`
	CharacterName string      `json:"characterName,omitempty"`
	Detail        interface{} `json:"detail"`
}

// Handler executes one command type against the local sheet cache.
type Handler interface {
	// Name returns the command type this handler owns (e.g. "roll", "cast").
	Name() string

	// Execute runs the command and returns the effect to persist and
	// broadcast. A returned error marks the command failed.
	Execute(ctx context.Context, cmd relay.CommandRecord, args map[string]interface{}) (*Effect, error)
}

// Registry maps command types to their handlers.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates a registry with all built-in command handlers.
func NewRegistry(characters Characters, engine rules.Engine) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}

	// Register all built-in handlers
	r.Register(NewRollHandler(characters, engine))      // roll
	r.Register(NewCastHandler(characters, engine))      // cast
	r.Register(NewHealHandler(characters, engine))      // heal
	r.Register(NewDamageHandler(characters, engine))    // takeDamage
	r.Register(NewRestHandler(characters, engine))      // rest
	r.Register(NewUseActionHandler(characters, engine)) // useAction
	r.Register(NewEndTurnHandler(characters))           // endTurn

	return r
}

// Register adds a handler, replacing any previous one for the same type.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Get returns the handler for a command type.
func (r *Registry) Get(commandType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[commandType]
	return h, ok
}

// Handles returns true if a handler is registered for the command type.
func (r *Registry) Handles(commandType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[commandType]
	return ok
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Names returns the registered command types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
