package engine

import "github.com/aesync/aesync/internal/core/observability/log"

// StateHooks run on entering and leaving a state. Either hook may be nil.
type StateHooks struct {
	OnEnter func(ctx *Context)
	OnExit  func(ctx *Context)
}

// stateTable holds the opaque engine state id and its transition hooks.
// Transitions default to deferred: they run between ticks so a state never
// changes under a running system.
type stateTable struct {
	log      log.Log
	current  uint64
	pending  uint64
	deferred bool
	hooks    map[uint64]StateHooks
}

func newStateTable(lg log.Log) *stateTable {
	return &stateTable{
		log:   lg,
		hooks: make(map[uint64]StateHooks),
	}
}

func (s *stateTable) register(id uint64, hooks StateHooks) {
	s.hooks[id] = hooks
}

// transition switches to id, either immediately or at the next flush.
// Returns whether the state id actually changed.
func (s *stateTable) transition(ctx *Context, id uint64, immediate bool) bool {
	if id == s.current && !s.deferred {
		return false
	}
	if immediate {
		s.deferred = false
		s.apply(ctx, id)
		return true
	}
	s.pending = id
	s.deferred = true
	return true
}

// flush applies a deferred transition, if one is queued.
func (s *stateTable) flush(ctx *Context) bool {
	if !s.deferred {
		return false
	}
	s.deferred = false
	if s.pending == s.current {
		return false
	}
	s.apply(ctx, s.pending)
	return true
}

func (s *stateTable) apply(ctx *Context, id uint64) {
	if hooks, ok := s.hooks[s.current]; ok && hooks.OnExit != nil {
		hooks.OnExit(ctx)
	}
	old := s.current
	s.current = id
	if hooks, ok := s.hooks[id]; ok && hooks.OnEnter != nil {
		hooks.OnEnter(ctx)
	}
	s.log.Debug("state transition",
		log.Uint64("from", old),
		log.Uint64("to", id))
}
