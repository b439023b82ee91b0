package ecs

import (
	"fmt"

	"github.com/aesync/aesync/internal/core/protocol"
)

// ComponentID is a positional component type id: registration order defines
// the id, and both sides of a connection must register the same components
// in the same order for the wire format to line up.
type ComponentID uint32

// Priority decides which channel carries a component's value updates.
type Priority uint8

const (
	// PriorityHigh updates are delivered reliably; clients never miss one.
	PriorityHigh Priority = iota
	// PriorityLow updates ride the unreliable channel and may be lost.
	PriorityLow
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

// Codec serializes one component type. Decode reports malformed input
// through the reader's latched error, never by panicking.
type Codec interface {
	Encode(w protocol.Writer, value any)
	Decode(r *protocol.Reader) any
}

// ComponentInfo is the registered description of one component type.
type ComponentInfo struct {
	ID       ComponentID
	Name     string
	Priority Priority
	// Codec is nil for tag components, which replicate lifecycle only.
	Codec Codec
}

// Registry assigns component ids and stores per-type metadata. All
// registration happens up front, before any entity exists.
type Registry struct {
	byName map[string]ComponentID
	infos  []ComponentInfo
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]ComponentID),
	}
}

// Register assigns the next component id to name. Registering the same name
// twice is a programmer error and panics.
func (r *Registry) Register(name string, priority Priority, codec Codec) ComponentID {
	if _, ok := r.byName[name]; ok {
		panic(fmt.Sprintf("ecs: component %q registered twice", name))
	}

	id := ComponentID(len(r.infos))
	r.byName[name] = id
	r.infos = append(r.infos, ComponentInfo{
		ID:       id,
		Name:     name,
		Priority: priority,
		Codec:    codec,
	})
	return id
}

// Info returns the registered metadata for id.
func (r *Registry) Info(id ComponentID) (ComponentInfo, bool) {
	if int(id) >= len(r.infos) {
		return ComponentInfo{}, false
	}
	return r.infos[id], true
}

// Lookup resolves a component name to its id.
func (r *Registry) Lookup(name string) (ComponentID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// IsTag reports whether id is a tag component (no codec).
func (r *Registry) IsTag(id ComponentID) bool {
	info, ok := r.Info(id)
	return ok && info.Codec == nil
}

// Count returns the number of registered component types.
func (r *Registry) Count() int {
	return len(r.infos)
}
