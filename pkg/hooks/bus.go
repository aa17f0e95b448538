// Package hooks implements the in-process event bus (Memory: Hooks,
// spec §4.4). Handlers register for an EventType with a Priority and
// optional Filter; Emit runs matching handlers in priority order and
// captures a handler's error without aborting its siblings.
package hooks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// EventType is one of the fixed lifecycle events the bus carries.
type EventType string

const (
	TaskStart    EventType = "task_start"
	TaskEnd      EventType = "task_end"
	AgentStart   EventType = "agent_start"
	AgentEnd     EventType = "agent_end"
	ToolCall     EventType = "tool_call"
	ToolResult   EventType = "tool_result"
	Error        EventType = "error"
	Checkpoint   EventType = "checkpoint"
	PhaseChange  EventType = "phase_change"
	MemoryUpdate EventType = "memory_update"
)

// Priority controls dispatch order within one EventType: High handlers
// run before Normal, which run before Low.
type Priority int

const (
	High Priority = iota
	Normal
	Low
)

// Event is the payload delivered to handlers.
type Event struct {
	Type      EventType
	TaskID    string
	Agent     string
	Tool      string
	Phase     string
	Payload   map[string]any
	Timestamp time.Time
}

// Filter narrows which events a handler receives. A zero-value field is
// a wildcard; a non-zero field must match the event exactly.
type Filter struct {
	Agent string
	Tool  string
	Phase string
}

func (f Filter) matches(e Event) bool {
	if f.Agent != "" && f.Agent != e.Agent {
		return false
	}
	if f.Tool != "" && f.Tool != e.Tool {
		return false
	}
	if f.Phase != "" && f.Phase != e.Phase {
		return false
	}
	return true
}

// Handler processes an Event. A returned error is logged and recorded
// against the subscription but never aborts other handlers.
type Handler func(ctx context.Context, e Event) error

type subscription struct {
	id       string
	priority Priority
	filter   Filter
	handler  Handler
}

// Bus is an in-process, priority-ordered, filterable event dispatcher.
// The zero value is not usable; construct with New.
type Bus struct {
	mu       sync.RWMutex
	subs     map[EventType][]subscription
	nextID   uint64
	enabled  atomic.Bool
	countsMu sync.Mutex
	counts   map[EventType]int
}

// New creates an enabled Bus.
func New() *Bus {
	b := &Bus{
		subs:   make(map[EventType][]subscription),
		counts: make(map[EventType]int),
	}
	b.enabled.Store(true)
	return b
}

// Subscribe registers handler for eventType at priority, optionally
// narrowed by filter. Returns a subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(eventType EventType, priority Priority, filter Filter, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := subscriptionID(eventType, b.nextID)
	list := append(b.subs[eventType], subscription{
		id:       id,
		priority: priority,
		filter:   filter,
		handler:  handler,
	})
	sort.SliceStable(list, func(i, j int) bool { return list[i].priority < list[j].priority })
	b.subs[eventType] = list
	return id
}

// Unsubscribe removes a previously registered handler. A no-op if id is
// unknown (e.g. already removed).
func (b *Bus) Unsubscribe(eventType EventType, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[eventType]
	for i, sub := range list {
		if sub.id == id {
			b.subs[eventType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Enable turns event dispatch on.
func (b *Bus) Enable() { b.enabled.Store(true) }

// Disable turns event dispatch off; Emit becomes a no-op (events are not
// even counted) until Enable is called again.
func (b *Bus) Disable() { b.enabled.Store(false) }

// Enabled reports whether the bus currently dispatches events.
func (b *Bus) Enabled() bool { return b.enabled.Load() }

// Emit dispatches e to every matching handler for e.Type, in priority
// order. Each handler's error is logged and swallowed — one handler's
// failure never prevents the rest from running.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if !b.enabled.Load() {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	// Snapshot under the lock, then dispatch outside it so a slow or
	// reentrant handler never blocks a concurrent Subscribe/Unsubscribe.
	list := make([]subscription, len(b.subs[e.Type]))
	copy(list, b.subs[e.Type])
	b.mu.RUnlock()

	b.countsMu.Lock()
	b.counts[e.Type]++
	b.countsMu.Unlock()

	for _, sub := range list {
		if !sub.filter.matches(e) {
			continue
		}
		if err := sub.handler(ctx, e); err != nil {
			slog.Error("hook handler failed", "event_type", e.Type, "task_id", e.TaskID, "subscription", sub.id, "error", err)
		}
	}
}

// Counts returns a snapshot of emitted-event counts by type.
func (b *Bus) Counts() map[EventType]int {
	b.countsMu.Lock()
	defer b.countsMu.Unlock()

	out := make(map[EventType]int, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}

func subscriptionID(eventType EventType, n uint64) string {
	const base = "sub"
	return base + "-" + string(eventType) + "-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
