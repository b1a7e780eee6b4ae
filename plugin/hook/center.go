package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrInterrupt signals that a Hook handler wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

// Standard priorities. The leaderboard must see a completion before it is
// published, and the audit trail records whatever the chain ends with.
const (
	PriorityRanking = 10
	PriorityEvents  = 50
	PriorityAudit   = 100
)

// HookFn is a hook handler function.
// Returns (modified data, nil) to continue, or (data, ErrInterrupt) to stop.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

// ErrorHandler receives errors returned by hooks that did not interrupt,
// including recovered panics.
type ErrorHandler func(event, name string, err error)

type hookEntry struct {
	priority int
	seq      uint64
	fn       HookFn
	name     string
	calls    atomic.Uint64
	failures atomic.Uint64
}

// Registration describes one installed hook and how it has fared.
type Registration struct {
	Event    string `json:"event"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Calls    uint64 `json:"calls"`
	Failures uint64 `json:"failures"`
}

// HookCenter dispatches quest and account events to the components that
// react to them. A failing or panicking hook never aborts the transition
// that fired the event.
type HookCenter struct {
	mu      sync.RWMutex
	hooks   map[string][]*hookEntry
	seq     uint64
	onError ErrorHandler
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// SetErrorHandler installs fn to observe non-interrupting hook failures.
func (hc *HookCenter) SetErrorHandler(fn ErrorHandler) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onError = fn
}

// Register adds fn for event. Lower priorities run first; equal
// priorities run in registration order.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.seq++
	entries := append(hc.hooks[event], &hookEntry{priority: priority, seq: hc.seq, fn: fn, name: name})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
	hc.hooks[event] = entries
}

// Registrations lists every hook ordered by event, then run order.
func (hc *HookCenter) Registrations() []Registration {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	events := make([]string, 0, len(hc.hooks))
	for ev := range hc.hooks {
		events = append(events, ev)
	}
	sort.Strings(events)

	var out []Registration
	for _, ev := range events {
		for _, e := range hc.hooks[ev] {
			out = append(out, Registration{
				Event:    ev,
				Name:     e.name,
				Priority: e.priority,
				Calls:    e.calls.Load(),
				Failures: e.failures.Load(),
			})
		}
	}
	return out
}

// Trigger runs the hooks for event in order, passing each one the output
// of the last successful hook. ErrInterrupt stops the chain and is
// returned. Any other error or panic goes to the ErrorHandler and the
// chain continues with the data the failed hook was given.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	hc.mu.RLock()
	entries := append([]*hookEntry(nil), hc.hooks[event]...)
	onError := hc.onError
	hc.mu.RUnlock()

	for _, e := range entries {
		e.calls.Add(1)
		out, err := e.run(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return out, err
		}
		if err != nil {
			e.failures.Add(1)
			if onError != nil {
				onError(event, e.name, err)
			}
			continue
		}
		data = out
	}
	return data, nil
}

func (e *hookEntry) run(ctx context.Context, event string, data interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = data, fmt.Errorf("hook panic: %v", r)
		}
	}()
	return e.fn(ctx, event, data)
}

// ---- Hook event names ----

const (
	OnUserSignup    = "user.signup"
	OnUserSignin    = "user.signin"
	OnQuestStart    = "quest.started"
	OnQuestCheckIn  = "quest.checked_in"
	OnQuestComplete = "quest.completed"
	OnQuestAbandon  = "quest.abandoned"
	OnFriendAdded   = "friend.added"
)
