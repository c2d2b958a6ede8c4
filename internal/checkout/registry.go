package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/packedgo/checkout-sync/internal/logger"
)

type entry struct {
	ctrl     *Controller
	lastSeen time.Time
}

// Registry keeps one live Controller per customer.
//
// A controller is replaced when the customer asks for the view again after a
// terminal view was already delivered, and is reaped once it has not been
// looked at for the configured TTL.
type Registry struct {
	deps Deps
	opts Options
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a registry building controllers from deps and opts.
func NewRegistry(deps Deps, opts Options, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &Registry{
		deps:    deps,
		opts:    opts.withDefaults(),
		ttl:     ttl,
		entries: make(map[string]*entry),
	}
}

// Acquire returns the customer's live controller, mounting a new one if needed.
func (r *Registry) Acquire(ctx context.Context, customer string) (*Controller, View) {
	r.mu.Lock()
	if e, ok := r.entries[customer]; ok {
		if !e.ctrl.Stale() {
			e.lastSeen = r.opts.Now()
			r.mu.Unlock()
			return e.ctrl, e.ctrl.View()
		}
		e.ctrl.Unmount()
		delete(r.entries, customer)
	}
	ctrl := NewController(r.deps, r.opts)
	r.entries[customer] = &entry{ctrl: ctrl, lastSeen: r.opts.Now()}
	r.mu.Unlock()

	return ctrl, ctrl.Mount(ctx)
}

// Lookup returns the customer's controller without mounting one.
func (r *Registry) Lookup(customer string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[customer]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.opts.Now()
	return e.ctrl, true
}

// Release unmounts and forgets the customer's controller.
func (r *Registry) Release(customer string) bool {
	r.mu.Lock()
	e, ok := r.entries[customer]
	delete(r.entries, customer)
	r.mu.Unlock()
	if ok {
		e.ctrl.Unmount()
	}
	return ok
}

// NudgeSession asks the controller mirroring sessionID to poll now.
func (r *Registry) NudgeSession(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	r.mu.Lock()
	var target *Controller
	for _, e := range r.entries {
		if e.ctrl.SessionID() == sessionID {
			target = e.ctrl
			break
		}
	}
	r.mu.Unlock()
	if target == nil {
		return false
	}
	target.Nudge()
	return true
}

// Len returns the number of tracked controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reap unmounts controllers idle for longer than the TTL and returns how many were removed.
func (r *Registry) Reap() int {
	cutoff := r.opts.Now().Add(-r.ttl)
	var idle []*Controller

	r.mu.Lock()
	for customer, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.ctrl)
			delete(r.entries, customer)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.Unmount()
	}
	return len(idle)
}

// Start reaps idle controllers until ctx is done.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Reap(); n > 0 {
					r.deps.Log.Zerolog(ctx).Debug().Int("count", n).Msg("reaped idle checkout views")
				}
			}
		}
	}()
}

// Close unmounts every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.ctrl.Unmount()
	}
}
