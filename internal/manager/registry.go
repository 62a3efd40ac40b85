package manager

import (
	"sync"
	"time"

	"github.com/loykin/companion/internal/process"
)

// ManagedProcess is a child spawned by this launcher. ShutdownEnabled is
// copied from the launch record at spawn time and never re-read from the
// store, so edits made after launch cannot desynchronize the policy.
type ManagedProcess struct {
	ID              string
	Handle          process.Handle
	OriginIndex     int
	Path            string
	ShutdownEnabled bool
	StartedAt       time.Time
}

// PID returns the child's pid, or 0 when the handle is missing.
func (p *ManagedProcess) PID() int {
	if p == nil || p.Handle == nil {
		return 0
	}
	return p.Handle.PID()
}

// Registry is the ordered list of children spawned during the current session.
type Registry struct {
	mu    sync.Mutex
	procs []*ManagedProcess
}

// Append tracks p after the processes already registered.
func (r *Registry) Append(p *ManagedProcess) {
	r.mu.Lock()
	r.procs = append(r.procs, p)
	r.mu.Unlock()
}

// Len returns the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Snapshot returns a copy of the tracked processes in spawn order.
func (r *Registry) Snapshot() []*ManagedProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ManagedProcess(nil), r.procs...)
}

// Drain returns every tracked process and empties the registry in one step.
func (r *Registry) Drain() []*ManagedProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.procs
	r.procs = nil
	return out
}
