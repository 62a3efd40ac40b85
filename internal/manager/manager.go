package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/companion/internal/history"
	"github.com/loykin/companion/internal/launch"
	"github.com/loykin/companion/internal/metrics"
	"github.com/loykin/companion/internal/process"
)

// Event is a host lifecycle notification.
type Event string

const (
	EventAfterStartupComplete Event = "AfterStartupComplete"
	EventBeforeProcessExit    Event = "BeforeProcessExit"
)

const (
	DefaultStopTimeout = time.Second
	DefaultKillWait    = 200 * time.Millisecond

	// historyTimeout bounds one sink delivery and the flush at the end of a
	// shutdown batch.
	historyTimeout = 2 * time.Second
)

// Options tune the shutdown coordinator.
type Options struct {
	// StopTimeout bounds the wait after a graceful stop request.
	StopTimeout time.Duration
	// KillWait bounds the wait after a forceful stop.
	KillWait time.Duration
	// Parallel stops all children concurrently instead of one after another.
	Parallel bool
}

func (o Options) withDefaults() Options {
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.KillWait <= 0 {
		o.KillWait = DefaultKillWait
	}
	return o
}

// Result is the outcome of one spawn attempt. Process is nil when Err is set.
type Result struct {
	Index   int
	Process *ManagedProcess
	Err     error
}

// ProcessStatus is a point-in-time view of a tracked child.
type ProcessStatus struct {
	ID              string    `json:"id"`
	PID             int       `json:"pid"`
	Path            string    `json:"path"`
	OriginIndex     int       `json:"origin_index"`
	ShutdownEnabled bool      `json:"shutdown_enabled"`
	StartedAt       time.Time `json:"started_at"`
	Alive           bool      `json:"alive"`
}

// Manager owns the launch records, the registry of spawned children and the
// platform driver for one host session.
type Manager struct {
	// mu serializes lifecycle transitions (launch batch, shutdown batch).
	mu sync.Mutex

	store *launch.Store
	reg   *Registry
	drv   process.Driver
	log   *slog.Logger
	opts  Options

	sinksMu sync.RWMutex
	sinks   []history.Sink
	session string // guarded by sinksMu
	hist    *historyQueue

	alive func(pid int) bool
}

// New returns a Manager reading records from store and controlling children via drv.
// A nil drv selects the OS driver for the current platform.
func New(store *launch.Store, drv process.Driver, log *slog.Logger, opts Options) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = launch.NewStore(nil, log)
	}
	if drv == nil {
		drv = process.NewOSDriver(log)
	}
	return &Manager{
		store: store,
		reg:   &Registry{},
		drv:   drv,
		log:   log,
		opts:  opts.withDefaults(),
		hist:  newHistoryQueue(log, historyTimeout),
		alive: process.Alive,
	}
}

// SetHistorySinks configures external history sinks.
// Passing nil or no sinks clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.sinksMu.Lock()
	m.sinks = append([]history.Sink(nil), sinks...)
	m.sinksMu.Unlock()
}

// FlushHistory waits, bounded by the history timeout, for queued history
// events to reach the sinks. It reports whether everything was delivered.
func (m *Manager) FlushHistory() bool {
	m.sinksMu.RLock()
	idle := len(m.sinks) == 0 && len(m.hist.ch) == 0
	m.sinksMu.RUnlock()
	if idle {
		return true
	}
	return m.hist.flush(m.hist.timeout)
}

// Store returns the launch records this manager reads at startup.
func (m *Manager) Store() *launch.Store { return m.store }

// Registry returns the children spawned in the current session.
func (m *Manager) Registry() *Registry { return m.reg }

// Options returns the effective shutdown options, defaults applied.
func (m *Manager) Options() Options { return m.opts }

// HandleEvent dispatches a host lifecycle event. It never returns an error
// and never panics; failures are logged.
func (m *Manager) HandleEvent(e Event) {
	switch e {
	case EventAfterStartupComplete:
		m.mu.Lock()
		defer m.mu.Unlock()
		if n := m.reg.Len(); n > 0 {
			m.log.Warn("startup event received while processes are tracked, ignoring", "tracked", n)
			return
		}
		m.launchLocked(m.store.GetAll())
	case EventBeforeProcessExit:
		m.ShutdownAll()
	default:
		m.log.Debug("ignoring unknown host event", "event", string(e))
	}
}

// LaunchAll spawns every record with a non-empty path, in order. A failed
// spawn is logged and reported in its Result; the batch continues.
func (m *Manager) LaunchAll(records []launch.Record) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launchLocked(records)
}

func (m *Manager) launchLocked(records []launch.Record) []Result {
	if m.reg.Len() == 0 {
		m.sinksMu.Lock()
		m.session = uuid.NewString()
		m.sinksMu.Unlock()
	}
	var (
		results []Result
		started int
		failed  int
		skipped int
	)
	for i, rec := range records {
		if !rec.Actionable() {
			skipped++
			m.log.Debug("skipping launch record with empty path", "index", i)
			continue
		}
		h, err := m.spawn(rec)
		if err != nil {
			failed++
			m.log.Warn("failed to start process", "index", i, "path", rec.Path, "error", err)
			metrics.IncSpawn(false)
			m.emit(history.EventSpawnFailed, history.Record{Path: rec.Path, OriginIndex: i, Error: err.Error()})
			results = append(results, Result{Index: i, Err: err})
			continue
		}
		mp := &ManagedProcess{
			ID:              uuid.NewString(),
			Handle:          h,
			OriginIndex:     i,
			Path:            rec.Path,
			ShutdownEnabled: rec.ShutdownEnabled,
			StartedAt:       time.Now(),
		}
		m.reg.Append(mp)
		started++
		m.log.Info("started process", "index", i, "path", rec.Path, "pid", mp.PID(),
			"shutdown_enabled", rec.ShutdownEnabled, "minimized", rec.StartMinimized)
		metrics.IncSpawn(true)
		m.emit(history.EventSpawn, historyRecord(mp, nil))
		results = append(results, Result{Index: i, Process: mp})
	}
	metrics.SetRegistrySize(m.reg.Len())
	m.log.Info("launch batch complete",
		"attempted", started+failed, "started", started, "failed", failed, "skipped", skipped)
	return results
}

// spawn isolates a driver panic to the record that caused it.
func (m *Manager) spawn(rec launch.Record) (h process.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h = nil
			err = &process.SpawnError{Path: rec.Path, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	h, err = m.drv.Spawn(rec.Path, rec.StartMinimized)
	if err == nil && h == nil {
		err = &process.SpawnError{Path: rec.Path, Err: errors.New("driver returned no handle")}
	}
	return h, err
}

// ShutdownAll terminates every tracked child whose own ShutdownEnabled flag
// is set and leaves the others running. The registry is empty afterwards
// whatever happened to individual children.
func (m *Manager) ShutdownAll() {
	m.shutdown(func(_ int, mp *ManagedProcess) bool { return mp.ShutdownEnabled })
}

// ShutdownAllByPosition correlates registry position i with records[i] to
// decide each child's policy. Positions with no record are terminated.
func (m *Manager) ShutdownAllByPosition(records []launch.Record) {
	m.shutdown(func(i int, _ *ManagedProcess) bool {
		if i >= 0 && i < len(records) {
			return records[i].ShutdownEnabled
		}
		return true
	})
}

func (m *Manager) shutdown(enabled func(i int, mp *ManagedProcess) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.FlushHistory()

	procs := m.reg.Drain()
	metrics.SetRegistrySize(0)
	if len(procs) == 0 {
		m.log.Debug("shutdown requested with no tracked processes")
		return
	}

	begin := time.Now()
	modes := make([]string, len(procs))
	if m.opts.Parallel {
		var wg sync.WaitGroup
		for i, mp := range procs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				modes[i] = m.stopOne(mp, m.policy(enabled, i, mp))
			}()
		}
		wg.Wait()
	} else {
		for i, mp := range procs {
			modes[i] = m.stopOne(mp, m.policy(enabled, i, mp))
		}
	}

	counts := map[string]int{}
	for _, mode := range modes {
		counts[mode]++
	}
	elapsed := time.Since(begin)
	metrics.ObserveShutdown(elapsed.Seconds())
	m.log.Info("shutdown batch complete",
		"total", len(procs),
		"graceful", counts[metrics.StopGraceful],
		"forced", counts[metrics.StopForced],
		"left_running", counts[metrics.StopSkipped],
		"failed", counts[metrics.StopFailed],
		"elapsed", elapsed)
}

// policy evaluates enabled, treating a panic in the predicate as "terminate".
func (m *Manager) policy(enabled func(int, *ManagedProcess) bool, i int, mp *ManagedProcess) (on bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("shutdown policy panicked, terminating", "position", i, "panic", r)
			on = true
		}
	}()
	return enabled(i, mp)
}

// stopOne applies the termination policy to a single child and releases its
// handle. It returns the metrics stop mode describing the outcome.
func (m *Manager) stopOne(mp *ManagedProcess, enabled bool) (mode string) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic while stopping process", "path", mp.Path, "pid", mp.PID(), "panic", r)
			m.emit(history.EventStopFailed, historyRecord(mp, fmt.Errorf("panic: %v", r)))
			mode = metrics.StopFailed
		}
		metrics.IncStop(mode)
	}()
	defer m.release(mp)

	if mp == nil || mp.Handle == nil {
		return metrics.StopFailed
	}
	pid := mp.PID()

	if !enabled {
		m.log.Info("leaving process running", "path", mp.Path, "pid", pid, "origin_index", mp.OriginIndex)
		m.emit(history.EventLeaveRunning, historyRecord(mp, nil))
		return metrics.StopSkipped
	}

	err := m.drv.RequestGracefulStop(mp.Handle)
	switch {
	case err == nil:
		if m.drv.WaitWithTimeout(mp.Handle, m.opts.StopTimeout) {
			m.log.Info("process stopped", "path", mp.Path, "pid", pid)
			m.emit(history.EventStop, historyRecord(mp, nil))
			return metrics.StopGraceful
		}
		m.log.Warn("process did not exit after stop request, forcing", "path", mp.Path, "pid", pid,
			"timeout", m.opts.StopTimeout)
	case errors.Is(err, os.ErrProcessDone):
		m.log.Info("process already exited", "path", mp.Path, "pid", pid)
		m.emit(history.EventStop, historyRecord(mp, nil))
		return metrics.StopGraceful
	case errors.Is(err, process.ErrGracefulUnsupported):
		m.log.Debug("graceful stop unsupported, forcing", "path", mp.Path, "pid", pid)
	default:
		m.log.Warn("graceful stop failed, forcing", "path", mp.Path, "pid", pid, "error", asTermination(err, pid, "graceful"))
	}

	if err := m.drv.ForceStop(mp.Handle); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			m.log.Info("process exited before kill", "path", mp.Path, "pid", pid)
			m.emit(history.EventStop, historyRecord(mp, nil))
			return metrics.StopGraceful
		}
		err = asTermination(err, pid, "force")
		m.log.Warn("failed to kill process", "path", mp.Path, "pid", pid, "error", err)
		m.emit(history.EventStopFailed, historyRecord(mp, err))
		return metrics.StopFailed
	}
	if !m.drv.WaitWithTimeout(mp.Handle, m.opts.KillWait) {
		m.log.Warn("process not reaped after kill", "path", mp.Path, "pid", pid, "wait", m.opts.KillWait)
	} else {
		m.log.Info("process killed", "path", mp.Path, "pid", pid)
	}
	m.emit(history.EventKill, historyRecord(mp, nil))
	return metrics.StopForced
}

func (m *Manager) release(mp *ManagedProcess) {
	if mp == nil || mp.Handle == nil {
		return
	}
	if err := m.drv.Release(mp.Handle); err != nil {
		m.log.Debug("release handle failed", "pid", mp.PID(), "error", err)
	}
}

// Status reports the tracked children in spawn order.
func (m *Manager) Status() []ProcessStatus {
	procs := m.reg.Snapshot()
	out := make([]ProcessStatus, 0, len(procs))
	for _, mp := range procs {
		pid := mp.PID()
		out = append(out, ProcessStatus{
			ID:              mp.ID,
			PID:             pid,
			Path:            mp.Path,
			OriginIndex:     mp.OriginIndex,
			ShutdownEnabled: mp.ShutdownEnabled,
			StartedAt:       mp.StartedAt,
			Alive:           pid > 0 && m.alive(pid),
		})
	}
	return out
}

func (m *Manager) emit(t history.EventType, rec history.Record) {
	m.sinksMu.RLock()
	sinks := append([]history.Sink(nil), m.sinks...)
	session := m.session
	m.sinksMu.RUnlock()
	if len(sinks) == 0 {
		return
	}
	m.hist.push(sinks, history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Session:    session,
		Record:     rec,
	})
}

func historyRecord(mp *ManagedProcess, err error) history.Record {
	if mp == nil {
		mp = &ManagedProcess{}
	}
	rec := history.Record{ID: mp.ID, Path: mp.Path, PID: mp.PID(), OriginIndex: mp.OriginIndex}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

func asTermination(err error, pid int, op string) error {
	var te *process.TerminationError
	if errors.As(err, &te) {
		return err
	}
	return &process.TerminationError{PID: pid, Op: op, Err: err}
}
