package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/loykin/companion/internal/history"
	"github.com/loykin/companion/internal/process"
)

type fakeHandle struct {
	pid  int
	path string
}

func (h *fakeHandle) PID() int { return h.pid }

// fakeDriver simulates children in memory. Behaviour is keyed by path.
type fakeDriver struct {
	mu   sync.Mutex
	next int

	failSpawn   map[string]error
	ignoreTerm  map[string]bool
	gracefulErr map[string]error
	forceErr    map[string]error
	panicStop   map[string]bool

	spawned  []string
	graceful []int
	forced   []int
	released []int
	exited   map[int]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		next:        1000,
		failSpawn:   map[string]error{},
		ignoreTerm:  map[string]bool{},
		gracefulErr: map[string]error{},
		forceErr:    map[string]error{},
		panicStop:   map[string]bool{},
		exited:      map[int]bool{},
	}
}

func (d *fakeDriver) Spawn(path string, _ bool) (process.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spawned = append(d.spawned, path)
	if err, ok := d.failSpawn[path]; ok {
		return nil, &process.SpawnError{Path: path, Err: err}
	}
	d.next++
	return &fakeHandle{pid: d.next, path: path}, nil
}

func (d *fakeDriver) handle(h process.Handle) *fakeHandle {
	fh, ok := h.(*fakeHandle)
	if !ok {
		panic(fmt.Sprintf("unexpected handle %T", h))
	}
	return fh
}

func (d *fakeDriver) RequestGracefulStop(h process.Handle) error {
	fh := d.handle(h)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.graceful = append(d.graceful, fh.pid)
	if d.panicStop[fh.path] {
		panic("boom")
	}
	if err, ok := d.gracefulErr[fh.path]; ok {
		return err
	}
	if d.exited[fh.pid] {
		return &process.TerminationError{PID: fh.pid, Op: "graceful", Err: os.ErrProcessDone}
	}
	if !d.ignoreTerm[fh.path] {
		d.exited[fh.pid] = true
	}
	return nil
}

func (d *fakeDriver) ForceStop(h process.Handle) error {
	fh := d.handle(h)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forced = append(d.forced, fh.pid)
	if err, ok := d.forceErr[fh.path]; ok {
		return err
	}
	d.exited[fh.pid] = true
	return nil
}

func (d *fakeDriver) WaitWithTimeout(h process.Handle, _ time.Duration) bool {
	fh := d.handle(h)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exited[fh.pid]
}

func (d *fakeDriver) Release(h process.Handle) error {
	fh := d.handle(h)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = append(d.released, fh.pid)
	return nil
}

// touched reports whether pid received any termination request.
func (d *fakeDriver) touched(pid int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.graceful {
		if p == pid {
			return true
		}
	}
	for _, p := range d.forced {
		if p == pid {
			return true
		}
	}
	return false
}

func (d *fakeDriver) wasReleased(pid int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.released {
		if p == pid {
			return true
		}
	}
	return false
}

func (d *fakeDriver) spawnCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.spawned)
}

var errInjected = errors.New("injected failure")

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (s *memSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) types() []history.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// stallSink blocks every send until its context is done.
type stallSink struct {
	mu    sync.Mutex
	calls int
}

func (s *stallSink) Send(ctx context.Context, _ history.Event) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

type failingSink struct{}

func (failingSink) Send(context.Context, history.Event) error { return errInjected }
