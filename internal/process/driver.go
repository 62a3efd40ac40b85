package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

var (
	// ErrGracefulUnsupported is returned when the platform has no polite way
	// to ask this particular child to stop (e.g. a windowless Windows process).
	ErrGracefulUnsupported = errors.New("graceful stop not supported for process")
	errEmptyPath           = errors.New("empty executable path")
	errForeignHandle       = errors.New("handle not created by this driver")
)

// Handle identifies a spawned child.
type Handle interface {
	PID() int
}

// Driver is the platform process-control surface used by the lifecycle manager.
type Driver interface {
	Spawn(path string, minimized bool) (Handle, error)
	RequestGracefulStop(h Handle) error
	ForceStop(h Handle) error
	// WaitWithTimeout blocks up to d and reports whether the child has exited.
	WaitWithTimeout(h Handle, d time.Duration) bool
	Release(h Handle) error
}

// SpawnError reports that the OS refused to create a process.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %q: %v", e.Path, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// TerminationError reports a failed stop request or an invalid handle.
type TerminationError struct {
	PID int
	Op  string // graceful, force, release
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("%s stop pid %d: %v", e.Op, e.PID, e.Err)
}
func (e *TerminationError) Unwrap() error { return e.Err }

// Child is the Handle produced by OSDriver. A single reaper goroutine owns
// cmd.Wait; everyone else waits on done.
type Child struct {
	cmd  *exec.Cmd
	pid  int
	null *os.File
	done chan struct{}

	mu       sync.Mutex
	exitErr  error
	released bool
}

func newChild(cmd *exec.Cmd, null *os.File) *Child {
	c := &Child{cmd: cmd, pid: cmd.Process.Pid, null: null, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.exitErr = err
		c.mu.Unlock()
		close(c.done)
	}()
	return c
}

func (c *Child) PID() int { return c.pid }

// Done is closed once the child has been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Exited reports, without blocking, whether the child has been reaped.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ExitErr is the error returned by cmd.Wait, valid once Exited is true.
func (c *Child) ExitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

// OSDriver is the Driver for the running platform.
type OSDriver struct {
	log *slog.Logger
	// MinimizeWindow bounds how long the Windows minimize hint keeps looking
	// for the child's first window.
	MinimizeWindow time.Duration
}

func NewOSDriver(log *slog.Logger) *OSDriver {
	if log == nil {
		log = slog.Default()
	}
	return &OSDriver{log: log, MinimizeWindow: 5 * time.Second}
}

// Spawn starts path with no arguments. stdio is bound to the null device.
func (d *OSDriver) Spawn(path string, minimized bool) (Handle, error) {
	if path == "" {
		return nil, &SpawnError{Path: path, Err: errEmptyPath}
	}
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	// #nosec G204 -- the executable comes from the user's own launch list
	cmd := exec.Command(path)
	cmd.Stdin = null
	cmd.Stdout = null
	cmd.Stderr = null
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = null.Close()
		return nil, &SpawnError{Path: path, Err: err}
	}
	c := newChild(cmd, null)
	if minimized {
		requestMinimized(c, d.MinimizeWindow, d.log)
	}
	return c, nil
}

func (d *OSDriver) RequestGracefulStop(h Handle) error {
	c, err := asChild(h, "graceful")
	if err != nil {
		return err
	}
	if c.Exited() {
		return &TerminationError{PID: c.pid, Op: "graceful", Err: os.ErrProcessDone}
	}
	if err := gracefulStop(c); err != nil {
		return &TerminationError{PID: c.pid, Op: "graceful", Err: err}
	}
	return nil
}

func (d *OSDriver) ForceStop(h Handle) error {
	c, err := asChild(h, "force")
	if err != nil {
		return err
	}
	if c.Exited() {
		return &TerminationError{PID: c.pid, Op: "force", Err: os.ErrProcessDone}
	}
	if err := forceStop(c); err != nil {
		return &TerminationError{PID: c.pid, Op: "force", Err: err}
	}
	return nil
}

func (d *OSDriver) WaitWithTimeout(h Handle, wait time.Duration) bool {
	c, err := asChild(h, "wait")
	if err != nil {
		return false
	}
	if wait <= 0 {
		return c.Exited()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-c.done:
		return true
	case <-t.C:
		return false
	}
}

// Release drops the driver's own resources for the child. The reaper keeps
// running for a child that was left alive and closes the OS handle once it exits.
func (d *OSDriver) Release(h Handle) error {
	c, err := asChild(h, "release")
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	if c.null != nil {
		if err := c.null.Close(); err != nil {
			return &TerminationError{PID: c.pid, Op: "release", Err: err}
		}
		c.null = nil
	}
	return nil
}

func asChild(h Handle, op string) (*Child, error) {
	c, ok := h.(*Child)
	if ok && c != nil {
		return c, nil
	}
	pid := 0
	if !ok && h != nil {
		pid = h.PID()
	}
	return nil, &TerminationError{PID: pid, Op: op, Err: errForeignHandle}
}
