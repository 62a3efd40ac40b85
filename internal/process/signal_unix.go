//go:build !windows

package process

import (
	"errors"
	"log/slog"
	"os"
	"syscall"
	"time"
)

func gracefulStop(c *Child) error { return signalGroup(c.pid, syscall.SIGTERM) }

func forceStop(c *Child) error { return signalGroup(c.pid, syscall.SIGKILL) }

// signalGroup signals the child's process group, falling back to the pid
// alone when the group is already gone.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return os.ErrProcessDone
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// requestMinimized is a no-op: there is no portable initial-window-state
// mechanism outside of a specific window manager.
func requestMinimized(c *Child, _ time.Duration, log *slog.Logger) {
	log.Debug("start minimized not supported on this platform", slog.Int("pid", c.pid))
}
