//go:build windows

package process

import (
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"
	"unsafe"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")

	user32                       = syscall.NewLazyDLL("user32.dll")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procGetWindow                = user32.NewProc("GetWindow")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procShowWindowAsync          = user32.NewProc("ShowWindowAsync")
	procPostMessageW             = user32.NewProc("PostMessageW")
)

const (
	PROCESS_TERMINATE = 0x0001

	gwOwner    = 4
	swMinimize = 6
	wmClose    = 0x0010
)

// gracefulStop asks every top-level window of the child to close.
func gracefulStop(c *Child) error {
	wins := topLevelWindows(c.pid, false)
	if len(wins) == 0 {
		return ErrGracefulUnsupported
	}
	var firstErr error
	for _, w := range wins {
		if ret, _, err := procPostMessageW.Call(w, wmClose, 0, 0); ret == 0 && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// forceStop terminates the child with TerminateProcess.
func forceStop(c *Child) error {
	handle, err := openProcess(PROCESS_TERMINATE, false, uint32(c.pid))
	if err != nil {
		// The process is most likely gone already.
		return os.ErrProcessDone
	}
	defer func() { _ = closeHandle(handle) }()

	ret, _, err := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}

// requestMinimized polls for the child's first visible window and minimizes
// it. It runs in the background and gives up after window or when the child exits.
func requestMinimized(c *Child, window time.Duration, log *slog.Logger) {
	go func() {
		deadline := time.Now().Add(window)
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		for time.Now().Before(deadline) {
			if wins := topLevelWindows(c.pid, true); len(wins) > 0 {
				_, _, _ = procShowWindowAsync.Call(wins[0], swMinimize)
				log.Debug("minimized child window", slog.Int("pid", c.pid))
				return
			}
			select {
			case <-c.done:
				return
			case <-tick.C:
			}
		}
		log.Debug("no window appeared to minimize", slog.Int("pid", c.pid))
	}()
}

// EnumWindows callbacks are a scarce resource, so one callback is shared and
// its per-call state is guarded by enumMu.
var (
	enumMu          sync.Mutex
	enumPID         uint32
	enumVisibleOnly bool
	enumFound       []uintptr
	enumCallback    = syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		var owner uint32
		_, _, _ = procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&owner)))
		if owner != enumPID {
			return 1
		}
		if o, _, _ := procGetWindow.Call(hwnd, gwOwner); o != 0 {
			return 1
		}
		if enumVisibleOnly {
			if v, _, _ := procIsWindowVisible.Call(hwnd); v == 0 {
				return 1
			}
		}
		enumFound = append(enumFound, hwnd)
		return 1
	})
)

func topLevelWindows(pid int, visibleOnly bool) []uintptr {
	enumMu.Lock()
	defer enumMu.Unlock()
	enumPID = uint32(pid)
	enumVisibleOnly = visibleOnly
	enumFound = nil
	_, _, _ = procEnumWindows.Call(enumCallback, 0)
	return append([]uintptr(nil), enumFound...)
}

// openProcess opens a process handle
func openProcess(access uint32, inheritHandle bool, processID uint32) (syscall.Handle, error) {
	inherit := 0
	if inheritHandle {
		inherit = 1
	}
	ret, _, err := procOpenProcess.Call(uintptr(access), uintptr(inherit), uintptr(processID))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

// closeHandle closes a Windows handle
func closeHandle(handle syscall.Handle) error {
	ret, _, err := procCloseHandle.Call(uintptr(handle))
	if ret == 0 {
		return err
	}
	return nil
}
