//go:build !windows

package manager

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/companion/internal/launch"
	"github.com/loykin/companion/internal/process"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestLifecycleWithRealChildren(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real processes")
	}
	polite := writeScript(t, "polite.sh", "sleep 30")
	stubborn := writeScript(t, "stubborn.sh", "trap '' TERM\nwhile true; do sleep 1; done")
	survivor := writeScript(t, "survivor.sh", "sleep 30")

	store := launch.NewStore(launch.NewMemoryStore(
		launch.Record{Path: polite, ShutdownEnabled: true},
		launch.Record{Path: ""},
		launch.Record{Path: stubborn, ShutdownEnabled: true},
		launch.Record{Path: survivor, ShutdownEnabled: false},
	), nil)
	require.NoError(t, store.Load())
	m := New(store, nil, nil, Options{StopTimeout: 300 * time.Millisecond, KillWait: time.Second})

	m.HandleEvent(EventAfterStartupComplete)
	snap := m.Registry().Snapshot()
	require.Len(t, snap, 3)
	for _, st := range m.Status() {
		assert.True(t, st.Alive, "pid %d should be alive", st.PID)
	}

	m.HandleEvent(EventBeforeProcessExit)
	assert.Equal(t, 0, m.Registry().Len())

	for _, mp := range snap[:2] {
		c := mp.Handle.(*process.Child)
		select {
		case <-c.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("%s (pid %d) still running after shutdown", mp.Path, mp.PID())
		}
	}

	leftover := snap[2].Handle.(*process.Child)
	assert.False(t, leftover.Exited(), "disabled child must be left running")
	_ = syscall.Kill(-leftover.PID(), syscall.SIGKILL)
	<-leftover.Done()
}
