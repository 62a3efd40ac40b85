package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/companion/internal/launch"
	"github.com/loykin/companion/internal/manager"
	"github.com/loykin/companion/internal/server"
)

func remoteLauncher(t *testing.T, mem *launch.MemoryStore) (*manager.Manager, GlobalFlags) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := launch.NewStore(mem, log)
	_ = store.Load()
	mgr := manager.New(store, nil, log, manager.Options{})
	srv := httptest.NewServer(server.NewRouter(mgr, "/api").Handler())
	t.Cleanup(srv.Close)
	return mgr, GlobalFlags{APIUrl: srv.URL + "/api", APITimeout: 5 * time.Second}
}

func TestRecordsEditRunningLauncher(t *testing.T) {
	mgr, g := remoteLauncher(t, launch.NewMemoryStore(launch.Record{Path: "/opt/a"}))
	var out bytes.Buffer

	require.NoError(t, recordsAdd(g, AddFlags{Path: "/opt/b", Shutdown: true}, &out))
	assert.Contains(t, out.String(), "added record 1 to "+g.APIUrl)
	assert.Equal(t, []launch.Record{{Path: "/opt/a"}, {Path: "/opt/b", ShutdownEnabled: true}}, mgr.Store().GetAll())

	require.NoError(t, recordsRemove(g, RemoveFlags{Index: 0}, &out))
	assert.Equal(t, []launch.Record{{Path: "/opt/b", ShutdownEnabled: true}}, mgr.Store().GetAll())

	out.Reset()
	require.NoError(t, recordsList(g, ListFlags{}, &out))
	assert.Contains(t, out.String(), "/opt/b")
}

func TestRecordsPersistWarningIsNotFatalRemotely(t *testing.T) {
	mem := launch.NewMemoryStore()
	mem.SaveErr = errors.New("disk full")
	mgr, g := remoteLauncher(t, mem)

	var out bytes.Buffer
	require.NoError(t, recordsAdd(g, AddFlags{Path: "/opt/a"}, &out))
	assert.Contains(t, out.String(), "warning:")
	assert.Len(t, mgr.Store().GetAll(), 1)
}

func TestStatusCommand(t *testing.T) {
	_, g := remoteLauncher(t, launch.NewMemoryStore())
	var out bytes.Buffer
	require.NoError(t, showStatus(context.Background(), g, &out))
	assert.Contains(t, out.String(), "no tracked processes")

	assert.Error(t, showStatus(context.Background(), GlobalFlags{}, &out))
}
