package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/companion"
	"github.com/loykin/companion/internal/history"
	"github.com/loykin/companion/internal/history/sqlite"
)

func tempRecords(t *testing.T) GlobalFlags {
	t.Helper()
	return GlobalFlags{RecordsPath: filepath.Join(t.TempDir(), "companion", "config.json")}
}

func readDoc(t *testing.T, path string) companion.Document {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc companion.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestRecordsAddListRemoveClear(t *testing.T) {
	g := tempRecords(t)
	var out bytes.Buffer

	require.NoError(t, recordsAdd(g, AddFlags{Path: "/opt/a", Shutdown: true}, &out))
	require.NoError(t, recordsAdd(g, AddFlags{Path: "/opt/b", Minimized: true}, &out))
	require.NoError(t, recordsAdd(g, AddFlags{Path: "/opt/a"}, &out))
	assert.Contains(t, out.String(), "added record 2")

	doc := readDoc(t, g.RecordsPath)
	require.Len(t, doc.Executables, 3)
	assert.Equal(t, companion.Record{Path: "/opt/a", ShutdownEnabled: true}, doc.Executables[0])
	assert.True(t, doc.Executables[1].StartMinimized)

	out.Reset()
	require.NoError(t, recordsList(g, ListFlags{}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "PATH")
	assert.Contains(t, lines[2], "/opt/b")

	out.Reset()
	require.NoError(t, recordsRemove(g, RemoveFlags{Index: 1}, &out))
	doc = readDoc(t, g.RecordsPath)
	assert.Equal(t, []companion.Record{{Path: "/opt/a", ShutdownEnabled: true}, {Path: "/opt/a"}}, doc.Executables)

	assert.Error(t, recordsRemove(g, RemoveFlags{Index: 5}, &out))

	require.NoError(t, recordsClear(g, &out))
	assert.Empty(t, readDoc(t, g.RecordsPath).Executables)

	out.Reset()
	require.NoError(t, recordsList(g, ListFlags{}, &out))
	assert.Contains(t, out.String(), "no launch records")
}

func TestRecordsListJSON(t *testing.T) {
	g := tempRecords(t)
	require.NoError(t, recordsAdd(g, AddFlags{Path: "/opt/a", Shutdown: true}, &bytes.Buffer{}))

	var out bytes.Buffer
	require.NoError(t, recordsList(g, ListFlags{JSON: true}, &out))
	var doc companion.Document
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, []companion.Record{{Path: "/opt/a", ShutdownEnabled: true}}, doc.Executables)
}

func TestRootCommandRecordsAdd(t *testing.T) {
	g := tempRecords(t)
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"records", "add", "--records", g.RecordsPath, "--path", "/opt/x", "--shutdown"})
	require.NoError(t, root.Execute())
	assert.Equal(t, []companion.Record{{Path: "/opt/x", ShutdownEnabled: true}}, readDoc(t, g.RecordsPath).Executables)

	root = buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"records", "add", "--records", g.RecordsPath})
	assert.Error(t, root.Execute(), "--path is required")
}

func TestRunLauncherLaunchesAndStops(t *testing.T) {
	if runtime.GOOS == "windows" || testing.Short() {
		t.Skip("spawns sh scripts")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "child.sh")
	marker := filepath.Join(dir, "started")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ntouch "+marker+"\nexec sleep 30\n"), 0o755))

	g := tempRecords(t)
	require.NoError(t, recordsAdd(g, AddFlags{Path: script, Shutdown: true}, &bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var logs bytes.Buffer
	go func() { done <- runLauncher(ctx, g, RunFlags{}, &syncWriter{w: &logs}) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRunLauncherBadConfig(t *testing.T) {
	err := runLauncher(context.Background(), GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")}, RunFlags{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "error loading config")
}

func TestRecordsAddRefusesMalformedFile(t *testing.T) {
	g := tempRecords(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(g.RecordsPath), 0o755))
	original := `{"executables":[{"path":"/opt/keep1"},{"path":"/opt/keep2"},]}`
	require.NoError(t, os.WriteFile(g.RecordsPath, []byte(original), 0o600))

	err := recordsAdd(g, AddFlags{Path: "/opt/new1"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to edit unreadable records file")
	assert.Error(t, recordsClear(g, &bytes.Buffer{}))

	data, err := os.ReadFile(g.RecordsPath)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
	_, err = os.Stat(g.RecordsPath + ".bak")
	assert.True(t, os.IsNotExist(err))
}

func TestShowHistory(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "history.db")
	sink, err := sqlite.New(dsn)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventSpawn, OccurredAt: time.Now(), Session: "s1",
		Record: history.Record{Path: "/opt/overlay", PID: 321}}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventKill, OccurredAt: time.Now(), Session: "s1",
		Record: history.Record{Path: "/opt/overlay", PID: 321}}))
	require.NoError(t, sink.Close())

	g := tempRecords(t)
	var out bytes.Buffer
	require.NoError(t, showHistory(ctx, g, HistoryFlags{DSN: dsn, Limit: 10}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "EVENT")
	assert.Contains(t, lines[1], "kill")
	assert.Contains(t, lines[2], "/opt/overlay")

	out.Reset()
	require.NoError(t, showHistory(ctx, g, HistoryFlags{DSN: dsn, Session: "s1"}, &out))
	assert.Equal(t, "session s1: 2 events\n", out.String())

	out.Reset()
	require.NoError(t, showHistory(ctx, g, HistoryFlags{DSN: dsn, Limit: 1, JSON: true}, &out))
	var events []history.Event
	require.NoError(t, json.Unmarshal(out.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, history.EventKill, events[0].Type)
}

func TestShowHistoryWithoutSink(t *testing.T) {
	err := showHistory(context.Background(), tempRecords(t), HistoryFlags{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history sink configured")
}
