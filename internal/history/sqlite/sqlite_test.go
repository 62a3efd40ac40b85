package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/companion/internal/history"
)

func TestSQLiteSink_FileRoundTrip(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	events := []history.Event{
		{Type: history.EventSpawn, OccurredAt: now, Session: "s1",
			Record: history.Record{ID: "a", Path: "/bin/a", PID: 100, OriginIndex: 0}},
		{Type: history.EventSpawnFailed, OccurredAt: now.Add(time.Millisecond), Session: "s1",
			Record: history.Record{Path: "/bin/missing", OriginIndex: 1, Error: "no such file"}},
		{Type: history.EventStop, OccurredAt: now.Add(2 * time.Millisecond), Session: "s1",
			Record: history.Record{ID: "a", Path: "/bin/a", PID: 100}},
	}
	for _, e := range events {
		require.NoError(t, sink.Send(ctx, e))
	}

	got, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, history.EventStop, got[0].Type)
	assert.Equal(t, history.EventSpawnFailed, got[1].Type)
	assert.Equal(t, "no such file", got[1].Record.Error)
	assert.Equal(t, 1, got[1].Record.OriginIndex)
	assert.Equal(t, "s1", got[2].Session)
	assert.Equal(t, 100, got[2].Record.PID)
	assert.True(t, got[2].OccurredAt.Equal(now), "timestamp survives: %v vs %v", got[2].OccurredAt, now)

	n, err := sink.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = sink.Count(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventLeaveRunning, OccurredAt: time.Now(), Session: "m"}))
	got, err := sink.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
