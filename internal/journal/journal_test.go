package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/store"
)

// createTestJournal opens a journal in a temp directory.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func startSession(t *testing.T, j *Journal, id string) {
	t.Helper()
	require.NoError(t, j.StartSession(context.Background(), Session{
		ID:            id,
		Source:        "graphql-ws",
		Workflows:     []string{"w1"},
		EngineVersion: "test",
	}))
}

func sampleDeltas() []model.Delta {
	return []model.Delta{
		{Added: &model.DeltaSet{
			Workflow:    model.Fields{"id": "w1", "status": "running"},
			TaskProxies: []model.Fields{{"id": "w1//1/foo", "state": "waiting"}},
		}},
		{Added: &model.DeltaSet{
			Jobs: []model.Fields{{"id": "w1//1/foo/01", "submitNum": 1, "state": "running"}},
		}, Updated: &model.DeltaSet{
			TaskProxies: []model.Fields{{"id": "w1//1/foo", "state": "running"}},
		}},
		{Updated: &model.DeltaSet{
			TaskProxies: []model.Fields{{"id": "w1//1/ghost", "state": "running"}},
		}},
	}
}

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	for i := 0; i < 3; i++ {
		j, err := Open(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, j.Close())
	}
	_, err := os.Stat(path)
	require.NoError(t, err)

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	for _, table := range []string{"sessions", "deltas"} {
		var name string
		err := j.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	j := createTestJournal(t)
	assert.NoError(t, j.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, j.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, j.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestOpen_SingleConnection(t *testing.T) {
	j := createTestJournal(t)
	assert.Equal(t, 1, j.db.Stats().MaxOpenConnections)
}

func TestAppendDelta_Idempotent(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)
	startSession(t, j, "s1")

	d := sampleDeltas()[0]
	inserted, err := j.AppendDelta(ctx, "s1", 1, d)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = j.AppendDelta(ctx, "s1", 1, d)
	require.NoError(t, err)
	assert.False(t, inserted)

	entries, err := j.ReadDeltas(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppendDelta_RequiresSession(t *testing.T) {
	j := createTestJournal(t)
	_, err := j.AppendDelta(context.Background(), "missing", 1, sampleDeltas()[0])
	assert.Error(t, err)
}

func TestReadDeltas_OrderedBySeq(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)
	startSession(t, j, "s1")

	deltas := sampleDeltas()
	for _, seq := range []int64{3, 1, 2} {
		_, err := j.AppendDelta(ctx, "s1", seq, deltas[seq-1])
		require.NoError(t, err)
	}

	entries, err := j.ReadDeltas(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, "s1", e.SessionID)
	}
	state, _ := entries[1].Delta.Updated.TaskProxies[0].String("state")
	assert.Equal(t, "running", state)

	last, err := j.LastSeq(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)

	empty, err := j.ReadDeltas(ctx, "none")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestReadDeltas_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)
	startSession(t, j, "s1")
	_, err := j.AppendDelta(ctx, "s1", 1, sampleDeltas()[0])
	require.NoError(t, err)

	_, err = j.db.Exec(`UPDATE deltas SET payload = '{"added":{"workflow":{"id":"w2"}}}'`)
	require.NoError(t, err)

	_, err = j.ReadDeltas(ctx, "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	_, err := j.LatestSession(ctx)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	startSession(t, j, "0190a000-0000-7000-8000-000000000001")
	startSession(t, j, "0190a000-0000-7000-8000-000000000002")
	require.NoError(t, j.StartSession(ctx, Session{ID: "0190a000-0000-7000-8000-000000000003", Source: "nats"}))

	sessions, err := j.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, []string{"w1"}, sessions[0].Workflows)
	assert.Empty(t, sessions[2].Workflows)

	latest, err := j.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "nats", latest.Source)

	_, err = j.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReplay_RebuildsState(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)
	startSession(t, j, "s1")
	for i, d := range sampleDeltas() {
		_, err := j.AppendDelta(ctx, "s1", int64(i+1), d)
		require.NoError(t, err)
	}

	st := store.New()
	res, err := j.Replay(ctx, "s1", st)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, int64(3), res.LastSeq)
	assert.Equal(t, 1, res.Ignored)

	latest, ok := st.LatestJob("w1//1/foo")
	require.True(t, ok)
	assert.Equal(t, "running", latest.State())

	_, err = j.Replay(ctx, "missing", store.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReplay_Cancelled(t *testing.T) {
	j := createTestJournal(t)
	startSession(t, j, "s1")
	_, err := j.AppendDelta(context.Background(), "s1", 1, sampleDeltas()[0])
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = j.Replay(ctx, "s1", store.New())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify_Deterministic(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)
	startSession(t, j, "s1")
	for i, d := range sampleDeltas() {
		_, err := j.AppendDelta(ctx, "s1", int64(i+1), d)
		require.NoError(t, err)
	}

	v, st, err := j.Verify(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, v.Deterministic)
	assert.Empty(t, v.Diff)
	assert.Len(t, v.Checksums, len(model.Types))

	want, err := st.Checksum(model.TypeJob)
	require.NoError(t, err)
	assert.Equal(t, want, v.Checksums[model.TypeJob])
}
