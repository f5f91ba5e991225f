package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, path
}

func TestOpen_IsIdempotent(t *testing.T) {
	st, path := openTestStore(t)
	require.NoError(t, st.Close())

	// Reopening applies schema and migrations again without error.
	st2, err := Open(path)
	require.NoError(t, err)
	defer st2.Close()

	var version int
	require.NoError(t, st2.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestRunRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)

	require.NoError(t, st.BeginRun(ctx, "run-1", "reindex_db_interleave", started))
	require.NoError(t, st.WriteStepResult(ctx, "run-1", StepRow{
		Seq: 0, Name: "reindex_db", Outcome: "pass", Duration: 1200 * time.Millisecond,
	}))
	require.NoError(t, st.WriteStepResult(ctx, "run-1", StepRow{
		Seq: 1, Name: "drop_obj", Outcome: "fail",
		Error: "TIMEOUT: reindex_db@primary/1", Cycles: 20, LastStatus: "not triggered",
	}))
	require.NoError(t, st.WriteFaultEvent(ctx, "run-1", EventRow{
		Seq: 0, Step: "reindex_db", Kind: "arm",
		Point: "reindex_db@primary/1", Detail: "suspend",
	}))
	require.NoError(t, st.FinishRun(ctx, "run-1", false, finished))

	run, steps, events, err := st.ReadRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, "reindex_db_interleave", run.Scenario)
	assert.True(t, run.StartedAt.Equal(started))
	assert.True(t, run.FinishedAt.Equal(finished))
	assert.False(t, run.Pass)

	require.Len(t, steps, 2)
	assert.Equal(t, "reindex_db", steps[0].Name)
	assert.Equal(t, 1200*time.Millisecond, steps[0].Duration)
	assert.Equal(t, "drop_obj", steps[1].Name)
	assert.Equal(t, 20, steps[1].Cycles)
	assert.Equal(t, "not triggered", steps[1].LastStatus)

	require.Len(t, events, 1)
	assert.Equal(t, "arm", events[0].Kind)
	assert.Equal(t, "reindex_db@primary/1", events[0].Point)
}

func TestReadRun_UnfinishedRun(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.BeginRun(ctx, "run-1", "sc", time.Now().UTC()))

	run, steps, events, err := st.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, run.FinishedAt.IsZero())
	assert.NotNil(t, steps)
	assert.NotNil(t, events)
	assert.Empty(t, steps)
	assert.Empty(t, events)
}

func TestReadRun_NotFound(t *testing.T) {
	st, _ := openTestStore(t)

	_, _, _, err := st.ReadRun(context.Background(), "run-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `run "run-missing" not found`)
}

func TestWriteStepResult_DuplicateSeqIgnored(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.BeginRun(ctx, "run-1", "sc", time.Now().UTC()))
	require.NoError(t, st.WriteStepResult(ctx, "run-1", StepRow{Seq: 0, Name: "s1", Outcome: "pass"}))
	require.NoError(t, st.WriteStepResult(ctx, "run-1", StepRow{Seq: 0, Name: "s1", Outcome: "fail"}))

	_, steps, _, err := st.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "pass", steps[0].Outcome)
}

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.BeginRun(ctx, "run-old", "sc", base))
	require.NoError(t, st.BeginRun(ctx, "run-mid", "sc", base.Add(time.Minute)))
	require.NoError(t, st.BeginRun(ctx, "run-new", "sc", base.Add(2*time.Minute)))

	runs, err := st.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-mid", runs[1].ID)
}
