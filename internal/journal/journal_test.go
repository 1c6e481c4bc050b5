package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapfleet/internal/output"
	"snapfleet/internal/scenario"
)

func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func verifyPragma(t *testing.T, j *Journal, name, expected string) {
	t.Helper()
	var value string
	require.NoError(t, j.db.QueryRow("PRAGMA "+name).Scan(&value))
	assert.Equal(t, expected, value, name)
}

func TestOpenAppliesPragmasAndSchema(t *testing.T) {
	j := createTestJournal(t)
	verifyPragma(t, j, "journal_mode", "wal")
	verifyPragma(t, j, "foreign_keys", "1")
	verifyPragma(t, j, "user_version", "1")

	for _, table := range []string{"runs", "log_lines", "step_outcomes"} {
		var n int
		require.NoError(t, j.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n), table)
	}
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for range 3 {
		j, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, j.Close())
	}
}

func TestRunRoundTrip(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.BeginRun(ctx, "run-1", "smoke", 3, start))
	// 同じIDで再度開始しても無視される
	require.NoError(t, j.BeginRun(ctx, "run-1", "other", 9, start))

	sink := j.Sink("run-1")
	agg := output.New(output.WithSink(sink))
	agg.Emit("scenario smoke started")
	agg.Emit("step 1/1: bootstrap all")
	agg.Close()

	require.NoError(t, j.WriteLine(ctx, "run-1", output.LogLine{Seq: 3, Source: 1, Generation: 2, Text: "restore ok"}))

	result := &scenario.Result{
		RunID:        "run-1",
		Seed:         42,
		EndTime:      start.Add(time.Minute),
		Succeeded:    1,
		ExpectedDead: 1,
		Outcomes: []scenario.StepOutcome{
			{Step: 1, Action: scenario.ActionSnapshot, NodeID: 1, Kind: scenario.OutcomeSucceeded, At: start},
			{Step: 2, Action: scenario.ActionSnapshot, NodeID: 2, Kind: scenario.OutcomeExpectedDeadTarget, Error: "dead", At: start},
		},
	}
	require.NoError(t, j.FinishRun(ctx, result))

	run, err := j.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "smoke", run.Scenario)
	assert.Equal(t, 3, run.NodeCount)
	require.NotNil(t, run.Seed)
	assert.Equal(t, int64(42), *run.Seed)
	assert.True(t, run.StartedAt.Equal(start))
	assert.True(t, run.Finished())
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.ExpectedDead)
	assert.False(t, run.Aborted)

	lines, err := j.Lines(ctx, LineQuery{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, output.LogLine{Seq: 1, Source: output.HarnessSource, Text: "scenario smoke started"}, lines[0])
	assert.Equal(t, "restore ok", lines[2].Text)

	source := 1
	lines, err = j.Lines(ctx, LineQuery{RunID: "run-1", Source: &source})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Generation)

	lines, err = j.Lines(ctx, LineQuery{RunID: "run-1", AfterSeq: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, uint64(2), lines[0].Seq)

	outcomes, err := j.Outcomes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, scenario.OutcomeExpectedDeadTarget, outcomes[1].Kind)
	assert.Equal(t, "dead", outcomes[1].Error)
	assert.Equal(t, 2, outcomes[1].NodeID)
}

func TestRunsOrderAndLatest(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	_, err := j.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.BeginRun(ctx, id, "bootstrap", 2, base.Add(time.Duration(i)*time.Hour)))
	}

	runs, err := j.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.False(t, runs[0].Finished())

	runs, err = j.Runs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	latest, err := j.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)
}

func TestLinesRequireRun(t *testing.T) {
	j := createTestJournal(t)
	err := j.WriteLine(context.Background(), "missing", output.LogLine{Seq: 1, Text: "x"})
	assert.Error(t, err, "foreign key should reject lines of unknown runs")
}

func TestFinishUnknownRun(t *testing.T) {
	j := createTestJournal(t)
	err := j.FinishRun(context.Background(), &scenario.Result{RunID: "missing"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteRunCascades(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.BeginRun(ctx, "run-1", "smoke", 1, time.Now()))
	require.NoError(t, j.WriteLine(ctx, "run-1", output.LogLine{Seq: 1, Text: "node 0 up"}))

	require.NoError(t, j.DeleteRun(ctx, "run-1"))
	_, err := j.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	var n int
	require.NoError(t, j.db.QueryRow("SELECT COUNT(*) FROM log_lines").Scan(&n))
	assert.Zero(t, n)

	assert.ErrorIs(t, j.DeleteRun(ctx, "run-1"), ErrNotFound)
}
