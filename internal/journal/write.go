package journal

import (
	"context"
	"fmt"
	"time"

	"snapfleet/internal/output"
	"snapfleet/internal/scenario"
)

// BeginRun records the start of a run. Lines can only be stored for runs
// that have begun.
func (j *Journal) BeginRun(ctx context.Context, id, name string, nodeCount int, startedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, node_count, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, name, nodeCount, formatTime(startedAt))
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stores the summary and every outcome of r in one transaction.
func (j *Journal) FinishRun(ctx context.Context, r *scenario.Result) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET
			seed = ?, finished_at = ?, succeeded = ?, expected_dead = ?,
			unexpected = ?, aborted = ?, error = ?
		WHERE id = ?
	`, r.Seed, formatTime(r.EndTime), r.Succeeded, r.ExpectedDead,
		r.Unexpected, r.Aborted, r.Error, r.RunID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", r.RunID, ErrNotFound)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO step_outcomes (run_id, step, action, node_id, kind, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	defer stmt.Close()

	for _, o := range r.Outcomes {
		if _, err := stmt.ExecContext(ctx, r.RunID, o.Step, string(o.Action), o.NodeID, o.Kind.String(), o.Error, formatTime(o.At)); err != nil {
			return fmt.Errorf("finish run: outcome: %w", err)
		}
	}
	return tx.Commit()
}

// WriteLine stores one captured line.
func (j *Journal) WriteLine(ctx context.Context, runID string, line output.LogLine) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO log_lines (run_id, seq, source, generation, text)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, line.Seq, line.Source, line.Generation, line.Text)
	if err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

// Sink adapts the journal to output.LineSink for one run.
type Sink struct {
	j     *Journal
	runID string
}

// Sink は指定した実行の行を書き込むLineSinkを返す
func (j *Journal) Sink(runID string) *Sink {
	return &Sink{j: j, runID: runID}
}

// WriteLine implements output.LineSink.
func (s *Sink) WriteLine(line output.LogLine) error {
	return s.j.WriteLine(context.Background(), s.runID, line)
}

// DeleteRun removes a run together with its lines and outcomes.
func (j *Journal) DeleteRun(ctx context.Context, id string) error {
	res, err := j.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete run %s: %w", id, ErrNotFound)
	}
	return nil
}
