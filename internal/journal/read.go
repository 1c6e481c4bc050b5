package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"snapfleet/internal/output"
	"snapfleet/internal/scenario"
)

// Run is one row of the runs table.
type Run struct {
	ID           string    `json:"id"`
	Scenario     string    `json:"scenario"`
	NodeCount    int       `json:"node_count"`
	Seed         *int64    `json:"seed,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	Succeeded    int       `json:"succeeded"`
	ExpectedDead int       `json:"expected_dead"`
	Unexpected   int       `json:"unexpected"`
	Aborted      bool      `json:"aborted"`
	Error        string    `json:"error,omitempty"`
}

// Finished reports whether FinishRun was recorded for the run.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

const runColumns = `id, scenario, node_count, seed, started_at, finished_at,
	succeeded, expected_dead, unexpected, aborted, error`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var (
		r        Run
		seed     sql.NullInt64
		started  string
		finished sql.NullString
	)
	err := row.Scan(&r.ID, &r.Scenario, &r.NodeCount, &seed, &started, &finished,
		&r.Succeeded, &r.ExpectedDead, &r.Unexpected, &r.Aborted, &r.Error)
	if err != nil {
		return Run{}, err
	}
	if seed.Valid {
		v := seed.Int64
		r.Seed = &v
	}
	r.StartedAt = parseTime(started)
	if finished.Valid {
		r.FinishedAt = parseTime(finished.String)
	}
	return r, nil
}

// Runs returns the most recent runs first. limit <= 0 means all.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run.
func (j *Journal) GetRun(ctx context.Context, id string) (Run, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// LatestRun returns the most recently started run.
func (j *Journal) LatestRun(ctx context.Context) (Run, error) {
	runs, err := j.Runs(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}
	return runs[0], nil
}

// LineQuery filters stored lines.
type LineQuery struct {
	RunID    string
	Source   *int // nilなら全ソース
	AfterSeq uint64
	Limit    int
}

// Lines returns stored lines in Seq order.
func (j *Journal) Lines(ctx context.Context, q LineQuery) ([]output.LogLine, error) {
	var (
		where = []string{"run_id = ?", "seq > ?"}
		args  = []any{q.RunID, q.AfterSeq}
	)
	if q.Source != nil {
		where = append(where, "source = ?")
		args = append(args, *q.Source)
	}
	query := `SELECT seq, source, generation, text FROM log_lines WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY seq`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	defer rows.Close()

	var lines []output.LogLine
	for rows.Next() {
		var l output.LogLine
		if err := rows.Scan(&l.Seq, &l.Source, &l.Generation, &l.Text); err != nil {
			return nil, fmt.Errorf("read lines: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Outcomes returns the stored outcomes of a run in insertion order.
func (j *Journal) Outcomes(ctx context.Context, runID string) ([]scenario.StepOutcome, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT step, action, node_id, kind, error, at
		FROM step_outcomes WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read outcomes: %w", err)
	}
	defer rows.Close()

	var out []scenario.StepOutcome
	for rows.Next() {
		var (
			o      scenario.StepOutcome
			action string
			kind   string
			at     string
		)
		if err := rows.Scan(&o.Step, &action, &o.NodeID, &kind, &o.Error, &at); err != nil {
			return nil, fmt.Errorf("read outcomes: %w", err)
		}
		o.Action = scenario.Action(action)
		if err := o.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, fmt.Errorf("read outcomes: %w", err)
		}
		o.At = parseTime(at)
		out = append(out, o)
	}
	return out, rows.Err()
}
