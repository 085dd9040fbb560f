package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joseph-ayodele/docbench/internal/common"
)

// RunRecord is one ledger row.
type RunRecord struct {
	ID          string
	Dataset     string
	Model       string
	Fewshot     bool
	Temperature float64
	Iteration   int
	ResultsPath string
	Total       int
	Succeeded   int
	Failed      int
	Score       float64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// timeLayout is fixed width so started_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const createRuns = `CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	dataset      TEXT NOT NULL,
	model        TEXT NOT NULL,
	fewshot      BOOLEAN NOT NULL,
	temperature  DOUBLE PRECISION NOT NULL,
	iteration    INTEGER NOT NULL,
	results_path TEXT NOT NULL,
	total        INTEGER NOT NULL,
	succeeded    INTEGER NOT NULL,
	failed       INTEGER NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL
)`

const createRunsIndex = `CREATE INDEX IF NOT EXISTS runs_dataset_started ON runs (dataset, started_at)`

const runColumns = `id, dataset, model, fewshot, temperature, iteration, results_path, total, succeeded, failed, score, started_at, finished_at`

// Migrate creates the ledger tables if they do not exist.
func (l *Ledger) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createRuns, createRunsIndex} {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", common.ErrDatabase, err)
		}
	}
	l.logger.Debug("ledger.migrated", "dialect", l.dialect)
	return nil
}

// RecordRun validates and inserts a run row.
func (l *Ledger) RecordRun(ctx context.Context, r RunRecord) error {
	if err := validateRun(r); err != nil {
		return err
	}
	q := l.rebind(`INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := l.db.ExecContext(ctx, q,
		r.ID, r.Dataset, r.Model, r.Fewshot, r.Temperature, r.Iteration, r.ResultsPath,
		r.Total, r.Succeeded, r.Failed, r.Score,
		r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		l.logger.Error("ledger.record_failed", "run_id", r.ID, "error", err)
		return fmt.Errorf("%w: insert run: %w", common.ErrDatabase, err)
	}
	l.logger.Info("ledger.run_recorded", "run_id", r.ID, "dataset", r.Dataset, "score", r.Score)
	return nil
}

func validateRun(r RunRecord) error {
	return common.NewValidator().
		Field("id", r.ID, common.Required, common.UUID).
		Field("dataset", r.Dataset, common.Required).
		Field("model", r.Model, common.Required).
		Field("results_path", r.ResultsPath, common.Required).
		Field("score", r.Score, common.Between(0, 1)).
		Field("succeeded", r.Succeeded, common.Between(0, float64(r.Total))).
		Field("failed", r.Failed, common.Between(0, float64(r.Total))).
		Err()
}

// GetRun returns a run by id.
func (l *Ledger) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := l.db.QueryRowContext(ctx, l.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, common.NotFoundf("run %s", id)
	}
	return r, err
}

// ListRuns returns the most recent runs first, optionally filtered by
// dataset. limit <= 0 means no limit.
func (l *Ledger) ListRuns(ctx context.Context, dataset string, limit int) ([]RunRecord, error) {
	q := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if dataset != "" {
		q += ` WHERE dataset = ?`
		args = append(args, dataset)
	}
	q += ` ORDER BY started_at DESC, id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, l.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list runs: %w", common.ErrDatabase, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRecord, error) {
	var r RunRecord
	var started, finished string
	err := s.Scan(&r.ID, &r.Dataset, &r.Model, &r.Fewshot, &r.Temperature, &r.Iteration, &r.ResultsPath,
		&r.Total, &r.Succeeded, &r.Failed, &r.Score, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("%w: scan run: %w", common.ErrDatabase, err)
	}
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return r, fmt.Errorf("%w: started_at: %w", common.ErrDatabase, err)
	}
	if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return r, fmt.Errorf("%w: finished_at: %w", common.ErrDatabase, err)
	}
	return r, nil
}
