package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/woodland.report/internal/training"
)

// Run is a row of training_runs.
type Run struct {
	RunID           string          `json:"run_id"`
	Name            string          `json:"name"`
	ChannelSet      string          `json:"channel_set"`
	PatchSize       int             `json:"patch_size"`
	BaseFilters     int             `json:"base_filters"`
	Depth           int             `json:"depth"`
	ConfigJSON      json.RawMessage `json:"config_json,omitempty"`
	BuildVersion    string          `json:"build_version"`
	Status          string          `json:"status"`
	StartedAt       int64           `json:"started_at"`
	FinishedAt      *int64          `json:"finished_at,omitempty"`
	EpochsCompleted int             `json:"epochs_completed"`
	BestLoss        *float64        `json:"best_loss,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Epoch is a row of training_epochs.
type Epoch struct {
	RunID      string   `json:"run_id"`
	Epoch      int      `json:"epoch"`
	TrainLoss  float64  `json:"train_loss"`
	ValLoss    *float64 `json:"val_loss,omitempty"`
	DurationMS int64    `json:"duration_ms"`
	Improved   bool     `json:"improved"`
	RecordedAt int64    `json:"recorded_at"`
}

// Checkpoint is a row of checkpoints.
type Checkpoint struct {
	CheckpointID string   `json:"checkpoint_id"`
	RunID        string   `json:"run_id"`
	Kind         string   `json:"kind"`
	Path         string   `json:"path"`
	Epoch        int      `json:"epoch"`
	Loss         *float64 `json:"loss,omitempty"`
	CreatedAt    int64    `json:"created_at"`
}

func finitePtr(v float64) sql.NullFloat64 {
	return nullFloat(v, !math.IsNaN(v) && !math.IsInf(v, 0))
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// CreateRun inserts r with status "training". A UUID is generated when
// RunID is empty.
func (db *DB) CreateRun(ctx context.Context, r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.StartedAt == 0 {
		r.StartedAt = time.Now().UnixNano()
	}
	if r.Status == "" {
		r.Status = training.Training.String()
	}
	var cfg interface{}
	if len(r.ConfigJSON) > 0 {
		cfg = string(r.ConfigJSON)
	}
	return retryOnBusy(func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO training_runs (
				run_id, name, channel_set, patch_size, base_filters, depth,
				config_json, build_version, status, started_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.Name, r.ChannelSet, r.PatchSize, r.BaseFilters, r.Depth,
			cfg, r.BuildVersion, r.Status, r.StartedAt,
		)
		return err
	})
}

// FinishRun marks a run finalized, or failed when runErr is non-nil.
func (db *DB) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := training.Finalized.String(), ""
	if runErr != nil {
		status, msg = training.Failed.String(), runErr.Error()
	}
	var n int64
	err := retryOnBusy(func() error {
		res, err := db.ExecContext(ctx, `
			UPDATE training_runs SET status = ?, error = ?, finished_at = ?
			WHERE run_id = ?`, status, msg, time.Now().UnixNano(), runID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `run_id, name, channel_set, patch_size, base_filters, depth,
	config_json, build_version, status, started_at, finished_at,
	epochs_completed, best_loss, error`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r        Run
		cfg      sql.NullString
		finished sql.NullInt64
		best     sql.NullFloat64
	)
	if err := s.Scan(&r.RunID, &r.Name, &r.ChannelSet, &r.PatchSize, &r.BaseFilters, &r.Depth,
		&cfg, &r.BuildVersion, &r.Status, &r.StartedAt, &finished,
		&r.EpochsCompleted, &best, &r.Error); err != nil {
		return nil, err
	}
	if cfg.Valid && cfg.String != "" {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	r.FinishedAt = int64Ptr(finished)
	r.BestLoss = floatPtr(best)
	return &r, nil
}

// GetRun returns one run.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM training_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

// ListRuns returns the newest runs first; limit <= 0 means no limit.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM training_runs
		ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run together with its epochs and checkpoint rows.
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	return retryOnBusy(func() error {
		_, err := db.ExecContext(ctx, `DELETE FROM training_runs WHERE run_id = ?`, runID)
		return err
	})
}

// RecordEpoch stores one epoch and advances the run summary. A NaN
// validation loss is stored as NULL.
func (db *DB) RecordEpoch(ctx context.Context, runID string, rec training.EpochRecord) error {
	improved := 0
	if rec.Improved {
		improved = 1
	}
	return retryOnBusy(func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO training_epochs (
				run_id, epoch, train_loss, val_loss, duration_ms, improved, recorded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, rec.Epoch, rec.TrainLoss, finitePtr(rec.ValLoss),
			rec.Duration.Milliseconds(), improved, time.Now().UnixNano(),
		); err != nil {
			return err
		}

		monitored := rec.ValLoss
		if math.IsNaN(monitored) {
			monitored = rec.TrainLoss
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE training_runs SET
				epochs_completed = MAX(epochs_completed, ?),
				best_loss = CASE WHEN best_loss IS NULL OR ? < best_loss THEN ? ELSE best_loss END
			WHERE run_id = ?`,
			rec.Epoch, monitored, monitored, runID,
		); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ListEpochs returns a run's epochs in order.
func (db *DB) ListEpochs(ctx context.Context, runID string) ([]*Epoch, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, epoch, train_loss, val_loss, duration_ms, improved, recorded_at
		FROM training_epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var out []*Epoch
	for rows.Next() {
		var (
			e   Epoch
			val sql.NullFloat64
		)
		if err := rows.Scan(&e.RunID, &e.Epoch, &e.TrainLoss, &val, &e.DurationMS, &e.Improved, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.ValLoss = floatPtr(val)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// RecordCheckpoint stores a written checkpoint file.
func (db *DB) RecordCheckpoint(ctx context.Context, runID string, info training.CheckpointInfo) error {
	return retryOnBusy(func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO checkpoints (checkpoint_id, run_id, kind, path, epoch, loss, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), runID, info.Kind, info.Path, info.Epoch,
			finitePtr(info.Loss), time.Now().UnixNano(),
		)
		return err
	})
}

// ListCheckpoints returns a run's checkpoints, oldest first.
func (db *DB) ListCheckpoints(ctx context.Context, runID string) ([]*Checkpoint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT checkpoint_id, run_id, kind, path, epoch, loss, created_at
		FROM checkpoints WHERE run_id = ? ORDER BY created_at, epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var (
			c    Checkpoint
			loss sql.NullFloat64
		)
		if err := rows.Scan(&c.CheckpointID, &c.RunID, &c.Kind, &c.Path, &c.Epoch, &loss, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Loss = floatPtr(loss)
		out = append(out, &c)
	}
	return out, rows.Err()
}

var _ training.Recorder = (*DB)(nil)
