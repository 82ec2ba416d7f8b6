package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/woodland.report/internal/metrics"
)

// Evaluation is a persisted scene evaluation against reference labels.
// Ratios are nil where the metric is undefined.
type Evaluation struct {
	EvaluationID   string         `json:"evaluation_id"`
	RunID          string         `json:"run_id,omitempty"`
	SceneID        string         `json:"scene_id"`
	CheckpointPath string         `json:"checkpoint_path,omitempty"`
	Matrix         metrics.Matrix `json:"confusion"`
	Defined        bool           `json:"defined"`
	Accuracy       *float64       `json:"accuracy,omitempty"`
	Precision      *float64       `json:"precision,omitempty"`
	Recall         *float64       `json:"recall,omitempty"`
	F1             *float64       `json:"f1,omitempty"`
	Kappa          *float64       `json:"kappa,omitempty"`
	CreatedAt      int64          `json:"created_at"`
}

// NewEvaluation converts a metrics result into a registry row.
func NewEvaluation(runID, sceneID, checkpointPath string, res metrics.Result) *Evaluation {
	opt := func(v float64, ok bool) *float64 {
		if !ok {
			return nil
		}
		return &v
	}
	return &Evaluation{
		RunID:          runID,
		SceneID:        sceneID,
		CheckpointPath: checkpointPath,
		Matrix:         res.Matrix,
		Defined:        res.Defined,
		Accuracy:       opt(res.Accuracy, res.Defined),
		Precision:      opt(res.Precision, res.PrecisionDefined),
		Recall:         opt(res.Recall, res.RecallDefined),
		F1:             opt(res.F1, res.F1Defined),
		Kappa:          opt(res.Kappa, res.KappaDefined),
	}
}

func nullable(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return nullFloat(*p, true)
}

// InsertEvaluation persists e. If EvaluationID is empty, a UUID is generated.
func (db *DB) InsertEvaluation(ctx context.Context, e *Evaluation) error {
	if e.EvaluationID == "" {
		e.EvaluationID = uuid.New().String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixNano()
	}
	return retryOnBusy(func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO evaluations (
				evaluation_id, run_id, scene_id, checkpoint_path,
				tp, tn, fp, fn, skipped, defined,
				accuracy, precision, recall, f1, kappa, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.EvaluationID, e.RunID, e.SceneID, e.CheckpointPath,
			e.Matrix.TP, e.Matrix.TN, e.Matrix.FP, e.Matrix.FN, e.Matrix.Skipped, e.Defined,
			nullable(e.Accuracy), nullable(e.Precision), nullable(e.Recall), nullable(e.F1), nullable(e.Kappa),
			e.CreatedAt,
		)
		return err
	})
}

// EvaluationFilter narrows ListEvaluations; empty fields match everything.
type EvaluationFilter struct {
	RunID   string
	SceneID string
}

// ListEvaluations returns matching evaluations, newest first.
func (db *DB) ListEvaluations(ctx context.Context, f EvaluationFilter) ([]*Evaluation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT evaluation_id, run_id, scene_id, checkpoint_path,
		       tp, tn, fp, fn, skipped, defined,
		       accuracy, precision, recall, f1, kappa, created_at
		FROM evaluations
		WHERE (? = '' OR run_id = ?) AND (? = '' OR scene_id = ?)
		ORDER BY created_at DESC`, f.RunID, f.RunID, f.SceneID, f.SceneID)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var out []*Evaluation
	for rows.Next() {
		var (
			e                     Evaluation
			acc, pr, rc, f1, kapp sql.NullFloat64
		)
		if err := rows.Scan(&e.EvaluationID, &e.RunID, &e.SceneID, &e.CheckpointPath,
			&e.Matrix.TP, &e.Matrix.TN, &e.Matrix.FP, &e.Matrix.FN, &e.Matrix.Skipped, &e.Defined,
			&acc, &pr, &rc, &f1, &kapp, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		e.Accuracy, e.Precision, e.Recall, e.F1, e.Kappa =
			floatPtr(acc), floatPtr(pr), floatPtr(rc), floatPtr(f1), floatPtr(kapp)
		out = append(out, &e)
	}
	return out, rows.Err()
}
