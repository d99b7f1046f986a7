package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/anticheat.report/internal/detect"
	"github.com/banshee-data/anticheat.report/internal/eval"
	"github.com/banshee-data/anticheat.report/internal/rules"
)

// Pass kinds stored in pass_summaries.
const (
	PassRule  = "rule"
	PassModel = "model"
)

// timeLayout sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one stored agent run.
type Run struct {
	ID                string    `json:"run_id"`
	StartedAt         time.Time `json:"started_at"`
	TelemetryPath     string    `json:"telemetry_path"`
	Rows              int       `json:"rows"`
	MalformedRows     int       `json:"malformed_rows"`
	Truncated         bool      `json:"truncated"`
	Hybrid            bool      `json:"hybrid"`
	Debounce          int       `json:"debounce_ticks"`
	RuleCombo         string    `json:"rule_combo"`
	ModelPath         string    `json:"model_path,omitempty"`
	ModelError        string    `json:"model_error,omitempty"`
	// DecisionThreshold is the model threshold, 0 when no model pass ran.
	DecisionThreshold float64   `json:"decision_threshold,omitempty"`
}

// PassSummary is the confusion matrix of one pass.
type PassSummary struct {
	Pass      string               `json:"pass"`
	Matrix    eval.ConfusionMatrix `json:"matrix"`
	Alerts    uint                 `json:"alerts"`
	Precision float64              `json:"precision"`
	Recall    float64              `json:"recall"`
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Name identifies the store in sink failure logs.
func (db *DB) Name() string { return "results db" }

// Record stores a finished session: the run row, its thresholds and
// whichever passes completed.
func (db *DB) Record(ctx context.Context, s *detect.Session) error {
	combo := string(s.Options.Combo)
	if combo == "" {
		combo = string(rules.ComboAny)
	}
	debounce := s.Options.Policy.Debounce
	if debounce < 1 {
		debounce = 1
	}
	modelErr := ""
	if s.ModelErr != nil {
		modelErr = s.ModelErr.Error()
	}
	decision := 0.0
	if s.Model != nil {
		decision = s.Model.DecisionThreshold
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, telemetry_path, row_count, malformed_rows, truncated,
			hybrid, debounce_ticks, rule_combo, model_path, model_error, decision_threshold)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StartedAt.UTC().Format(timeLayout), s.TelemetryPath, s.Buffer.Len(), s.Buffer.MalformedRows,
		b2i(s.Buffer.Truncated), b2i(s.Options.Policy.Hybrid), debounce, combo, s.ModelPath, modelErr, decision)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	var thr *rules.ThresholdSet
	switch {
	case s.Rule != nil:
		thr = &s.Rule.Thresholds
	case s.Model != nil:
		thr = &s.Model.Thresholds
	}
	if thr != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO thresholds (run_id, mean, stddev, thr_3sigma, median, mad, thr_robust, thr_abs)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, thr.Mean, thr.StdDev, thr.Thr3Sigma, thr.Median, thr.MAD, thr.ThrRobust, thr.ThrAbs); err != nil {
			return fmt.Errorf("failed to insert thresholds: %w", err)
		}
	}

	if s.Rule != nil {
		if err := recordRulePass(ctx, tx, s.ID, s.Rule); err != nil {
			return err
		}
	}
	if s.Model != nil {
		if err := recordModelPass(ctx, tx, s.ID, s.Model); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordRulePass stores the alerts and summary of a rule pass for an
// existing run.
func (db *DB) RecordRulePass(ctx context.Context, runID string, res *rules.Result) error {
	return db.inTx(ctx, func(tx *sql.Tx) error { return recordRulePass(ctx, tx, runID, res) })
}

// RecordModelPass stores the evaluation records and summary of a model
// pass for an existing run.
func (db *DB) RecordModelPass(ctx context.Context, runID string, res *detect.ModelResult) error {
	return db.inTx(ctx, func(tx *sql.Tx) error { return recordModelPass(ctx, tx, runID, res) })
}

func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func recordRulePass(ctx context.Context, tx *sql.Tx, runID string, res *rules.Result) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rule_alerts (run_id, tick, speed, r3, robust, abs_cap) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range res.Alerts {
		if _, err := stmt.ExecContext(ctx, runID, a.Tick, a.Speed, b2i(a.Sigma3), b2i(a.Robust), b2i(a.Abs)); err != nil {
			return fmt.Errorf("failed to insert rule alert %d: %w", a.Tick, err)
		}
	}
	return insertSummary(ctx, tx, runID, PassRule, res.Eval)
}

func recordModelPass(ctx context.Context, tx *sql.Tx, runID string, res *detect.ModelResult) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO eval_records (run_id, tick, speed, ml_prob, ml_alert, ml_pred, rule_gate, ground_truth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range res.Records {
		if _, err := stmt.ExecContext(ctx, runID, r.Tick, r.Speed, r.MLProb,
			b2i(r.MLAlert), b2i(r.MLPred), b2i(r.RuleAlert), b2i(r.GroundTruth)); err != nil {
			return fmt.Errorf("failed to insert eval record %d: %w", r.Tick, err)
		}
	}
	return insertSummary(ctx, tx, runID, PassModel, res.Eval)
}

func insertSummary(ctx context.Context, tx *sql.Tx, runID, pass string, c eval.Collector) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pass_summaries (run_id, pass, tp, fp, fn, tn, alerts, precision, recall)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, pass, c.Matrix.TP, c.Matrix.FP, c.Matrix.FN, c.Matrix.TN, c.Alerts,
		c.Matrix.Precision(), c.Matrix.Recall())
	if err != nil {
		return fmt.Errorf("failed to insert %s summary: %w", pass, err)
	}
	return nil
}

const runColumns = `run_id, started_at, telemetry_path, row_count, malformed_rows, truncated,
	hybrid, debounce_ticks, rule_combo, model_path, model_error, decision_threshold`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var started string
	var truncated, hybrid int
	if err := sc.Scan(&r.ID, &started, &r.TelemetryPath, &r.Rows, &r.MalformedRows, &truncated,
		&hybrid, &r.Debounce, &r.RuleCombo, &r.ModelPath, &r.ModelError, &r.DecisionThreshold); err != nil {
		return r, err
	}
	t, err := time.Parse(timeLayout, started)
	if err != nil {
		return r, fmt.Errorf("run %s: bad started_at %q: %w", r.ID, started, err)
	}
	r.StartedAt = t
	r.Truncated = truncated != 0
	r.Hybrid = hybrid != 0
	return r, nil
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run or ErrRunNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RunThresholds returns the thresholds stored for a run.
func (db *DB) RunThresholds(ctx context.Context, id string) (rules.ThresholdSet, error) {
	var t rules.ThresholdSet
	err := db.QueryRowContext(ctx, `
		SELECT mean, stddev, thr_3sigma, median, mad, thr_robust, thr_abs FROM thresholds WHERE run_id = ?`, id).
		Scan(&t.Mean, &t.StdDev, &t.Thr3Sigma, &t.Median, &t.MAD, &t.ThrRobust, &t.ThrAbs)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("%w: no thresholds for %s", ErrRunNotFound, id)
	}
	return t, err
}

// RunSummaries returns the pass summaries of a run, rule pass first.
func (db *DB) RunSummaries(ctx context.Context, id string) ([]PassSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT pass, tp, fp, fn, tn, alerts, precision, recall
		FROM pass_summaries WHERE run_id = ? ORDER BY CASE pass WHEN 'rule' THEN 0 ELSE 1 END`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PassSummary
	for rows.Next() {
		var p PassSummary
		if err := rows.Scan(&p.Pass, &p.Matrix.TP, &p.Matrix.FP, &p.Matrix.FN, &p.Matrix.TN,
			&p.Alerts, &p.Precision, &p.Recall); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RuleAlerts returns the stored rule alerts of a run in tick order. The
// thresholds are filled from the run's threshold row.
func (db *DB) RuleAlerts(ctx context.Context, id string) ([]rules.Alert, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT a.tick, a.speed, a.r3, a.robust, a.abs_cap, t.thr_3sigma, t.thr_robust, t.thr_abs
		FROM rule_alerts a JOIN thresholds t ON t.run_id = a.run_id
		WHERE a.run_id = ? ORDER BY a.tick`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rules.Alert
	for rows.Next() {
		var a rules.Alert
		var r3, robust, abs int
		if err := rows.Scan(&a.Tick, &a.Speed, &r3, &robust, &abs, &a.Thr3Sigma, &a.ThrRobust, &a.ThrAbs); err != nil {
			return nil, err
		}
		a.Sigma3, a.Robust, a.Abs = r3 != 0, robust != 0, abs != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// EvalRecords returns the stored per-tick records of a run in tick order.
func (db *DB) EvalRecords(ctx context.Context, id string) ([]eval.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tick, speed, ml_prob, ml_alert, ml_pred, rule_gate, ground_truth
		FROM eval_records WHERE run_id = ? ORDER BY tick`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eval.Record
	for rows.Next() {
		var r eval.Record
		var alert, pred, gate, truth int
		if err := rows.Scan(&r.Tick, &r.Speed, &r.MLProb, &alert, &pred, &gate, &truth); err != nil {
			return nil, err
		}
		r.MLAlert, r.MLPred, r.RuleAlert, r.GroundTruth = alert != 0, pred != 0, gate != 0, truth != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
