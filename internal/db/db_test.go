package db

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/anticheat.report/internal/detect"
	"github.com/banshee-data/anticheat.report/internal/eval"
	"github.com/banshee-data/anticheat.report/internal/hybrid"
	"github.com/banshee-data/anticheat.report/internal/rules"
	"github.com/banshee-data/anticheat.report/internal/telemetry"
	"github.com/banshee-data/anticheat.report/internal/testutil"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenDB(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func syntheticSession(t *testing.T, id string, start time.Time) *detect.Session {
	t.Helper()
	buf := telemetry.NewBuffer(testutil.Synthetic(testutil.DefaultSession))
	opts := detect.Options{Quiet: true, Policy: hybrid.Policy{Hybrid: true}, Logf: func(string, ...interface{}) {}}

	ruleRes, err := detect.RunRulePass(buf, opts)
	require.NoError(t, err)
	modelRes, err := detect.RunModelPass(buf, testutil.CalibratedModel(t), opts)
	require.NoError(t, err)

	return &detect.Session{
		ID:            id,
		StartedAt:     start,
		TelemetryPath: "data/telemetry.csv",
		ModelPath:     "models/linear_model.json",
		Options:       opts,
		Buffer:        buf,
		Rule:          ruleRes,
		Model:         modelRes,
	}
}

func TestPragmasApplied(t *testing.T) {
	database := openTestDB(t)

	var journalMode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, database.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var fk int
	require.NoError(t, database.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpenDB_MigratesToLatest(t *testing.T) {
	database := openTestDB(t)

	version, dirty, err := database.MigrateVersion(Migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	for _, table := range []string{"runs", "thresholds", "pass_summaries", "rule_alerts", "eval_records"} {
		var name string
		err := database.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestMigrateDown(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, database.MigrateDown(Migrations))

	version, _, err := database.MigrateVersion(Migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='eval_records'`).Scan(&n))
	assert.Zero(t, n)

	// and back up again
	require.NoError(t, database.MigrateUp(Migrations))
	version, _, err = database.MigrateVersion(Migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestReopenIsNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	first, err := OpenDB(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenDB(path)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, path, second.Path())
}

func TestMigrateUp_CustomFS(t *testing.T) {
	database, err := openRaw(filepath.Join(t.TempDir(), "custom.db"))
	require.NoError(t, err)
	defer database.Close()

	migrationsFS := fstest.MapFS{
		"000001_init.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE IF NOT EXISTS t1 (id INTEGER PRIMARY KEY);")},
		"000001_init.down.sql": &fstest.MapFile{Data: []byte("DROP TABLE IF EXISTS t1;")},
	}
	require.NoError(t, database.MigrateUp(migrationsFS))
	require.NoError(t, database.MigrateForce(migrationsFS, 1))

	version, dirty, err := database.MigrateVersion(migrationsFS)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestMigrateVersion_Fresh(t *testing.T) {
	database, err := openRaw(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer database.Close()

	version, dirty, err := database.MigrateVersion(Migrations)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestRecord_RoundTrip(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	start := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)
	s := syntheticSession(t, "b7c1e9d0-0000-4000-8000-000000000001", start)

	require.NoError(t, database.Record(ctx, s))

	run, err := database.GetRun(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, start.Equal(run.StartedAt))
	assert.Equal(t, 200, run.Rows)
	assert.True(t, run.Hybrid)
	assert.Equal(t, 1, run.Debounce)
	assert.Equal(t, "any", run.RuleCombo)
	assert.Equal(t, "models/linear_model.json", run.ModelPath)
	assert.Empty(t, run.ModelError)
	assert.Equal(t, 0.5, run.DecisionThreshold)

	thr, err := database.RunThresholds(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Rule.Thresholds, thr)

	summaries, err := database.RunSummaries(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, PassRule, summaries[0].Pass)
	assert.Equal(t, eval.ConfusionMatrix{TP: 11, TN: 189}, summaries[0].Matrix)
	assert.Equal(t, uint(11), summaries[0].Alerts)
	assert.Equal(t, PassModel, summaries[1].Pass)
	assert.Equal(t, 1.0, summaries[1].Precision)

	alerts, err := database.RuleAlerts(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Rule.Alerts, alerts)

	records, err := database.EvalRecords(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Model.Records, records)
}

func TestRecord_ModelFailure(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	s := syntheticSession(t, "run-no-model", time.Now())
	s.Model = nil
	s.ModelErr = errors.New("model: load models/linear_model.json: missing key \"coef\"")
	s.Options.Combo = rules.ComboStrict

	require.NoError(t, database.Record(ctx, s))

	run, err := database.GetRun(ctx, s.ID)
	require.NoError(t, err)
	assert.Contains(t, run.ModelError, "missing key")
	assert.Equal(t, "strict", run.RuleCombo)
	assert.Zero(t, run.DecisionThreshold)

	summaries, err := database.RunSummaries(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, PassRule, summaries[0].Pass)

	records, err := database.EvalRecords(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecord_DuplicateRunRollsBack(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	s := syntheticSession(t, "dup", time.Now())
	require.NoError(t, database.Record(ctx, s))
	assert.Error(t, database.Record(ctx, s))

	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM eval_records WHERE run_id = 'dup'`).Scan(&n))
	assert.Equal(t, 200, n)
}

func TestRecordPassesSeparately(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	s := syntheticSession(t, "split", time.Now())
	rule, model := s.Rule, s.Model
	s.Rule, s.Model = nil, nil
	require.NoError(t, database.Record(ctx, s))

	require.NoError(t, database.RecordRulePass(ctx, s.ID, rule))
	require.NoError(t, database.RecordModelPass(ctx, s.ID, model))

	summaries, err := database.RunSummaries(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	// unknown run violates the foreign key
	assert.Error(t, database.RecordRulePass(ctx, "missing", rule))
}

func TestListRuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, database.Record(ctx, syntheticSession(t, id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := database.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = database.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestGetRun_NotFound(t *testing.T) {
	database := openTestDB(t)
	_, err := database.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = database.RunThresholds(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestAttachAdminRoutes(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, database.Record(context.Background(), syntheticSession(t, "x", time.Now())))

	mux := http.NewServeMux()
	require.NoError(t, database.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}
