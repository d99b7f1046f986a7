package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/anticheat.report/internal/detect"
	"github.com/banshee-data/anticheat.report/internal/eval"
	"github.com/banshee-data/anticheat.report/internal/fsutil"
	"github.com/banshee-data/anticheat.report/internal/telemetry"
	"github.com/banshee-data/anticheat.report/internal/testutil"
)

const evalPath = "data/eval.csv"

// evalFS runs the model pass over the synthetic session and keeps its CSV.
func evalFS(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	mem := fsutil.NewMemoryFileSystem()
	buf := telemetry.NewBuffer(testutil.Synthetic(testutil.DefaultSession))
	_, err := detect.RunModelPass(buf, testutil.CalibratedModel(t), detect.Options{
		Quiet:    true,
		EvalPath: evalPath,
		FS:       mem,
		Logf:     func(string, ...interface{}) {},
	})
	require.NoError(t, err)
	return mem
}

func TestRun_JSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-eval", evalPath, "-json"}, evalFS(t), &out, io.Discard))

	var got []PolicyResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))

	want := []PolicyResult{
		{Policy: "ml-only", Matrix: eval.ConfusionMatrix{TP: 11, FP: 2, TN: 187}, Alerts: 13},
		{Policy: "hybrid", Matrix: eval.ConfusionMatrix{TP: 11, TN: 189}, Alerts: 11},
		{Policy: "rule-gate", Matrix: eval.ConfusionMatrix{TP: 11, TN: 189}, Alerts: 11},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(PolicyResult{}, "Precision", "Recall")); diff != "" {
		t.Errorf("rescore mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1.0, got[1].Recall)
}

func TestRun_Debounce(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-eval", evalPath, "-json", "-debounce", "3"}, evalFS(t), &out, io.Discard))

	var got []PolicyResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "hybrid debounce=3", got[1].Policy)
	assert.Equal(t, eval.ConfusionMatrix{TP: 9, FN: 2, TN: 189}, got[1].Matrix)
}

func TestRun_Text(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-eval", evalPath}, evalFS(t), &out, io.Discard))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "200 records from data/eval.csv")
	assert.Contains(t, lines[2], "hybrid")
	assert.Contains(t, lines[2], "TP=11 FP=0 FN=0 TN=189 | precision=1.00 recall=1.00")
}

func TestRun_ThresholdZero(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-eval", evalPath, "-json", "-threshold", "0"}, evalFS(t), &out, io.Discard))

	var got []PolicyResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, uint(200), got[0].Alerts, "every tick alerts at threshold 0")
	assert.Equal(t, eval.ConfusionMatrix{TP: 11, FP: 189}, got[0].Matrix)
	assert.Equal(t, eval.ConfusionMatrix{TP: 11, TN: 189}, got[1].Matrix, "the rule gate still vetoes")
}

func TestRun_NearThresholdProbability(t *testing.T) {
	var csvBuf bytes.Buffer
	require.NoError(t, eval.WriteCSV(&csvBuf, []eval.Record{
		{Tick: 0, Speed: 9, MLProb: 0.4999996, RuleAlert: true, GroundTruth: false},
		{Tick: 1, Speed: 9, MLProb: 0.5, RuleAlert: true, GroundTruth: true},
	}))
	mem := fsutil.NewMemoryFileSystem()
	mem.WriteFile("near.csv", csvBuf.Bytes())

	var out bytes.Buffer
	require.NoError(t, run([]string{"-eval", "near.csv", "-json"}, mem, &out, io.Discard))
	var got []PolicyResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, eval.ConfusionMatrix{TP: 1, TN: 1}, got[0].Matrix, "0.4999996 stays below 0.5 after reload")
}

func TestRun_Errors(t *testing.T) {
	mem := evalFS(t)
	mem.WriteFile("empty.csv", []byte(strings.Join(eval.Header, ",")+"\n"))
	mem.WriteFile("bad.csv", []byte(strings.Join(eval.Header, ",")+"\n0,1,0.5,2,0,0\n"))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"-eval", "nope.csv"}, "nope.csv"},
		{"header only", []string{"-eval", "empty.csv"}, "no evaluation records"},
		{"bad flag value", []string{"-eval", "bad.csv"}, "invalid ml_pred"},
		{"threshold range", []string{"-threshold", "1.5"}, "outside [0,1]"},
		{"debounce range", []string{"-debounce", "0"}, "at least 1"},
		{"positional", []string{"x"}, "unexpected arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args, mem, io.Discard, io.Discard)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
