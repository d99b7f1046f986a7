// Command anticheat-agent runs the offline detection passes over one
// recorded session: the rule-only pass, then the model pass.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/anticheat.report/internal/config"
	"github.com/banshee-data/anticheat.report/internal/db"
	"github.com/banshee-data/anticheat.report/internal/detect"
	"github.com/banshee-data/anticheat.report/internal/hybrid"
	"github.com/banshee-data/anticheat.report/internal/metrics"
	"github.com/banshee-data/anticheat.report/internal/monitoring"
	"github.com/banshee-data/anticheat.report/internal/report"
	"github.com/banshee-data/anticheat.report/internal/rules"
	"github.com/banshee-data/anticheat.report/internal/version"
)

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"data-dir":             "data_dir",
	"telemetry":            "telemetry_path",
	"alerts-out":           "alerts_path",
	"eval-out":             "eval_path",
	"model":                "model_path",
	"quiet":                "quiet",
	"hybrid":               "hybrid",
	"rule-combo":           "rule_combo",
	"window":               "window_size",
	"abs-threshold":        "abs_threshold",
	"debounce":             "debounce_ticks",
	"max-input-bytes":      "max_input_bytes",
	"strict-feature-order": "strict_feature_order",
	"db":                   "db_path",
	"report-dir":           "report_dir",
	"metrics-out":          "metrics_path",
	"log-dir":              "log_dir",
}

type cliFlags struct {
	configFile  string
	showVersion bool
}

func newFlagSet(stderr io.Writer) (*flag.FlagSet, *cliFlags) {
	fs := flag.NewFlagSet("anticheat-agent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cli := &cliFlags{}
	def := config.Default()

	fs.StringVar(&cli.configFile, "config", "", "Optional YAML or JSON config file")
	fs.BoolVar(&cli.showVersion, "version", false, "Print version information and exit")

	fs.String("data-dir", def.DataDir, "Directory holding telemetry.csv and the CSV outputs")
	fs.String("telemetry", "", "Telemetry CSV (default <data-dir>/telemetry.csv)")
	fs.String("alerts-out", "", "Rule alerts CSV (default <data-dir>/alerts.csv)")
	fs.String("eval-out", "", "Evaluation CSV (default <data-dir>/eval.csv)")
	fs.String("model", def.ModelPath, "Linear model artifact (JSON)")
	fs.Bool("quiet", false, "Suppress per-tick alert lines")
	fs.Bool("hybrid", false, "Require the rule gate to agree with the model")
	fs.String("rule-combo", def.RuleCombo, "Rule combination: any or strict")
	fs.Int("window", def.WindowSize, "Rolling feature window in ticks")
	fs.Float64("abs-threshold", def.AbsThreshold, "Absolute speed cap")
	fs.Int("debounce", def.DebounceTicks, "Consecutive ticks required for a model verdict (1 disables)")
	fs.Int64("max-input-bytes", def.MaxInputBytes, "Telemetry read cap in bytes (0 = unlimited)")
	fs.Bool("strict-feature-order", false, "Fail the model pass on feature name mismatch")
	fs.String("db", "", "Results database path (empty disables)")
	fs.String("report-dir", "", "Directory for the PNG and HTML report (empty disables)")
	fs.String("metrics-out", "", "Prometheus textfile path (empty disables)")
	fs.String("log-dir", "", "Also append log lines to <log-dir>/log.txt")
	return fs, cli
}

// loadConfig parses args and resolves the layered configuration.
func loadConfig(args []string, stderr io.Writer) (*config.Config, *cliFlags, error) {
	fs, cli := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if cli.showVersion {
		return nil, cli, nil
	}
	cfg, err := config.Load(config.LoadOptions{
		File:      cli.configFile,
		Overrides: config.FlagOverrides(fs, flagKeys),
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, cli, nil
}

// runConfig turns the resolved configuration into detect options.
func runConfig(cfg *config.Config) (detect.RunConfig, error) {
	combo, err := rules.ParseComboMode(cfg.RuleCombo)
	if err != nil {
		return detect.RunConfig{}, err
	}
	return detect.RunConfig{
		Options: detect.Options{
			Quiet:              cfg.Quiet,
			Combo:              combo,
			AbsThreshold:       cfg.AbsThreshold,
			Window:             cfg.WindowSize,
			Policy:             hybrid.Policy{Hybrid: cfg.Hybrid, Debounce: cfg.DebounceTicks},
			StrictFeatureOrder: cfg.StrictFeatureOrder,
			AlertsPath:         cfg.AlertsPath,
			EvalPath:           cfg.EvalPath,
		},
		TelemetryPath: cfg.TelemetryPath,
		ModelPath:     cfg.ModelPath,
		MaxInputBytes: cfg.MaxInputBytes,
	}, nil
}

// run executes one agent session. Missing telemetry is not a failure: the
// passes are skipped with a warning and the agent exits normally.
func run(ctx context.Context, cfg *config.Config, logf monitoring.LogFunc) error {
	rc, err := runConfig(cfg)
	if err != nil {
		return err
	}
	rc.Logf = logf

	if cfg.DBPath != "" {
		database, err := db.OpenDB(cfg.DBPath)
		if err != nil {
			monitoring.Warnf(logf, "Could not open results db %s (%v); continuing without it", cfg.DBPath, err)
		} else {
			defer database.Close()
			rc.Sinks = append(rc.Sinks, database)
		}
	}
	if cfg.ReportDir != "" {
		rc.Sinks = append(rc.Sinks, report.Sink{Dir: cfg.ReportDir})
	}
	if cfg.MetricsPath != "" {
		rc.Sinks = append(rc.Sinks, metrics.Textfile{Path: cfg.MetricsPath})
	}

	if s, err := detect.Run(ctx, rc); err == nil {
		monitoring.Infof(logf, "Run %s recorded", s.ID)
	}
	return nil
}

func main() {
	cfg, cli, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Printf("[E] %v", err)
		os.Exit(2)
	}
	if cli.showVersion {
		fmt.Printf("anticheat-agent %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if cfg.LogDir != "" {
		closer, err := monitoring.TeeToFile(cfg.LogDir)
		if err != nil {
			log.Printf("[W] Could not tee log to %s: %v", cfg.LogDir, err)
		} else {
			defer closer.Close()
		}
	}

	logf := monitoring.Logf
	monitoring.Infof(logf, "Agent starting | platform=%s | build=%s %s", version.Platform(), version.Version, version.GitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logf); err != nil {
		monitoring.Errorf(logf, "%v", err)
		stop()
		os.Exit(1)
	}
	monitoring.Infof(logf, "Agent exiting normally.")
}
