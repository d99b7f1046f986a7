package detect

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/anticheat.report/internal/model"
	"github.com/banshee-data/anticheat.report/internal/monitoring"
	"github.com/banshee-data/anticheat.report/internal/rules"
	"github.com/banshee-data/anticheat.report/internal/telemetry"
)

// Session is everything one agent run produced. Rule is nil when the rule
// pass failed; Model is nil when the model pass did not complete, with the
// reason in ModelErr.
type Session struct {
	ID            string
	StartedAt     time.Time
	TelemetryPath string
	ModelPath     string
	Options       Options

	Buffer   *telemetry.Buffer
	Rule     *rules.Result
	Model    *ModelResult
	ModelErr error
}

// Sink receives a finished session. Sinks are optional outputs: an error is
// logged and does not affect other sinks.
type Sink interface {
	Name() string
	Record(ctx context.Context, s *Session) error
}

// RunConfig configures Run.
type RunConfig struct {
	Options
	TelemetryPath string
	ModelPath     string
	// MaxInputBytes caps the telemetry read; 0 reads everything.
	MaxInputBytes int64
	Sinks         []Sink
	// Now defaults to time.Now.
	Now func() time.Time
}

// Run loads the session telemetry, runs the rule pass then the model pass,
// and hands the result to every sink.
//
// Missing or empty telemetry is returned as an error wrapping
// telemetry.ErrNoTelemetry, ErrEmptyTelemetry or ErrNoRows; no pass runs and
// nothing is written. A model that cannot be loaded, or a pass aborted by a
// feature contract violation, only affects the model pass.
func Run(ctx context.Context, cfg RunConfig) (*Session, error) {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logf := cfg.Logf

	buf, err := telemetry.Load(cfg.TelemetryPath, telemetry.LoadOptions{
		MaxBytes: cfg.MaxInputBytes,
		FS:       cfg.FS,
		Logf:     logf,
	})
	if err != nil {
		monitoring.Warnf(logf, "Skipping detection: %v", err)
		return nil, err
	}
	monitoring.Infof(logf, "Loaded %d rows from %s", buf.Len(), cfg.TelemetryPath)

	s := &Session{
		ID:            uuid.NewString(),
		StartedAt:     now().UTC(),
		TelemetryPath: cfg.TelemetryPath,
		ModelPath:     cfg.ModelPath,
		Options:       cfg.Options,
		Buffer:        buf,
	}

	if res, err := RunRulePass(buf, cfg.Options); err != nil {
		monitoring.Warnf(logf, "Rule pass skipped: %v", err)
	} else {
		s.Rule = res
	}

	if cfg.ModelPath != "" {
		m, err := model.LoadFS(cfg.FS, cfg.ModelPath)
		if err != nil {
			s.ModelErr = err
			monitoring.Errorf(logf, "Model pass aborted: %v", err)
		} else {
			monitoring.Infof(logf, "Model loaded from %s: %d features, threshold=%.3f", cfg.ModelPath, m.Dim(), m.Threshold())
			res, err := RunModelPass(buf, m, cfg.Options)
			if err != nil {
				s.ModelErr = err
				monitoring.Errorf(logf, "Model pass aborted: %v", err)
			} else {
				s.Model = res
			}
		}
	}

	for _, sink := range cfg.Sinks {
		if err := sink.Record(ctx, s); err != nil {
			monitoring.Warnf(logf, "%s output failed: %v", sink.Name(), err)
		}
	}
	return s, nil
}
