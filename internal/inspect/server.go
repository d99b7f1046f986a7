// Package inspect serves the results store over HTTP: stored runs as JSON,
// per-run reports rebuilt from the stored records, and the tsweb debug
// index with a tailsql console.
package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/banshee-data/anticheat.report/internal/db"
	"github.com/banshee-data/anticheat.report/internal/eval"
	"github.com/banshee-data/anticheat.report/internal/monitoring"
	"github.com/banshee-data/anticheat.report/internal/report"
	"github.com/banshee-data/anticheat.report/internal/rules"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultListLimit caps /api/runs when no limit is given.
const DefaultListLimit = 50

type Server struct {
	db   *db.DB
	logf monitoring.LogFunc
}

// NewServer serves database. logf defaults to the monitoring sink.
func NewServer(database *db.DB, logf monitoring.LogFunc) *Server {
	return &Server{db: database, logf: logf}
}

// RunDetail is the /api/runs/{id} response.
type RunDetail struct {
	Run        *db.Run             `json:"run"`
	Thresholds *rules.ThresholdSet `json:"thresholds,omitempty"`
	Summaries  []db.PassSummary    `json:"summaries"`
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Or(s.logf)(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API and report routes together with the debug
// routes of the results store.
func (s *Server) ServeMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.showRun)
	mux.HandleFunc("GET /api/runs/{id}/alerts", s.listAlerts)
	mux.HandleFunc("GET /api/runs/{id}/records", s.listRecords)
	mux.HandleFunc("GET /runs/{id}/report", s.serveReport)
	mux.HandleFunc("GET /runs/{id}/timeline.png", s.serveTimeline)
	if err := s.db.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	return mux, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Warnf(s.logf, "Failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeLookupError maps unknown runs to 404.
func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrRunNotFound) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read run: %v", err))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	s.writeJSON(w, runs)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	run, err := s.db.GetRun(ctx, id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	detail := RunDetail{Run: run}
	if thr, err := s.db.RunThresholds(ctx, id); err == nil {
		detail.Thresholds = &thr
	} else if !errors.Is(err, db.ErrRunNotFound) {
		s.writeLookupError(w, err)
		return
	}
	if detail.Summaries, err = s.db.RunSummaries(ctx, id); err != nil {
		s.writeLookupError(w, err)
		return
	}
	if detail.Summaries == nil {
		detail.Summaries = []db.PassSummary{}
	}
	s.writeJSON(w, detail)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.db.GetRun(r.Context(), id); err != nil {
		s.writeLookupError(w, err)
		return
	}
	alerts, err := s.db.RuleAlerts(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if alerts == nil {
		alerts = []rules.Alert{}
	}
	s.writeJSON(w, alerts)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.db.GetRun(r.Context(), id); err != nil {
		s.writeLookupError(w, err)
		return
	}
	records, err := s.db.EvalRecords(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if records == nil {
		records = []eval.Record{}
	}
	s.writeJSON(w, records)
}

// timeline rebuilds the report data of a stored run.
func (s *Server) timeline(r *http.Request) (*report.Timeline, error) {
	ctx := r.Context()
	id := r.PathValue("id")

	run, err := s.db.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	thr, err := s.db.RunThresholds(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.db.EvalRecords(ctx, id)
	if err != nil {
		return nil, err
	}
	alerts, err := s.db.RuleAlerts(ctx, id)
	if err != nil {
		return nil, err
	}
	tl, err := report.FromRecords("Session "+run.TelemetryPath, thr, run.DecisionThreshold, records, alerts)
	if err != nil {
		return nil, err
	}
	tl.Subtitle = fmt.Sprintf("run=%s started=%s %s", run.ID, run.StartedAt.Format(time.RFC3339), tl.Subtitle)
	return tl, nil
}

func (s *Server) serveReport(w http.ResponseWriter, r *http.Request) {
	s.serveRendered(w, r, "text/html; charset=utf-8", report.RenderHTML)
}

func (s *Server) serveTimeline(w http.ResponseWriter, r *http.Request) {
	s.serveRendered(w, r, "image/png", report.WritePNG)
}

func (s *Server) serveRendered(w http.ResponseWriter, r *http.Request, contentType string,
	render func(io.Writer, *report.Timeline) error) {
	tl, err := s.timeline(r)
	if errors.Is(err, report.ErrNoTicks) {
		s.writeJSONError(w, http.StatusNotFound, "Run has nothing to plot")
		return
	}
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := render(&buf, tl); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(buf.Bytes())
}
