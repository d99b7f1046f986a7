package telemetry

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/anticheat.report/internal/fsutil"
	"github.com/banshee-data/anticheat.report/internal/monitoring"
)

// DefaultMaxInputBytes caps how much of a telemetry file is read.
const DefaultMaxInputBytes = 64 << 20

var (
	// ErrNoTelemetry means the telemetry source could not be opened.
	ErrNoTelemetry = errors.New("no telemetry source")
	// ErrEmptyTelemetry means the source has no header line.
	ErrEmptyTelemetry = errors.New("empty telemetry")
	// ErrNoRows means the source has a header but no data rows.
	ErrNoRows = errors.New("no telemetry rows")
)

// Buffer is the ordered, in-memory telemetry of one session. Speeds are
// computed once at load time and share indices with Samples.
type Buffer struct {
	Path string

	// MalformedRows counts rows where at least one field defaulted to zero.
	MalformedRows int
	// FirstIssue is the first field problem seen, for diagnostics.
	FirstIssue *FieldError
	// Truncated is set when the source was larger than the read cap.
	Truncated bool

	samples []Sample
	speeds  []float64
}

// NewBuffer wraps already-parsed samples.
func NewBuffer(samples []Sample) *Buffer {
	b := &Buffer{}
	for _, s := range samples {
		b.append(s)
	}
	return b
}

func (b *Buffer) append(s Sample) {
	b.samples = append(b.samples, s)
	b.speeds = append(b.speeds, s.Speed())
}

// Len returns the number of ticks.
func (b *Buffer) Len() int { return len(b.samples) }

// At returns the sample for tick i.
func (b *Buffer) At(i int) Sample { return b.samples[i] }

// Samples returns the samples in tick order. Callers must not modify it.
func (b *Buffer) Samples() []Sample { return b.samples }

// Speeds returns the per-tick speed series. Callers must not modify it.
func (b *Buffer) Speeds() []float64 { return b.speeds }

// LoadOptions controls Load.
type LoadOptions struct {
	// MaxBytes bounds the read; 0 reads everything.
	MaxBytes int64
	FS       fsutil.FileSystem
	Logf     monitoring.LogFunc
}

// Load reads the telemetry CSV at path.
func Load(path string, opts LoadOptions) (*Buffer, error) {
	data, truncated, err := fsutil.ReadBounded(opts.FS, path, opts.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoTelemetry, path, err)
	}
	if truncated {
		monitoring.Warnf(opts.Logf, "telemetry %s exceeds %d bytes; only the first %d bytes are analyzed",
			path, opts.MaxBytes, len(data))
	}

	b, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	b.Path = path
	b.Truncated = truncated
	if b.MalformedRows > 0 {
		monitoring.Warnf(opts.Logf, "telemetry %s: %d rows had unparsable fields defaulted to zero (first: %v)",
			path, b.MalformedRows, b.FirstIssue)
	}
	return b, nil
}

// Parse reads a header line followed by data rows. Every line after the
// header is one tick: a blank line becomes an all-zero sample counted in
// MalformedRows, so tick indices match the line numbers.
func Parse(r io.Reader) (*Buffer, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		return nil, ErrEmptyTelemetry
	}

	b := &Buffer{}
	for sc.Scan() {
		row := ParseRow(string(bytes.TrimSpace(sc.Bytes())))
		if !row.OK() {
			b.MalformedRows++
			if b.FirstIssue == nil {
				issue := row.Issues[0]
				b.FirstIssue = &issue
			}
		}
		b.append(row.Sample)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if b.Len() == 0 {
		return nil, ErrNoRows
	}
	return b, nil
}
