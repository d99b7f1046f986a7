package report

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/banshee-data/anticheat.report/internal/detect"
	"github.com/banshee-data/anticheat.report/internal/fsutil"
)

// Output file names inside the report directory. Each run replaces them.
const (
	TimelineFile = "timeline.png"
	HTMLFile     = "report.html"
)

// Sink is a detect.Sink writing the PNG timeline and the HTML report of
// each session into Dir.
type Sink struct {
	Dir string
	FS  fsutil.FileSystem
}

// Name identifies the sink in failure logs.
func (s Sink) Name() string { return "report" }

// Record implements detect.Sink. Both files are attempted; the errors are
// joined.
func (s Sink) Record(_ context.Context, sess *detect.Session) error {
	tl, err := FromSession(sess)
	if err != nil {
		return err
	}
	return errors.Join(
		SaveTimelinePNG(s.FS, filepath.Join(s.Dir, TimelineFile), tl),
		SaveHTML(s.FS, filepath.Join(s.Dir, HTMLFile), tl),
	)
}
