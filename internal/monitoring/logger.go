package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// LogFunc is the shape of every diagnostic sink in the module. Detection
// drivers accept one in their options so tests can capture or mute output.
type LogFunc func(format string, v ...interface{})

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf LogFunc = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f LogFunc) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Or returns f when non-nil and the package logger otherwise.
func Or(f LogFunc) LogFunc {
	if f != nil {
		return f
	}
	return func(format string, v ...interface{}) { Logf(format, v...) }
}

// Infof, Warnf and Errorf tag messages the same way the agent log file does.
func Infof(f LogFunc, format string, v ...interface{}) {
	Or(f)("[I] "+format, v...)
}

func Warnf(f LogFunc, format string, v ...interface{}) {
	Or(f)("[W] "+format, v...)
}

func Errorf(f LogFunc, format string, v ...interface{}) {
	Or(f)("[E] "+format, v...)
}

// TeeToFile creates dir if needed and sends the standard logger to both
// stderr and dir/log.txt (append mode). The returned closer releases the file.
func TeeToFile(dir string) (io.Closer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "log.txt"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}
