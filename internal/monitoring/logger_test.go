package monitoring

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	assert.True(t, called, "custom logger was not called")

	// nil installs a no-op that must not invoke the previous logger
	called = false
	SetLogger(nil)
	Logf("test message")
	assert.False(t, called, "no-op logger should not trigger the old callback")
}

func TestLogf_Default(t *testing.T) {
	require.NotNil(t, Logf)
	assert.NotPanics(t, func() { Logf("test message: %s", "value") })
}

func TestLevelHelpers(t *testing.T) {
	var lines []string
	rec := func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	}

	Infof(rec, "rows=%d", 3)
	Warnf(rec, "missing %s", "file")
	Errorf(rec, "boom")

	assert.Equal(t, []string{"[I] rows=3", "[W] missing file", "[E] boom"}, lines)
}

func TestOrFallsBackToPackageLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = fmt.Sprintf(format, v...) })
	Or(nil)("hello %d", 1)
	assert.Equal(t, "hello 1", got)
}

func TestTeeToFile(t *testing.T) {
	origOut := log.Writer()
	defer log.SetOutput(origOut)

	dir := filepath.Join(t.TempDir(), "logs")
	closer, err := TeeToFile(dir)
	require.NoError(t, err)

	log.Print("tee line")
	require.NoError(t, closer.Close())
	log.SetOutput(&bytes.Buffer{})

	data, err := os.ReadFile(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "tee line")
}
