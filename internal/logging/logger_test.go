package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, TRACE, ParseLevel("trace"))
	assert.Equal(t, DEBUG, ParseLevel("Debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}

func TestLogger_ConsoleLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	lg, err := NewLoggerWithOptions("grid", Options{ConsoleLevel: WARN, Console: &buf})
	require.NoError(t, err)

	lg.Info("скрыто %d", 1)
	lg.Warn("видно %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "скрыто")
	assert.Contains(t, out, "видно 2")
	assert.Contains(t, out, "component=grid")
}

func TestLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	lg, err := NewLoggerWithOptions("session", Options{
		Dir:          dir,
		ConsoleLevel: ERROR,
		FileLevel:    TRACE,
		Console:      &buf,
	})
	require.NoError(t, err)

	lg.Debug("в файл")
	require.NoError(t, lg.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(dir + "/" + entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(data), "в файл")
	assert.Empty(t, buf.String())
}

func TestDefaultLogger_NilIsNoop(t *testing.T) {
	SetDefaultLogger(nil)
	assert.NotPanics(t, func() {
		Info("ничего %s", "не произойдёт")
		CloseDefaultLogger()
	})
}

func TestLoggerManager_ReusesComponent(t *testing.T) {
	lm := NewLoggerManager(Options{ConsoleLevel: ERROR, Console: &bytes.Buffer{}})

	a, err := lm.GetLogger("grid")
	require.NoError(t, err)
	b, err := lm.GetLogger("grid")
	require.NoError(t, err)
	assert.Same(t, a, b)

	require.NoError(t, lm.SetLogLevel("grid", DEBUG, DEBUG))
	assert.Error(t, lm.SetLogLevel("missing", DEBUG, DEBUG))
	assert.ElementsMatch(t, []string{"grid"}, lm.ListComponents())
	assert.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}
