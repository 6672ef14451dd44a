package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesToRotatedFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "nested", "forge.log")

	logger, closeFn, err := Setup(logFile, "debug")
	require.NoError(t, err)

	logger.Info("hello", "target", "PR#7")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, 0, int(parseLevel("")))
	require.Equal(t, -4, int(parseLevel("debug")))
	require.Equal(t, 4, int(parseLevel("warn")))
	require.Equal(t, 8, int(parseLevel("error")))
}
