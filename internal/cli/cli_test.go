package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sipredict/internal/pipeline"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel, logFormat = "", "", ""
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return strings.TrimSpace(buf.String()), err
}

// isolate points every configured directory into a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SIPREDICT_INPUT_DIR", filepath.Join(dir, "input"))
	t.Setenv("SIPREDICT_OUTPUT_DIR", filepath.Join(dir, "output"))
	t.Setenv("SIPREDICT_STORE_DSN", filepath.Join(dir, "store"))
	t.Setenv("SIPREDICT_LOG_LEVEL", "error")
	return dir
}

func TestVersionCommand(t *testing.T) {
	out, err := runRootCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: "+version)
}

func TestStageCommands_Registered(t *testing.T) {
	want := []string{
		pipeline.StagePredictors, pipeline.StageOutcomes, pipeline.StageAssemble,
		pipeline.StageSplit, pipeline.StageTrain, pipeline.StageEvaluate, "run", "version",
	}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestStageCommand_RejectsArgs(t *testing.T) {
	isolate(t)
	_, err := runRootCommand(t, "split", "extra")
	require.Error(t, err)
}

func TestConfigFlag_MissingFile(t *testing.T) {
	isolate(t)
	_, err := runRootCommand(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "assemble")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.yaml")
}

func TestLogLevelFlag_Invalid(t *testing.T) {
	isolate(t)
	_, err := runRootCommand(t, "--log-level", "loud", "assemble")
	require.Error(t, err)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestPredictorsCommand_MissingExports(t *testing.T) {
	isolate(t)
	out, err := runRootCommand(t, "predictors")
	require.Error(t, err)
	var se *errors.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pipeline.StagePredictors, se.Stage)
	assert.NotContains(t, out, "✓")
}

func TestConfigFile_SQLiteStore(t *testing.T) {
	dir := isolate(t)
	os.Unsetenv("SIPREDICT_STORE_DSN")
	db := filepath.Join(dir, "runs.db")
	cfgFile := filepath.Join(dir, "sipredict.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("store:\n  backend: sqlite\n  dsn: "+db+"\n"), 0o600))

	_, err := runRootCommand(t, "-c", cfgFile, "outcomes")
	require.Error(t, err, "KSADS exports are absent")
	assert.FileExists(t, db)
}
