package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportTestConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		DataDir:      dir,
		ManifestPath: filepath.Join(dir, "capabilities.json"),
		TasksPath:    filepath.Join(dir, "scheduled-tasks.json"),
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := exportTestConfig(t)
	manifest := []byte(`{"version":3,"categories":[]}`)
	tasks := []byte(`{"tasks":[]}`)
	require.NoError(t, os.WriteFile(src.ManifestPath, manifest, 0o600))
	require.NoError(t, os.WriteFile(src.TasksPath, tasks, 0o600))

	payload, err := src.Export("hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	dst := exportTestConfig(t)
	require.NoError(t, dst.Import(payload, "hunter2"))

	gotManifest, err := os.ReadFile(dst.ManifestPath)
	require.NoError(t, err)
	assert.JSONEq(t, string(manifest), string(gotManifest))

	gotTasks, err := os.ReadFile(dst.TasksPath)
	require.NoError(t, err)
	assert.JSONEq(t, string(tasks), string(gotTasks))
}

func TestExportRequiresPassphrase(t *testing.T) {
	cfg := exportTestConfig(t)
	_, err := cfg.Export("")
	assert.Error(t, err)
}

func TestImportWrongPassphraseFails(t *testing.T) {
	src := exportTestConfig(t)
	require.NoError(t, os.WriteFile(src.ManifestPath, []byte(`{}`), 0o600))

	payload, err := src.Export("correct")
	require.NoError(t, err)

	dst := exportTestConfig(t)
	err = dst.Import(payload, "wrong")
	assert.Error(t, err)

	_, statErr := os.Stat(dst.ManifestPath)
	assert.True(t, os.IsNotExist(statErr), "failed import must not write files")
}

func TestImportRejectsGarbage(t *testing.T) {
	cfg := exportTestConfig(t)
	assert.Error(t, cfg.Import("not base64 at all!!!", "pw"))
}

func TestExportSkipsMissingFiles(t *testing.T) {
	src := exportTestConfig(t)

	payload, err := src.Export("pw")
	require.NoError(t, err)

	dst := exportTestConfig(t)
	require.NoError(t, dst.Import(payload, "pw"))

	_, statErr := os.Stat(dst.ManifestPath)
	assert.True(t, os.IsNotExist(statErr))
}
