package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGoalFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "goals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestRunCommandExecutesDeclaredGoals(t *testing.T) {
	path := writeGoalFile(t, `
steps:
  - name: base
    run: "printf base"
    cacheable: true
  - name: root
    run: "printf root"
    depends_on: [base]
    cacheable: true
`)
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"run", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "root:")
}

func TestRunCommandRejectsAnUnrecognizedEngineMode(t *testing.T) {
	goalPath := writeGoalFile(t, "steps:\n  - name: a\n    run: \"printf a\"\n")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("engine: not-a-real-engine\n"), 0o600))

	root := newRootCmd()
	root.SetArgs([]string{"run", "--config", cfgPath, goalPath})
	err := root.Execute()
	assert.Error(t, err)
}

func TestRunCommandJournalsCheckpointWhenRequested(t *testing.T) {
	path := writeGoalFile(t, `
steps:
  - name: base
    run: "printf base"
    cacheable: true
  - name: root
    run: "printf root"
    depends_on: [base]
    cacheable: true
`)
	checkpointDir := t.TempDir()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--checkpoint-dir", checkpointDir, path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "root:")

	entries, err := os.ReadDir(filepath.Join(checkpointDir, ".taskforge", "runs"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(checkpointDir, ".taskforge", "runs", entries[0].Name(), "graph_result.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"done": true`)
}

func TestRunCommandHonorsExplicitGoalFlag(t *testing.T) {
	path := writeGoalFile(t, `
steps:
  - name: base
    run: "printf base"
    cacheable: true
  - name: unused
    run: "printf unused"
    cacheable: true
`)
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--goal", "base", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "base:")
	assert.NotContains(t, out.String(), "unused:")
}
