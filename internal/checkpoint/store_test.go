package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/checkpoint"
)

func TestStoreSaveAndLoadRoundTrips(t *testing.T) {
	base := t.TempDir()
	store, err := checkpoint.NewStore(base)
	require.NoError(t, err)

	result := checkpoint.GraphResult{
		RunID:   "run-123",
		Started: time.Unix(1, 0).UTC(),
		Steps: map[string]checkpoint.StepProgress{
			"1": {Status: checkpoint.StepExecuted, Timestamp: time.Unix(2, 0).UTC()},
		},
		Done: true,
	}
	require.NoError(t, store.Save(result))

	loaded, err := store.Load("run-123")
	require.NoError(t, err)
	assert.Equal(t, result.RunID, loaded.RunID)
	assert.True(t, loaded.Started.Equal(result.Started))
	assert.True(t, loaded.Done)
	assert.Equal(t, checkpoint.StepExecuted, loaded.Steps["1"].Status)
}

func TestStoreSaveWritesUnderDotTaskforgeRunsDir(t *testing.T) {
	base := t.TempDir()
	store, err := checkpoint.NewStore(base)
	require.NoError(t, err)

	result := checkpoint.GraphResult{RunID: "run-abc", Started: time.Unix(1, 0).UTC(), Steps: map[string]checkpoint.StepProgress{}}
	require.NoError(t, store.Save(result))

	path := filepath.Join(base, ".taskforge", "runs", "run-abc", "graph_result.json")
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestStoreSaveOverwritesPreviousSnapshot(t *testing.T) {
	base := t.TempDir()
	store, err := checkpoint.NewStore(base)
	require.NoError(t, err)

	first := checkpoint.GraphResult{RunID: "run-xyz", Started: time.Unix(1, 0).UTC(), Steps: map[string]checkpoint.StepProgress{
		"1": {Status: checkpoint.StepExecuted},
	}}
	require.NoError(t, store.Save(first))

	second := first
	second.Done = true
	second.Steps = map[string]checkpoint.StepProgress{
		"1": {Status: checkpoint.StepExecuted},
		"2": {Status: checkpoint.StepFailed, Err: "boom"},
	}
	require.NoError(t, store.Save(second))

	loaded, err := store.Load("run-xyz")
	require.NoError(t, err)
	assert.True(t, loaded.Done)
	assert.Len(t, loaded.Steps, 2)
	assert.Equal(t, "boom", loaded.Steps["2"].Err)
}

func TestStoreListRunIDsSortedAndEmptyWhenAbsent(t *testing.T) {
	base := t.TempDir()
	store, err := checkpoint.NewStore(base)
	require.NoError(t, err)

	ids, err := store.ListRunIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"run-b", "run-a", "run-c"} {
		require.NoError(t, store.Save(checkpoint.GraphResult{RunID: id, Started: time.Unix(1, 0).UTC(), Steps: map[string]checkpoint.StepProgress{}}))
	}

	ids, err = store.ListRunIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a", "run-b", "run-c"}, ids)
}

func TestStoreLoadUnknownRunFails(t *testing.T) {
	base := t.TempDir()
	store, err := checkpoint.NewStore(base)
	require.NoError(t, err)

	_, err = store.Load("does-not-exist")
	assert.Error(t, err)
}

func TestStoreSaveRejectsInvalidGraphResult(t *testing.T) {
	base := t.TempDir()
	store, err := checkpoint.NewStore(base)
	require.NoError(t, err)

	assert.Error(t, store.Save(checkpoint.GraphResult{}))
}

func TestNewStoreRequiresBaseDir(t *testing.T) {
	_, err := checkpoint.NewStore("  ")
	assert.Error(t, err)
}
