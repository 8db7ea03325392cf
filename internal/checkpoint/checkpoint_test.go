package checkpoint_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/checkpoint"
)

func TestGraphResultValidateRequiresRunIDAndStarted(t *testing.T) {
	assert.Error(t, (checkpoint.GraphResult{}).Validate())
	assert.Error(t, (checkpoint.GraphResult{RunID: "r"}).Validate())
	assert.NoError(t, (checkpoint.GraphResult{RunID: "r", Started: time.Unix(1, 0)}).Validate())
}

func TestGraphResultCloneIsIndependentOfOriginal(t *testing.T) {
	original := checkpoint.GraphResult{
		RunID:   "r",
		Started: time.Unix(1, 0),
		Steps:   map[string]checkpoint.StepProgress{"1": {Status: checkpoint.StepExecuted}},
	}
	clone := original.Clone()
	clone.Steps["1"] = checkpoint.StepProgress{Status: checkpoint.StepFailed}
	clone.Steps["2"] = checkpoint.StepProgress{Status: checkpoint.StepCached}

	assert.Equal(t, checkpoint.StepExecuted, original.Steps["1"].Status)
	assert.Len(t, original.Steps, 1)
}

func TestNewRunIDReturnsDistinctValues(t *testing.T) {
	a, err := checkpoint.NewRunID()
	require.NoError(t, err)
	b, err := checkpoint.NewRunID()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestSafeObserveToleratesNilObserver(t *testing.T) {
	assert.NotPanics(t, func() {
		checkpoint.SafeObserve(nil, checkpoint.GraphResult{})
	})
}

type panickingObserver struct{}

func (panickingObserver) Observe(checkpoint.GraphResult) { panic("boom") }

func TestSafeObserveRecoversFromPanickingObserver(t *testing.T) {
	assert.NotPanics(t, func() {
		checkpoint.SafeObserve(panickingObserver{}, checkpoint.GraphResult{RunID: "r", Started: time.Unix(1, 0)})
	})
}

func TestRecorderObserveJournalsThroughStoreAndTracksLast(t *testing.T) {
	base := t.TempDir()
	store, err := checkpoint.NewStore(base)
	require.NoError(t, err)
	rec := checkpoint.NewRecorder(store)

	result := checkpoint.GraphResult{
		RunID:   "run-1",
		Started: time.Unix(1, 0),
		Steps:   map[string]checkpoint.StepProgress{"1": {Status: checkpoint.StepExecuted}},
	}
	rec.Observe(result)

	assert.Equal(t, "run-1", rec.Last().RunID)

	loaded, err := store.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StepExecuted, loaded.Steps["1"].Status)
}
