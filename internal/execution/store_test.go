package execution

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
)

func testDefinition(phases int) *cognition.Definition {
	def := &cognition.Definition{
		ID:           "def-1",
		Name:         "Test",
		Participants: []cognition.Participant{{Name: "A", Role: "r", TrustScore: 0.5}},
	}
	for i := 0; i < phases; i++ {
		def.Phases = append(def.Phases, cognition.Phase{
			ID:      string(rune('a' + i)),
			Name:    "phase",
			Actions: []string{"act"},
		})
	}
	return def
}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		from    Status
		trigger Trigger
		want    Status
		wantErr bool
	}{
		{StatusPending, TriggerStart, StatusRunning, false},
		{StatusPending, TriggerFail, StatusFailed, false},
		{StatusPending, TriggerCancel, StatusCancelled, false},
		{StatusPending, TriggerComplete, StatusPending, true},
		{StatusRunning, TriggerComplete, StatusCompleted, false},
		{StatusRunning, TriggerFail, StatusFailed, false},
		{StatusRunning, TriggerCancel, StatusCancelled, false},
		{StatusRunning, TriggerStart, StatusRunning, true},
		{StatusCompleted, TriggerFail, StatusCompleted, true},
		{StatusFailed, TriggerStart, StatusFailed, true},
		{StatusCancelled, TriggerComplete, StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.trigger), func(t *testing.T) {
			got, err := Transition(tt.from, tt.trigger)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPhaseTransition_Table(t *testing.T) {
	s, err := PhaseTransition(PhaseNotStarted, PhaseActivate)
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, s)

	s, err = PhaseTransition(PhaseActive, PhaseFinish)
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, s)
	assert.Equal(t, PhaseStatusCompleted, s.ResultStatus())

	_, err = PhaseTransition(PhaseDone, PhaseFail)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = PhaseTransition(PhaseNotStarted, PhaseFinish)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, PhaseStatusFailed, PhaseFailed.ResultStatus())
	assert.Equal(t, PhaseStatusSkipped, PhaseSkipped.ResultStatus())
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestStore_CreateSnapshotsDefinition(t *testing.T) {
	store := NewStore()
	def := testDefinition(2)
	rec := store.Create(def)

	def.Phases[0].Actions[0] = "mutated after start"
	assert.Equal(t, "act", rec.Definition().Phases[0].Actions[0])

	snap := rec.Snapshot()
	assert.Equal(t, StatusPending, snap.Status)
	assert.Equal(t, 2, snap.TotalPhases)
	assert.NotEmpty(t, snap.ID)

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Same(t, rec, got)

	_, err = store.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecord_ProgressReachesHundredOnlyAtCompleted(t *testing.T) {
	store := NewStore()
	rec := store.Create(testDefinition(3))
	require.NoError(t, rec.Start())

	var seen []float64
	for i := 0; i < 3; i++ {
		p, err := rec.AppendPhaseResult(PhaseResult{PhaseID: "x", Status: PhaseStatusCompleted})
		require.NoError(t, err)
		seen = append(seen, p)
		assert.Less(t, p, 100.0)
	}
	assert.InDelta(t, 33.33, seen[0], 0.01)
	assert.InDelta(t, 66.67, seen[1], 0.01)
	assert.Equal(t, 99.0, seen[2])

	require.NoError(t, rec.Finish(TriggerComplete, ReasonNone, nil))
	snap := rec.Snapshot()
	assert.Equal(t, 100.0, snap.Progress)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.NotNil(t, snap.EndTime)

	select {
	case <-rec.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestRecord_ProgressNeverDecreases(t *testing.T) {
	rec := NewStore().Create(testDefinition(4))
	require.NoError(t, rec.Start())

	p1, _ := rec.AppendPhaseResult(PhaseResult{Status: PhaseStatusCompleted})
	p2, _ := rec.AppendPhaseResult(PhaseResult{Status: PhaseStatusSkipped})
	assert.Equal(t, p1, p2)
}

func TestRecord_ReadOnlyAfterTerminal(t *testing.T) {
	rec := NewStore().Create(testDefinition(1))
	require.NoError(t, rec.Start())
	_, err := rec.AppendLog(SeverityError, "timeout exceeded", "", "")
	require.NoError(t, err)
	require.NoError(t, rec.Finish(TriggerFail, ReasonTimeout, errors.New("deadline")))

	_, err = rec.AppendPhaseResult(PhaseResult{})
	assert.ErrorIs(t, err, ErrTerminal)
	_, err = rec.AppendLog(SeverityInfo, "late", "", "")
	assert.ErrorIs(t, err, ErrTerminal)
	assert.ErrorIs(t, rec.SetCurrentPhase("a"), ErrTerminal)
	assert.ErrorIs(t, rec.Finish(TriggerCancel, ReasonCancelled, nil), ErrInvalidTransition)

	snap := rec.Snapshot()
	assert.Equal(t, ReasonTimeout, snap.Reason)
	assert.Equal(t, "deadline", snap.Error)
	require.Len(t, snap.Log, 1)
}

func TestRecord_LogSequence(t *testing.T) {
	rec := NewStore().Create(testDefinition(1))
	require.NoError(t, rec.Start())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = rec.AppendLog(SeverityInfo, "tick", "", "")
		}()
	}
	wg.Wait()

	snap := rec.Snapshot()
	require.Len(t, snap.Log, 50)
	for i, e := range snap.Log {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestRecord_SnapshotIsDeepCopy(t *testing.T) {
	rec := NewStore().Create(testDefinition(1))
	require.NoError(t, rec.Start())
	_, err := rec.AppendPhaseResult(PhaseResult{
		PhaseID: "a",
		Status:  PhaseStatusCompleted,
		Contributions: map[string]Contribution{
			"A": {Agent: "A", Thoughts: []string{"one"}},
		},
	})
	require.NoError(t, err)

	snap := rec.Snapshot()
	c := snap.PhaseResults[0].Contributions["A"]
	c.Thoughts[0] = "changed"

	again := rec.Snapshot()
	assert.Equal(t, "one", again.PhaseResults[0].Contributions["A"].Thoughts[0])
}

func TestStore_List(t *testing.T) {
	store := NewStore()
	store.Create(testDefinition(1))
	store.Create(testDefinition(1))
	assert.Len(t, store.List(), 2)
}
