package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

// overlappingFamily builds a one-day household where ada holds the 09:00 pool slot and
// ben carries an unslotted Mathematics session at the same time.
func overlappingFamily(t *testing.T) *familyState {
	t.Helper()
	pool := newDayPool(t)
	fs := &familyState{tuning: DefaultTuning(), pool: pool, byLearner: make(map[string]*familyMember)}

	adaSlot, ok := pool.Slot("pool-2024-09-02-01")
	require.True(t, ok)
	require.NoError(t, pool.Reserve(adaSlot.ID, "ada", SlotReservedAssignment))
	ada := session("ada-1", "ada", "Mathematics", "09:00", 45)
	ada.SlotID = adaSlot.ID

	ben := session("ben-1", "ben", "Mathematics", "09:00", 45)

	fs.add(0, ResolveProfile("ada", nil), ScheduleResult{LearnerID: "ada", Sessions: []models.StudySession{ada}})
	fs.add(1, ResolveProfile("ben", nil), ScheduleResult{LearnerID: "ben", Sessions: []models.StudySession{ben}})
	require.Len(t, DetectConflicts(fs.tuning, fs.sessions()), 1)
	return fs
}

func benSession(fs *familyState) models.StudySession {
	_, p := fs.find("ben-1")
	return p.session
}

func TestSweepMovesLaterLearner(t *testing.T) {
	fs := overlappingFamily(t)

	moves := fs.sweep(fs.relocateAny)

	assert.Equal(t, 1, moves)
	assert.Empty(t, DetectConflicts(fs.tuning, fs.sessions()))
	ben := benSession(fs)
	assert.Equal(t, "10:00", ben.StartTime)
	assert.Equal(t, "pool-2024-09-02-02", ben.SlotID)
	assert.Contains(t, ben.Reasoning, "ada")
	assert.False(t, fs.pool.IsFree("pool-2024-09-02-02"))
}

func TestSweepRelocatesSlotlessSessionIntoPoolSlot(t *testing.T) {
	fs := overlappingFamily(t)
	_, p := fs.find("ben-1")
	require.Empty(t, p.slot.ID)

	require.Equal(t, 1, fs.sweep(fs.relocateAny))

	slot, ok := fs.pool.Slot("pool-2024-09-02-02")
	require.True(t, ok)
	ben := benSession(fs)
	assert.Equal(t, slot.ID, ben.SlotID)
	assert.Equal(t, slot.Minutes, ben.DurationMinutes)
	_, owner := fs.pool.State(slot.ID)
	assert.Equal(t, "ben", owner)
}

func TestStaggerRecordsOffsets(t *testing.T) {
	fs := overlappingFamily(t)

	offsets := fs.stagger()

	assert.Equal(t, map[string]int{"ada": 0, "ben": 60}, offsets)
	assert.Empty(t, DetectConflicts(fs.tuning, fs.sessions()))
}

func TestSynchronizeJoinsLeaderSlot(t *testing.T) {
	fs := overlappingFamily(t)
	benSlot, _ := fs.pool.Slot("pool-2024-09-02-03")
	require.NoError(t, fs.pool.Reserve(benSlot.ID, "ben", SlotReservedAssignment))
	_, p := fs.find("ben-1")
	p.setSlot(benSlot)
	require.Empty(t, DetectConflicts(fs.tuning, fs.sessions()))

	aligned := fs.synchronize()

	assert.Equal(t, 1, aligned)
	ben := benSession(fs)
	assert.Equal(t, "pool-2024-09-02-01", ben.SlotID)
	assert.True(t, ben.Shared)
	assert.True(t, fs.pool.IsFree(benSlot.ID))
	_, owner := fs.pool.State("pool-2024-09-02-01")
	assert.Equal(t, SharedOwnerPrefix+"ada,ben", owner)
	assert.Empty(t, DetectConflicts(fs.tuning, fs.sessions()))
}

func TestBalanceAppliesAdvisoryMoves(t *testing.T) {
	fs := overlappingFamily(t)
	advisor := &advisorStub{respond: func(p AdvisoryPrompt) (string, error) {
		return `{"moves":[{"session_id":"ben-1","slot_id":"pool-2024-09-02-03"}],"reasoning":"spread out"}`, nil
	}}
	engine := newTestEngine(advisor, nil)

	moves, used := engine.balance(context.Background(), fs, DetectConflicts(fs.tuning, fs.sessions()), false)

	require.Len(t, advisor.calls, 1)
	assert.Equal(t, PromptRebalance, advisor.calls[0].Kind)
	assert.True(t, used)
	assert.Equal(t, 1, moves)
	assert.Equal(t, "11:00", benSession(fs).StartTime)
}

func TestBalanceRejectsInvalidAdvisoryMoves(t *testing.T) {
	responses := map[string]string{
		"occupied slot":   `{"moves":[{"session_id":"ben-1","slot_id":"pool-2024-09-02-01"}],"reasoning":""}`,
		"unknown session": `{"moves":[{"session_id":"zed","slot_id":"pool-2024-09-02-03"}],"reasoning":""}`,
		"moved twice":     `{"moves":[{"session_id":"ben-1","slot_id":"pool-2024-09-02-03"},{"session_id":"ben-1","slot_id":"pool-2024-09-02-04"}],"reasoning":""}`,
		"not json":        `move ben later`,
	}
	for name, raw := range responses {
		t.Run(name, func(t *testing.T) {
			fs := overlappingFamily(t)
			recorder := &recorderStub{}
			advisor := &invalidatingAdvisorStub{advisorStub: advisorStub{respond: func(AdvisoryPrompt) (string, error) { return raw, nil }}}
			engine := newTestEngine(advisor, recorder)

			moves, used := engine.balance(context.Background(), fs, DetectConflicts(fs.tuning, fs.sessions()), false)

			assert.False(t, used)
			assert.Equal(t, 1, moves)
			assert.Len(t, recorder.failures, 1)
			require.Len(t, advisor.invalidated, 1)
			assert.Equal(t, PromptRebalance, advisor.invalidated[0].Kind)
			assert.Equal(t, "10:00", benSession(fs).StartTime)
			assert.True(t, fs.pool.IsFree("pool-2024-09-02-03"))
			assert.Empty(t, DetectConflicts(fs.tuning, fs.sessions()))
		})
	}
}
