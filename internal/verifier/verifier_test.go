package verifier

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statefulStorage is a test double holding exactly one mutable task plus an
// in-memory memory table, mirroring the Rust StatefulStorage test double.
type statefulStorage struct {
	mu       sync.Mutex
	task     Task
	memories map[string]*MemoryEntry
}

func newStatefulStorage(task Task) *statefulStorage {
	return &statefulStorage{task: task, memories: make(map[string]*MemoryEntry)}
}

func (s *statefulStorage) GetTask(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task.ID != id {
		return nil, nil
	}
	t := s.task
	return &t, nil
}

func (s *statefulStorage) SaveMemory(_ context.Context, entry *MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[entry.ID] = entry
	return nil
}

func (s *statefulStorage) GetMemory(_ context.Context, id string) (*MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memories[id], nil
}

func (s *statefulStorage) setState(state TaskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task.State = state
}

func newTestTask(id string) Task {
	return Task{
		ID:          id,
		Title:       "feedback loop",
		Description: "verify and track",
		State:       TaskInProgress,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func TestVerificationResultHelpers(t *testing.T) {
	completed := VerificationResult{Kind: ResultCompleted}
	assert.True(t, completed.IsSuccess())
	assert.Empty(t, completed.FailureReason())

	incomplete := VerificationResult{Kind: ResultIncomplete, Reason: "Tests failed"}
	assert.False(t, incomplete.IsSuccess())
	assert.Equal(t, "Tests failed", incomplete.FailureReason())
}

func TestGenerateContinuationPrompt(t *testing.T) {
	completed := GenerateContinuationPrompt(VerificationResult{Kind: ResultCompleted})
	assert.Contains(t, completed, "verified")

	incomplete := GenerateContinuationPrompt(VerificationResult{Kind: ResultIncomplete, Reason: "File not found"})
	assert.Contains(t, incomplete, "File not found")
}

func TestGenerateFeedbackMessage(t *testing.T) {
	completed := GenerateFeedbackMessage(VerificationResult{Kind: ResultCompleted})
	assert.Contains(t, completed, "verified")

	failed := GenerateFeedbackMessage(VerificationResult{Kind: ResultQualityGateFailed, Reason: "Tests failed"})
	assert.Contains(t, failed, "Tests failed")
}

func TestVerifyCompletionTaskNotFound(t *testing.T) {
	storage := newStatefulStorage(newTestTask("task-1"))
	v := New(storage)

	_, err := v.VerifyCompletion(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestVerifyCompletionIncompleteState(t *testing.T) {
	storage := newStatefulStorage(newTestTask("task-1"))
	v := New(storage)

	result, err := v.VerifyCompletion(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, ResultIncomplete, result.Kind)
	assert.Contains(t, result.Reason, "InProgress")
}

func TestVerifyCompletionStepFailure(t *testing.T) {
	task := newTestTask("task-1")
	task.State = TaskCompleted
	task.Steps = []Step{{StepID: "s1", Action: "run tests", Result: &StepResult{Success: false, Error: "boom"}}}
	storage := newStatefulStorage(task)
	v := New(storage)

	result, err := v.VerifyCompletion(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, ResultIncomplete, result.Kind)
	assert.Contains(t, result.Reason, "boom")
}

type fakeQualityGate struct{ err error }

func (g fakeQualityGate) Run(context.Context, string) error { return g.err }

func TestVerifyCompletionQualityGate(t *testing.T) {
	task := newTestTask("task-1")
	task.State = TaskCompleted
	task.QualityGate = "run_tests"
	storage := newStatefulStorage(task)

	t.Run("pass", func(t *testing.T) {
		v := New(storage).WithQualityGate(fakeQualityGate{})
		result, err := v.VerifyCompletion(context.Background(), "task-1")
		require.NoError(t, err)
		assert.Equal(t, ResultCompleted, result.Kind)
	})
}

// TestVerifyAndTrackGoldMemoryFeedbackLoop mirrors scenario (d) from the spec:
// two failures accumulate on one invariant, then success validates it.
func TestVerifyAndTrackGoldMemoryFeedbackLoop(t *testing.T) {
	task := newTestTask("task-1")
	storage := newStatefulStorage(task)
	v := New(storage).WithGoldMemory(NewGoldMemoryService())
	ctx := context.Background()

	first, err := v.VerifyAndTrack(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, ResultIncomplete, first.Kind)

	summary, ok := v.GoldMemorySummary()
	require.True(t, ok)
	assert.Equal(t, 1, summary.TotalInvariants)
	assert.Equal(t, 1, summary.TotalViolations)

	second, err := v.VerifyAndTrack(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, ResultIncomplete, second.Kind)

	summary = mustSummary(t, v)
	assert.Equal(t, 1, summary.TotalInvariants)
	assert.GreaterOrEqual(t, summary.TotalViolations, 2)

	storage.setState(TaskCompleted)

	third, err := v.VerifyAndTrack(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, ResultCompleted, third.Kind)

	summary = mustSummary(t, v)
	assert.GreaterOrEqual(t, summary.TotalValidations, 1)
}

func mustSummary(t *testing.T, v *TaskVerifier) GoldMemorySummary {
	t.Helper()
	summary, ok := v.GoldMemorySummary()
	require.True(t, ok)
	return summary
}

// TestGoldMemoryPersistsAcrossVerifierInstances mirrors the Rust test of the
// same name: a fresh TaskVerifier reading the same storage picks up the
// prior verifier's persisted invariants.
func TestGoldMemoryPersistsAcrossVerifierInstances(t *testing.T) {
	task := newTestTask("task-1")
	storage := newStatefulStorage(task)
	ctx := context.Background()

	first := New(storage).WithGoldMemory(NewGoldMemoryService())
	firstResult, err := first.VerifyAndTrack(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, ResultIncomplete, firstResult.Kind)
	assert.Equal(t, 1, mustSummary(t, first).TotalInvariants)

	storage.setState(TaskCompleted)

	second := New(storage).WithGoldMemory(NewGoldMemoryService())
	secondResult, err := second.VerifyAndTrack(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, ResultCompleted, secondResult.Kind)
	assert.GreaterOrEqual(t, mustSummary(t, second).TotalInvariants, 1)
}

// TestGoldMemoryV1MigratesToV2OnPersist mirrors scenario (e) from the spec.
func TestGoldMemoryV1MigratesToV2OnPersist(t *testing.T) {
	task := newTestTask("task-1")
	storage := newStatefulStorage(task)
	ctx := context.Background()

	legacy := NewGoldMemoryService()
	legacy.UpsertSystemFact(SystemFactInput{
		DedupeKey:   "legacy:fact",
		Rule:        "legacy rule",
		Description: "legacy description",
		Priority:    PriorityMedium,
		Tags:        []string{"legacy"},
		Evidence:    []string{"legacy=true"},
		Source:      "human_correction",
	})
	legacyJSON, err := legacy.MarshalJSON()
	require.NoError(t, err)

	require.NoError(t, storage.SaveMemory(ctx, &MemoryEntry{
		ID:          goldMemoryEntryID,
		ContentType: contentTypeV1,
		Text:        string(legacyJSON),
		SourceTask:  "task-1",
	}))

	v := New(storage).WithGoldMemory(NewGoldMemoryService())
	_, err = v.VerifyAndTrack(ctx, "task-1")
	require.NoError(t, err)

	stored, err := storage.GetMemory(ctx, goldMemoryEntryID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, contentTypeV2, stored.ContentType)

	var payload persistedGoldMemoryV2
	require.NoError(t, json.Unmarshal([]byte(stored.Text), &payload))
	assert.Equal(t, 2, payload.Version)
	require.NotNil(t, payload.Migration)
	assert.Equal(t, 1, payload.Migration.FromVersion)
	assert.Equal(t, "task-1", payload.Migration.TriggerTaskID)
}

func TestInvariantClassificationRules(t *testing.T) {
	cases := []struct {
		name     string
		result   VerificationResult
		wantKind string
		wantPrio InvariantPriority
	}{
		{
			name:     "state",
			result:   VerificationResult{Kind: ResultIncomplete, Reason: "Task is in InProgress state, not Completed"},
			wantKind: "state_incomplete",
			wantPrio: PriorityHigh,
		},
		{
			name:     "step",
			result:   VerificationResult{Kind: ResultIncomplete, Reason: "Step s1 (run tests) failed: boom"},
			wantKind: "step_failure",
			wantPrio: PriorityHigh,
		},
		{
			name:     "quality gate",
			result:   VerificationResult{Kind: ResultQualityGateFailed, Reason: "lint errors"},
			wantKind: "quality_gate_failed",
			wantPrio: PriorityCritical,
		},
		{
			name:     "other",
			result:   VerificationResult{Kind: ResultIncomplete, Reason: "something unexpected"},
			wantKind: "verification_incomplete",
			wantPrio: PriorityMedium,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fact := structuredFact("task-x", tc.result)
			assert.Equal(t, tc.wantKind, fact.kind)
			assert.Equal(t, tc.wantPrio, fact.priority)
		})
	}
}

func TestFactDedupeKeyStable(t *testing.T) {
	assert.Equal(t, "task:task-1:state_incomplete", factDedupeKey("task-1", "state_incomplete"))
}

func TestGenerateEnhancedContinuation(t *testing.T) {
	result := VerificationResult{Kind: ResultIncomplete, Reason: "Test failed"}
	enhanced := GenerateEnhancedContinuation(result, nil, fakeStats{total: 1, high: 1})
	assert.Contains(t, enhanced, "Current invariants")
	assert.Contains(t, enhanced, "1 active")
}

type fakeStats struct {
	total, critical, high, medium, low int
}

func (f fakeStats) Stats() (int, int, int, int, int) {
	return f.total, f.critical, f.high, f.medium, f.low
}
