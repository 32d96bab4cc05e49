package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// gold memory entry id is fixed so the verifier always reads/writes the same
// memory slot regardless of which task triggered the load.
const goldMemoryEntryID = "00000000-0000-0000-0000-00000000a801"

const (
	contentTypeV1 = "gold_memory_service/v1"
	contentTypeV2 = "gold_memory_service/v2"
)

// ResultKind distinguishes the three shapes VerificationResult can take.
type ResultKind string

const (
	ResultCompleted         ResultKind = "completed"
	ResultIncomplete        ResultKind = "incomplete"
	ResultQualityGateFailed ResultKind = "quality_gate_failed"
)

// VerificationResult is the outcome of VerifyCompletion.
type VerificationResult struct {
	Kind   ResultKind
	Reason string // empty when Kind == ResultCompleted
}

// IsSuccess reports whether the task verified as truly complete.
func (r VerificationResult) IsSuccess() bool {
	return r.Kind == ResultCompleted
}

// FailureReason returns the reason for a failed result, or "" if successful.
func (r VerificationResult) FailureReason() string {
	if r.Kind == ResultCompleted {
		return ""
	}
	return r.Reason
}

var (
	// ErrTaskNotFound is returned by VerifyCompletion when storage has no
	// record of the task id.
	ErrTaskNotFound = errors.New("task not found")
)

// MemoryEntry is the generic envelope storage persists a gold-memory
// payload under. ContentType distinguishes the legacy raw v1 body from the
// enveloped v2 body; Text carries the JSON payload itself.
type MemoryEntry struct {
	ID          string
	ContentType string
	Text        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SourceTask  string
	Tags        []string
}

// TaskStorage is the narrow persistence seam the verifier depends on. The
// concrete SQLite-backed implementation lives in internal/storage; this
// package never imports it, so the dependency only ever points one way.
type TaskStorage interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	SaveMemory(ctx context.Context, entry *MemoryEntry) error
	GetMemory(ctx context.Context, id string) (*MemoryEntry, error)
}

// QualityGate runs an external check (tests, lint, ...) named by a task's
// declared gate.
type QualityGate interface {
	Run(ctx context.Context, gateName string) error
}

// MigrationAuditV2 records that the in-memory gold-memory state was loaded
// from a legacy v1 payload and has now been rewritten as v2.
type MigrationAuditV2 struct {
	FromVersion   int       `json:"fromVersion"`
	MigratedAt    time.Time `json:"migratedAt"`
	TriggerTaskID string    `json:"triggerTaskId"`
	TriggerSource string    `json:"triggerSource"`
}

type persistedGoldMemoryV2 struct {
	Version   int               `json:"version"`
	Service   json.RawMessage   `json:"service"`
	Migration *MigrationAuditV2 `json:"migration,omitempty"`
}

// TaskVerifier verifies declared-complete tasks and, when configured with a
// gold-memory service, feeds every failure and success back into a
// persistent, deduplicated invariant store.
type TaskVerifier struct {
	storage     TaskStorage
	qualityGate QualityGate

	mu         sync.Mutex
	goldMemory *GoldMemoryService
	tracked    map[string][]string // taskID -> invariant ids created for it

	goldMemoryEnabled   bool
	loaded              bool
	migrateFromV1Pending bool
}

// New creates a TaskVerifier with no quality gate and no gold-memory loop.
func New(storage TaskStorage) *TaskVerifier {
	return &TaskVerifier{
		storage: storage,
		tracked: make(map[string][]string),
	}
}

// WithQualityGate attaches a quality gate check run on Completed-state tasks
// that declare one.
func (v *TaskVerifier) WithQualityGate(gate QualityGate) *TaskVerifier {
	v.qualityGate = gate
	return v
}

// WithGoldMemory enables the invariant feedback loop, seeded with an
// initially-empty store (loaded lazily from storage on first use).
func (v *TaskVerifier) WithGoldMemory(service *GoldMemoryService) *TaskVerifier {
	if service == nil {
		service = NewGoldMemoryService()
	}
	v.goldMemory = service
	v.goldMemoryEnabled = true
	return v
}

// VerifyCompletion checks whether a task is truly complete: its state must
// be Completed, every recorded step must have succeeded, and its declared
// quality gate (if any) must pass.
func (v *TaskVerifier) VerifyCompletion(ctx context.Context, taskID string) (VerificationResult, error) {
	task, err := v.storage.GetTask(ctx, taskID)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return VerificationResult{}, ErrTaskNotFound
	}

	if task.State != TaskCompleted {
		return VerificationResult{
			Kind:   ResultIncomplete,
			Reason: fmt.Sprintf("Task is in %s state, not Completed", task.State),
		}, nil
	}

	for _, step := range task.Steps {
		if step.Result != nil && !step.Result.Success {
			errMsg := step.Result.Error
			if errMsg == "" {
				errMsg = "Unknown error"
			}
			return VerificationResult{
				Kind:   ResultIncomplete,
				Reason: fmt.Sprintf("Step %s (%s) failed: %s", step.StepID, step.Action, errMsg),
			}, nil
		}
	}

	if v.qualityGate != nil && task.QualityGate != "" {
		if err := v.qualityGate.Run(ctx, string(task.QualityGate)); err != nil {
			return VerificationResult{
				Kind:   ResultQualityGateFailed,
				Reason: err.Error(),
			}, nil
		}
	}

	return VerificationResult{Kind: ResultCompleted}, nil
}

// VerifyAndTrack wraps VerifyCompletion with the gold-memory feedback loop:
// on failure it upserts a deduplicated invariant describing what went
// wrong and marks it violated; on success it marks every invariant tracked
// for this task as validated. It is a no-op extension when gold memory was
// never enabled via WithGoldMemory.
func (v *TaskVerifier) VerifyAndTrack(ctx context.Context, taskID string) (VerificationResult, error) {
	if err := v.ensureGoldMemoryLoaded(ctx); err != nil {
		return VerificationResult{}, err
	}

	result, err := v.VerifyCompletion(ctx, taskID)
	if err != nil {
		return result, err
	}

	v.updateGoldMemoryFeedback(taskID, result)

	if err := v.persistGoldMemory(ctx, taskID); err != nil {
		return result, err
	}

	return result, nil
}

func (v *TaskVerifier) ensureGoldMemoryLoaded(ctx context.Context) error {
	if !v.goldMemoryEnabled {
		return nil
	}

	v.mu.Lock()
	if v.loaded {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	entry, err := v.storage.GetMemory(ctx, goldMemoryEntryID)
	if err != nil {
		return fmt.Errorf("get gold memory: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if entry != nil {
		service, migratedFromV1, err := decodeGoldMemoryEntry(entry)
		if err != nil {
			return err
		}
		if service != nil {
			v.goldMemory = service
			v.migrateFromV1Pending = migratedFromV1
		}
	}
	v.loaded = true
	return nil
}

func decodeGoldMemoryEntry(entry *MemoryEntry) (*GoldMemoryService, bool, error) {
	switch entry.ContentType {
	case contentTypeV2:
		var persisted persistedGoldMemoryV2
		if err := json.Unmarshal([]byte(entry.Text), &persisted); err != nil {
			return nil, false, fmt.Errorf("decode gold memory v2: %w", err)
		}
		service := NewGoldMemoryService()
		if err := json.Unmarshal(persisted.Service, service); err != nil {
			return nil, false, fmt.Errorf("decode gold memory service: %w", err)
		}
		return service, false, nil
	case contentTypeV1:
		service := NewGoldMemoryService()
		if err := json.Unmarshal([]byte(entry.Text), service); err != nil {
			return nil, false, fmt.Errorf("decode legacy gold memory: %w", err)
		}
		return service, true, nil
	default:
		return nil, false, nil
	}
}

func (v *TaskVerifier) persistGoldMemory(ctx context.Context, taskID string) error {
	if !v.goldMemoryEnabled {
		return nil
	}

	v.mu.Lock()
	var migration *MigrationAuditV2
	if v.migrateFromV1Pending {
		migration = &MigrationAuditV2{
			FromVersion:   1,
			MigratedAt:    time.Now(),
			TriggerTaskID: taskID,
			TriggerSource: "task_verifier",
		}
	}
	v.migrateFromV1Pending = false
	service := v.goldMemory.Clone()
	v.mu.Unlock()

	serviceJSON, err := json.Marshal(service)
	if err != nil {
		return fmt.Errorf("marshal gold memory: %w", err)
	}
	payload, err := json.Marshal(persistedGoldMemoryV2{
		Version:   2,
		Service:   serviceJSON,
		Migration: migration,
	})
	if err != nil {
		return fmt.Errorf("marshal gold memory envelope: %w", err)
	}

	now := time.Now()
	return v.storage.SaveMemory(ctx, &MemoryEntry{
		ID:          goldMemoryEntryID,
		ContentType: contentTypeV2,
		Text:        string(payload),
		CreatedAt:   now,
		UpdatedAt:   now,
		SourceTask:  taskID,
		Tags:        []string{"gold-memory", "invariants"},
	})
}

func (v *TaskVerifier) updateGoldMemoryFeedback(taskID string, result VerificationResult) {
	if !v.goldMemoryEnabled {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if result.Kind == ResultCompleted {
		for _, id := range v.tracked[taskID] {
			v.goldMemory.MarkValidated(id)
		}
		return
	}

	fact := structuredFact(taskID, result)
	upserted := v.goldMemory.UpsertSystemFact(SystemFactInput{
		DedupeKey:    factDedupeKey(taskID, fact.kind),
		Rule:         fact.rule,
		Description:  fact.description,
		ScopePattern: taskID,
		Priority:     fact.priority,
		Tags:         fact.tags,
		Evidence:     fact.evidence,
		Source:       "verifier",
	})
	v.goldMemory.MarkViolated(upserted.ID)

	ids := v.tracked[taskID]
	found := false
	for _, id := range ids {
		if id == upserted.ID {
			found = true
			break
		}
	}
	if !found {
		v.tracked[taskID] = append(ids, upserted.ID)
	}
}

func factDedupeKey(taskID, kind string) string {
	return fmt.Sprintf("task:%s:%s", taskID, strings.ToLower(kind))
}

type structuredFactData struct {
	rule        string
	description string
	priority    InvariantPriority
	tags        []string
	kind        string
	evidence    []string
}

// structuredFact classifies a verification failure into the fixed rule
// table from the spec: quality-gate failures are Critical, state mismatches
// and step failures are High, anything else is Medium.
func structuredFact(taskID string, result VerificationResult) structuredFactData {
	reason := result.Reason
	lower := strings.ToLower(reason)

	evidence := func(kind string) []string {
		return []string{
			fmt.Sprintf("task_id=%s", taskID),
			fmt.Sprintf("kind=%s", kind),
			fmt.Sprintf("reason=%s", reason),
		}
	}

	switch {
	case result.Kind == ResultQualityGateFailed:
		return structuredFactData{
			rule:        fmt.Sprintf("Quality gate must pass before task %s can complete", taskID),
			description: fmt.Sprintf("Quality gate failure detected: %s", reason),
			priority:    PriorityCritical,
			tags:        []string{"verification", "quality_gate", "regression_risk"},
			kind:        "quality_gate_failed",
			evidence:    evidence("quality_gate_failed"),
		}
	case strings.Contains(lower, "not completed") || strings.Contains(lower, "state"):
		return structuredFactData{
			rule:        fmt.Sprintf("Task %s must be in Completed state before finalize", taskID),
			description: fmt.Sprintf("Task state validation failed: %s", reason),
			priority:    PriorityHigh,
			tags:        []string{"verification", "task_state"},
			kind:        "state_incomplete",
			evidence:    evidence("state_incomplete"),
		}
	case strings.Contains(lower, "step") && strings.Contains(lower, "failed"):
		return structuredFactData{
			rule:        fmt.Sprintf("All execution steps for task %s must succeed", taskID),
			description: fmt.Sprintf("Execution step failed during verification: %s", reason),
			priority:    PriorityHigh,
			tags:        []string{"verification", "execution_step"},
			kind:        "step_failure",
			evidence:    evidence("step_failure"),
		}
	default:
		return structuredFactData{
			rule:        fmt.Sprintf("Verification must pass for task %s before completion", taskID),
			description: fmt.Sprintf("Verification incomplete: %s", reason),
			priority:    PriorityMedium,
			tags:        []string{"verification", "incomplete"},
			kind:        "verification_incomplete",
			evidence:    evidence("verification_incomplete"),
		}
	}
}

// GoldMemorySummary returns a read-only snapshot of the gold-memory store,
// or the zero value if gold memory was never enabled.
func (v *TaskVerifier) GoldMemorySummary() (GoldMemorySummary, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.goldMemoryEnabled {
		return GoldMemorySummary{}, false
	}
	return v.goldMemory.Summary(), true
}

// GenerateContinuationPrompt returns the fixed-template message pushed back
// into the conversation when verification does not pass.
func GenerateContinuationPrompt(result VerificationResult) string {
	switch result.Kind {
	case ResultCompleted:
		return "Task verified as completed! Great work!"
	case ResultQualityGateFailed:
		return fmt.Sprintf(
			"Quality gate failed:\n\n%s\n\nPlease fix the issues and run the quality checks again.\n\nUse the 'run_tests' tool to verify your changes.",
			result.Reason,
		)
	default:
		return fmt.Sprintf(
			"Task verification failed:\n\n%s\n\nPlease continue working on this task and address the issues above.\n\nWhen you believe the task is complete, submit it for verification again.",
			result.Reason,
		)
	}
}

// GenerateFeedbackMessage returns the short form recorded into session
// history.
func GenerateFeedbackMessage(result VerificationResult) string {
	switch result.Kind {
	case ResultCompleted:
		return "Task verified successfully! All checks passed."
	case ResultQualityGateFailed:
		return fmt.Sprintf("Quality gate failed: %s", result.Reason)
	default:
		return fmt.Sprintf("Task incomplete: %s", result.Reason)
	}
}

// InvariantStatsProvider supplies the active-invariant counts enhanced
// continuation prompts surface; satisfied by a read-only view over a
// GoldMemoryService or an equivalent injector.
type InvariantStatsProvider interface {
	Stats() (total int, critical int, high int, medium int, low int)
}

// WorkingMemoryProvider supplies free-text working-memory context for
// enhanced continuation prompts.
type WorkingMemoryProvider interface {
	Inject() string
}

// GenerateEnhancedContinuation appends working-memory context and an
// invariants summary to the base continuation prompt.
func GenerateEnhancedContinuation(result VerificationResult, wm WorkingMemoryProvider, inv InvariantStatsProvider) string {
	base := GenerateContinuationPrompt(result)

	wmText := "(No working memory context)"
	if wm != nil {
		wmText = wm.Inject()
	}

	invText := ""
	if inv != nil {
		total, critical, high, medium, low := inv.Stats()
		if total > 0 {
			invText = fmt.Sprintf(
				"\n\nCurrent invariants: %d active (%d critical, %d high, %d medium, %d low)",
				total, critical, high, medium, low,
			)
		}
	}

	return fmt.Sprintf("%s\n\n%s\n%s", base, wmText, invText)
}
