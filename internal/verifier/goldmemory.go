package verifier

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GoldMemoryService is the in-memory invariant store the verifier feeds.
// It is deliberately dependency-free (no storage, no clock source beyond
// time.Now) so it can be unit tested and cloned cheaply under a mutex.
type GoldMemoryService struct {
	invariants map[string]*Invariant // id -> invariant
	byDedupe   map[string]string     // dedupeKey -> id
}

// NewGoldMemoryService returns an empty gold-memory store.
func NewGoldMemoryService() *GoldMemoryService {
	return &GoldMemoryService{
		invariants: make(map[string]*Invariant),
		byDedupe:   make(map[string]string),
	}
}

// Clone returns a deep-enough copy safe to serialize outside the lock.
func (s *GoldMemoryService) Clone() *GoldMemoryService {
	clone := NewGoldMemoryService()
	for id, inv := range s.invariants {
		cp := *inv
		cp.Tags = append([]string(nil), inv.Tags...)
		cp.Evidence = append([]string(nil), inv.Evidence...)
		clone.invariants[id] = &cp
		clone.byDedupe[cp.DedupeKey] = id
	}
	return clone
}

// UpsertSystemFact inserts a new invariant or merges into the existing one
// sharing the same dedupe key, returning the resulting invariant.
func (s *GoldMemoryService) UpsertSystemFact(in SystemFactInput) *Invariant {
	now := time.Now()
	if id, ok := s.byDedupe[in.DedupeKey]; ok {
		existing := s.invariants[id]
		existing.Rule = in.Rule
		existing.Description = in.Description
		existing.Priority = in.Priority
		existing.Tags = in.Tags
		existing.Evidence = in.Evidence
		existing.ScopePattern = in.ScopePattern
		existing.Source = in.Source
		existing.UpdatedAt = now
		return existing
	}

	inv := &Invariant{
		ID:           uuid.NewString(),
		Rule:         in.Rule,
		Description:  in.Description,
		Priority:     in.Priority,
		Tags:         in.Tags,
		Evidence:     in.Evidence,
		ScopePattern: in.ScopePattern,
		Source:       in.Source,
		DedupeKey:    in.DedupeKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.invariants[inv.ID] = inv
	s.byDedupe[in.DedupeKey] = inv.ID
	return inv
}

// MarkViolated increments the violation counter for an invariant.
func (s *GoldMemoryService) MarkViolated(id string) {
	if inv, ok := s.invariants[id]; ok {
		inv.Violations++
		inv.UpdatedAt = time.Now()
	}
}

// MarkValidated increments the validation counter for an invariant.
func (s *GoldMemoryService) MarkValidated(id string) {
	if inv, ok := s.invariants[id]; ok {
		inv.Validations++
		inv.UpdatedAt = time.Now()
	}
}

// Get returns the invariant with the given id, if any.
func (s *GoldMemoryService) Get(id string) (*Invariant, bool) {
	inv, ok := s.invariants[id]
	return inv, ok
}

// Summary computes aggregate counters for observability and tests.
func (s *GoldMemoryService) Summary() GoldMemorySummary {
	summary := GoldMemorySummary{ByPriority: make(map[InvariantPriority]int)}
	for _, inv := range s.invariants {
		summary.TotalInvariants++
		summary.TotalViolations += inv.Violations
		summary.TotalValidations += inv.Validations
		summary.ByPriority[inv.Priority]++
	}
	return summary
}

// goldMemoryDoc is the GoldMemoryService's JSON-serializable shape, used by
// both the v1 (raw) and v2 (enveloped) persisted forms.
type goldMemoryDoc struct {
	Invariants []*Invariant `json:"invariants"`
}

// MarshalJSON implements json.Marshaler.
func (s *GoldMemoryService) MarshalJSON() ([]byte, error) {
	doc := goldMemoryDoc{Invariants: make([]*Invariant, 0, len(s.invariants))}
	for _, inv := range s.invariants {
		doc.Invariants = append(doc.Invariants, inv)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *GoldMemoryService) UnmarshalJSON(data []byte) error {
	var doc goldMemoryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	s.invariants = make(map[string]*Invariant, len(doc.Invariants))
	s.byDedupe = make(map[string]string, len(doc.Invariants))
	for _, inv := range doc.Invariants {
		s.invariants[inv.ID] = inv
		s.byDedupe[inv.DedupeKey] = inv.ID
	}
	return nil
}
