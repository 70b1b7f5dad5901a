package coursesaga

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrJournalEntryNotFound is returned by Journal.Load for an unknown saga.
var ErrJournalEntryNotFound = errors.New("journal entry not found")

// Journal persists the progress of sagas so that operators can reconcile
// those whose compensation did not complete.
type Journal interface {
	// Save persists the current entry, replacing any previous one
	Save(ctx context.Context, entry JournalEntry) error

	// Load retrieves the entry of a saga
	Load(ctx context.Context, sagaID string) (*JournalEntry, error)

	// List returns all entries ordered by creation time
	List(ctx context.Context) ([]JournalEntry, error)

	// Delete removes the entry of a saga
	Delete(ctx context.Context, sagaID string) error
}

// JournalEntry is the persisted view of one saga.
type JournalEntry struct {
	SagaID             string               `json:"saga_id"`
	SagaName           string               `json:"saga_name"`
	Status             SagaStatus           `json:"status"`
	UserID             int64                `json:"user_id"`
	CourseID           int64                `json:"course_id"`
	Identifiers        map[Identifier]int64 `json:"identifiers,omitempty"`
	Steps              []StepRecord         `json:"steps"`
	Failure            string               `json:"failure,omitempty"`
	CompensationErrors []string             `json:"compensation_errors,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// StepRecord is the last known status of a step in a JournalEntry.
type StepRecord struct {
	Name   StepName `json:"name"`
	Status string   `json:"status"`
}

// NeedsReconciliation reports whether the saga left side effects behind.
func (e JournalEntry) NeedsReconciliation() bool {
	return e.Status == SagaCompensationFailed
}

func (e JournalEntry) clone() JournalEntry {
	c := e
	c.Steps = append([]StepRecord(nil), e.Steps...)
	c.CompensationErrors = append([]string(nil), e.CompensationErrors...)
	if e.Identifiers != nil {
		c.Identifiers = make(map[Identifier]int64, len(e.Identifiers))
		for k, v := range e.Identifiers {
			c.Identifiers[k] = v
		}
	}
	return c
}

// PendingReconciliation lists the sagas in j whose compensation failed.
func PendingReconciliation(ctx context.Context, j Journal) ([]JournalEntry, error) {
	entries, err := j.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	var pending []JournalEntry
	for _, e := range entries {
		if e.NeedsReconciliation() {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

func sortEntries(entries []JournalEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].SagaID < entries[j].SagaID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

// MemoryJournal keeps entries in memory.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries map[string]JournalEntry
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]JournalEntry)}
}

func (m *MemoryJournal) Save(_ context.Context, entry JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry = entry.clone()
	entry.UpdatedAt = time.Now()
	m.entries[entry.SagaID] = entry
	return nil
}

func (m *MemoryJournal) Load(_ context.Context, sagaID string) (*JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[sagaID]
	if !ok {
		return nil, fmt.Errorf("saga %s: %w", sagaID, ErrJournalEntryNotFound)
	}
	c := entry.clone()
	return &c, nil
}

func (m *MemoryJournal) List(_ context.Context) ([]JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]JournalEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.clone())
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryJournal) Delete(_ context.Context, sagaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, sagaID)
	return nil
}
