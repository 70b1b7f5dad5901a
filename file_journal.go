package coursesaga

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileJournal stores one JSON document per saga in a directory.
type FileJournal struct {
	basePath string
	mu       sync.Mutex
}

// NewFileJournal creates basePath if needed and returns a journal rooted there.
func NewFileJournal(basePath string) (*FileJournal, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &FileJournal{basePath: basePath}, nil
}

func (f *FileJournal) Save(_ context.Context, entry JournalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	// Write then rename so a crash never leaves a half-written entry.
	tmp := f.filename(entry.SagaID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	if err := os.Rename(tmp, f.filename(entry.SagaID)); err != nil {
		return fmt.Errorf("failed to commit journal entry: %w", err)
	}
	return nil
}

func (f *FileJournal) Load(_ context.Context, sagaID string) (*JournalEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(f.filename(sagaID), sagaID)
}

func (f *FileJournal) List(_ context.Context) ([]JournalEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}
	var out []JournalEntry
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		sagaID := strings.TrimSuffix(file.Name(), ".json")
		entry, err := f.read(filepath.Join(f.basePath, file.Name()), sagaID)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	sortEntries(out)
	return out, nil
}

func (f *FileJournal) Delete(_ context.Context, sagaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(sagaID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete journal entry: %w", err)
	}
	return nil
}

func (f *FileJournal) read(path, sagaID string) (*JournalEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("saga %s: %w", sagaID, ErrJournalEntryNotFound)
		}
		return nil, fmt.Errorf("failed to read journal entry: %w", err)
	}
	var entry JournalEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journal entry %s: %w", sagaID, err)
	}
	return &entry, nil
}

func (f *FileJournal) filename(sagaID string) string {
	return filepath.Join(f.basePath, sagaID+".json")
}
