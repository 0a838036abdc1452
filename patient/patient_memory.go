package patient

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-process Directory and SummaryRecorder used when no
// patient service is configured, and in tests.
type MemoryDirectory struct {
	mu        sync.RWMutex
	known     map[string]bool
	acceptAll bool
	summaries map[string]Summary
}

func NewMemoryDirectory(patientIDs ...string) *MemoryDirectory {
	dir := &MemoryDirectory{
		known:     make(map[string]bool),
		summaries: make(map[string]Summary),
	}
	for _, id := range patientIDs {
		dir.known[id] = true
	}
	return dir
}

// AcceptAll makes every patient id exist.
func (dir *MemoryDirectory) AcceptAll() *MemoryDirectory {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	dir.acceptAll = true
	return dir
}

func (dir *MemoryDirectory) Add(patientID string) {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	dir.known[patientID] = true
}

func (dir *MemoryDirectory) Exists(_ context.Context, patientID string) (bool, error) {
	dir.mu.RLock()
	defer dir.mu.RUnlock()
	return dir.acceptAll || dir.known[patientID], nil
}

// RecordExamination keeps the summary with the latest examination date.
func (dir *MemoryDirectory) RecordExamination(_ context.Context, summary Summary) error {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	current, found := dir.summaries[summary.PatientID]
	if found && current.LastExaminationDate.After(summary.LastExaminationDate) {
		return nil
	}
	dir.summaries[summary.PatientID] = summary
	return nil
}

func (dir *MemoryDirectory) Summary(patientID string) (Summary, bool) {
	dir.mu.RLock()
	defer dir.mu.RUnlock()
	summary, found := dir.summaries[patientID]
	return summary, found
}
