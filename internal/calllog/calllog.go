// Package calllog persists call detail records: when a call ran, how it
// ended, and how much work each side did. Transcripts and audio are never
// stored.
package calllog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Outcome describes how a call ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeTransferred Outcome = "transferred"
	OutcomeFailed      Outcome = "failed"
)

// Record is one call detail record.
type Record struct {
	// CallID is the transport-side call identifier.
	CallID string

	StartedAt time.Time
	EndedAt   time.Time

	Outcome Outcome

	// Turns counts completed conversational turns.
	Turns int

	// ToolCalls counts tool invocations across the call.
	ToolCalls int

	// BargeIns counts caller interruptions of bot playback.
	BargeIns int

	// TransferredTo holds the transfer extension name for transferred calls.
	TransferredTo string
}

// Store persists call records.
type Store interface {
	// Write appends one finished call's record.
	Write(ctx context.Context, rec Record) error

	// Recent returns records that started no earlier than now-window, newest
	// first.
	Recent(ctx context.Context, window time.Duration) ([]Record, error)
}

// MemoryStore is an in-process Store for tests and DSN-less deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Write implements [Store].
func (s *MemoryStore) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, window time.Duration) ([]Record, error) {
	cutoff := time.Now().Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if !rec.StartedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}
