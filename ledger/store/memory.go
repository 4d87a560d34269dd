// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/makos-ai/credit-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[ledger.UserID][]ledger.Entry
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[ledger.UserID][]ledger.Entry),
		idempotency: make(map[string]bool),
	}
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

// AppendBatch adds multiple entries atomically.
func (m *Memory) AppendBatch(_ context.Context, entries []ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first (atomic check)
	for _, e := range entries {
		if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}

	for _, e := range entries {
		if err := m.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(e ledger.Entry) error {
	if e.UserID == "" || !ledger.ValidCause(e.Cause) {
		return ledger.ErrInvalidEntry
	}
	if e.IdempotencyKey != "" {
		if m.idempotency[e.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		m.idempotency[e.IdempotencyKey] = true
	}

	list := m.entries[e.UserID]

	// Binary search for insertion point to keep entries in creation order.
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(e.CreatedAt)
	})
	list = append(list, ledger.Entry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	m.entries[e.UserID] = list
	return nil
}

func (m *Memory) Load(_ context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Entry, len(m.entries[userID]))
	copy(result, m.entries[userID])
	return result, nil
}

func (m *Memory) LoadNewest(_ context.Context, userID ledger.UserID, cursor string, limit int) ([]ledger.Entry, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.entries[userID]

	// Walk newest-first; the cursor is the ID of the last entry already seen.
	start := len(list) - 1
	if cursor != "" {
		for i := len(list) - 1; i >= 0; i-- {
			if string(list[i].ID) == cursor {
				start = i - 1
				break
			}
		}
	}

	var page []ledger.Entry
	for i := start; i >= 0 && len(page) < limit; i-- {
		page = append(page, list[i])
	}

	next := ""
	if len(page) == limit && start-limit >= 0 {
		next = string(page[len(page)-1].ID)
	}
	return page, next, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}
