package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"club-feedback/internal/feedback"
)

// Memory is a process-local backend selected by memory:// URIs. Data does
// not survive a restart.
type Memory struct {
	mu   sync.RWMutex
	subs map[string]feedback.Submission
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]feedback.Submission)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Insert(_ context.Context, sub feedback.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[sub.ID]; exists {
		return fmt.Errorf("duplicate id %q", sub.ID)
	}
	m.subs[sub.ID] = sub
	return nil
}

func (m *Memory) FindAll(_ context.Context) ([]feedback.Submission, error) {
	m.mu.RLock()
	out := make([]feedback.Submission, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	return out, nil
}

func (m *Memory) DeleteOne(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[id]; !ok {
		return false, nil
	}
	delete(m.subs, id)
	return true, nil
}

func (m *Memory) EnsureIndexes(context.Context) error { return nil }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close(context.Context) error { return nil }
