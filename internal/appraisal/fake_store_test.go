package appraisal

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"peritaje/api/internal/store"
)

// memoryRecords is an in-memory RecordStore. updateFn, when set, replaces
// UpdateAppraisalOwner so tests can inject failures.
type memoryRecords struct {
	mu       sync.Mutex
	items    map[string]store.AppraisalResult
	inserts  int
	updates  int
	clock    time.Time
	updateFn func(item store.AppraisalResult) (store.AppraisalResult, error)
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{
		items: make(map[string]store.AppraisalResult),
		clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memoryRecords) FindByOwnerAndPayload(_ context.Context, owner store.Owner, payloadHash string, payload map[string]any) (store.AppraisalResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.sorted() {
		if item.Owner() == owner && item.PayloadHash == payloadHash && reflect.DeepEqual(item.AppraisalData, payload) {
			return item, true, nil
		}
	}
	return store.AppraisalResult{}, false, nil
}

func (m *memoryRecords) InsertAppraisalResult(_ context.Context, item store.AppraisalResult) (store.AppraisalResult, error) {
	if err := item.Owner().Validate(); err != nil {
		return store.AppraisalResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	m.clock = m.clock.Add(time.Second)
	item.CreatedAt = m.clock
	m.items[item.ID] = item
	return item, nil
}

func (m *memoryRecords) ListByAnonymousSession(_ context.Context, sessionID string) ([]store.AppraisalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.AppraisalResult
	for _, item := range m.sorted() {
		if item.AnonymousSessionID == sessionID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memoryRecords) UpdateAppraisalOwner(_ context.Context, item store.AppraisalResult) (store.AppraisalResult, error) {
	if m.updateFn != nil {
		updated, err := m.updateFn(item)
		if err != nil {
			return store.AppraisalResult{}, err
		}
		item = updated
	}
	if err := item.Owner().Validate(); err != nil {
		return store.AppraisalResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[item.ID]
	if !ok {
		return store.AppraisalResult{}, store.ErrNotFound
	}
	m.updates++
	current.UserID = item.UserID
	current.AnonymousSessionID = item.AnonymousSessionID
	m.items[item.ID] = current
	return current, nil
}

func (m *memoryRecords) ListByUser(_ context.Context, userID string) ([]store.AppraisalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.AppraisalResult
	for _, item := range m.sorted() {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryRecords) GetAppraisalResult(_ context.Context, owner store.Owner, id string) (store.AppraisalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.Owner() != owner {
		return store.AppraisalResult{}, store.ErrNotFound
	}
	return item, nil
}

func (m *memoryRecords) GetAppraisalByRequestID(_ context.Context, owner store.Owner, requestID string) (store.AppraisalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.sorted() {
		if item.Owner() == owner && item.RequestID == requestID {
			return item, nil
		}
	}
	return store.AppraisalResult{}, store.ErrNotFound
}

func (m *memoryRecords) sorted() []store.AppraisalResult {
	out := make([]store.AppraisalResult, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memoryRecords) snapshot() map[string]store.AppraisalResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.AppraisalResult, len(m.items))
	for id, item := range m.items {
		out[id] = item
	}
	return out
}

func (m *memoryRecords) restore(items map[string]store.AppraisalResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
}

// snapshotTx gives memoryRecords all-or-nothing semantics for WithTx.
type snapshotTx struct {
	records *memoryRecords
	calls   int
}

func (tx *snapshotTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.calls++
	saved := tx.records.snapshot()
	if err := fn(ctx); err != nil {
		tx.records.restore(saved)
		return err
	}
	return nil
}

type recordingIndexer struct {
	mu    sync.Mutex
	items []store.AppraisalResult
}

func (r *recordingIndexer) IndexAppraisal(_ context.Context, item store.AppraisalResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
}

type stubLocker struct {
	err      error
	keys     []string
	released int
}

func (l *stubLocker) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}
