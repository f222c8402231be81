package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	stdsync "sync"
	"testing"
	"time"

	"github.com/mypocket/pocketsync/internal/model"
)

// testLogger discards output; tests assert on behavior, not log lines.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// --- mockLocal ----------------------------------------------------------------

// mockLocal is an in-memory LocalStore mirroring the SQLite semantics the
// engine depends on: soft deletes, queue coalescing is not needed here (the
// engine never enqueues directly), FIFO batches capped at 10 entries below
// the retry ceiling.
type mockLocal struct {
	mu           stdsync.Mutex
	transactions map[string]*model.Transaction
	queue        []*model.QueueEntry
	nextQueueID  int64
	watermarks   map[string]time.Time

	failBatchInsert  error
	failWatermark    error
	failPendingCount error
}

func newMockLocal() *mockLocal {
	return &mockLocal{
		transactions: make(map[string]*model.Transaction),
		watermarks:   make(map[string]time.Time),
	}
}

func (m *mockLocal) AddTransaction(_ context.Context, t *model.Transaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.UserID == "" {
		return "", fmt.Errorf("transaction must have a user id")
	}
	if t.ID == "" {
		t.ID = model.NewID()
	}
	t.SyncStatus = model.SyncPending
	cp := *t
	m.transactions[t.ID] = &cp

	payload, err := model.EncodeCreatePayload(t)
	if err != nil {
		return "", err
	}
	m.enqueueLocked(model.OpCreate, t.ID, payload)
	return t.ID, nil
}

func (m *mockLocal) enqueueLocked(op model.Operation, recordID string, payload []byte) {
	m.nextQueueID++
	m.queue = append(m.queue, &model.QueueEntry{
		ID:         m.nextQueueID,
		Operation:  op,
		TableName:  model.TableTransactions,
		RecordID:   recordID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
		Status:     model.QueuePending,
	})
}

func (m *mockLocal) GetTransactions(_ context.Context, userID string, limit int) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.Transaction
	for _, t := range m.transactions {
		if t.UserID == userID && !t.Deleted {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.After(result[j].Date) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockLocal) GetTransactionByID(_ context.Context, id, userID string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok || t.UserID != userID || t.Deleted {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *mockLocal) UpdateTransaction(_ context.Context, id, userID string, patch *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok || t.UserID != userID || t.Deleted {
		return fmt.Errorf("transaction %q: %w", id, ErrNotFound)
	}
	patch.ID = id
	patch.UserID = userID
	patch.SyncStatus = model.SyncPending
	cp := *patch
	m.transactions[id] = &cp

	payload, err := model.EncodeUpdatePayload(patch)
	if err != nil {
		return err
	}
	m.enqueueLocked(model.OpUpdate, id, payload)
	return nil
}

func (m *mockLocal) DeleteTransaction(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transactions[id]; ok && t.UserID == userID {
		t.Deleted = true
	}
	payload, err := model.EncodeDeletePayload(userID)
	if err != nil {
		return err
	}
	m.enqueueLocked(model.OpDelete, id, payload)
	return nil
}

func (m *mockLocal) HasUserData(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transactions {
		if t.UserID == userID && !t.Deleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLocal) BatchInsertTransactions(_ context.Context, records []*model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBatchInsert != nil {
		return m.failBatchInsert
	}
	for _, r := range records {
		cp := *r
		cp.SyncStatus = model.SyncSynced
		cp.Deleted = false
		m.transactions[r.ID] = &cp
	}
	return nil
}

func (m *mockLocal) UpdateTransactionSyncStatus(_ context.Context, id string, status model.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transactions[id]; ok {
		t.SyncStatus = status
	}
	return nil
}

func (m *mockLocal) GetLastSyncTime(_ context.Context, userID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks[userID], nil
}

func (m *mockLocal) UpdateLastSyncTime(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWatermark != nil {
		return m.failWatermark
	}
	m.watermarks[userID] = at
	return nil
}

func (m *mockLocal) GetPendingSyncItems(_ context.Context) ([]*model.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.QueueEntry
	for _, e := range m.queue {
		if e.Status == model.QueuePending && e.RetryCount < 3 {
			cp := *e
			result = append(result, &cp)
		}
		if len(result) == 10 {
			break
		}
	}
	return result, nil
}

func (m *mockLocal) UpdateSyncItemStatus(_ context.Context, id int64, status model.QueueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.queue {
		if e.ID == id {
			e.Status = status
		}
	}
	return nil
}

func (m *mockLocal) MarkSyncItemFailed(_ context.Context, id int64, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.queue {
		if e.ID == id {
			e.Status = model.QueueFailed
			e.RetryCount = retryCount
		}
	}
	return nil
}

func (m *mockLocal) PendingQueueCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPendingCount != nil {
		return 0, m.failPendingCount
	}
	count := 0
	for _, e := range m.queue {
		if e.Status == model.QueuePending && e.RetryCount < 3 {
			count++
		}
	}
	return count, nil
}

// queueEntry returns a copy of the queue entry with the given id.
func (m *mockLocal) queueEntry(id int64) *model.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.queue {
		if e.ID == id {
			cp := *e
			return &cp
		}
	}
	return nil
}

func (m *mockLocal) transaction(id string) *model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transactions[id]; ok {
		cp := *t
		return &cp
	}
	return nil
}

// --- mockRemote ---------------------------------------------------------------

// remoteCall records one mutation dispatched to the remote store.
type remoteCall struct {
	op       model.Operation
	userID   string
	recordID string
}

type mockRemote struct {
	mu    stdsync.Mutex
	calls []remoteCall

	fetchAll      []*model.Transaction
	fetchSince    []*model.Transaction
	fetchAllCalls int
	sinceArg      time.Time

	fetchAllErr error
	// failRecords maps record ids to the error their mutation returns.
	failRecords map[string]error
}

func newMockRemote() *mockRemote {
	return &mockRemote{failRecords: make(map[string]error)}
}

func (m *mockRemote) FetchAll(_ context.Context, userID string) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchAllCalls++
	if m.fetchAllErr != nil {
		return nil, m.fetchAllErr
	}
	return m.fetchAll, nil
}

func (m *mockRemote) FetchSince(_ context.Context, userID string, since time.Time) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinceArg = since
	return m.fetchSince, nil
}

func (m *mockRemote) Create(_ context.Context, userID, id string, _ *model.Transaction) error {
	return m.record(model.OpCreate, userID, id)
}

func (m *mockRemote) Update(_ context.Context, userID, id string, _ *model.Transaction) error {
	return m.record(model.OpUpdate, userID, id)
}

func (m *mockRemote) Delete(_ context.Context, userID, id string) error {
	return m.record(model.OpDelete, userID, id)
}

func (m *mockRemote) record(op model.Operation, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failRecords[id]; ok {
		return err
	}
	m.calls = append(m.calls, remoteCall{op: op, userID: userID, recordID: id})
	return nil
}

func (m *mockRemote) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockRemote) callsSnapshot() []remoteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]remoteCall(nil), m.calls...)
}

func (m *mockRemote) fetchAllCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchAllCalls
}
