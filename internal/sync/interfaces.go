// Package sync implements the offline-first reconciliation engine between the
// local SQLite store and the per-user remote document collection. Local
// mutations are queued and replayed against the remote store whenever the
// device is online; logins trigger a full or incremental download into the
// local store.
//
// The package contains two main components:
//
//   - [Engine] owns the session state, the download passes, and the
//     outbound queue drain.
//   - the service methods on Engine ([Engine.AddTransaction] and friends)
//     are the only surface the UI layer talks to.
package sync

import (
	"context"
	"time"

	"github.com/mypocket/pocketsync/internal/model"
	"github.com/mypocket/pocketsync/internal/store"
)

// LocalStore provides access to the local persistence layer.
// Implemented by [store.Store].
type LocalStore interface {
	AddTransaction(ctx context.Context, t *model.Transaction) (string, error)
	GetTransactions(ctx context.Context, userID string, limit int) ([]*model.Transaction, error)
	GetTransactionByID(ctx context.Context, id, userID string) (*model.Transaction, error)
	UpdateTransaction(ctx context.Context, id, userID string, patch *model.Transaction) error
	DeleteTransaction(ctx context.Context, id, userID string) error
	HasUserData(ctx context.Context, userID string) (bool, error)
	BatchInsertTransactions(ctx context.Context, records []*model.Transaction) error
	UpdateTransactionSyncStatus(ctx context.Context, id string, status model.SyncStatus) error

	GetLastSyncTime(ctx context.Context, userID string) (time.Time, error)
	UpdateLastSyncTime(ctx context.Context, userID string, at time.Time) error

	GetPendingSyncItems(ctx context.Context) ([]*model.QueueEntry, error)
	UpdateSyncItemStatus(ctx context.Context, id int64, status model.QueueStatus) error
	MarkSyncItemFailed(ctx context.Context, id int64, retryCount int) error
	PendingQueueCount(ctx context.Context) (int, error)
}

// RemoteStore provides access to the per-user remote transaction collection.
// Implemented by [remote.Adapter].
type RemoteStore interface {
	FetchAll(ctx context.Context, userID string) ([]*model.Transaction, error)
	FetchSince(ctx context.Context, userID string, since time.Time) ([]*model.Transaction, error)
	Create(ctx context.Context, userID, id string, record *model.Transaction) error
	Update(ctx context.Context, userID, id string, record *model.Transaction) error
	Delete(ctx context.Context, userID, id string) error
}

// ErrNotFound mirrors [store.ErrNotFound] so engine callers only need this
// package to classify errors.
var ErrNotFound = store.ErrNotFound

// ValidationError reports the problems found in user-supplied transaction
// data. It is returned before any I/O happens.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	msg := "invalid transaction data"
	for _, p := range e.Problems {
		msg += ": " + p
	}
	return msg
}
