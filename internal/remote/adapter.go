// Package remote wraps the Cloud Firestore per-user transaction collection
// for the sync engine. It provides an [Adapter] with methods aligned to the
// engine's needs, a 3-attempt exponential-backoff [Retry] helper for read
// paths, and conversion between Firestore documents and [model.Transaction].
//
// Mutations are deliberately single-shot: replay retry belongs to the sync
// queue, which tracks a per-entry retry count.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/mypocket/pocketsync/internal/model"
)

const (
	collUsers        = "users"
	collTransactions = "transactions"

	fieldType         = "type"
	fieldAmount       = "amount"
	fieldCategory     = "category"
	fieldCategoryName = "categoryName"
	fieldCategoryIcon = "categoryIcon"
	fieldDescription  = "description"
	fieldDate         = "date"
	fieldCreatedAt    = "createdAt"
	fieldUpdatedAt    = "updatedAt"
)

// Adapter provides sync-engine–oriented operations on the per-user Firestore
// transaction collections. Create one with [NewAdapter] or, for tests,
// [NewAdapterWithClient].
type Adapter struct {
	fs     *firestore.Client
	logger *slog.Logger
}

// NewAdapter initialises a Firebase app from the given credentials file and
// returns an Adapter over its Firestore client.
func NewAdapter(ctx context.Context, projectID, credentialsFile string, logger *slog.Logger) (*Adapter, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firestore client: %w", err)
	}

	return &Adapter{fs: fs, logger: logger}, nil
}

// NewAdapterWithClient creates an Adapter with a caller-supplied Firestore
// client. Intended for tests against the Firestore emulator.
func NewAdapterWithClient(fs *firestore.Client, logger *slog.Logger) *Adapter {
	return &Adapter{fs: fs, logger: logger}
}

// Close releases the underlying Firestore client.
func (a *Adapter) Close() error {
	return a.fs.Close()
}

// userTransactions returns the per-user transaction collection reference.
func (a *Adapter) userTransactions(userID string) *firestore.CollectionRef {
	return a.fs.Collection(collUsers).Doc(userID).Collection(collTransactions)
}

// Ping validates connectivity and credentials with a minimal read, retried.
func (a *Adapter) Ping(ctx context.Context) error {
	err := Retry(ctx, defaultMaxAttempts, func() error {
		it := a.fs.Collection(collUsers).Limit(1).Documents(ctx)
		defer it.Stop()
		if _, err := it.Next(); err != nil && err != iterator.Done {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ping firestore: %w", err)
	}
	return nil
}

// FetchAll downloads the user's complete transaction collection ordered by
// creation time descending. Used by initial sync.
func (a *Adapter) FetchAll(ctx context.Context, userID string) ([]*model.Transaction, error) {
	query := a.userTransactions(userID).OrderBy(fieldCreatedAt, firestore.Desc)

	var docs []*firestore.DocumentSnapshot
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var fetchErr error
		docs, fetchErr = query.Documents(ctx).GetAll()
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching all transactions for user %s: %w", userID, err)
	}

	return docsToTransactions(docs, userID), nil
}

// FetchSince downloads the user's transactions whose update timestamp is
// strictly after since, newest first. Used by incremental sync.
func (a *Adapter) FetchSince(ctx context.Context, userID string, since time.Time) ([]*model.Transaction, error) {
	query := a.userTransactions(userID).
		Where(fieldUpdatedAt, ">", since).
		OrderBy(fieldUpdatedAt, firestore.Desc)

	var docs []*firestore.DocumentSnapshot
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var fetchErr error
		docs, fetchErr = query.Documents(ctx).GetAll()
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching transactions for user %s since %s: %w", userID, since, err)
	}

	return docsToTransactions(docs, userID), nil
}

// Create writes the record as a new document keyed by the locally generated
// id, so the local id becomes the permanent remote id and no reconciliation
// step is ever needed. Both timestamps are server-assigned.
func (a *Adapter) Create(ctx context.Context, userID, id string, record *model.Transaction) error {
	doc := transactionToDoc(record)
	doc[fieldCreatedAt] = firestore.ServerTimestamp
	doc[fieldUpdatedAt] = firestore.ServerTimestamp

	if _, err := a.userTransactions(userID).Doc(id).Set(ctx, doc); err != nil {
		return fmt.Errorf("creating remote transaction %s: %w", id, err)
	}
	a.logger.Debug("remote create", "user", userID, "id", id)
	return nil
}

// Update overwrites the document's mutable fields; the update timestamp is
// server-assigned.
func (a *Adapter) Update(ctx context.Context, userID, id string, record *model.Transaction) error {
	doc := transactionToDoc(record)
	doc[fieldUpdatedAt] = firestore.ServerTimestamp

	updates := make([]firestore.Update, 0, len(doc))
	for path, value := range doc {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}

	if _, err := a.userTransactions(userID).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("updating remote transaction %s: %w", id, err)
	}
	a.logger.Debug("remote update", "user", userID, "id", id)
	return nil
}

// Delete removes the document outright. The remote side hard-deletes; only
// the local row keeps a soft-delete tombstone.
func (a *Adapter) Delete(ctx context.Context, userID, id string) error {
	if _, err := a.userTransactions(userID).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("deleting remote transaction %s: %w", id, err)
	}
	a.logger.Debug("remote delete", "user", userID, "id", id)
	return nil
}

func docsToTransactions(docs []*firestore.DocumentSnapshot, userID string) []*model.Transaction {
	result := make([]*model.Transaction, 0, len(docs))
	for _, doc := range docs {
		result = append(result, docToTransaction(doc.Ref.ID, userID, doc.Data()))
	}
	return result
}
