package sync

import (
	"context"
	"fmt"

	"github.com/mypocket/pocketsync/internal/model"
)

// PerformInitialSync downloads the user's complete remote collection into the
// local store and stamps the sync watermark. An empty remote collection is a
// valid state — the watermark is stamped anyway so the next pass is
// incremental. A concurrent call while an initial sync is in flight is a
// no-op.
func (e *Engine) PerformInitialSync(ctx context.Context, userID string) error {
	if !e.tryBeginInitialSync() {
		e.log.Debug("initial sync already in progress", "user", userID)
		return nil
	}
	defer e.endInitialSync()

	ctx, span := e.tracer.Start(ctx, spanInitialSync)
	defer span.End()

	e.log.Info("starting initial sync", "user", userID)

	records, err := e.remote.FetchAll(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("initial sync for user %s: %w", userID, err)
	}

	if len(records) > 0 {
		if err := e.store.BatchInsertTransactions(ctx, records); err != nil {
			span.RecordError(err)
			return fmt.Errorf("hydrating %d transactions: %w", len(records), err)
		}
		e.cntDownloaded.Add(ctx, int64(len(records)))
	} else {
		e.log.Info("no remote data for user, starting fresh", "user", userID)
	}

	if err := e.store.UpdateLastSyncTime(ctx, userID, e.now()); err != nil {
		span.RecordError(err)
		return err
	}

	spanAttrs(span, userID, len(records))
	e.log.Info("initial sync complete", "user", userID, "downloaded", len(records))
	return nil
}

// PerformIncrementalSync downloads remote changes newer than the stored
// watermark, re-stamps the watermark, and then drains the outbound queue so a
// single pass both pulls and pushes. A missing watermark degrades to a full
// initial sync rather than silently losing data.
func (e *Engine) PerformIncrementalSync(ctx context.Context, userID string) error {
	since, err := e.store.GetLastSyncTime(ctx, userID)
	if err != nil {
		return err
	}
	if since.IsZero() {
		e.log.Info("no sync watermark, falling back to initial sync", "user", userID)
		if err := e.PerformInitialSync(ctx, userID); err != nil {
			return err
		}
		// Mutations queued while offline still need to go out.
		return e.SyncPendingChanges(ctx)
	}

	ctx, span := e.tracer.Start(ctx, spanIncremental)
	defer span.End()

	records, err := e.remote.FetchSince(ctx, userID, since)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("incremental sync for user %s: %w", userID, err)
	}

	if len(records) > 0 {
		if err := e.store.BatchInsertTransactions(ctx, records); err != nil {
			span.RecordError(err)
			return fmt.Errorf("hydrating %d updated transactions: %w", len(records), err)
		}
		e.cntDownloaded.Add(ctx, int64(len(records)))
	}

	if err := e.store.UpdateLastSyncTime(ctx, userID, e.now()); err != nil {
		span.RecordError(err)
		return err
	}

	spanAttrs(span, userID, len(records))
	e.log.Info("incremental sync complete", "user", userID, "since", since, "downloaded", len(records))

	return e.SyncPendingChanges(ctx)
}

// SyncPendingChanges drains the outbound mutation queue: up to one batch of
// pending entries is replayed against the remote store in FIFO order. A call
// while offline or while another drain is in flight is a silent no-op. One
// entry's failure never aborts the batch — it is marked failed with an
// incremented retry count and processing moves on.
func (e *Engine) SyncPendingChanges(ctx context.Context) error {
	if !e.tryBeginDrain() {
		e.log.Debug("drain skipped", "online", e.isOnline())
		return nil
	}
	defer e.endDrain()

	ctx, span := e.tracer.Start(ctx, spanDrain)
	defer span.End()

	items, err := e.store.GetPendingSyncItems(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("fetching pending queue entries: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	e.log.Info("draining sync queue", "items", len(items))

	var replayed, failed int
	for _, item := range items {
		if err := e.store.UpdateSyncItemStatus(ctx, item.ID, model.QueueProcessing); err != nil {
			e.log.Error("marking queue entry processing", "id", item.ID, "error", err)
		}

		if err := e.replayItem(ctx, item); err != nil {
			e.log.Error("queue entry replay failed",
				"id", item.ID,
				"operation", item.Operation,
				"record", item.RecordID,
				"retry_count", item.RetryCount+1,
				"error", err,
			)
			if markErr := e.store.MarkSyncItemFailed(ctx, item.ID, item.RetryCount+1); markErr != nil {
				e.log.Error("marking queue entry failed", "id", item.ID, "error", markErr)
			}
			failed++
			continue
		}

		if err := e.store.UpdateSyncItemStatus(ctx, item.ID, model.QueueCompleted); err != nil {
			e.log.Error("marking queue entry completed", "id", item.ID, "error", err)
		}
		replayed++
	}

	if replayed > 0 {
		e.cntUploaded.Add(ctx, int64(replayed))
	}
	if failed > 0 {
		e.cntFailed.Add(ctx, int64(failed))
	}
	spanAttrs(span, e.boundUser(), replayed)

	e.log.Info("drain complete", "replayed", replayed, "failed", failed)
	return nil
}

// replayItem dispatches one queue entry to the remote store and, for
// transaction rows, marks the local row synced on success.
func (e *Engine) replayItem(ctx context.Context, item *model.QueueEntry) error {
	switch item.Operation {
	case model.OpCreate:
		p, err := model.DecodeCreatePayload(item.Payload)
		if err != nil {
			return err
		}
		if err := e.remote.Create(ctx, p.Record.UserID, item.RecordID, &p.Record); err != nil {
			return err
		}

	case model.OpUpdate:
		p, err := model.DecodeUpdatePayload(item.Payload)
		if err != nil {
			return err
		}
		if err := e.remote.Update(ctx, p.Record.UserID, item.RecordID, &p.Record); err != nil {
			return err
		}

	case model.OpDelete:
		p, err := model.DecodeDeletePayload(item.Payload)
		if err != nil {
			return err
		}
		if err := e.remote.Delete(ctx, p.UserID, item.RecordID); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown sync operation %q", item.Operation)
	}

	if item.TableName == model.TableTransactions {
		return e.store.UpdateTransactionSyncStatus(ctx, item.RecordID, model.SyncSynced)
	}
	return nil
}

func (e *Engine) boundUser() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentUserID
}
