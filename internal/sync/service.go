package sync

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/mypocket/pocketsync/internal/model"
)

// Service methods: the surface consumed by the UI and session layers. Every
// read comes from the local store; every mutation lands locally first and is
// pushed to the remote store by a background drain. Local success is never
// tied to remote connectivity.

// AddTransaction validates and stores a new transaction for the user,
// freezing the category display data at write time, and kicks a background
// drain when online. Returns the assigned transaction id.
func (e *Engine) AddTransaction(ctx context.Context, userID string, t *model.Transaction) (string, error) {
	if userID == "" {
		return "", &ValidationError{Problems: []string{"user id is required"}}
	}
	if res := model.ValidateTransaction(t); !res.Valid {
		return "", &ValidationError{Problems: res.Errors}
	}

	t.UserID = userID
	e.freezeCategory(t)

	id, err := e.store.AddTransaction(ctx, t)
	if err != nil {
		return "", err
	}
	e.log.Info("transaction added", "user", userID, "id", id, "kind", t.Kind, "amount", t.Amount)

	if e.isOnline() {
		e.scheduleDrain(ctx, e.drainKickDelay)
	}
	return id, nil
}

// GetTransactions returns the user's most recent transactions (limit <= 0
// means the default page size). When online and idle it also kicks a
// background incremental sync so reads keep the cache fresh.
func (e *Engine) GetTransactions(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	if userID == "" {
		return nil, &ValidationError{Problems: []string{"user id is required"}}
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	result, err := e.store.GetTransactions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	if e.isOnline() && !e.syncBusy() {
		e.scheduleIncremental(ctx, userID, e.drainKickDelay)
	}
	return result, nil
}

// GetTransactionByID returns the single transaction scoped to the user, or
// [ErrNotFound] — also when the id exists but belongs to someone else.
func (e *Engine) GetTransactionByID(ctx context.Context, id, userID string) (*model.Transaction, error) {
	if id == "" || userID == "" {
		return nil, &ValidationError{Problems: []string{"transaction id and user id are required"}}
	}

	t, err := e.store.GetTransactionByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	return t, nil
}

// UpdateTransaction validates and applies an edit to the user's transaction,
// re-freezing category display data, and kicks a background drain when
// online.
func (e *Engine) UpdateTransaction(ctx context.Context, id, userID string, patch *model.Transaction) error {
	if id == "" || userID == "" {
		return &ValidationError{Problems: []string{"transaction id and user id are required"}}
	}
	if res := model.ValidateTransaction(patch); !res.Valid {
		return &ValidationError{Problems: res.Errors}
	}

	patch.UserID = userID
	e.freezeCategory(patch)

	if err := e.store.UpdateTransaction(ctx, id, userID, patch); err != nil {
		return err
	}
	e.log.Info("transaction updated", "user", userID, "id", id)

	if e.isOnline() {
		e.scheduleDrain(ctx, e.drainKickDelay)
	}
	return nil
}

// DeleteTransaction soft-deletes the user's transaction locally and queues
// the remote hard delete.
func (e *Engine) DeleteTransaction(ctx context.Context, id, userID string) error {
	if id == "" || userID == "" {
		return &ValidationError{Problems: []string{"transaction id and user id are required"}}
	}

	if err := e.store.DeleteTransaction(ctx, id, userID); err != nil {
		return err
	}
	e.log.Info("transaction marked for deletion", "user", userID, "id", id)

	if e.isOnline() {
		e.scheduleDrain(ctx, e.drainKickDelay)
	}
	return nil
}

// GetFinancialSummary recomputes the user's summary from the full local
// transaction set. There is no caching layer.
func (e *Engine) GetFinancialSummary(ctx context.Context, userID string) (model.Summary, error) {
	if userID == "" {
		return model.Summary{}, &ValidationError{Problems: []string{"user id is required"}}
	}

	all, err := e.store.GetTransactions(ctx, userID, 0)
	if err != nil {
		return model.Summary{}, err
	}
	return model.Summarize(all, e.now()), nil
}

// GetTransactionsByDateRange returns the user's transactions whose occurrence
// date falls within [start, end].
func (e *Engine) GetTransactionsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]*model.Transaction, error) {
	if userID == "" {
		return nil, &ValidationError{Problems: []string{"user id is required"}}
	}

	all, err := e.store.GetTransactions(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	var result []*model.Transaction
	for _, t := range all {
		if !t.Date.Before(start) && !t.Date.After(end) {
			result = append(result, t)
		}
	}
	return result, nil
}

// GetTransactionsByCategory returns the user's transactions in the given
// category, optionally narrowed to one kind (pass "" for both).
func (e *Engine) GetTransactionsByCategory(ctx context.Context, userID, category string, kind model.Kind) ([]*model.Transaction, error) {
	if userID == "" {
		return nil, &ValidationError{Problems: []string{"user id is required"}}
	}

	all, err := e.store.GetTransactions(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	var result []*model.Transaction
	for _, t := range all {
		if t.Category != category {
			continue
		}
		if kind != "" && t.Kind != kind {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

// SearchTransactions matches the query against the category display name,
// the description, and the amount digits. An empty query returns nothing.
func (e *Engine) SearchTransactions(ctx context.Context, userID, query string) ([]*model.Transaction, error) {
	if userID == "" || query == "" {
		return nil, nil
	}

	all, err := e.store.GetTransactions(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var result []*model.Transaction
	for _, t := range all {
		cat, _ := e.lookup(t.Category, t.Kind)
		switch {
		case strings.Contains(strings.ToLower(cat.Name), needle),
			strings.Contains(strings.ToLower(t.Description), needle),
			strings.Contains(strconv.FormatFloat(t.Amount, 'f', -1, 64), query):
			result = append(result, t)
		}
	}
	return result, nil
}

// ValidateTransactionData checks user-supplied fields without touching the
// store; the UI calls this for inline form feedback.
func (e *Engine) ValidateTransactionData(t *model.Transaction) model.ValidationResult {
	return model.ValidateTransaction(t)
}

// freezeCategory fills the denormalised display fields from the injected
// resolver when the caller left them empty.
func (e *Engine) freezeCategory(t *model.Transaction) {
	if t.CategoryName != "" || e.lookup == nil {
		return
	}
	cat, ok := e.lookup(t.Category, t.Kind)
	if !ok {
		e.log.Debug("unknown category", "category", t.Category, "kind", t.Kind)
	}
	t.CategoryName = cat.Name
	t.CategoryIcon = cat.Icon
}
