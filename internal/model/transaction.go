// Package model defines shared types used across the local store, the remote
// adapter, and the sync engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes income from expense transactions.
type Kind string

const (
	// KindIncome marks money coming in.
	KindIncome Kind = "income"
	// KindExpense marks money going out.
	KindExpense Kind = "expense"
)

// Valid reports whether k is one of the two known kinds.
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// SyncStatus describes where a local transaction row stands relative to the
// remote store.
type SyncStatus string

const (
	// SyncPending means the row has local changes not yet replayed remotely.
	SyncPending SyncStatus = "pending"
	// SyncSynced means the row matches the remote document.
	SyncSynced SyncStatus = "synced"
	// SyncFailed means the last replay attempt for the row failed.
	SyncFailed SyncStatus = "failed"
)

// maxDescriptionLen caps the free-text description field.
const maxDescriptionLen = 200

// Transaction is the central entity: one income or expense record owned by
// exactly one user.
//
// CategoryName and CategoryIcon are denormalised at write time and never
// re-resolved from the category tables — renaming a category later must not
// rewrite history.
type Transaction struct {
	// ID is a globally unique string. Generated locally for new records;
	// hydrated records keep the remote document id.
	ID string

	// UserID is the owning user. Every store predicate includes it.
	UserID string

	Kind   Kind
	Amount float64

	// Category is the category table id; CategoryName and CategoryIcon are
	// the display values frozen at write time.
	Category     string
	CategoryName string
	CategoryIcon string

	Description string

	// Date is the user-chosen occurrence date; it may differ from CreatedAt.
	Date      time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	SyncStatus SyncStatus

	// Deleted is the soft-delete flag. Deleted rows are excluded from every
	// read query and summary but stay on disk until purged.
	Deleted bool
}

// NewID returns a fresh globally unique transaction id.
func NewID() string {
	return uuid.NewString()
}

// ValidationResult collects the problems found in a transaction's user-supplied
// fields. An empty Errors slice means the input is acceptable.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateTransaction checks the user-supplied fields of t: amount, category,
// kind, date, and description length. Ownership (UserID) is checked separately
// by the callers that know which user is bound.
func ValidateTransaction(t *Transaction) ValidationResult {
	var errs []string

	if t.Amount <= 0 {
		errs = append(errs, "valid amount is required")
	}
	if t.Category == "" {
		errs = append(errs, "category is required")
	}
	if !t.Kind.Valid() {
		errs = append(errs, "valid transaction type is required")
	}
	if t.Date.IsZero() {
		errs = append(errs, "valid date is required")
	}
	if len(t.Description) > maxDescriptionLen {
		errs = append(errs, "description is too long")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
