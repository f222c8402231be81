package remote

import (
	"strconv"
	"time"

	"github.com/mypocket/pocketsync/internal/model"
)

// transactionToDoc maps a record snapshot to the remote document shape.
// Amount is coerced to float64 on every write, and timestamps are added by
// the caller (server-assigned).
func transactionToDoc(t *model.Transaction) map[string]any {
	return map[string]any{
		fieldType:         string(t.Kind),
		fieldAmount:       t.Amount,
		fieldCategory:     t.Category,
		fieldCategoryName: t.CategoryName,
		fieldCategoryIcon: t.CategoryIcon,
		fieldDescription:  t.Description,
		fieldDate:         t.Date.UTC(),
	}
}

// docToTransaction maps a remote document into the local transaction shape.
// Hydrated records are marked synced; date-like fields missing from the
// document default to now rather than the zero time.
func docToTransaction(id, userID string, data map[string]any) *model.Transaction {
	now := time.Now().UTC()
	return &model.Transaction{
		ID:           id,
		UserID:       userID,
		Kind:         model.Kind(stringField(data, fieldType)),
		Amount:       numberField(data, fieldAmount),
		Category:     stringField(data, fieldCategory),
		CategoryName: stringField(data, fieldCategoryName),
		CategoryIcon: stringField(data, fieldCategoryIcon),
		Description:  stringField(data, fieldDescription),
		Date:         timeField(data, fieldDate, now),
		CreatedAt:    timeField(data, fieldCreatedAt, now),
		UpdatedAt:    timeField(data, fieldUpdatedAt, now),
		SyncStatus:   model.SyncSynced,
	}
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// numberField tolerates the numeric shapes Firestore can hand back, plus
// string-typed amounts written by older clients.
func numberField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

func timeField(data map[string]any, key string, fallback time.Time) time.Time {
	if t, ok := data[key].(time.Time); ok {
		return t.UTC()
	}
	return fallback
}
