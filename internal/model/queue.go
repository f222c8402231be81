package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of mutation a queue entry replays against the remote
// store.
type Operation string

const (
	// OpCreate writes the full record as a new remote document.
	OpCreate Operation = "create"
	// OpUpdate overwrites the remote document's mutable fields.
	OpUpdate Operation = "update"
	// OpDelete removes the remote document outright.
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// QueueStatus is the lifecycle state of a queue entry.
type QueueStatus string

const (
	// QueuePending entries are waiting for the next drain cycle.
	QueuePending QueueStatus = "pending"
	// QueueProcessing entries are mid-replay in the current drain cycle.
	QueueProcessing QueueStatus = "processing"
	// QueueCompleted entries replayed successfully.
	QueueCompleted QueueStatus = "completed"
	// QueueFailed entries hit a remote error; retried until the retry ceiling.
	QueueFailed QueueStatus = "failed"
)

// TableTransactions is the only entity table replayed today. The queue schema
// carries the table name so further record families can join later without a
// migration.
const TableTransactions = "transactions"

// QueueEntry is one outstanding mutation intent recorded by the local store.
type QueueEntry struct {
	ID         int64
	Operation  Operation
	TableName  string
	RecordID   string
	Payload    []byte // JSON-encoded CreatePayload / UpdatePayload / DeletePayload
	EnqueuedAt time.Time
	RetryCount int
	Status     QueueStatus
}

// CreatePayload is the queue payload for OpCreate: a full snapshot of the
// record at enqueue time.
type CreatePayload struct {
	Record Transaction `json:"record"`
}

// UpdatePayload is the queue payload for OpUpdate: the full post-edit record
// (the remote write overwrites all mutable fields, so a snapshot doubles as
// the patch).
type UpdatePayload struct {
	Record Transaction `json:"record"`
}

// DeletePayload is the queue payload for OpDelete. Only the owning user id is
// needed: the local row is soft-deleted and carries no other remote
// addressing information once purged.
type DeletePayload struct {
	UserID string `json:"userId"`
}

// EncodeCreatePayload validates and serialises a create snapshot. Malformed
// records are rejected here, at enqueue time, rather than surfacing later
// during replay.
func EncodeCreatePayload(record *Transaction) ([]byte, error) {
	if err := validateSnapshot(record); err != nil {
		return nil, fmt.Errorf("create payload: %w", err)
	}
	return json.Marshal(CreatePayload{Record: *record})
}

// EncodeUpdatePayload validates and serialises an update snapshot.
func EncodeUpdatePayload(record *Transaction) ([]byte, error) {
	if err := validateSnapshot(record); err != nil {
		return nil, fmt.Errorf("update payload: %w", err)
	}
	return json.Marshal(UpdatePayload{Record: *record})
}

// EncodeDeletePayload serialises the delete context for a record.
func EncodeDeletePayload(userID string) ([]byte, error) {
	if userID == "" {
		return nil, fmt.Errorf("delete payload: user id is required")
	}
	return json.Marshal(DeletePayload{UserID: userID})
}

// DecodeCreatePayload parses and re-validates a stored create payload.
func DecodeCreatePayload(data []byte) (*CreatePayload, error) {
	var p CreatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding create payload: %w", err)
	}
	if err := validateSnapshot(&p.Record); err != nil {
		return nil, fmt.Errorf("create payload: %w", err)
	}
	return &p, nil
}

// DecodeUpdatePayload parses and re-validates a stored update payload.
func DecodeUpdatePayload(data []byte) (*UpdatePayload, error) {
	var p UpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding update payload: %w", err)
	}
	if err := validateSnapshot(&p.Record); err != nil {
		return nil, fmt.Errorf("update payload: %w", err)
	}
	return &p, nil
}

// DecodeDeletePayload parses a stored delete payload.
func DecodeDeletePayload(data []byte) (*DeletePayload, error) {
	var p DeletePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding delete payload: %w", err)
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("delete payload: user id is required")
	}
	return &p, nil
}

// validateSnapshot checks the invariants every replayable snapshot must hold.
func validateSnapshot(record *Transaction) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.UserID == "" {
		return fmt.Errorf("record %q has no user id", record.ID)
	}
	if !record.Kind.Valid() {
		return fmt.Errorf("record %q has invalid kind %q", record.ID, record.Kind)
	}
	if record.Amount <= 0 {
		return fmt.Errorf("record %q has non-positive amount %v", record.ID, record.Amount)
	}
	return nil
}
