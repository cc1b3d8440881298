package core

import (
	"context"
	"time"
)

// OperationType represents the type of a committed row change.
type OperationType string

const (
	// OperationCreate represents an inserted row.
	OperationCreate OperationType = "CREATE"

	// OperationUpdate represents an updated row.
	OperationUpdate OperationType = "UPDATE"

	// OperationDelete represents a deleted row.
	OperationDelete OperationType = "DELETE"
)

// WriteOperation is one committed row change published on the change feed.
// Values are canonical column encodings; a column missing from Data is NULL.
type WriteOperation struct {
	// Table is the fully qualified table name ("db.table").
	Table string `json:"table"`

	// Operation is the type of change.
	Operation OperationType `json:"operation"`

	// RowID is the string form of the row's 16-byte identifier.
	RowID string `json:"row_id"`

	// Data holds the row image after the change, or the deleted row for DELETE.
	Data map[string][]byte `json:"data,omitempty"`

	// Changed lists the columns modified by an UPDATE.
	Changed []string `json:"changed,omitempty"`

	// Previous holds the row image before an UPDATE.
	Previous map[string][]byte `json:"previous,omitempty"`

	// Timestamp is when the change was committed.
	Timestamp time.Time `json:"timestamp"`

	// RetryCount tracks how many times applying this change has been retried.
	RetryCount int `json:"retry_count"`
}

// WriteBackQueue carries committed row changes from the backend to consumers
// such as the MySQL mirror.
type WriteBackQueue interface {
	// Enqueue adds a change to the queue.
	Enqueue(ctx context.Context, operation *WriteOperation) error

	// Dequeue retrieves up to batchSize changes.
	// Returns an empty slice if no changes are available.
	Dequeue(ctx context.Context, batchSize int) ([]*WriteOperation, error)

	// Size returns the current number of queued changes.
	Size() int

	// Close closes the queue and releases resources.
	Close() error
}
