// Package bridge is the boundary between the engine and its storage backend.
package bridge

import (
	"context"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/core"
)

// BackendClient is the full call surface of a storage backend. Table names
// are fully qualified ("db.table"). Calls that return *core.Row return nil
// with a nil error at end of data or when nothing matches.
type BackendClient interface {
	// Table lifecycle.
	CreateTable(ctx context.Context, name string, schema []byte) error
	DropTable(ctx context.Context, name string) error
	RenameTable(ctx context.Context, from, to string) error

	// Scans. Cursor ids are owned by the caller until EndScan.
	StartScan(ctx context.Context, name string, forUpdate bool) (int64, error)
	StartIndexScan(ctx context.Context, name, index string) (int64, error)
	EndScan(ctx context.Context, cursorID int64) error
	NextRow(ctx context.Context, cursorID int64) (*core.Row, error)
	GetRow(ctx context.Context, cursorID int64, rowID uuid.UUID) (*core.Row, error)
	IndexRead(ctx context.Context, cursorID int64, query *core.IndexQuery) (*core.Row, error)
	NextIndexRow(ctx context.Context, cursorID int64) (*core.Row, error)

	// Writes. A negative write id applies the change immediately.
	WriteRow(ctx context.Context, writeID int64, name string, row *core.Row) error
	UpdateRow(ctx context.Context, writeID, cursorID int64, changed []string, name string, row *core.Row) error
	DeleteRow(ctx context.Context, writeID, cursorID int64) error
	DeleteAllRows(ctx context.Context, name string) (int64, error)
	FlushWrites(ctx context.Context, writeID int64) error
	StartWrite(ctx context.Context) (int64, error)
	EndWrite(ctx context.Context, writeID int64) error

	// Unique constraints. FindDuplicateKey returns the name of the first
	// violated unique index, or "" when the values are free.
	FindDuplicateKey(ctx context.Context, name string, values map[string][]byte, changed []string) (string, error)
	FindDuplicateValue(ctx context.Context, name, index string) ([]byte, error)

	// Row counts.
	GetRowCount(ctx context.Context, name string) (int64, error)
	IncrementRowCount(ctx context.Context, name string, delta int64) error
	SetRowCount(ctx context.Context, name string, value int64) error

	// Auto-increment counters.
	GetAutoIncrementValue(ctx context.Context, name, column string) (uint64, error)
	GetNextAutoIncrementValue(ctx context.Context, name, column string) (uint64, error)
	AlterAutoIncrementValue(ctx context.Context, name, column string, value uint64, isTruncate bool) (bool, error)

	// Index DDL.
	AddIndex(ctx context.Context, name string, index core.IndexSchema) error
	DropIndex(ctx context.Context, name, index string) error
	IsNullable(ctx context.Context, name, column string) (bool, error)
}

// Attacher binds the calling goroutine's session to the backend's
// execution context.
type Attacher interface {
	Attach() error
	Detach() error
}

type nopAttacher struct{}

func (nopAttacher) Attach() error { return nil }
func (nopAttacher) Detach() error { return nil }
