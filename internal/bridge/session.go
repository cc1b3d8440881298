package bridge

import (
	"context"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/core"
)

// Session implements BackendClient with every call checked and attached.
var _ BackendClient = (*Session)(nil)

func (s *Session) CreateTable(ctx context.Context, name string, schema []byte) error {
	return invokeErr(s, "createTable", func(c BackendClient) error {
		return c.CreateTable(ctx, name, schema)
	})
}

func (s *Session) DropTable(ctx context.Context, name string) error {
	return invokeErr(s, "dropTable", func(c BackendClient) error {
		return c.DropTable(ctx, name)
	})
}

func (s *Session) RenameTable(ctx context.Context, from, to string) error {
	return invokeErr(s, "renameTable", func(c BackendClient) error {
		return c.RenameTable(ctx, from, to)
	})
}

func (s *Session) StartScan(ctx context.Context, name string, forUpdate bool) (int64, error) {
	return invoke(s, "startScan", func(c BackendClient) (int64, error) {
		return c.StartScan(ctx, name, forUpdate)
	})
}

func (s *Session) StartIndexScan(ctx context.Context, name, index string) (int64, error) {
	return invoke(s, "startIndexScan", func(c BackendClient) (int64, error) {
		return c.StartIndexScan(ctx, name, index)
	})
}

func (s *Session) EndScan(ctx context.Context, cursorID int64) error {
	return invokeErr(s, "endScan", func(c BackendClient) error {
		return c.EndScan(ctx, cursorID)
	})
}

func (s *Session) NextRow(ctx context.Context, cursorID int64) (*core.Row, error) {
	return invoke(s, "nextRow", func(c BackendClient) (*core.Row, error) {
		return c.NextRow(ctx, cursorID)
	})
}

func (s *Session) GetRow(ctx context.Context, cursorID int64, rowID uuid.UUID) (*core.Row, error) {
	return invoke(s, "getRow", func(c BackendClient) (*core.Row, error) {
		return c.GetRow(ctx, cursorID, rowID)
	})
}

func (s *Session) IndexRead(ctx context.Context, cursorID int64, query *core.IndexQuery) (*core.Row, error) {
	return invoke(s, "indexRead", func(c BackendClient) (*core.Row, error) {
		return c.IndexRead(ctx, cursorID, query)
	})
}

func (s *Session) NextIndexRow(ctx context.Context, cursorID int64) (*core.Row, error) {
	return invoke(s, "nextIndexRow", func(c BackendClient) (*core.Row, error) {
		return c.NextIndexRow(ctx, cursorID)
	})
}

func (s *Session) WriteRow(ctx context.Context, writeID int64, name string, row *core.Row) error {
	return invokeErr(s, "writeRow", func(c BackendClient) error {
		return c.WriteRow(ctx, writeID, name, row)
	})
}

func (s *Session) UpdateRow(ctx context.Context, writeID, cursorID int64, changed []string, name string, row *core.Row) error {
	return invokeErr(s, "updateRow", func(c BackendClient) error {
		return c.UpdateRow(ctx, writeID, cursorID, changed, name, row)
	})
}

func (s *Session) DeleteRow(ctx context.Context, writeID, cursorID int64) error {
	return invokeErr(s, "deleteRow", func(c BackendClient) error {
		return c.DeleteRow(ctx, writeID, cursorID)
	})
}

func (s *Session) DeleteAllRows(ctx context.Context, name string) (int64, error) {
	return invoke(s, "deleteAllRows", func(c BackendClient) (int64, error) {
		return c.DeleteAllRows(ctx, name)
	})
}

func (s *Session) FlushWrites(ctx context.Context, writeID int64) error {
	return invokeErr(s, "flushWrites", func(c BackendClient) error {
		return c.FlushWrites(ctx, writeID)
	})
}

func (s *Session) StartWrite(ctx context.Context) (int64, error) {
	return invoke(s, "startWrite", func(c BackendClient) (int64, error) {
		return c.StartWrite(ctx)
	})
}

func (s *Session) EndWrite(ctx context.Context, writeID int64) error {
	return invokeErr(s, "endWrite", func(c BackendClient) error {
		return c.EndWrite(ctx, writeID)
	})
}

func (s *Session) FindDuplicateKey(ctx context.Context, name string, values map[string][]byte, changed []string) (string, error) {
	return invoke(s, "findDuplicateKey", func(c BackendClient) (string, error) {
		return c.FindDuplicateKey(ctx, name, values, changed)
	})
}

func (s *Session) FindDuplicateValue(ctx context.Context, name, index string) ([]byte, error) {
	return invoke(s, "findDuplicateValue", func(c BackendClient) ([]byte, error) {
		return c.FindDuplicateValue(ctx, name, index)
	})
}

func (s *Session) GetRowCount(ctx context.Context, name string) (int64, error) {
	return invoke(s, "getRowCount", func(c BackendClient) (int64, error) {
		return c.GetRowCount(ctx, name)
	})
}

func (s *Session) IncrementRowCount(ctx context.Context, name string, delta int64) error {
	return invokeErr(s, "incrementRowCount", func(c BackendClient) error {
		return c.IncrementRowCount(ctx, name, delta)
	})
}

func (s *Session) SetRowCount(ctx context.Context, name string, value int64) error {
	return invokeErr(s, "setRowCount", func(c BackendClient) error {
		return c.SetRowCount(ctx, name, value)
	})
}

func (s *Session) GetAutoIncrementValue(ctx context.Context, name, column string) (uint64, error) {
	return invoke(s, "getAutoincrementValue", func(c BackendClient) (uint64, error) {
		return c.GetAutoIncrementValue(ctx, name, column)
	})
}

func (s *Session) GetNextAutoIncrementValue(ctx context.Context, name, column string) (uint64, error) {
	return invoke(s, "getNextAutoincrementValue", func(c BackendClient) (uint64, error) {
		return c.GetNextAutoIncrementValue(ctx, name, column)
	})
}

func (s *Session) AlterAutoIncrementValue(ctx context.Context, name, column string, value uint64, isTruncate bool) (bool, error) {
	return invoke(s, "alterAutoincrementValue", func(c BackendClient) (bool, error) {
		return c.AlterAutoIncrementValue(ctx, name, column, value, isTruncate)
	})
}

func (s *Session) AddIndex(ctx context.Context, name string, index core.IndexSchema) error {
	return invokeErr(s, "addIndex", func(c BackendClient) error {
		return c.AddIndex(ctx, name, index)
	})
}

func (s *Session) DropIndex(ctx context.Context, name, index string) error {
	return invokeErr(s, "dropIndex", func(c BackendClient) error {
		return c.DropIndex(ctx, name, index)
	})
}

func (s *Session) IsNullable(ctx context.Context, name, column string) (bool, error) {
	return invoke(s, "isNullable", func(c BackendClient) (bool, error) {
		return c.IsNullable(ctx, name, column)
	})
}
