package backend

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/core"
)

// writeTx buffers the changes of one write token until FlushWrites.
type writeTx struct {
	id    int64
	batch *pebble.Batch
	ops   []*core.WriteOperation
	// deleted counts buffered deletes per table; applied to row counts on flush.
	deleted map[string]int64
}

func (s *Store) newTx(id int64) *writeTx {
	return &writeTx{id: id, batch: s.db.NewIndexedBatch(), deleted: make(map[string]int64)}
}

// StartWrite opens a write token.
func (s *Store) StartWrite(ctx context.Context) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	s.nextWrite++
	s.writes[s.nextWrite] = s.newTx(s.nextWrite)
	return s.nextWrite, nil
}

// EndWrite commits pending changes and releases the token.
func (s *Store) EndWrite(ctx context.Context, writeID int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	tx, ok := s.writes[writeID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownWrite, writeID)
	}
	delete(s.writes, writeID)
	err := s.commit(ctx, tx)
	if cerr := tx.batch.Close(); err == nil {
		err = cerr
	}
	return err
}

// FlushWrites commits the pending changes of a token. The token stays open.
func (s *Store) FlushWrites(ctx context.Context, writeID int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if writeID < 0 {
		return nil
	}
	tx, ok := s.writes[writeID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownWrite, writeID)
	}
	if err := s.commit(ctx, tx); err != nil {
		return err
	}
	if err := tx.batch.Close(); err != nil {
		return fmt.Errorf("failed to release batch of write token %d: %w", writeID, err)
	}
	tx.batch = s.db.NewIndexedBatch()
	return nil
}

// commit applies a token's batch, then its row count deltas, then
// publishes its changes to the feed.
func (s *Store) commit(ctx context.Context, tx *writeTx) error {
	if tx.batch.Empty() {
		return nil
	}
	if err := tx.batch.Commit(s.writeOpts); err != nil {
		return fmt.Errorf("failed to commit write token %d: %w", tx.id, err)
	}
	for table, n := range tx.deleted {
		if err := s.adjustRowCount(ctx, table, -n); err != nil {
			return err
		}
	}
	ops := tx.ops
	tx.ops = nil
	tx.deleted = make(map[string]int64)
	s.publish(ctx, ops)
	return nil
}

// publish hands committed changes to the change feed. Feed errors are
// logged; the rows are already durable.
func (s *Store) publish(ctx context.Context, ops []*core.WriteOperation) {
	if s.feed == nil {
		return
	}
	for _, op := range ops {
		if err := s.feed.Enqueue(ctx, op); err != nil {
			log.Printf("[BACKEND] ERROR: Failed to publish %s of %s row %s: %v", op.Operation, op.Table, op.RowID, err)
		}
	}
}

// withTx runs fn against the token's batch. A negative writeID runs fn in
// a batch of its own that is committed before returning.
func (s *Store) withTx(ctx context.Context, writeID int64, fn func(tx *writeTx) error) error {
	if writeID >= 0 {
		tx, ok := s.writes[writeID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownWrite, writeID)
		}
		return fn(tx)
	}

	tx := s.newTx(writeID)
	defer tx.batch.Close()
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(ctx, tx)
}

func newOperation(table string, kind core.OperationType, row *core.Row, changed []string) *core.WriteOperation {
	return &core.WriteOperation{
		Table:     table,
		Operation: kind,
		RowID:     row.ID.String(),
		Data:      row.Clone().Values,
		Changed:   changed,
		Timestamp: time.Now(),
	}
}

func (s *Store) putRow(tx *writeTx, t *tableMeta, row *core.Row) error {
	data, err := row.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode row for %s: %w", t.Name, err)
	}
	if err := tx.batch.Set(rowKey(t.ID, row.ID), data, nil); err != nil {
		return err
	}
	for _, idx := range t.Indexes {
		key, err := indexEntryKey(t.ID, idx, t.Schema, row)
		if err != nil {
			return err
		}
		if err := tx.batch.Set(key, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) removeRow(tx *writeTx, t *tableMeta, row *core.Row, withRow bool) error {
	if withRow {
		if err := tx.batch.Delete(rowKey(t.ID, row.ID), nil); err != nil {
			return err
		}
	}
	for _, idx := range t.Indexes {
		key, err := indexEntryKey(t.ID, idx, t.Schema, row)
		if err != nil {
			return err
		}
		if err := tx.batch.Delete(key, nil); err != nil {
			return err
		}
	}
	return nil
}

// WriteRow inserts a row. The row must carry its id.
func (s *Store) WriteRow(ctx context.Context, writeID int64, name string, row *core.Row) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return err
	}
	if row.ID == uuid.Nil {
		return fmt.Errorf("row for %s has no id", name)
	}
	if err := t.validator.ValidateRow(row); err != nil {
		return err
	}
	return s.withTx(ctx, writeID, func(tx *writeTx) error {
		if err := s.putRow(tx, t, row); err != nil {
			return err
		}
		tx.ops = append(tx.ops, newOperation(name, core.OperationCreate, row, nil))
		return nil
	})
}

// UpdateRow replaces the cursor's current row. The new image keeps the
// current row's id.
func (s *Store) UpdateRow(ctx context.Context, writeID, cursorID int64, changed []string, name string, row *core.Row) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	c, err := s.cursor(cursorID)
	if err != nil {
		return err
	}
	if c.current == nil {
		return fmt.Errorf("cursor %d has no current row to update: %w", cursorID, core.ErrInternalConsistency)
	}
	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return err
	}
	if t.ID != c.table.ID {
		return fmt.Errorf("cursor %d is on %s, not %s", cursorID, c.table.Name, name)
	}

	updated := row.Clone()
	updated.ID = c.current.ID
	if err := t.validator.ValidateRow(updated); err != nil {
		return err
	}
	old := c.current
	err = s.withTx(ctx, writeID, func(tx *writeTx) error {
		if err := s.removeRow(tx, t, old, false); err != nil {
			return err
		}
		if err := s.putRow(tx, t, updated); err != nil {
			return err
		}
		op := newOperation(name, core.OperationUpdate, updated, changed)
		op.Previous = old.Clone().Values
		tx.ops = append(tx.ops, op)
		return nil
	})
	if err != nil {
		return err
	}
	c.current = updated
	return nil
}

// DeleteRow deletes the cursor's current row.
func (s *Store) DeleteRow(ctx context.Context, writeID, cursorID int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	c, err := s.cursor(cursorID)
	if err != nil {
		return err
	}
	if c.current == nil {
		return fmt.Errorf("cursor %d has no current row to delete: %w", cursorID, core.ErrInternalConsistency)
	}
	t, old := c.table, c.current
	err = s.withTx(ctx, writeID, func(tx *writeTx) error {
		if err := s.removeRow(tx, t, old, true); err != nil {
			return err
		}
		tx.deleted[t.Name]++
		tx.ops = append(tx.ops, newOperation(t.Name, core.OperationDelete, old, nil))
		return nil
	})
	if err != nil {
		return err
	}
	c.current = nil
	return nil
}

// DeleteAllRows removes every committed row of a table and returns how many
// there were. The stored row count is left for the caller to reset.
func (s *Store) DeleteAllRows(ctx context.Context, name string) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return 0, err
	}

	var (
		n   int64
		ops []*core.WriteOperation
	)
	err = s.eachRow(t, func(row *core.Row) error {
		n++
		if s.feed != nil {
			ops = append(ops, newOperation(name, core.OperationDelete, row, nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := s.clearTableData(t); err != nil {
		return 0, err
	}
	s.publish(ctx, ops)
	log.Printf("[BACKEND] Deleted %d rows from %s", n, name)
	return n, nil
}
