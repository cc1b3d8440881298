// Package handler is the per-table storage engine surface the SQL server
// drives: open and close, table scans, index navigation, row mutations,
// write locking and statistics. Every operation runs inside one bridge
// guard so nested backend calls share a single attach.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/bridge"
	"github.com/rzpsarthak13/kvbridge/internal/codec"
	"github.com/rzpsarthak13/kvbridge/internal/constraint"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/rzpsarthak13/kvbridge/internal/rowcodec"
	"github.com/rzpsarthak13/kvbridge/internal/scan"
	"github.com/rzpsarthak13/kvbridge/internal/schema"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
)

// noWrite marks the absence of a write token.
const noWrite int64 = -1

var (
	// ErrNotOpen is returned by row operations on a closed handler.
	ErrNotOpen = errors.New("table handler is not open")

	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("table handler is already open")
)

// Stats mirrors the statistics block the server reads after Info.
type Stats struct {
	Records            int64
	MeanRecLength      int64
	RecPerKey          int64
	AutoIncrementValue uint64

	// ErrKey is the key position of the last duplicate-key failure, or -1.
	ErrKey int
}

// Handler serves one open table for one server thread. It is not safe
// for concurrent use.
type Handler struct {
	session *bridge.Session
	shares  *registry.ShareRegistry
	values  *codec.Codec
	builder *schema.Builder

	table   *sqlmeta.Table
	name    string
	share   *registry.Share
	ts      *core.TableSchema
	rows    *rowcodec.Codec
	cursor  *scan.Cursor
	checker *constraint.Checker

	lock      sqlmeta.LockType
	writeID   int64
	inserted  int64
	failedKey int
	current   uuid.UUID
	stats     Stats
}

// New creates a closed handler. A nil values codec uses the host byte order.
func New(session *bridge.Session, shares *registry.ShareRegistry, values *codec.Codec) *Handler {
	if values == nil {
		values = codec.New()
	}
	return &Handler{
		session:   session,
		shares:    shares,
		values:    values,
		builder:   schema.NewBuilder(),
		lock:      sqlmeta.LockUnlock,
		writeID:   noWrite,
		failedKey: -1,
		stats:     Stats{ErrKey: -1},
	}
}

// guarded runs fn inside one attach scope.
func (h *Handler) guarded(fn func() error) error {
	guard, err := h.session.Enter()
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn()
}

func (h *Handler) ensureOpen() error {
	if h.table == nil {
		return ErrNotOpen
	}
	return nil
}

// Name returns the qualified name of the open table.
func (h *Handler) Name() string {
	return h.name
}

// Stats returns the statistics computed by the last Info call.
func (h *Handler) Stats() Stats {
	return h.stats
}

// WriteID returns the active write token, or -1.
func (h *Handler) WriteID() int64 {
	return h.writeID
}

// Open binds the handler to table and acquires its share. A share marked
// crashed refuses the open.
func (h *Handler) Open(ctx context.Context, table *sqlmeta.Table) error {
	if h.table != nil {
		return ErrAlreadyOpen
	}
	name := table.QualifiedName()
	share, err := h.shares.Acquire(name)
	if err != nil {
		return fmt.Errorf("failed to acquire share for %s: %w", name, err)
	}
	if share.Crashed() {
		if err := h.shares.Release(share); err != nil {
			log.Printf("[HANDLER] ERROR: Failed to release crashed share %s: %v", name, err)
		}
		return &core.EngineError{Kind: core.KindCrashed, Op: "open", Err: core.ErrTableCrashed}
	}

	h.table, h.name, h.share = table, name, share
	if err := h.bind(table); err != nil {
		h.table, h.name, h.share = nil, "", nil
		return errors.Join(err, h.shares.Release(share))
	}
	return nil
}

// bind derives the schema, row codec, cursor and checker from table.
func (h *Handler) bind(table *sqlmeta.Table) error {
	ts, err := h.builder.Build(table)
	if err != nil {
		return err
	}
	rows, err := rowcodec.New(table, ts, h.values)
	if err != nil {
		return err
	}
	h.table, h.ts, h.rows = table, ts, rows
	h.cursor = scan.New(h.session, table, rows)
	h.checker = constraint.New(h.session, table)
	return nil
}

// Close ends any open scan, releases a held write token and drops the
// share. The handler can be reopened afterwards.
func (h *Handler) Close(ctx context.Context) error {
	if h.table == nil {
		return nil
	}
	var errs []error
	errs = append(errs, h.guarded(func() error {
		var errs []error
		errs = append(errs, h.cursor.End(ctx))
		if h.writeID != noWrite {
			errs = append(errs, h.endWrite(ctx))
		}
		return errors.Join(errs...)
	}))
	errs = append(errs, h.shares.Release(h.share))

	h.table, h.name, h.share, h.cursor, h.checker = nil, "", nil, nil, nil
	h.lock = sqlmeta.LockUnlock
	return errors.Join(errs...)
}

// Create validates table, builds its backend schema and creates it.
func (h *Handler) Create(ctx context.Context, table *sqlmeta.Table) error {
	ts, err := h.builder.Build(table)
	if err != nil {
		log.Printf("[HANDLER] Rejecting CREATE TABLE %s: %v", table.QualifiedName(), err)
		return err
	}
	data, err := schema.Marshal(ts)
	if err != nil {
		return err
	}
	name := table.QualifiedName()
	if err := h.guarded(func() error { return h.session.CreateTable(ctx, name, data) }); err != nil {
		return err
	}
	return h.shares.Lifecycle().ExecuteCreateHooks(ctx, name, ts)
}

// DeleteTable drops the named table.
func (h *Handler) DeleteTable(ctx context.Context, name string) error {
	if err := h.guarded(func() error { return h.session.DropTable(ctx, name) }); err != nil {
		return err
	}
	return h.shares.Lifecycle().ExecuteDropHooks(ctx, name)
}

// RenameTable renames a table in the backend.
func (h *Handler) RenameTable(ctx context.Context, from, to string) error {
	if err := h.guarded(func() error { return h.session.RenameTable(ctx, from, to) }); err != nil {
		return err
	}
	return h.shares.Lifecycle().ExecuteRenameHooks(ctx, from, to)
}

// fill decodes row into the record at base and remembers its position.
// A stored row that disagrees with the schema marks the share crashed.
func (h *Handler) fill(row *core.Row, err error, rec *sqlmeta.Record, base int) error {
	if err != nil {
		return err
	}
	if err := h.rows.Decode(row, rec, base); err != nil {
		if errors.Is(err, core.ErrInternalConsistency) {
			log.Printf("[HANDLER] ERROR: Row %s of %s is inconsistent, marking table crashed: %v", row.ID, h.name, err)
			h.share.MarkCrashed()
		}
		return err
	}
	h.current = row.ID
	return nil
}

// RndInit starts a full table scan.
func (h *Handler) RndInit(ctx context.Context) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error {
		return h.cursor.StartTableScan(ctx, h.lock == sqlmeta.LockWrite)
	})
}

// RndNext reads the next row of the table scan.
func (h *Handler) RndNext(ctx context.Context, rec *sqlmeta.Record, base int) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error {
		row, err := h.cursor.Next(ctx)
		return h.fill(row, err, rec, base)
	})
}

// Position returns the id of the row last read.
func (h *Handler) Position() uuid.UUID {
	return h.current
}

// RndPos reads the row at a position returned by Position.
func (h *Handler) RndPos(ctx context.Context, rec *sqlmeta.Record, base int, pos uuid.UUID) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error {
		row, err := h.cursor.GetByPosition(ctx, pos)
		return h.fill(row, err, rec, base)
	})
}

// RndEnd ends the table scan.
func (h *Handler) RndEnd(ctx context.Context) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error { return h.cursor.End(ctx) })
}

// IndexInit starts a scan over key index.
func (h *Handler) IndexInit(ctx context.Context, index int) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error { return h.cursor.StartIndexScan(ctx, index) })
}

// IndexEnd ends the index scan.
func (h *Handler) IndexEnd(ctx context.Context) error {
	return h.RndEnd(ctx)
}

// indexRead runs one index navigation step with every column readable.
func (h *Handler) indexRead(rec *sqlmeta.Record, base int, read func() (*core.Row, error)) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	restore := h.table.ReadSet.UseAll()
	defer restore()
	return h.guarded(func() error {
		row, err := read()
		return h.fill(row, err, rec, base)
	})
}

// IndexReadMap positions the index scan from a server key buffer.
func (h *Handler) IndexReadMap(ctx context.Context, rec *sqlmeta.Record, base int, key []byte, keypartMap uint64, flag sqlmeta.FindFlag) error {
	return h.indexRead(rec, base, func() (*core.Row, error) {
		return h.cursor.Seek(ctx, flag, key, keypartMap)
	})
}

// IndexNext reads the next index entry.
func (h *Handler) IndexNext(ctx context.Context, rec *sqlmeta.Record, base int) error {
	return h.indexRead(rec, base, func() (*core.Row, error) {
		return h.cursor.NextIndex(ctx)
	})
}

// IndexPrev reads the previous index entry. The backend walks in the
// direction of the last seek, so this is IndexNext after a descending
// positioning call.
func (h *Handler) IndexPrev(ctx context.Context, rec *sqlmeta.Record, base int) error {
	return h.IndexNext(ctx, rec, base)
}

// IndexFirst reads the lowest index entry.
func (h *Handler) IndexFirst(ctx context.Context, rec *sqlmeta.Record, base int) error {
	return h.indexRead(rec, base, func() (*core.Row, error) {
		return h.cursor.First(ctx)
	})
}

// IndexLast reads the highest index entry.
func (h *Handler) IndexLast(ctx context.Context, rec *sqlmeta.Record, base int) error {
	return h.indexRead(rec, base, func() (*core.Row, error) {
		return h.cursor.Last(ctx)
	})
}

func (h *Handler) crashed(op string) error {
	if h.share.Crashed() {
		return &core.EngineError{Kind: core.KindCrashed, Op: op, Err: core.ErrTableCrashed}
	}
	return nil
}

func (h *Handler) autoIncrementColumn() (int, string, bool) {
	i := h.table.NextNumberField
	if i < 0 {
		return -1, "", false
	}
	return i, h.ts.Columns[i].Name, true
}

// fillAutoIncrement assigns the next counter value when the
// auto-increment field is NULL or zero.
func (h *Handler) fillAutoIncrement(ctx context.Context, rec *sqlmeta.Record, base int) error {
	i, column, ok := h.autoIncrementColumn()
	if !ok {
		return nil
	}
	layout := h.rows.Layout()
	value, err := layout.ReadField(rec, base, i)
	if err != nil {
		return fmt.Errorf("failed to read auto-increment field %s: %w", column, err)
	}
	if value != nil {
		if v, err := codec.ToUint64(value); err == nil && v != 0 {
			return nil
		}
	}
	next, err := h.session.GetNextAutoIncrementValue(ctx, h.name, column)
	if err != nil {
		return err
	}
	if h.table.Fields[i].Unsigned {
		return layout.WriteField(rec, base, i, next)
	}
	if next > math.MaxInt64 {
		return fmt.Errorf("auto-increment value %d overflows %s: %w", next, column, sqlmeta.ErrOutOfRange)
	}
	return layout.WriteField(rec, base, i, int64(next))
}

// raiseAutoIncrement moves the backend counter past an explicitly
// written value.
func (h *Handler) raiseAutoIncrement(ctx context.Context, enc *rowcodec.Encoded) error {
	_, column, ok := h.autoIncrementColumn()
	if !ok || !enc.HasAutoIncrement {
		return nil
	}
	next := enc.AutoIncrement
	if next < math.MaxUint64 {
		next++
	}
	changed, err := h.session.AlterAutoIncrementValue(ctx, h.name, column, next, false)
	if err != nil {
		return err
	}
	if changed {
		h.stats.AutoIncrementValue = next
	}
	return nil
}

// recordFailure remembers the key position of a duplicate-key error.
func (h *Handler) recordFailure(err error) error {
	var ee *core.EngineError
	if errors.As(err, &ee) && ee.Kind == core.KindDuplicateKey {
		h.failedKey = ee.Key
	}
	return err
}

// WriteRow inserts the record at base.
func (h *Handler) WriteRow(ctx context.Context, rec *sqlmeta.Record, base int) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	if err := h.crashed("writeRow"); err != nil {
		return err
	}
	return h.guarded(func() error {
		if err := h.fillAutoIncrement(ctx, rec, base); err != nil {
			return err
		}
		enc, err := h.rows.Encode(uuid.New(), rec, base)
		if err != nil {
			return err
		}
		if err := h.checker.CheckInsert(ctx, h.writeID, enc.Unique); err != nil {
			return h.recordFailure(err)
		}
		if err := h.session.WriteRow(ctx, h.writeID, h.name, enc.Row); err != nil {
			return h.recordFailure(err)
		}
		h.current = enc.Row.ID
		h.share.AdjustRowCount(1)
		if h.writeID == noWrite {
			if err := h.session.IncrementRowCount(ctx, h.name, 1); err != nil {
				return err
			}
		} else {
			h.inserted++
		}
		return h.raiseAutoIncrement(ctx, enc)
	})
}

// UpdateRow replaces the current row of the open scan with the record at
// newBase. Nothing is written when no column changed.
func (h *Handler) UpdateRow(ctx context.Context, old *sqlmeta.Record, oldBase int, rec *sqlmeta.Record, newBase int) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	changed := h.rows.ChangedColumns(old, oldBase, rec, newBase)
	if len(changed) == 0 {
		return nil
	}
	restore := h.table.ReadSet.UseAll()
	defer restore()
	return h.guarded(func() error {
		cursorID, ok := h.cursor.Handle()
		if !ok {
			return fmt.Errorf("update on %s: %w", h.name, scan.ErrNotScanning)
		}
		enc, err := h.rows.Encode(h.current, rec, newBase)
		if err != nil {
			return err
		}
		if err := h.checker.CheckUpdate(ctx, h.writeID, enc.Unique, changed); err != nil {
			return h.recordFailure(err)
		}
		if err := h.session.UpdateRow(ctx, h.writeID, cursorID, changed, h.name, enc.Row); err != nil {
			return h.recordFailure(err)
		}
		if err := h.raiseAutoIncrement(ctx, enc); err != nil {
			return err
		}
		return h.session.FlushWrites(ctx, h.writeID)
	})
}

// DeleteRow removes the current row of the open scan.
func (h *Handler) DeleteRow(ctx context.Context) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error {
		cursorID, ok := h.cursor.Handle()
		if !ok {
			return fmt.Errorf("delete on %s: %w", h.name, scan.ErrNotScanning)
		}
		if err := h.session.DeleteRow(ctx, h.writeID, cursorID); err != nil {
			return err
		}
		h.share.AdjustRowCount(-1)
		return nil
	})
}

// DeleteAllRows removes every row and resets the row count. Changes still
// buffered in the write token are committed first so the range delete
// covers them and their count deltas land before the reset.
func (h *Handler) DeleteAllRows(ctx context.Context) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error {
		if err := h.session.FlushWrites(ctx, h.writeID); err != nil {
			return err
		}
		n, err := h.session.DeleteAllRows(ctx, h.name)
		if err != nil {
			return err
		}
		if err := h.session.SetRowCount(ctx, h.name, 0); err != nil {
			return err
		}
		h.inserted = 0
		h.share.SetRowCount(0)
		log.Printf("[HANDLER] Deleted %d rows from %s", n, h.name)
		return nil
	})
}

// Truncate resets the auto-increment counter to 1 and deletes every row.
func (h *Handler) Truncate(ctx context.Context) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error {
		if _, column, ok := h.autoIncrementColumn(); ok {
			changed, err := h.session.AlterAutoIncrementValue(ctx, h.name, column, 1, true)
			if err != nil {
				return err
			}
			if changed {
				h.stats.AutoIncrementValue = 1
			}
		}
		return h.DeleteAllRows(ctx)
	})
}

// ExternalLock starts a write token on the first read or write lock of a
// statement. Unlocking applies the pending insert count and releases the
// token exactly once.
func (h *Handler) ExternalLock(ctx context.Context, lock sqlmeta.LockType) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error {
		if lock != sqlmeta.LockUnlock {
			h.lock = lock
			if h.writeID != noWrite {
				return nil
			}
			id, err := h.session.StartWrite(ctx)
			if err != nil {
				return err
			}
			h.writeID = id
			return nil
		}

		h.lock = sqlmeta.LockUnlock
		var errs []error
		if h.inserted != 0 {
			errs = append(errs, h.session.IncrementRowCount(ctx, h.name, h.inserted))
			h.inserted = 0
		}
		if h.writeID != noWrite {
			errs = append(errs, h.endWrite(ctx))
		}
		h.share.InvalidateRowCount()
		return errors.Join(errs...)
	})
}

// endWrite releases the token. It is forgotten even when the release fails.
func (h *Handler) endWrite(ctx context.Context) error {
	id := h.writeID
	h.writeID = noWrite
	if err := h.session.EndWrite(ctx, id); err != nil {
		log.Printf("[HANDLER] ERROR: Failed to end write %d on %s: %v", id, h.name, err)
		return err
	}
	return nil
}

// StartBulkInsert flushes buffered writes before a multi-row insert.
func (h *Handler) StartBulkInsert(ctx context.Context) error {
	return h.flush(ctx)
}

// EndBulkInsert flushes the rows written by a multi-row insert.
func (h *Handler) EndBulkInsert(ctx context.Context) error {
	return h.flush(ctx)
}

func (h *Handler) flush(ctx context.Context) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error { return h.session.FlushWrites(ctx, h.writeID) })
}

// rowCount returns the share's cached count, loading it from the backend
// when stale.
func (h *Handler) rowCount(ctx context.Context) (int64, error) {
	if n, ok := h.share.RowCount(); ok {
		return n, nil
	}
	n, err := h.session.GetRowCount(ctx, h.name)
	if err != nil {
		return 0, err
	}
	h.share.SetRowCount(n)
	return n, nil
}

// Info refreshes the statistics selected by flag.
func (h *Handler) Info(ctx context.Context, flag sqlmeta.InfoFlag) (Stats, error) {
	if err := h.ensureOpen(); err != nil {
		return Stats{}, err
	}
	err := h.guarded(func() error {
		if flag.Has(sqlmeta.InfoVariable) {
			n, err := h.rowCount(ctx)
			if err != nil {
				return err
			}
			if n < 0 {
				n = 0
			}
			// The optimizer treats 0 and 1 alike unless exact counts are requested.
			if n == 0 && !flag.Has(sqlmeta.InfoTime) {
				n = 1
			}
			h.stats.Records = n
			h.stats.MeanRecLength = int64(h.rows.Layout().RecordLength)
		}
		if flag.Has(sqlmeta.InfoConst) {
			h.stats.RecPerKey = h.stats.Records / 2
			if h.stats.RecPerKey < 1 {
				h.stats.RecPerKey = 1
			}
		}
		if flag.Has(sqlmeta.InfoErrKey) {
			h.stats.ErrKey = h.failedKey
			h.failedKey = -1
		}
		if flag.Has(sqlmeta.InfoAuto) {
			if _, column, ok := h.autoIncrementColumn(); ok {
				v, err := h.session.GetAutoIncrementValue(ctx, h.name, column)
				if err != nil {
					return err
				}
				h.stats.AutoIncrementValue = v
			}
		}
		return nil
	})
	return h.stats, err
}

// AddIndex adds keys of table, which must be the open table's definition
// with the new keys appended. A unique key over duplicate values fails
// with a duplicate-key error naming that key.
func (h *Handler) AddIndex(ctx context.Context, table *sqlmeta.Table, keys []int) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	checker := constraint.New(h.session, table)
	err := h.guarded(func() error {
		for _, k := range keys {
			index := h.builder.BuildIndex(table, k)
			if err := checker.CheckNewIndex(ctx, k, index); err != nil {
				return h.recordFailure(err)
			}
			if err := h.session.AddIndex(ctx, h.name, index); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := h.guarded(func() error { return h.cursor.End(ctx) }); err != nil {
		return err
	}
	return h.bind(table)
}

// PrepareDropIndex drops keys of the open table from the backend.
func (h *Handler) PrepareDropIndex(ctx context.Context, keys []int) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.guarded(func() error {
		for _, k := range keys {
			if err := h.session.DropIndex(ctx, h.name, schema.IndexName(h.table, k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAutoIncrement reserves the next auto-increment value.
func (h *Handler) GetAutoIncrement(ctx context.Context) (uint64, error) {
	if err := h.ensureOpen(); err != nil {
		return 0, err
	}
	_, column, ok := h.autoIncrementColumn()
	if !ok {
		return 0, fmt.Errorf("%s has no auto-increment column: %w", h.name, core.ErrInternalConsistency)
	}
	var v uint64
	err := h.guarded(func() error {
		var err error
		v, err = h.session.GetNextAutoIncrementValue(ctx, h.name, column)
		return err
	})
	return v, err
}

// EstimateRowsUpperBound returns an upper bound on the rows a full scan
// can return.
func (h *Handler) EstimateRowsUpperBound(ctx context.Context) (int64, error) {
	if err := h.ensureOpen(); err != nil {
		return 0, err
	}
	var n int64
	err := h.guarded(func() error {
		var err error
		n, err = h.session.GetRowCount(ctx, h.name)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n < 2 {
		return 10, nil
	}
	return 2*n + 1, nil
}

// RecordsInRange estimates the rows between two keys. The backend keeps
// no histograms, so the estimate is the table's row count.
func (h *Handler) RecordsInRange(index int) int64 {
	return h.stats.Records
}
