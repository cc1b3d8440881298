// Package backend implements the storage backend behind the bridge: rows
// and secondary indexes in pebble, table metadata and counters in a
// pluggable KV store, and an optional change feed of committed writes.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/rzpsarthak13/kvbridge/internal/bridge"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/kvstore"
	"github.com/rzpsarthak13/kvbridge/internal/schema"
)

// catalogPrefix namespaces catalog keys when the catalog shares the row database.
const catalogPrefix = "m/"

var (
	// ErrStoreClosed is returned by every call after Close.
	ErrStoreClosed = errors.New("backend store is closed")

	// ErrUnknownCursor is returned for cursor ids the store did not issue or already ended.
	ErrUnknownCursor = errors.New("unknown cursor")

	// ErrUnknownWrite is returned for write ids the store did not issue or already ended.
	ErrUnknownWrite = errors.New("unknown write token")
)

// Options configures a Store.
type Options struct {
	// Path is the pebble directory. Ignored when InMemory is set.
	Path     string
	InMemory bool

	// Sync makes every commit durable before returning.
	Sync bool

	// CacheSize is the pebble block cache size in bytes.
	CacheSize int64

	// Catalog holds table metadata and counters. When nil the catalog is
	// kept in the row database under its own prefix.
	Catalog core.KVStore

	// ChangeFeed receives committed row changes. Optional.
	ChangeFeed core.WriteBackQueue
}

// Store is a BackendClient over pebble.
type Store struct {
	mu sync.Mutex

	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	catalog   *catalog
	ownedKV   core.KVStore
	feed      core.WriteBackQueue

	cursors    map[int64]*cursor
	writes     map[int64]*writeTx
	nextCursor int64
	nextWrite  int64

	attached int
	closed   bool
}

var (
	_ bridge.BackendClient = (*Store)(nil)
	_ bridge.Attacher      = (*Store)(nil)
)

// Open opens the row database and the catalog.
func Open(opts Options) (*Store, error) {
	db, err := kvstore.OpenPebble(opts.Path, opts.InMemory, opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open row store: %w", err)
	}

	s := &Store{
		db:        db,
		writeOpts: pebble.NoSync,
		feed:      opts.ChangeFeed,
		cursors:   make(map[int64]*cursor),
		writes:    make(map[int64]*writeTx),
	}
	if opts.Sync {
		s.writeOpts = pebble.Sync
	}

	kv := opts.Catalog
	if kv == nil {
		owned := kvstore.WrapPebble(db, catalogPrefix)
		s.ownedKV = owned
		kv = owned
	}
	s.catalog = newCatalog(kv)

	log.Printf("[BACKEND] Opened row store (in_memory=%v, sync=%v)", opts.InMemory, opts.Sync)
	return s, nil
}

// Close ends every open cursor and write token and closes the row database.
// Pending writes of open tokens are discarded.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for id, c := range s.cursors {
		errs = append(errs, c.close())
		delete(s.cursors, id)
	}
	for id, tx := range s.writes {
		if len(tx.ops) > 0 {
			log.Printf("[BACKEND] Discarding %d uncommitted changes of write token %d", len(tx.ops), id)
		}
		errs = append(errs, tx.batch.Close())
		delete(s.writes, id)
	}
	if s.ownedKV != nil {
		errs = append(errs, s.ownedKV.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Attach admits a caller. It fails once the store is closed.
func (s *Store) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.attached++
	return nil
}

// Detach releases an Attach.
func (s *Store) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached == 0 {
		return fmt.Errorf("detach without attach")
	}
	s.attached--
	return nil
}

// Stats is a snapshot of the store's open handles.
type Stats struct {
	Attached     int `json:"attached" yaml:"attached"`
	OpenCursors  int `json:"open_cursors" yaml:"open_cursors"`
	OpenWrites   int `json:"open_writes" yaml:"open_writes"`
	CachedTables int `json:"cached_tables" yaml:"cached_tables"`
}

// Stats returns counts of attached callers, cursors and write tokens.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Attached:     s.attached,
		OpenCursors:  len(s.cursors),
		OpenWrites:   len(s.writes),
		CachedTables: len(s.catalog.tables),
	}
}

// lock acquires the store mutex and fails if the store is closed.
func (s *Store) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	return nil
}

// Schema returns a copy of the stored schema of a table.
func (s *Store) Schema(ctx context.Context, name string) (*core.TableSchema, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.Schema.Clone(), nil
}

// CreateTable registers a table from its serialized schema.
func (s *Store) CreateTable(ctx context.Context, name string, data []byte) error {
	ts, err := schema.Unmarshal(data)
	if err != nil {
		return err
	}
	ts.Name = name

	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	exists, err := s.catalog.exists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check catalog for %s: %w", name, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	id, err := s.catalog.nextTableID(ctx)
	if err != nil {
		return err
	}
	t := &tableMeta{ID: id, Name: name, Schema: ts}
	for _, is := range ts.Indexes {
		t.addIndex(is)
	}
	t.refresh()

	if err := s.catalog.put(ctx, t); err != nil {
		return err
	}
	if err := s.catalog.setRowCount(ctx, name, 0); err != nil {
		return err
	}
	if _, ok := ts.AutoIncrementColumn(); ok {
		initial := ts.AutoIncrementValue
		if initial == 0 {
			initial = 1
		}
		if err := s.catalog.setCounter(ctx, autoIncKeyPrefix+name, initial); err != nil {
			return err
		}
	}

	log.Printf("[BACKEND] Created table %s (id %d, %d columns, %d indexes)", name, id, len(ts.Columns), len(ts.Indexes))
	return nil
}

// DropTable removes a table's rows, indexes and catalog entries.
func (s *Store) DropTable(ctx context.Context, name string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return err
	}
	if err := s.clearTableData(t); err != nil {
		return err
	}
	if err := s.catalog.remove(ctx, name); err != nil {
		return err
	}
	log.Printf("[BACKEND] Dropped table %s", name)
	return nil
}

// RenameTable moves a table's catalog entries to a new name.
func (s *Store) RenameTable(ctx context.Context, from, to string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	exists, err := s.catalog.exists(ctx, to)
	if err != nil {
		return fmt.Errorf("failed to check catalog for %s: %w", to, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrTableExists, to)
	}
	if err := s.catalog.rename(ctx, from, to); err != nil {
		return err
	}
	log.Printf("[BACKEND] Renamed table %s to %s", from, to)
	return nil
}

// clearTableData deletes every row and index entry of a table.
func (s *Store) clearTableData(t *tableMeta) error {
	rows := tablePrefix(rowPrefix, t.ID)
	if err := s.db.DeleteRange(rows, prefixEnd(rows), s.writeOpts); err != nil {
		return fmt.Errorf("failed to delete rows of %s: %w", t.Name, err)
	}
	indexes := tablePrefix(indexPrefix, t.ID)
	if err := s.db.DeleteRange(indexes, prefixEnd(indexes), s.writeOpts); err != nil {
		return fmt.Errorf("failed to delete indexes of %s: %w", t.Name, err)
	}
	return nil
}

// GetRowCount returns the stored row count of a table.
func (s *Store) GetRowCount(ctx context.Context, name string) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if _, err := s.catalog.get(ctx, name); err != nil {
		return 0, err
	}
	return s.catalog.rowCount(ctx, name)
}

// IncrementRowCount adds delta to the stored row count.
func (s *Store) IncrementRowCount(ctx context.Context, name string, delta int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.adjustRowCount(ctx, name, delta)
}

func (s *Store) adjustRowCount(ctx context.Context, name string, delta int64) error {
	if delta == 0 {
		return nil
	}
	n, err := s.catalog.rowCount(ctx, name)
	if err != nil {
		return err
	}
	return s.catalog.setRowCount(ctx, name, n+delta)
}

// SetRowCount overwrites the stored row count.
func (s *Store) SetRowCount(ctx context.Context, name string, value int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, err := s.catalog.get(ctx, name); err != nil {
		return err
	}
	return s.catalog.setRowCount(ctx, name, value)
}

func (s *Store) autoIncColumn(ctx context.Context, name, column string) (*tableMeta, error) {
	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return nil, err
	}
	col, ok := t.Schema.AutoIncrementColumn()
	if !ok {
		return nil, fmt.Errorf("table %s has no auto-increment column", name)
	}
	if column != "" && col.Name != column {
		return nil, fmt.Errorf("column %s of %s is not the auto-increment column %s", column, name, col.Name)
	}
	return t, nil
}

// GetAutoIncrementValue returns the next value the counter will hand out.
func (s *Store) GetAutoIncrementValue(ctx context.Context, name, column string) (uint64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if _, err := s.autoIncColumn(ctx, name, column); err != nil {
		return 0, err
	}
	return s.catalog.counter(ctx, autoIncKeyPrefix+name)
}

// GetNextAutoIncrementValue hands out the next value and advances the counter.
func (s *Store) GetNextAutoIncrementValue(ctx context.Context, name, column string) (uint64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if _, err := s.autoIncColumn(ctx, name, column); err != nil {
		return 0, err
	}
	key := autoIncKeyPrefix + name
	v, err := s.catalog.counter(ctx, key)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		v = 1
	}
	if err := s.catalog.setCounter(ctx, key, v+1); err != nil {
		return 0, err
	}
	return v, nil
}

// AlterAutoIncrementValue raises the counter to value. With isTruncate the
// counter is set unconditionally. It reports whether the counter changed.
func (s *Store) AlterAutoIncrementValue(ctx context.Context, name, column string, value uint64, isTruncate bool) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	if _, err := s.autoIncColumn(ctx, name, column); err != nil {
		return false, err
	}
	key := autoIncKeyPrefix + name
	current, err := s.catalog.counter(ctx, key)
	if err != nil {
		return false, err
	}
	if !isTruncate && value <= current {
		return false, nil
	}
	if value == current {
		return false, nil
	}
	if err := s.catalog.setCounter(ctx, key, value); err != nil {
		return false, err
	}
	return true, nil
}

// IsNullable reports whether a column accepts NULL.
func (s *Store) IsNullable(ctx context.Context, name, column string) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return false, err
	}
	col, ok := t.Schema.Column(column)
	if !ok {
		return false, fmt.Errorf("table %s has no column %s", name, column)
	}
	return col.Nullable, nil
}

// AddIndex creates an index and backfills it from the committed rows.
func (s *Store) AddIndex(ctx context.Context, name string, index core.IndexSchema) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return err
	}
	if index.Name == "" {
		index.Name = core.IndexName(index.Columns)
	}
	if _, ok := t.index(index.Name); ok {
		return fmt.Errorf("index %s already exists on %s", index.Name, name)
	}
	for _, c := range index.Columns {
		if _, ok := t.Schema.Column(c); !ok {
			return fmt.Errorf("index %s: table %s has no column %s", index.Name, name, c)
		}
	}

	idx := t.addIndex(index)
	t.Schema.Indexes = append(t.Schema.Indexes, index)

	batch := s.db.NewBatch()
	defer batch.Close()
	n := 0
	err = s.eachRow(t, func(row *core.Row) error {
		key, err := indexEntryKey(t.ID, idx, t.Schema, row)
		if err != nil {
			return err
		}
		n++
		return batch.Set(key, nil, nil)
	})
	if err == nil {
		err = batch.Commit(s.writeOpts)
	}
	if err != nil {
		// Drop the cached entry so the next call reloads the stored one.
		delete(s.catalog.tables, name)
		return fmt.Errorf("failed to build index %s on %s: %w", index.Name, name, err)
	}

	t.refresh()
	if err := s.catalog.put(ctx, t); err != nil {
		return err
	}
	log.Printf("[BACKEND] Added index %s on %s (%d entries)", index.Name, name, n)
	return nil
}

// DropIndex removes an index and its entries.
func (s *Store) DropIndex(ctx context.Context, name, index string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return err
	}
	idx, ok := t.index(index)
	if !ok {
		return fmt.Errorf("index %s does not exist on %s", index, name)
	}

	prefix := indexPrefixKey(t.ID, idx.ID)
	if err := s.db.DeleteRange(prefix, prefixEnd(prefix), s.writeOpts); err != nil {
		return fmt.Errorf("failed to delete index %s on %s: %w", index, name, err)
	}

	kept := t.Indexes[:0]
	for _, m := range t.Indexes {
		if m.Name != index {
			kept = append(kept, m)
		}
	}
	t.Indexes = kept
	schemaIdx := t.Schema.Indexes[:0]
	for _, is := range t.Schema.Indexes {
		if is.Name != index {
			schemaIdx = append(schemaIdx, is)
		}
	}
	t.Schema.Indexes = schemaIdx
	t.refresh()

	if err := s.catalog.put(ctx, t); err != nil {
		return err
	}
	log.Printf("[BACKEND] Dropped index %s on %s", index, name)
	return nil
}

// eachRow visits every committed row of a table in row-id order.
func (s *Store) eachRow(t *tableMeta, fn func(row *core.Row) error) error {
	lower := tablePrefix(rowPrefix, t.ID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixEnd(lower)})
	if err != nil {
		return fmt.Errorf("failed to open iterator on %s: %w", t.Name, err)
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		row, err := decodeRow(iter.Value())
		if err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return iter.Error()
}

func decodeRow(data []byte) (*core.Row, error) {
	row := &core.Row{}
	if err := row.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return row, nil
}

// FindDuplicateKey returns the name of the first unique index that already
// holds the candidate values. With a non-nil changed list only indexes
// covering a changed column are checked. Indexes with a NULL candidate
// part never conflict.
func (s *Store) FindDuplicateKey(ctx context.Context, name string, values map[string][]byte, changed []string) (string, error) {
	if err := s.lock(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return "", err
	}

	for _, idx := range t.uniqueIndexes() {
		if changed != nil && !covers(idx.Columns, changed) {
			continue
		}
		keys := make([]core.KeyValue, 0, len(idx.Columns))
		for _, c := range idx.Columns {
			v, ok := values[c]
			if !ok {
				break
			}
			keys = append(keys, core.KeyValue{Column: c, Value: v})
		}
		if len(keys) != len(idx.Columns) {
			continue
		}

		prefix, err := queryPrefix(t.ID, idx, t.Schema, keys)
		if err != nil {
			return "", fmt.Errorf("failed to encode candidate for %s: %w", idx.Name, err)
		}
		found, err := s.anyWithPrefix(prefix)
		if err != nil {
			return "", err
		}
		if found {
			return idx.Name, nil
		}
	}
	return "", nil
}

func covers(columns, changed []string) bool {
	for _, c := range columns {
		for _, ch := range changed {
			if c == ch {
				return true
			}
		}
	}
	return false
}

func (s *Store) anyWithPrefix(prefix []byte) (bool, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return false, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()
	found := iter.First()
	return found, iter.Error()
}

// FindDuplicateValue scans the committed rows for two rows sharing the
// values of the comma-joined columns and returns the shared value, or nil.
// Rows with a NULL in any of the columns are ignored.
func (s *Store) FindDuplicateValue(ctx context.Context, name, index string) ([]byte, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return nil, err
	}
	columns := strings.Split(index, ",")
	probe := &indexMeta{Name: index, Columns: columns}

	seen := make(map[string]struct{})
	var dup []byte
	errFound := errors.New("found")
	err = s.eachRow(t, func(row *core.Row) error {
		for _, c := range columns {
			if row.IsNull(c) {
				return nil
			}
		}
		key, err := indexEntryKey(0, probe, t.Schema, row)
		if err != nil {
			return err
		}
		value := string(key[len(indexPrefixKey(0, 0)) : len(key)-rowIDSize])
		if _, ok := seen[value]; ok {
			dup = []byte(value)
			return errFound
		}
		seen[value] = struct{}{}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return nil, err
	}
	return dup, nil
}
