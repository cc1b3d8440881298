package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/schema"
)

// Catalog keys in the metadata KV store.
const (
	tableKeyPrefix    = "table/"
	rowCountKeyPrefix = "rowcount/"
	autoIncKeyPrefix  = "autoinc/"
	tableSeqKey       = "seq/tables"
)

// ErrTableNotFound is returned for operations on tables missing from the catalog.
var ErrTableNotFound = errors.New("table not found")

// ErrTableExists is returned when creating a table that already exists.
var ErrTableExists = errors.New("table already exists")

// indexMeta is the storage identity of one index.
type indexMeta struct {
	ID      uint32   `json:"id"`
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// tableMeta is the catalog entry of one table.
type tableMeta struct {
	ID          uint64            `json:"id"`
	Name        string            `json:"-"`
	Schema      *core.TableSchema `json:"-"`
	Indexes     []*indexMeta      `json:"indexes"`
	NextIndexID uint32            `json:"next_index_id"`

	validator *schema.RowValidator
}

type tableRecord struct {
	*tableMeta
	Schema json.RawMessage `json:"schema"`
}

func (t *tableMeta) index(name string) (*indexMeta, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return nil, false
}

func (t *tableMeta) uniqueIndexes() []*indexMeta {
	out := make([]*indexMeta, 0, len(t.Indexes))
	for _, idx := range t.Indexes {
		if idx.Unique {
			out = append(out, idx)
		}
	}
	return out
}

func (t *tableMeta) addIndex(is core.IndexSchema) *indexMeta {
	t.NextIndexID++
	idx := &indexMeta{ID: t.NextIndexID, Name: is.Name, Columns: append([]string(nil), is.Columns...), Unique: is.Unique}
	t.Indexes = append(t.Indexes, idx)
	return idx
}

func (t *tableMeta) refresh() {
	t.validator = schema.NewRowValidator(t.Schema)
}

func encodeTable(t *tableMeta) ([]byte, error) {
	raw, err := schema.Marshal(t.Schema)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tableRecord{tableMeta: t, Schema: raw})
}

func decodeTable(name string, data []byte) (*tableMeta, error) {
	rec := tableRecord{tableMeta: &tableMeta{}}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode catalog entry for %s: %w", name, err)
	}
	ts, err := schema.Unmarshal(rec.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to decode schema of %s: %w", name, err)
	}
	t := rec.tableMeta
	t.Name = name
	t.Schema = ts
	t.refresh()
	return t, nil
}

// catalog caches table metadata read from the KV store. Callers hold
// Store.mu.
type catalog struct {
	kv     core.KVStore
	tables map[string]*tableMeta
}

func newCatalog(kv core.KVStore) *catalog {
	return &catalog{kv: kv, tables: make(map[string]*tableMeta)}
}

func (c *catalog) get(ctx context.Context, name string) (*tableMeta, error) {
	if t, ok := c.tables[name]; ok {
		return t, nil
	}
	data, err := c.kv.Get(ctx, tableKeyPrefix+name)
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog entry for %s: %w", name, err)
	}
	t, err := decodeTable(name, data)
	if err != nil {
		return nil, err
	}
	c.tables[name] = t
	return t, nil
}

func (c *catalog) exists(ctx context.Context, name string) (bool, error) {
	if _, ok := c.tables[name]; ok {
		return true, nil
	}
	return c.kv.Exists(ctx, tableKeyPrefix+name)
}

func (c *catalog) put(ctx context.Context, t *tableMeta) error {
	data, err := encodeTable(t)
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, tableKeyPrefix+t.Name, data, 0); err != nil {
		return fmt.Errorf("failed to store catalog entry for %s: %w", t.Name, err)
	}
	c.tables[t.Name] = t
	return nil
}

func (c *catalog) remove(ctx context.Context, name string) error {
	for _, key := range []string{tableKeyPrefix + name, rowCountKeyPrefix + name, autoIncKeyPrefix + name} {
		if err := c.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete catalog key %s: %w", key, err)
		}
	}
	delete(c.tables, name)
	return nil
}

func (c *catalog) nextTableID(ctx context.Context) (uint64, error) {
	id, err := c.counter(ctx, tableSeqKey)
	if err != nil {
		return 0, err
	}
	id++
	if err := c.setCounter(ctx, tableSeqKey, id); err != nil {
		return 0, err
	}
	return id, nil
}

// counter reads a decimal counter; a missing key reads as zero.
func (c *catalog) counter(ctx context.Context, key string) (uint64, error) {
	data, err := c.kv.Get(ctx, key)
	if errors.Is(err, core.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s holds %q: %w", key, data, core.ErrInternalConsistency)
	}
	return v, nil
}

func (c *catalog) setCounter(ctx context.Context, key string, v uint64) error {
	if err := c.kv.Set(ctx, key, []byte(strconv.FormatUint(v, 10)), 0); err != nil {
		return fmt.Errorf("failed to write counter %s: %w", key, err)
	}
	return nil
}

func (c *catalog) rowCount(ctx context.Context, name string) (int64, error) {
	data, err := c.kv.Get(ctx, rowCountKeyPrefix+name)
	if errors.Is(err, core.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read row count of %s: %w", name, err)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("row count of %s holds %q: %w", name, data, core.ErrInternalConsistency)
	}
	return v, nil
}

func (c *catalog) setRowCount(ctx context.Context, name string, v int64) error {
	if err := c.kv.Set(ctx, rowCountKeyPrefix+name, []byte(strconv.FormatInt(v, 10)), 0); err != nil {
		return fmt.Errorf("failed to write row count of %s: %w", name, err)
	}
	return nil
}

// rename moves every catalog key of a table. Data keys are addressed by
// table id and do not move.
func (c *catalog) rename(ctx context.Context, from, to string) error {
	t, err := c.get(ctx, from)
	if err != nil {
		return err
	}
	count, err := c.rowCount(ctx, from)
	if err != nil {
		return err
	}
	autoInc, err := c.counter(ctx, autoIncKeyPrefix+from)
	if err != nil {
		return err
	}

	renamed := *t
	renamed.Name = to
	renamed.Schema = t.Schema.Clone()
	renamed.Schema.Name = to
	renamed.refresh()
	if err := c.put(ctx, &renamed); err != nil {
		return err
	}
	if err := c.kv.BatchSet(ctx, map[string][]byte{
		rowCountKeyPrefix + to: []byte(strconv.FormatInt(count, 10)),
		autoIncKeyPrefix + to:  []byte(strconv.FormatUint(autoInc, 10)),
	}, 0); err != nil {
		return fmt.Errorf("failed to move counters of %s: %w", from, err)
	}
	return c.remove(ctx, from)
}
