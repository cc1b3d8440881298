// Package mirror replays the change feed into a MySQL copy of each table.
package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rzpsarthak13/kvbridge/internal/codec"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
)

// ErrNoKey is returned when a DELETE cannot be matched to a mirror row.
var ErrNoKey = errors.New("row image carries no key columns")

// Executor runs statements against the mirror database.
type Executor interface {
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SchemaSource resolves the schema of an engine table.
type SchemaSource interface {
	Schema(ctx context.Context, name string) (*core.TableSchema, error)
}

// Statement is one parameterized SQL statement.
type Statement struct {
	Query string
	Args  []interface{}
}

// Mirror applies committed row changes to MySQL. It also acts as a
// lifecycle hook so cached schemas follow DDL.
type Mirror struct {
	exec    Executor
	schemas SchemaSource
	values  *codec.Codec
	config  *registry.ConfigManager

	mu    sync.RWMutex
	cache map[string]*core.TableSchema
}

var _ registry.LifecycleHook = (*Mirror)(nil)

// New creates a mirror. A nil config mirrors every table.
func New(exec Executor, schemas SchemaSource, values *codec.Codec, config *registry.ConfigManager) *Mirror {
	if values == nil {
		values = codec.New()
	}
	return &Mirror{
		exec:    exec,
		schemas: schemas,
		values:  values,
		config:  config,
		cache:   make(map[string]*core.TableSchema),
	}
}

// Enabled reports whether changes of table are mirrored.
func (m *Mirror) Enabled(table string) bool {
	if m.config == nil {
		return true
	}
	return m.config.GetTableConfig(table).Mirror
}

func (m *Mirror) schema(ctx context.Context, table string) (*core.TableSchema, error) {
	m.mu.RLock()
	ts, ok := m.cache[table]
	m.mu.RUnlock()
	if ok {
		return ts, nil
	}
	ts, err := m.schemas.Schema(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema of %s: %w", table, err)
	}
	m.mu.Lock()
	m.cache[table] = ts
	m.mu.Unlock()
	return ts, nil
}

// ExecuteWriteOperation applies one change. Changes of tables that are
// not mirrored are ignored.
func (m *Mirror) ExecuteWriteOperation(ctx context.Context, op *core.WriteOperation) error {
	if !m.Enabled(op.Table) {
		return nil
	}
	ts, err := m.schema(ctx, op.Table)
	if err != nil {
		return err
	}
	stmts, err := BuildStatements(ts, m.values, op)
	if err != nil {
		return err
	}
	start := time.Now()
	for _, stmt := range stmts {
		if _, err := m.exec.Exec(ctx, stmt.Query, stmt.Args...); err != nil {
			log.Printf("[MIRROR] ERROR: %s of row %s on %s failed after %v: %v",
				op.Operation, op.RowID, op.Table, time.Since(start), err)
			return err
		}
	}
	return nil
}

// OnCreate caches the schema of a new table.
func (m *Mirror) OnCreate(ctx context.Context, tableName string, schema *core.TableSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[tableName] = schema.Clone()
	return nil
}

// OnDrop forgets a dropped table.
func (m *Mirror) OnDrop(ctx context.Context, tableName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, tableName)
	return nil
}

// OnRename forgets both names; the schema is reloaded on next use.
func (m *Mirror) OnRename(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, from)
	delete(m.cache, to)
	return nil
}

// BuildStatements translates a change into SQL. Inserts and updates
// become upserts of the full row image; an update that moves the key
// first deletes the row under its old key.
func BuildStatements(ts *core.TableSchema, values *codec.Codec, op *core.WriteOperation) ([]Statement, error) {
	switch op.Operation {
	case core.OperationCreate:
		stmt, err := upsert(ts, values, op.Data)
		if err != nil {
			return nil, err
		}
		return []Statement{stmt}, nil

	case core.OperationUpdate:
		var stmts []Statement
		if op.Previous != nil && keyChanged(ts, op.Changed) {
			del, err := remove(ts, values, op.Previous)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, del)
		}
		stmt, err := upsert(ts, values, op.Data)
		if err != nil {
			return nil, err
		}
		return append(stmts, stmt), nil

	case core.OperationDelete:
		stmt, err := remove(ts, values, op.Data)
		if err != nil {
			return nil, err
		}
		return []Statement{stmt}, nil

	default:
		return nil, fmt.Errorf("unknown operation %q", op.Operation)
	}
}

// matchColumns returns the columns that identify a row: the primary key,
// else the first unique index, else every column.
func matchColumns(ts *core.TableSchema) []string {
	if ts.HasPrimaryKey() {
		return ts.PrimaryKey
	}
	for _, idx := range ts.Indexes {
		if idx.Unique {
			return idx.Columns
		}
	}
	cols := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		cols[i] = c.Name
	}
	return cols
}

func keyChanged(ts *core.TableSchema, changed []string) bool {
	key := matchColumns(ts)
	for _, c := range changed {
		for _, k := range key {
			if c == k {
				return true
			}
		}
	}
	return false
}

func upsert(ts *core.TableSchema, values *codec.Codec, data map[string][]byte) (Statement, error) {
	cols := make([]string, len(ts.Columns))
	marks := make([]string, len(ts.Columns))
	updates := make([]string, 0, len(ts.Columns))
	args := make([]interface{}, len(ts.Columns))
	for i := range ts.Columns {
		col := &ts.Columns[i]
		v, err := argument(values, col, data[col.Name])
		if err != nil {
			return Statement{}, err
		}
		q := quote(col.Name)
		cols[i], marks[i], args[i] = q, "?", v
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", q, q))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableIdent(ts.Name), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if hasUniqueKey(ts) {
		query += " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
	}
	return Statement{Query: query, Args: args}, nil
}

func remove(ts *core.TableSchema, values *codec.Codec, data map[string][]byte) (Statement, error) {
	key := matchColumns(ts)
	conds := make([]string, 0, len(key))
	args := make([]interface{}, 0, len(key))
	for _, name := range key {
		col, ok := ts.Column(name)
		if !ok {
			return Statement{}, fmt.Errorf("key column %s of %s: %w", name, ts.Name, core.ErrInternalConsistency)
		}
		v, err := argument(values, col, data[name])
		if err != nil {
			return Statement{}, err
		}
		conds = append(conds, quote(name)+" <=> ?")
		args = append(args, v)
	}
	if len(conds) == 0 {
		return Statement{}, fmt.Errorf("%s: %w", ts.Name, ErrNoKey)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s LIMIT 1", tableIdent(ts.Name), strings.Join(conds, " AND "))
	return Statement{Query: query, Args: args}, nil
}

func hasUniqueKey(ts *core.TableSchema) bool {
	if ts.HasPrimaryKey() {
		return true
	}
	for _, idx := range ts.Indexes {
		if idx.Unique {
			return true
		}
	}
	return false
}

// argument converts a canonical value into a driver argument. A missing
// value is NULL.
func argument(values *codec.Codec, col *core.ColumnSchema, data []byte) (interface{}, error) {
	if data == nil {
		return nil, nil
	}
	switch col.Type {
	case core.ColumnTypeDate, core.ColumnTypeDatetime:
		// Canonical temporal values are already MySQL literals.
		return string(data), nil
	}
	v, err := values.Decode(col, data)
	if err != nil {
		return nil, err
	}
	if d, ok := v.(time.Duration); ok {
		return formatTime(d), nil
	}
	return v, nil
}

func formatTime(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign, d = "-", -d
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, s/3600, s/60%60, s%60)
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// tableIdent maps "db.table" to the table in the mirror's own schema.
func tableIdent(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return quote(name)
}
