package mirror

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rzpsarthak13/kvbridge/internal/codec"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	stmts []Statement
	fail  error
}

func (r *recorder) Exec(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	r.stmts = append(r.stmts, Statement{Query: query, Args: args})
	return nil, nil
}

var errNoTable = errors.New("no such table")

type schemas struct {
	tables map[string]*core.TableSchema
	loads  int
}

func (s *schemas) Schema(_ context.Context, name string) (*core.TableSchema, error) {
	s.loads++
	ts, ok := s.tables[name]
	if !ok {
		return nil, errNoTable
	}
	return ts, nil
}

func orders() *core.TableSchema {
	return &core.TableSchema{
		Name: "shop.orders",
		Columns: []core.ColumnSchema{
			{Name: "id", Type: core.ColumnTypeULong, PrimaryKey: true},
			{Name: "note", Type: core.ColumnTypeString, Nullable: true, MaxLength: 64},
			{Name: "total", Type: core.ColumnTypeDecimal, Precision: 10, Scale: 2},
			{Name: "placed", Type: core.ColumnTypeDatetime},
			{Name: "window", Type: core.ColumnTypeTime},
		},
		Indexes:    []core.IndexSchema{{Name: "id", Columns: []string{"id"}, Unique: true}},
		PrimaryKey: []string{"id"},
	}
}

func row(t *testing.T, c *codec.Codec, ts *core.TableSchema, values map[string]interface{}) map[string][]byte {
	data := make(map[string][]byte)
	for name, v := range values {
		col, ok := ts.Column(name)
		require.True(t, ok)
		b, err := c.Encode(col, v)
		require.NoError(t, err)
		data[name] = b
	}
	return data
}

func TestBuildStatementsInsert(t *testing.T) {
	c := codec.New()
	ts := orders()
	op := &core.WriteOperation{
		Table:     ts.Name,
		Operation: core.OperationCreate,
		Data: row(t, c, ts, map[string]interface{}{
			"id":     uint64(7),
			"total":  "19.90",
			"placed": "2024-03-01 10:30:00",
			"window": 90*time.Minute + 5*time.Second,
		}),
	}

	stmts, err := BuildStatements(ts, c, op)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t,
		"INSERT INTO `orders` (`id`, `note`, `total`, `placed`, `window`) VALUES (?, ?, ?, ?, ?)"+
			" ON DUPLICATE KEY UPDATE `id` = VALUES(`id`), `note` = VALUES(`note`), `total` = VALUES(`total`),"+
			" `placed` = VALUES(`placed`), `window` = VALUES(`window`)",
		stmts[0].Query)

	args := stmts[0].Args
	require.Len(t, args, 5)
	assert.Equal(t, uint64(7), args[0])
	assert.Nil(t, args[1], "missing columns are NULL")
	assert.True(t, decimal.RequireFromString("19.90").Equal(args[2].(decimal.Decimal)))
	assert.Equal(t, "2024-03-01 10:30:00", args[3])
	assert.Equal(t, "01:30:05", args[4])
}

func TestBuildStatementsUpdate(t *testing.T) {
	c := codec.New()
	ts := orders()
	before := row(t, c, ts, map[string]interface{}{"id": uint64(7), "total": "1.00", "placed": "2024-03-01 10:30:00"})
	after := row(t, c, ts, map[string]interface{}{"id": uint64(8), "total": "1.00", "placed": "2024-03-01 10:30:00"})

	op := &core.WriteOperation{Table: ts.Name, Operation: core.OperationUpdate, Data: after, Previous: before, Changed: []string{"total"}}
	stmts, err := BuildStatements(ts, c, op)
	require.NoError(t, err)
	require.Len(t, stmts, 1, "key unchanged")

	op.Changed = []string{"id"}
	stmts, err = BuildStatements(ts, c, op)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "DELETE FROM `orders` WHERE `id` <=> ? LIMIT 1", stmts[0].Query)
	assert.Equal(t, []interface{}{uint64(7)}, stmts[0].Args)
	assert.Equal(t, uint64(8), stmts[1].Args[0])
}

func TestBuildStatementsDeleteWithoutKey(t *testing.T) {
	c := codec.New()
	ts := &core.TableSchema{
		Name: "shop.log",
		Columns: []core.ColumnSchema{
			{Name: "msg", Type: core.ColumnTypeString, Nullable: true},
			{Name: "level", Type: core.ColumnTypeLong},
		},
	}
	op := &core.WriteOperation{Table: ts.Name, Operation: core.OperationDelete, Data: row(t, c, ts, map[string]interface{}{"level": 3})}

	stmts, err := BuildStatements(ts, c, op)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, "DELETE FROM `log` WHERE `msg` <=> ? AND `level` <=> ? LIMIT 1", stmts[0].Query)
	assert.Equal(t, []interface{}{nil, int64(3)}, stmts[0].Args)

	ins, err := BuildStatements(ts, c, &core.WriteOperation{Table: ts.Name, Operation: core.OperationCreate, Data: op.Data})
	require.NoError(t, err)
	assert.NotContains(t, ins[0].Query, "ON DUPLICATE KEY", "nothing to conflict on")

	_, err = BuildStatements(ts, c, &core.WriteOperation{Table: ts.Name, Operation: "MERGE"})
	assert.Error(t, err)
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{838*time.Hour + 59*time.Minute + 59*time.Second, "838:59:59"},
		{-(2*time.Hour + 3*time.Second), "-02:00:03"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatTime(tt.in))
	}
}

func TestMirrorExecute(t *testing.T) {
	ctx := context.Background()
	c := codec.New()
	ts := orders()
	src := &schemas{tables: map[string]*core.TableSchema{ts.Name: ts}}
	exec := &recorder{}

	cfg := registry.NewConfigManager()
	cfg.GetConfig().Mirror.Enabled = true
	cfg.GetConfig().Tables["shop.audit"] = registry.InternalTableConfig{Mirror: false}

	m := New(exec, src, c, cfg)
	op := &core.WriteOperation{
		Table:     ts.Name,
		Operation: core.OperationDelete,
		Data:      row(t, c, ts, map[string]interface{}{"id": uint64(1), "total": "0", "placed": "2024-01-01 00:00:00"}),
	}
	require.NoError(t, m.ExecuteWriteOperation(ctx, op))
	require.NoError(t, m.ExecuteWriteOperation(ctx, op))
	assert.Len(t, exec.stmts, 2)
	assert.Equal(t, 1, src.loads, "schema is cached")

	require.NoError(t, m.OnDrop(ctx, ts.Name))
	require.NoError(t, m.ExecuteWriteOperation(ctx, op))
	assert.Equal(t, 2, src.loads)

	require.NoError(t, m.ExecuteWriteOperation(ctx, &core.WriteOperation{Table: "shop.audit", Operation: core.OperationCreate}))
	assert.Len(t, exec.stmts, 3, "disabled tables are skipped")

	exec.fail = errors.New("server has gone away")
	assert.Error(t, m.ExecuteWriteOperation(ctx, op))

	assert.ErrorIs(t, m.ExecuteWriteOperation(ctx, &core.WriteOperation{Table: "shop.ghost", Operation: core.OperationDelete}), errNoTable)
}
