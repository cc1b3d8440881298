package schema

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentsTable(t *testing.T) *sqlmeta.Table {
	t.Helper()
	tbl := sqlmeta.NewTable("shop", "payments", []sqlmeta.Field{
		{Name: "id", Type: sqlmeta.TypeLong, Length: 11},
		{Name: "name", Type: sqlmeta.TypeVarchar, Length: 20, Nullable: true, Binary: true},
		{Name: "amount", Type: sqlmeta.TypeNewDecimal, Precision: 10, Scale: 2, Length: 12, Nullable: true},
	})
	_, err := tbl.AddKey("PRIMARY", true, true, "id")
	require.NoError(t, err)
	require.NoError(t, tbl.SetAutoIncrement("id", 1))
	return tbl
}

func TestBuildPaymentsSchema(t *testing.T) {
	ts, err := NewBuilder().Build(paymentsTable(t))
	require.NoError(t, err)

	id, ok := ts.Column("id")
	require.True(t, ok)
	assert.True(t, id.PrimaryKey)
	assert.True(t, id.AutoIncrement)
	assert.Equal(t, core.ColumnTypeLong, id.Type)
	assert.False(t, id.Nullable)

	name, ok := ts.Column("name")
	require.True(t, ok)
	assert.Equal(t, core.ColumnTypeBinary, name.Type)
	assert.False(t, name.PrimaryKey)
	assert.True(t, name.Nullable)
	assert.Equal(t, uint32(20), name.MaxLength)

	amount, ok := ts.Column("amount")
	require.True(t, ok)
	assert.Equal(t, core.ColumnTypeDecimal, amount.Type)
	assert.Equal(t, 10, amount.Precision)
	assert.Equal(t, 2, amount.Scale)

	assert.Equal(t, []string{"id"}, ts.PrimaryKey)
	assert.Equal(t, uint64(1), ts.AutoIncrementValue)
	require.Len(t, ts.Indexes, 1)
	assert.Equal(t, core.IndexSchema{Name: "id", Columns: []string{"id"}, Unique: true}, ts.Indexes[0])
}

func TestBuildWithoutPrimaryKey(t *testing.T) {
	tbl := sqlmeta.NewTable("shop", "log", []sqlmeta.Field{
		{Name: "msg", Type: sqlmeta.TypeVarchar, Length: 100, Collation: "utf8_bin"},
		{Name: "at", Type: sqlmeta.TypeDatetime, Length: 19},
	})
	_, err := tbl.AddKey("msg_at", false, false, "msg", "at")
	require.NoError(t, err)

	ts, err := NewBuilder().Build(tbl)
	require.NoError(t, err)
	assert.False(t, ts.HasPrimaryKey())
	assert.Empty(t, ts.PrimaryKey)
	for _, c := range ts.Columns {
		assert.False(t, c.PrimaryKey)
		assert.False(t, c.AutoIncrement)
	}
	assert.Equal(t, core.ColumnTypeString, ts.Columns[0].Type)
	assert.Equal(t, "msg,at", ts.Indexes[0].Name)
	assert.Equal(t, "msg,at", IndexName(tbl, 0))
	assert.False(t, ts.Indexes[0].Unique)
}

func TestCompositePrimaryKeyFlagsEveryPart(t *testing.T) {
	tbl := sqlmeta.NewTable("shop", "lines", []sqlmeta.Field{
		{Name: "order_id", Type: sqlmeta.TypeLongLong, Unsigned: true},
		{Name: "line", Type: sqlmeta.TypeShort},
		{Name: "sku", Type: sqlmeta.TypeString, Length: 8, Binary: true},
	})
	_, err := tbl.AddKey("PRIMARY", true, true, "order_id", "line")
	require.NoError(t, err)

	ts, err := NewBuilder().Build(tbl)
	require.NoError(t, err)
	assert.True(t, ts.Columns[0].PrimaryKey)
	assert.True(t, ts.Columns[1].PrimaryKey)
	assert.False(t, ts.Columns[2].PrimaryKey)
	assert.Equal(t, core.ColumnTypeULong, ts.Columns[0].Type)
	assert.Equal(t, core.ColumnTypeBinary, ts.Columns[2].Type)
}

func TestValidationRejections(t *testing.T) {
	tests := []struct {
		name   string
		field  sqlmeta.Field
		reason Reason
		kind   error
	}{
		{"year2", sqlmeta.Field{Name: "y", Type: sqlmeta.TypeYear, Length: 2}, ReasonYear2, core.ErrUnsupportedColumnType},
		{"bit", sqlmeta.Field{Name: "b", Type: sqlmeta.TypeBit, Length: 1}, ReasonOddType, core.ErrUnsupportedColumnType},
		{"set", sqlmeta.Field{Name: "s", Type: sqlmeta.TypeSet, EnumCount: 2}, ReasonOddType, core.ErrUnsupportedColumnType},
		{"geometry", sqlmeta.Field{Name: "g", Type: sqlmeta.TypeGeometry}, ReasonOddType, core.ErrUnsupportedColumnType},
		{"latin1 varchar", sqlmeta.Field{Name: "v", Type: sqlmeta.TypeVarchar, Length: 10, Collation: "latin1_swedish_ci"}, ReasonCharsetRequired, core.ErrCharsetViolation},
		{"utf8 ci char", sqlmeta.Field{Name: "c", Type: sqlmeta.TypeString, Length: 10, Collation: "utf8_general_ci"}, ReasonCharsetRequired, core.ErrCharsetViolation},
		{"text without collation", sqlmeta.Field{Name: "t", Type: sqlmeta.TypeBlob}, ReasonCharsetRequired, core.ErrCharsetViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := sqlmeta.NewTable("shop", "bad", []sqlmeta.Field{tt.field})
			_, err := NewBuilder().Build(tbl)
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.reason, ve.Reason)
			assert.Equal(t, tt.field.Name, ve.Column)
			assert.ErrorIs(t, err, tt.kind)
			assert.Contains(t, err.Error(), reasonMessages[tt.reason])
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestValidationAccepts(t *testing.T) {
	tbl := sqlmeta.NewTable("shop", "ok", []sqlmeta.Field{
		{Name: "y", Type: sqlmeta.TypeYear, Length: 4},
		{Name: "bin", Type: sqlmeta.TypeBlob, Binary: true},
		{Name: "txt", Type: sqlmeta.TypeBlob, Collation: "utf8_bin"},
		{Name: "e", Type: sqlmeta.TypeEnum, EnumCount: 3},
	})
	ts, err := NewBuilder().Build(tbl)
	require.NoError(t, err)
	assert.Equal(t, core.ColumnTypeLong, ts.Columns[0].Type)
	assert.Equal(t, core.ColumnTypeBinary, ts.Columns[1].Type)
	assert.Equal(t, core.ColumnTypeBinary, ts.Columns[2].Type)
	assert.Equal(t, core.ColumnTypeEnum, ts.Columns[3].Type)
}

func TestPartitionedTableRejected(t *testing.T) {
	tbl := paymentsTable(t)
	tbl.Partitioned = true
	err := NewBuilder().Validate(tbl)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ReasonPartitioned, ve.Reason)
}

func TestSerializerVersioning(t *testing.T) {
	ts, err := NewBuilder().Build(paymentsTable(t))
	require.NoError(t, err)

	data, err := Marshal(ts)
	require.NoError(t, err)
	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, ts, back)

	_, err = Unmarshal([]byte(`{"version":1,"schema":{"name":"x"}}`))
	assert.ErrorIs(t, err, ErrSchemaVersion)

	_, err = Unmarshal([]byte(`{"version":2}`))
	assert.Error(t, err)
}

func TestRowValidator(t *testing.T) {
	ts, err := NewBuilder().Build(paymentsTable(t))
	require.NoError(t, err)
	rv := NewRowValidator(ts)

	row := core.NewRow(uuid.New())
	row.Set("id", make([]byte, 8))
	assert.NoError(t, rv.ValidateRow(row))

	missing := core.NewRow(uuid.New())
	assert.ErrorIs(t, rv.ValidateRow(missing), ErrInvalidRow)

	unknown := row.Clone()
	unknown.Set("ghost", []byte("x"))
	assert.ErrorIs(t, rv.ValidateRow(unknown), ErrInvalidRow)

	short := core.NewRow(uuid.New())
	short.Set("id", []byte{1})
	assert.ErrorIs(t, rv.ValidateRow(short), ErrInvalidRow)

	long := row.Clone()
	long.Set("name", make([]byte, 21))
	assert.ErrorIs(t, rv.ValidatePartialRow(long, []string{"name"}), ErrInvalidRow)
	assert.NoError(t, rv.ValidatePartialRow(long, []string{"amount"}))
}

func TestMapColumn(t *testing.T) {
	tm := NewTypeMapper()
	tests := []struct {
		info ColumnInfo
		want sqlmeta.Field
	}{
		{
			ColumnInfo{Name: "id", DataType: "int", ColumnType: "int(10) unsigned", Extra: "auto_increment"},
			sqlmeta.Field{Name: "id", Type: sqlmeta.TypeLong, Unsigned: true},
		},
		{
			ColumnInfo{Name: "name", DataType: "varchar", ColumnType: "varchar(20)", Nullable: true, OctetLength: 60, Collation: "utf8_bin"},
			sqlmeta.Field{Name: "name", Type: sqlmeta.TypeVarchar, Length: 60, Nullable: true, Collation: "utf8_bin"},
		},
		{
			ColumnInfo{Name: "amount", DataType: "decimal", ColumnType: "decimal(10,2)", Precision: 10, Scale: 2},
			sqlmeta.Field{Name: "amount", Type: sqlmeta.TypeNewDecimal, Precision: 10, Scale: 2, Length: 12},
		},
		{
			ColumnInfo{Name: "state", DataType: "enum", ColumnType: "enum('new','it''s','done')"},
			sqlmeta.Field{Name: "state", Type: sqlmeta.TypeEnum, EnumCount: 3},
		},
		{
			ColumnInfo{Name: "y", DataType: "year", ColumnType: "year(2)"},
			sqlmeta.Field{Name: "y", Type: sqlmeta.TypeYear, Length: 2},
		},
		{
			ColumnInfo{Name: "raw", DataType: "varbinary", ColumnType: "varbinary(16)", OctetLength: 16},
			sqlmeta.Field{Name: "raw", Type: sqlmeta.TypeVarchar, Length: 16, Binary: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.info.Name, func(t *testing.T) {
			got, err := tm.MapColumn(tt.info)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := tm.MapColumn(ColumnInfo{Name: "doc", DataType: "json"})
	assert.ErrorIs(t, err, core.ErrUnsupportedColumnType)
	assert.True(t, ColumnInfo{Extra: "auto_increment"}.AutoIncrement())
}
