package database

import (
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/rzpsarthak13/kvbridge/internal/schema"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN(registry.InternalDatabaseConfig{
		Host:              "db.internal",
		Port:              3307,
		Database:          "shop",
		Username:          "mirror",
		Password:          "s3cret",
		ConnectionTimeout: 2 * time.Second,
	})

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db.internal:3307", cfg.Addr)
	assert.Equal(t, "shop", cfg.DBName)
	assert.Equal(t, "mirror", cfg.User)
	assert.Equal(t, "s3cret", cfg.Passwd)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
}

func payments() *TableDescription {
	return &TableDescription{
		Database: "shop",
		Name:     "payments",
		Columns: []schema.ColumnInfo{
			{Name: "id", DataType: "bigint", ColumnType: "bigint(20) unsigned", Extra: "auto_increment"},
			{Name: "merchant", DataType: "varchar", ColumnType: "varchar(32)", OctetLength: 32, Nullable: true, Collation: "utf8_bin"},
			{Name: "amount", DataType: "decimal", ColumnType: "decimal(12,2)", Precision: 12, Scale: 2},
		},
		Keys: []KeyInfo{
			{Name: "merchant_amount", Columns: []string{"merchant", "amount"}},
			{Name: "PRIMARY", Columns: []string{"id"}, Unique: true},
		},
		AutoIncrement: 1001,
	}
}

func TestServerTable(t *testing.T) {
	tbl, err := payments().ServerTable(schema.NewTypeMapper())
	require.NoError(t, err)

	assert.Equal(t, "shop.payments", tbl.QualifiedName())
	require.Len(t, tbl.Fields, 3)
	assert.Equal(t, sqlmeta.TypeLongLong, tbl.Fields[0].Type)
	assert.True(t, tbl.Fields[0].Unsigned)
	assert.Equal(t, sqlmeta.TypeVarchar, tbl.Fields[1].Type)
	assert.Equal(t, sqlmeta.TypeNewDecimal, tbl.Fields[2].Type)

	require.Len(t, tbl.Keys, 2)
	assert.Equal(t, 0, tbl.PrimaryKey, "primary key comes first")
	assert.Equal(t, []string{"merchant", "amount"}, tbl.KeyColumns(1))
	assert.False(t, tbl.Keys[1].Unique)

	assert.Equal(t, 0, tbl.NextNumberField)
	assert.Equal(t, uint64(1001), tbl.AutoIncrementValue)

	ts, err := schema.NewBuilder().Build(tbl)
	require.NoError(t, err, "imported tables are accepted by the schema builder")
	assert.Equal(t, []string{"id"}, ts.PrimaryKey)
}

func TestServerTableRejectsUnknownTypes(t *testing.T) {
	desc := payments()
	desc.Columns = append(desc.Columns, schema.ColumnInfo{Name: "doc", DataType: "json", ColumnType: "json"})
	_, err := desc.ServerTable(schema.NewTypeMapper())
	assert.ErrorIs(t, err, core.ErrUnsupportedColumnType)

	_, err = (&TableDescription{Database: "shop", Name: "ghost"}).ServerTable(schema.NewTypeMapper())
	assert.ErrorIs(t, err, ErrTableNotFound)
}
