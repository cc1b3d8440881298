// Package database connects to MySQL for two jobs: introspecting existing
// tables so they can be recreated in the engine, and replaying the change
// feed into a mirror copy.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/rzpsarthak13/kvbridge/internal/schema"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
)

const primaryKeyName = "PRIMARY"

var (
	// ErrDatabaseClosed is returned by calls on a closed connection pool.
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrTableNotFound is returned when INFORMATION_SCHEMA has no such table.
	ErrTableNotFound = errors.New("table not found in database")
)

// KeyInfo is one index as described by INFORMATION_SCHEMA.STATISTICS.
type KeyInfo struct {
	Name    string
	Columns []string
	Unique  bool
}

// Primary reports whether the key is the primary key.
func (k KeyInfo) Primary() bool {
	return k.Name == primaryKeyName
}

// TableDescription is the introspected definition of one MySQL table.
type TableDescription struct {
	Database      string
	Name          string
	Columns       []schema.ColumnInfo
	Keys          []KeyInfo
	AutoIncrement uint64
}

// MySQLDatabase is a connection pool to one MySQL schema.
type MySQLDatabase struct {
	db       *sql.DB
	database string
	closed   bool
}

// DSN builds a driver connection string from cfg.
func DSN(cfg registry.InternalDatabaseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Timeout = cfg.ConnectionTimeout
	return mc.FormatDSN()
}

// Open connects to MySQL and verifies the connection.
func Open(ctx context.Context, cfg registry.InternalDatabaseConfig) (*MySQLDatabase, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectionTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Printf("[MYSQL] Connected to %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	return &MySQLDatabase{db: db, database: cfg.Database}, nil
}

// Exec executes a statement.
func (m *MySQLDatabase) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if m.closed {
		return nil, ErrDatabaseClosed
	}
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Printf("[MYSQL] ERROR: Exec failed: %v", err)
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	return result, nil
}

// Tables returns the base tables of the connected schema.
func (m *MySQLDatabase) Tables(ctx context.Context) ([]string, error) {
	if m.closed {
		return nil, ErrDatabaseClosed
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// DescribeTable reads the columns, keys and auto-increment counter of a
// table in the connected schema.
func (m *MySQLDatabase) DescribeTable(ctx context.Context, table string) (*TableDescription, error) {
	if m.closed {
		return nil, ErrDatabaseClosed
	}
	desc := &TableDescription{Database: m.database, Name: table}

	var autoInc sql.NullInt64
	err := m.db.QueryRowContext(ctx, `
		SELECT AUTO_INCREMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`, table).Scan(&autoInc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s.%s: %w", m.database, table, ErrTableNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", table, err)
	}
	if autoInc.Valid && autoInc.Int64 > 0 {
		desc.AutoIncrement = uint64(autoInc.Int64)
	}

	if desc.Columns, err = m.columns(ctx, table); err != nil {
		return nil, err
	}
	if desc.Keys, err = m.keys(ctx, table); err != nil {
		return nil, err
	}
	return desc, nil
}

func (m *MySQLDatabase) columns(ctx context.Context, table string) ([]schema.ColumnInfo, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, IS_NULLABLE,
		       CHARACTER_OCTET_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE,
		       COLLATION_NAME, EXTRA
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []schema.ColumnInfo
	for rows.Next() {
		var (
			ci                       schema.ColumnInfo
			nullable                 string
			octets, precision, scale sql.NullInt64
			collation                sql.NullString
		)
		if err := rows.Scan(&ci.Name, &ci.DataType, &ci.ColumnType, &nullable,
			&octets, &precision, &scale, &collation, &ci.Extra); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		ci.Nullable = nullable == "YES"
		ci.OctetLength = octets.Int64
		ci.Precision = precision.Int64
		ci.Scale = scale.Int64
		ci.Collation = collation.String
		columns = append(columns, ci)
	}
	return columns, rows.Err()
}

func (m *MySQLDatabase) keys(ctx context.Context, table string) ([]KeyInfo, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*KeyInfo)
	var order []string
	for rows.Next() {
		var name, column string
		var nonUnique int
		if err := rows.Scan(&name, &column, &nonUnique); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		k, ok := byName[name]
		if !ok {
			k = &KeyInfo{Name: name, Unique: nonUnique == 0}
			byName[name] = k
			order = append(order, name)
		}
		k.Columns = append(k.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating indexes: %w", err)
	}

	keys := make([]KeyInfo, 0, len(order))
	for _, name := range order {
		keys = append(keys, *byName[name])
	}
	return keys, nil
}

// ImportTable introspects table and converts it into server metadata.
func (m *MySQLDatabase) ImportTable(ctx context.Context, table string) (*sqlmeta.Table, error) {
	desc, err := m.DescribeTable(ctx, table)
	if err != nil {
		return nil, err
	}
	return desc.ServerTable(schema.NewTypeMapper())
}

// ServerTable converts the description into server metadata. The primary
// key becomes key 0; other keys follow in name order.
func (d *TableDescription) ServerTable(mapper *schema.TypeMapper) (*sqlmeta.Table, error) {
	if len(d.Columns) == 0 {
		return nil, fmt.Errorf("%s.%s: %w", d.Database, d.Name, ErrTableNotFound)
	}
	fields := make([]sqlmeta.Field, len(d.Columns))
	autoInc := ""
	for i, ci := range d.Columns {
		f, err := mapper.MapColumn(ci)
		if err != nil {
			return nil, err
		}
		fields[i] = f
		if ci.AutoIncrement() {
			autoInc = ci.Name
		}
	}
	t := sqlmeta.NewTable(d.Database, d.Name, fields)

	keys := append([]KeyInfo(nil), d.Keys...)
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].Primary() != keys[j].Primary() {
			return keys[i].Primary()
		}
		return keys[i].Name < keys[j].Name
	})
	for _, k := range keys {
		if _, err := t.AddKey(strings.ToLower(k.Name), k.Unique, k.Primary(), k.Columns...); err != nil {
			return nil, err
		}
	}

	if autoInc != "" {
		if err := t.SetAutoIncrement(autoInc, d.AutoIncrement); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Close closes the connection pool.
func (m *MySQLDatabase) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
