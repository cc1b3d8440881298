package core

import "strings"

// ColumnType is the semantic type of a column as the backend sees it.
type ColumnType string

const (
	// ColumnTypeLong is a signed integer of up to 8 bytes.
	ColumnTypeLong ColumnType = "LONG"

	// ColumnTypeULong is an unsigned integer of up to 8 bytes.
	ColumnTypeULong ColumnType = "ULONG"

	// ColumnTypeDouble is a floating-point value, always widened to 64 bits.
	ColumnTypeDouble ColumnType = "DOUBLE"

	// ColumnTypeDecimal is a fixed-point value with precision and scale.
	ColumnTypeDecimal ColumnType = "DECIMAL"

	// ColumnTypeFixedString is a fixed-length character column.
	ColumnTypeFixedString ColumnType = "CHAR"

	// ColumnTypeString is a variable-length character column.
	ColumnTypeString ColumnType = "STRING"

	// ColumnTypeBinary holds raw bytes (binary strings and blobs).
	ColumnTypeBinary ColumnType = "BINARY"

	// ColumnTypeDate is a calendar date.
	ColumnTypeDate ColumnType = "DATE"

	// ColumnTypeTime is a signed time-of-day duration.
	ColumnTypeTime ColumnType = "TIME"

	// ColumnTypeDatetime is a date and time.
	ColumnTypeDatetime ColumnType = "DATETIME"

	// ColumnTypeEnum is an enumeration stored as its unsigned ordinal.
	ColumnTypeEnum ColumnType = "ENUM"
)

// IsInteger reports whether values of the type are encoded as 8-byte integers.
func (t ColumnType) IsInteger() bool {
	switch t {
	case ColumnTypeLong, ColumnTypeULong, ColumnTypeEnum:
		return true
	}
	return false
}

// IsText reports whether values of the type are raw byte strings.
func (t ColumnType) IsText() bool {
	switch t {
	case ColumnTypeFixedString, ColumnTypeString, ColumnTypeBinary:
		return true
	}
	return false
}

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	// Name is unique within the table.
	Name string `json:"name" yaml:"name"`

	// Type is the semantic type.
	Type ColumnType `json:"type" yaml:"type"`

	// Nullable indicates whether the column accepts NULL.
	Nullable bool `json:"nullable" yaml:"nullable"`

	// MaxLength is the maximum encoded length in bytes.
	MaxLength uint32 `json:"max_length" yaml:"max_length"`

	// Precision and Scale are only meaningful for DECIMAL columns.
	Precision int `json:"precision,omitempty" yaml:"precision,omitempty"`
	Scale     int `json:"scale,omitempty" yaml:"scale,omitempty"`

	// AutoIncrement marks the table's auto-increment column.
	AutoIncrement bool `json:"auto_increment,omitempty" yaml:"auto_increment,omitempty"`

	// PrimaryKey marks columns that form the primary key.
	PrimaryKey bool `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
}

// IndexSchema describes one secondary or primary index.
type IndexSchema struct {
	// Name identifies the index; it is the comma-joined column list.
	Name string `json:"name" yaml:"name"`

	// Columns are the indexed columns in key-part order.
	Columns []string `json:"columns" yaml:"columns"`

	// Unique indicates whether the index rejects duplicate values.
	Unique bool `json:"unique" yaml:"unique"`
}

// IndexName returns the canonical name of an index over the given columns.
func IndexName(columns []string) string {
	return strings.Join(columns, ",")
}

// TableSchema is the backend-consumable description of a table.
type TableSchema struct {
	// Name is the fully qualified table name ("db.table").
	Name string `json:"name" yaml:"name"`

	// Columns are in server field order.
	Columns []ColumnSchema `json:"columns" yaml:"columns"`

	// Indexes are in server key order.
	Indexes []IndexSchema `json:"indexes,omitempty" yaml:"indexes,omitempty"`

	// PrimaryKey lists the primary key columns; empty when the table has none.
	PrimaryKey []string `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`

	// AutoIncrementValue is the initial auto-increment value.
	AutoIncrementValue uint64 `json:"auto_increment_value,omitempty" yaml:"auto_increment_value,omitempty"`
}

// HasPrimaryKey reports whether the table declares a primary key.
func (s *TableSchema) HasPrimaryKey() bool {
	return len(s.PrimaryKey) > 0
}

// Column returns the named column.
func (s *TableSchema) Column(name string) (*ColumnSchema, bool) {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i], true
		}
	}
	return nil, false
}

// Index returns the named index.
func (s *TableSchema) Index(name string) (*IndexSchema, bool) {
	for i := range s.Indexes {
		if s.Indexes[i].Name == name {
			return &s.Indexes[i], true
		}
	}
	return nil, false
}

// AutoIncrementColumn returns the auto-increment column, if any.
func (s *TableSchema) AutoIncrementColumn() (*ColumnSchema, bool) {
	for i := range s.Columns {
		if s.Columns[i].AutoIncrement {
			return &s.Columns[i], true
		}
	}
	return nil, false
}

// UniqueColumns returns the set of columns that belong to any unique index.
func (s *TableSchema) UniqueColumns() map[string]bool {
	cols := make(map[string]bool)
	for _, idx := range s.Indexes {
		if !idx.Unique {
			continue
		}
		for _, c := range idx.Columns {
			cols[c] = true
		}
	}
	return cols
}

// Clone returns a deep copy of the schema.
func (s *TableSchema) Clone() *TableSchema {
	out := *s
	out.Columns = append([]ColumnSchema(nil), s.Columns...)
	out.PrimaryKey = append([]string(nil), s.PrimaryKey...)
	out.Indexes = make([]IndexSchema, len(s.Indexes))
	for i, idx := range s.Indexes {
		idx.Columns = append([]string(nil), idx.Columns...)
		out.Indexes[i] = idx
	}
	return &out
}
