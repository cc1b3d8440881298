// Package sqlmeta models what the relational server hands to a storage
// engine: table, field and key metadata, the native row buffer, key buffers,
// column projections and seek flags. Everything here is read-only input from
// the engine's point of view, except the row buffers it fills.
package sqlmeta

import (
	"fmt"
	"strings"
)

// FieldType is the server's real field type.
type FieldType uint8

const (
	TypeDecimal    FieldType = 0
	TypeTiny       FieldType = 1
	TypeShort      FieldType = 2
	TypeLong       FieldType = 3
	TypeFloat      FieldType = 4
	TypeDouble     FieldType = 5
	TypeNull       FieldType = 6
	TypeTimestamp  FieldType = 7
	TypeLongLong   FieldType = 8
	TypeInt24      FieldType = 9
	TypeDate       FieldType = 10
	TypeTime       FieldType = 11
	TypeDatetime   FieldType = 12
	TypeYear       FieldType = 13
	TypeNewDate    FieldType = 14
	TypeVarchar    FieldType = 15
	TypeBit        FieldType = 16
	TypeNewDecimal FieldType = 246
	TypeEnum       FieldType = 247
	TypeSet        FieldType = 248
	TypeTinyBlob   FieldType = 249
	TypeMediumBlob FieldType = 250
	TypeLongBlob   FieldType = 251
	TypeBlob       FieldType = 252
	TypeVarString  FieldType = 253
	TypeString     FieldType = 254
	TypeGeometry   FieldType = 255
)

var fieldTypeNames = map[FieldType]string{
	TypeDecimal:    "DECIMAL",
	TypeTiny:       "TINY",
	TypeShort:      "SHORT",
	TypeLong:       "LONG",
	TypeFloat:      "FLOAT",
	TypeDouble:     "DOUBLE",
	TypeNull:       "NULL",
	TypeTimestamp:  "TIMESTAMP",
	TypeLongLong:   "LONGLONG",
	TypeInt24:      "INT24",
	TypeDate:       "DATE",
	TypeTime:       "TIME",
	TypeDatetime:   "DATETIME",
	TypeYear:       "YEAR",
	TypeNewDate:    "NEWDATE",
	TypeVarchar:    "VARCHAR",
	TypeBit:        "BIT",
	TypeNewDecimal: "NEWDECIMAL",
	TypeEnum:       "ENUM",
	TypeSet:        "SET",
	TypeTinyBlob:   "TINY_BLOB",
	TypeMediumBlob: "MEDIUM_BLOB",
	TypeLongBlob:   "LONG_BLOB",
	TypeBlob:       "BLOB",
	TypeVarString:  "VAR_STRING",
	TypeString:     "STRING",
	TypeGeometry:   "GEOMETRY",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("FieldType(%d)", uint8(t))
}

// IsInteger reports whether the type is one of the integer types.
func (t FieldType) IsInteger() bool {
	switch t {
	case TypeTiny, TypeShort, TypeInt24, TypeLong, TypeLongLong:
		return true
	}
	return false
}

// IsBlob reports whether the field stores its value out of line.
func (t FieldType) IsBlob() bool {
	switch t {
	case TypeTinyBlob, TypeBlob, TypeMediumBlob, TypeLongBlob, TypeGeometry:
		return true
	}
	return false
}

// IsVarchar reports whether the field carries an inline length prefix.
func (t FieldType) IsVarchar() bool {
	return t == TypeVarchar || t == TypeVarString
}

// Field describes one column as declared to the server.
type Field struct {
	Name string
	Type FieldType

	// Length is the byte capacity for string types, the display width for
	// YEAR, and the declared length otherwise.
	Length uint32

	Nullable bool
	Unsigned bool

	// Binary is set for BINARY/VARBINARY/BLOB columns and the BINARY attribute.
	Binary bool

	// Collation is the column's collation name, e.g. "utf8_bin".
	Collation string

	Precision uint8
	Scale     uint8

	// EnumCount is the number of ENUM elements.
	EnumCount int
}

// KeyPart references a field that participates in a key.
type KeyPart struct {
	// Field is the index into Table.Fields.
	Field int

	// Length is the indexed byte length; zero means the whole field.
	Length uint16
}

// Key is a server-declared index.
type Key struct {
	Name   string
	Parts  []KeyPart
	Unique bool
}

// Table is the server's description of an open table.
type Table struct {
	Database string
	Name     string
	Fields   []Field
	Keys     []Key

	// PrimaryKey is the index into Keys of the primary key, or -1.
	PrimaryKey int

	// NextNumberField is the index into Fields of the auto-increment field, or -1.
	NextNumberField int

	// AutoIncrementValue is the initial auto-increment value from CREATE TABLE.
	AutoIncrementValue uint64

	Partitioned bool

	// ReadSet and WriteSet are the server's column projections for the
	// current statement.
	ReadSet  *ColumnSet
	WriteSet *ColumnSet
}

// NewTable creates a table without keys and with full column projections.
func NewTable(database, name string, fields []Field) *Table {
	t := &Table{
		Database:        database,
		Name:            name,
		Fields:          fields,
		PrimaryKey:      -1,
		NextNumberField: -1,
		ReadSet:         NewColumnSet(len(fields)),
		WriteSet:        NewColumnSet(len(fields)),
	}
	t.ReadSet.SetAll()
	t.WriteSet.SetAll()
	return t
}

// QualifiedName returns "database.table".
func (t *Table) QualifiedName() string {
	return t.Database + "." + t.Name
}

// FieldIndex returns the position of the named field, or -1.
func (t *Table) FieldIndex(name string) int {
	for i := range t.Fields {
		if strings.EqualFold(t.Fields[i].Name, name) {
			return i
		}
	}
	return -1
}

// AddKey appends a key built from field names and returns its position.
func (t *Table) AddKey(name string, unique, primary bool, columns ...string) (int, error) {
	key := Key{Name: name, Unique: unique || primary}
	for _, c := range columns {
		idx := t.FieldIndex(c)
		if idx < 0 {
			return -1, fmt.Errorf("key %s: unknown column %q", name, c)
		}
		key.Parts = append(key.Parts, KeyPart{Field: idx})
	}
	if primary {
		if t.PrimaryKey >= 0 {
			return -1, fmt.Errorf("table %s already has a primary key", t.QualifiedName())
		}
		for _, p := range key.Parts {
			t.Fields[p.Field].Nullable = false
		}
		t.PrimaryKey = len(t.Keys)
	}
	t.Keys = append(t.Keys, key)
	return len(t.Keys) - 1, nil
}

// SetAutoIncrement designates the auto-increment field.
func (t *Table) SetAutoIncrement(column string, initial uint64) error {
	idx := t.FieldIndex(column)
	if idx < 0 {
		return fmt.Errorf("auto-increment: unknown column %q", column)
	}
	if !t.Fields[idx].Type.IsInteger() {
		return fmt.Errorf("auto-increment column %q must be an integer", column)
	}
	t.NextNumberField = idx
	t.AutoIncrementValue = initial
	return nil
}

// KeyColumns returns the field names of a key in key-part order.
func (t *Table) KeyColumns(key int) []string {
	parts := t.Keys[key].Parts
	cols := make([]string, len(parts))
	for i, p := range parts {
		cols[i] = t.Fields[p.Field].Name
	}
	return cols
}
