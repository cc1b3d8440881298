package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
)

// Reason classifies why a table definition was rejected.
type Reason string

const (
	ReasonYear2           Reason = "year2"
	ReasonOddType         Reason = "odd-type"
	ReasonCharsetRequired Reason = "charset-required"
	ReasonPartitioned     Reason = "partitioned"
	ReasonAutoIncrement   Reason = "auto-increment"
)

var reasonMessages = map[Reason]string{
	ReasonYear2:           "YEAR(2) is not supported.",
	ReasonOddType:         "Bit, set and geometry are not supported.",
	ReasonCharsetRequired: "Required: character set utf8 collate utf8_bin",
	ReasonPartitioned:     "Partitions are not supported.",
	ReasonAutoIncrement:   "Only one auto-increment column is supported.",
}

// ValidationError is a create-table failure with a human-readable reason.
type ValidationError struct {
	Table  string
	Column string
	Reason Reason
}

func (e *ValidationError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%s table. %s", e.Table, reasonMessages[e.Reason])
	}
	return fmt.Sprintf("%s table, column %s. %s", e.Table, e.Column, reasonMessages[e.Reason])
}

// Unwrap maps the reason onto the engine error taxonomy.
func (e *ValidationError) Unwrap() error {
	if e.Reason == ReasonCharsetRequired {
		return core.ErrCharsetViolation
	}
	return core.ErrUnsupportedColumnType
}

// IsValidationError reports whether err is a create-table rejection.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Builder turns server table metadata into backend schemas.
type Builder struct{}

// NewBuilder creates a schema builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Validate rejects tables the engine cannot store.
func (b *Builder) Validate(table *sqlmeta.Table) error {
	name := table.QualifiedName()
	if table.Partitioned {
		return &ValidationError{Table: name, Reason: ReasonPartitioned}
	}
	for i := range table.Fields {
		if reason, ok := checkField(&table.Fields[i]); !ok {
			return &ValidationError{Table: name, Column: table.Fields[i].Name, Reason: reason}
		}
	}
	if table.NextNumberField >= len(table.Fields) {
		return &ValidationError{Table: name, Reason: ReasonAutoIncrement}
	}
	return nil
}

func checkField(f *sqlmeta.Field) (Reason, bool) {
	switch f.Type {
	case sqlmeta.TypeYear:
		if f.Length == 2 {
			return ReasonYear2, false
		}
	case sqlmeta.TypeBit, sqlmeta.TypeSet, sqlmeta.TypeGeometry, sqlmeta.TypeNull:
		return ReasonOddType, false
	case sqlmeta.TypeString, sqlmeta.TypeVarchar, sqlmeta.TypeVarString,
		sqlmeta.TypeTinyBlob, sqlmeta.TypeBlob, sqlmeta.TypeMediumBlob, sqlmeta.TypeLongBlob:
		if !f.Binary && !isUTF8Bin(f.Collation) {
			return ReasonCharsetRequired, false
		}
	}
	return "", true
}

func isUTF8Bin(collation string) bool {
	c := strings.ToLower(collation)
	return strings.HasPrefix(c, "utf8_bin") || c == "utf8mb3_bin"
}

// Build validates table and produces its backend schema.
func (b *Builder) Build(table *sqlmeta.Table) (*core.TableSchema, error) {
	if err := b.Validate(table); err != nil {
		return nil, err
	}

	ts := &core.TableSchema{
		Name:               table.QualifiedName(),
		Columns:            make([]core.ColumnSchema, len(table.Fields)),
		AutoIncrementValue: table.AutoIncrementValue,
	}
	for i := range table.Fields {
		col, err := b.BuildColumn(table, i)
		if err != nil {
			return nil, err
		}
		ts.Columns[i] = col
	}
	if table.NextNumberField >= 0 && ts.AutoIncrementValue == 0 {
		ts.AutoIncrementValue = 1
	}

	if table.PrimaryKey >= 0 {
		ts.PrimaryKey = table.KeyColumns(table.PrimaryKey)
		for _, p := range table.Keys[table.PrimaryKey].Parts {
			ts.Columns[p.Field].PrimaryKey = true
		}
	}

	for k := range table.Keys {
		ts.Indexes = append(ts.Indexes, b.BuildIndex(table, k))
	}
	return ts, nil
}

// BuildColumn maps field i of table to a column descriptor.
func (b *Builder) BuildColumn(table *sqlmeta.Table, i int) (core.ColumnSchema, error) {
	f := &table.Fields[i]
	col := core.ColumnSchema{
		Name:          f.Name,
		Nullable:      f.Nullable,
		AutoIncrement: i == table.NextNumberField,
	}

	switch f.Type {
	case sqlmeta.TypeTiny, sqlmeta.TypeShort, sqlmeta.TypeInt24, sqlmeta.TypeLong,
		sqlmeta.TypeLongLong, sqlmeta.TypeYear:
		col.Type = core.ColumnTypeLong
		if f.Unsigned {
			col.Type = core.ColumnTypeULong
		}
		col.MaxLength = 8
	case sqlmeta.TypeFloat, sqlmeta.TypeDouble:
		col.Type = core.ColumnTypeDouble
		col.MaxLength = 8
	case sqlmeta.TypeDecimal, sqlmeta.TypeNewDecimal:
		col.Type = core.ColumnTypeDecimal
		col.Precision = int(f.Precision)
		col.Scale = int(f.Scale)
		col.MaxLength = f.Length
	case sqlmeta.TypeDate, sqlmeta.TypeNewDate:
		col.Type = core.ColumnTypeDate
		col.MaxLength = f.Length
	case sqlmeta.TypeTime:
		col.Type = core.ColumnTypeTime
		col.MaxLength = 8
	case sqlmeta.TypeDatetime, sqlmeta.TypeTimestamp:
		col.Type = core.ColumnTypeDatetime
		col.MaxLength = f.Length
	case sqlmeta.TypeString:
		col.Type = core.ColumnTypeFixedString
		if f.Binary {
			col.Type = core.ColumnTypeBinary
		}
		col.MaxLength = f.Length
	case sqlmeta.TypeVarchar, sqlmeta.TypeVarString:
		col.Type = core.ColumnTypeString
		if f.Binary {
			col.Type = core.ColumnTypeBinary
		}
		col.MaxLength = f.Length
	case sqlmeta.TypeTinyBlob, sqlmeta.TypeBlob, sqlmeta.TypeMediumBlob, sqlmeta.TypeLongBlob:
		col.Type = core.ColumnTypeBinary
		col.MaxLength = f.Length
	case sqlmeta.TypeEnum:
		col.Type = core.ColumnTypeEnum
		col.MaxLength = 8
	default:
		return core.ColumnSchema{}, &ValidationError{Table: table.QualifiedName(), Column: f.Name, Reason: ReasonOddType}
	}
	return col, nil
}

// BuildIndex maps key k of table to an index descriptor.
func (b *Builder) BuildIndex(table *sqlmeta.Table, k int) core.IndexSchema {
	cols := table.KeyColumns(k)
	return core.IndexSchema{
		Name:    core.IndexName(cols),
		Columns: cols,
		Unique:  table.Keys[k].Unique,
	}
}

// IndexName returns the canonical name of key k.
func IndexName(table *sqlmeta.Table, k int) string {
	return core.IndexName(table.KeyColumns(k))
}
