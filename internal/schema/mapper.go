package schema

import (
	"fmt"
	"math"
	"strings"

	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
)

// ColumnInfo is a column as described by INFORMATION_SCHEMA.COLUMNS.
type ColumnInfo struct {
	Name        string
	DataType    string // DATA_TYPE, e.g. "varchar"
	ColumnType  string // COLUMN_TYPE, e.g. "varchar(20)" or "int(10) unsigned"
	Nullable    bool
	OctetLength int64
	Precision   int64
	Scale       int64
	Collation   string
	Extra       string
}

// AutoIncrement reports whether the column is the table's auto-increment column.
func (ci ColumnInfo) AutoIncrement() bool {
	return strings.Contains(strings.ToLower(ci.Extra), "auto_increment")
}

// TypeMapper maps database type names onto server field metadata.
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

// MapColumn converts an introspected column into a server field.
func (tm *TypeMapper) MapColumn(ci ColumnInfo) (sqlmeta.Field, error) {
	columnType := strings.ToLower(strings.TrimSpace(ci.ColumnType))
	baseType := strings.ToLower(strings.TrimSpace(ci.DataType))
	if baseType == "" {
		baseType = columnType
		if idx := strings.IndexAny(baseType, "( "); idx > 0 {
			baseType = baseType[:idx]
		}
	}

	f := sqlmeta.Field{
		Name:      ci.Name,
		Nullable:  ci.Nullable,
		Unsigned:  strings.Contains(columnType, "unsigned"),
		Collation: ci.Collation,
	}

	switch baseType {
	case "tinyint", "bool", "boolean":
		f.Type = sqlmeta.TypeTiny
	case "smallint":
		f.Type = sqlmeta.TypeShort
	case "mediumint":
		f.Type = sqlmeta.TypeInt24
	case "int", "integer":
		f.Type = sqlmeta.TypeLong
	case "bigint":
		f.Type = sqlmeta.TypeLongLong
	case "float":
		f.Type = sqlmeta.TypeFloat
	case "double", "real", "double precision":
		f.Type = sqlmeta.TypeDouble
	case "decimal", "numeric":
		f.Type = sqlmeta.TypeNewDecimal
		f.Precision = uint8(ci.Precision)
		f.Scale = uint8(ci.Scale)
		f.Length = uint32(ci.Precision) + 1
		if ci.Scale > 0 {
			f.Length++
		}
	case "date":
		f.Type = sqlmeta.TypeNewDate
		f.Length = 10
	case "time":
		f.Type = sqlmeta.TypeTime
		f.Length = 10
	case "datetime":
		f.Type = sqlmeta.TypeDatetime
		f.Length = 19
	case "timestamp":
		f.Type = sqlmeta.TypeTimestamp
		f.Length = 19
	case "year":
		f.Type = sqlmeta.TypeYear
		f.Length = 4
		if strings.HasPrefix(columnType, "year(2)") {
			f.Length = 2
		}
	case "char", "binary":
		f.Type = sqlmeta.TypeString
		f.Binary = baseType == "binary"
		f.Length = octets(ci.OctetLength)
	case "varchar", "varbinary":
		f.Type = sqlmeta.TypeVarchar
		f.Binary = baseType == "varbinary"
		f.Length = octets(ci.OctetLength)
	case "tinytext", "tinyblob":
		f.Type = sqlmeta.TypeTinyBlob
		f.Binary = baseType == "tinyblob"
		f.Length = octets(ci.OctetLength)
	case "text", "blob":
		f.Type = sqlmeta.TypeBlob
		f.Binary = baseType == "blob"
		f.Length = octets(ci.OctetLength)
	case "mediumtext", "mediumblob":
		f.Type = sqlmeta.TypeMediumBlob
		f.Binary = baseType == "mediumblob"
		f.Length = octets(ci.OctetLength)
	case "longtext", "longblob":
		f.Type = sqlmeta.TypeLongBlob
		f.Binary = baseType == "longblob"
		f.Length = octets(ci.OctetLength)
	case "enum":
		f.Type = sqlmeta.TypeEnum
		f.EnumCount = countElements(columnType)
	case "set":
		f.Type = sqlmeta.TypeSet
		f.EnumCount = countElements(columnType)
	case "bit":
		f.Type = sqlmeta.TypeBit
		f.Length = uint32(ci.Precision)
	case "geometry", "point", "linestring", "polygon", "multipoint",
		"multilinestring", "multipolygon", "geometrycollection":
		f.Type = sqlmeta.TypeGeometry
	default:
		return sqlmeta.Field{}, fmt.Errorf("column %s: %w: %s", ci.Name, core.ErrUnsupportedColumnType, ci.DataType)
	}
	return f, nil
}

func octets(n int64) uint32 {
	if n < 0 {
		return 0
	}
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

// countElements counts the quoted members of an enum(...) or set(...) type.
func countElements(columnType string) int {
	open := strings.IndexByte(columnType, '(')
	closeIdx := strings.LastIndexByte(columnType, ')')
	if open < 0 || closeIdx <= open {
		return 0
	}
	body := columnType[open+1 : closeIdx]
	count, inQuote := 0, false
	for i := 0; i < len(body); i++ {
		if body[i] != '\'' {
			continue
		}
		if inQuote && i+1 < len(body) && body[i+1] == '\'' {
			i++
			continue
		}
		if !inQuote {
			count++
		}
		inQuote = !inQuote
	}
	return count
}
