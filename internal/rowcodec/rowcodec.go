// Package rowcodec converts native row buffers to Row Records and back.
package rowcodec

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/codec"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
)

// Codec marshals the rows of one open table.
type Codec struct {
	table  *sqlmeta.Table
	layout *sqlmeta.Layout
	schema *core.TableSchema
	values *codec.Codec
	unique map[string]bool
}

// Encoded is the result of encoding one native record.
type Encoded struct {
	Row *core.Row

	// Unique holds the encoded non-NULL values of columns that belong to a
	// unique index. It is the candidate set for duplicate detection.
	Unique map[string][]byte

	// AutoIncrement is the native value of the auto-increment column.
	// HasAutoIncrement is false when the table has none or it is NULL.
	AutoIncrement    uint64
	HasAutoIncrement bool
}

// New creates a row codec. The schema must have been built from table.
func New(table *sqlmeta.Table, schema *core.TableSchema, values *codec.Codec) (*Codec, error) {
	if len(schema.Columns) != len(table.Fields) {
		return nil, fmt.Errorf("schema %s has %d columns, table has %d fields: %w",
			schema.Name, len(schema.Columns), len(table.Fields), core.ErrInternalConsistency)
	}
	layout, err := sqlmeta.NewLayout(table)
	if err != nil {
		return nil, fmt.Errorf("failed to compute record layout for %s: %w", table.QualifiedName(), err)
	}
	if values == nil {
		values = codec.New()
	}
	return &Codec{
		table:  table,
		layout: layout,
		schema: schema,
		values: values,
		unique: schema.UniqueColumns(),
	}, nil
}

// Layout returns the native record layout.
func (c *Codec) Layout() *sqlmeta.Layout {
	return c.layout
}

// Schema returns the backend schema the codec encodes against.
func (c *Codec) Schema() *core.TableSchema {
	return c.schema
}

// Values returns the type codec.
func (c *Codec) Values() *codec.Codec {
	return c.values
}

// Encode converts the record at base into a Row Record identified by id.
// Every column is encoded; the read set is widened for the duration of the
// call and restored on return.
func (c *Codec) Encode(id uuid.UUID, rec *sqlmeta.Record, base int) (*Encoded, error) {
	restore := c.table.ReadSet.UseAll()
	defer restore()

	out := &Encoded{Row: core.NewRow(id), Unique: make(map[string][]byte)}
	for i := range c.table.Fields {
		if !c.table.ReadSet.IsSet(i) {
			continue
		}
		column := &c.schema.Columns[i]
		value, err := c.layout.ReadField(rec, base, i)
		if err != nil {
			return nil, fmt.Errorf("failed to read field %s: %w", column.Name, err)
		}
		if value == nil {
			continue
		}

		data, err := c.values.Encode(column, value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", column.Name, err)
		}
		out.Row.Set(column.Name, data)
		if c.unique[column.Name] {
			out.Unique[column.Name] = data
		}

		if i == c.table.NextNumberField {
			if v, err := codec.ToUint64(value); err == nil {
				out.AutoIncrement, out.HasAutoIncrement = v, true
			}
		}
	}
	return out, nil
}

// Decode fills the record at base from row for every column in the read
// set. Columns missing from row become NULL. The write set is widened
// while fields are stored and restored on return.
func (c *Codec) Decode(row *core.Row, rec *sqlmeta.Record, base int) error {
	restore := c.table.WriteSet.UseAll()
	defer restore()

	for i := range c.table.Fields {
		if !c.table.ReadSet.IsSet(i) {
			continue
		}
		value, ok := row.Get(c.schema.Columns[i].Name)
		if !ok {
			value = nil
		}
		if err := DecodeField(c.values, &c.schema.Columns[i], c.layout, i, value, rec, base); err != nil {
			return err
		}
	}
	return nil
}

// DecodeField stores one canonical value into field i of the record at
// base. A nil value sets the field NULL. It depends only on its arguments.
func DecodeField(values *codec.Codec, column *core.ColumnSchema, layout *sqlmeta.Layout, i int, data []byte, rec *sqlmeta.Record, base int) error {
	if data == nil {
		if err := layout.SetNull(rec, base, i, true); err != nil {
			return fmt.Errorf("column %s missing from row: %w", column.Name, core.ErrInternalConsistency)
		}
		return nil
	}
	value, err := values.Decode(column, data)
	if err != nil {
		return fmt.Errorf("failed to decode field %s: %w", column.Name, err)
	}
	if err := layout.WriteField(rec, base, i, value); err != nil {
		return fmt.Errorf("failed to store field %s: %w", column.Name, err)
	}
	return nil
}

// ChangedColumns returns, in field order, the columns whose value differs
// between the old and new records. A change of NULL state counts as a
// change; otherwise the native images are compared byte for byte.
func (c *Codec) ChangedColumns(old *sqlmeta.Record, oldBase int, new *sqlmeta.Record, newBase int) []string {
	var changed []string
	for i := range c.table.Fields {
		before := c.layout.FieldImage(old, oldBase, i)
		after := c.layout.FieldImage(new, newBase, i)
		if (before == nil) != (after == nil) || !bytes.Equal(before, after) {
			changed = append(changed, c.schema.Columns[i].Name)
		}
	}
	return changed
}
