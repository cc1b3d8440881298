package schema

import (
	"errors"
	"fmt"

	"github.com/rzpsarthak13/kvbridge/internal/core"
)

var (
	// ErrInvalidRow is returned when a row does not match its table schema.
	ErrInvalidRow = errors.New("row does not match schema")
)

// RowValidator validates Row Records against a table schema before the
// backend stores them.
type RowValidator struct {
	schema  *core.TableSchema
	columns map[string]*core.ColumnSchema
}

// NewRowValidator creates a validator for the given schema.
func NewRowValidator(schema *core.TableSchema) *RowValidator {
	cols := make(map[string]*core.ColumnSchema, len(schema.Columns))
	for i := range schema.Columns {
		cols[schema.Columns[i].Name] = &schema.Columns[i]
	}
	return &RowValidator{schema: schema, columns: cols}
}

// ValidateRow checks a full row image: every column must be known,
// non-nullable columns must be present and values must respect the
// column's encoded size.
func (rv *RowValidator) ValidateRow(row *core.Row) error {
	if row == nil {
		return fmt.Errorf("%w: row cannot be nil", ErrInvalidRow)
	}

	for name, value := range row.Values {
		column, ok := rv.columns[name]
		if !ok {
			return fmt.Errorf("%w: unknown column '%s'", ErrInvalidRow, name)
		}
		if err := rv.validateValue(column, value); err != nil {
			return fmt.Errorf("%w: column '%s': %v", ErrInvalidRow, name, err)
		}
	}

	for i := range rv.schema.Columns {
		column := &rv.schema.Columns[i]
		if !column.Nullable && row.IsNull(column.Name) {
			return fmt.Errorf("%w: column '%s' cannot be NULL", ErrInvalidRow, column.Name)
		}
	}
	return nil
}

// ValidatePartialRow checks only the listed columns of an update.
func (rv *RowValidator) ValidatePartialRow(row *core.Row, changed []string) error {
	if row == nil {
		return fmt.Errorf("%w: row cannot be nil", ErrInvalidRow)
	}
	for _, name := range changed {
		column, ok := rv.columns[name]
		if !ok {
			return fmt.Errorf("%w: unknown column '%s'", ErrInvalidRow, name)
		}
		value, present := row.Get(name)
		if !present {
			if !column.Nullable {
				return fmt.Errorf("%w: column '%s' cannot be NULL", ErrInvalidRow, name)
			}
			continue
		}
		if err := rv.validateValue(column, value); err != nil {
			return fmt.Errorf("%w: column '%s': %v", ErrInvalidRow, name, err)
		}
	}
	return nil
}

func (rv *RowValidator) validateValue(column *core.ColumnSchema, value []byte) error {
	switch {
	case column.Type.IsInteger(), column.Type == core.ColumnTypeDouble, column.Type == core.ColumnTypeTime:
		if len(value) != 8 {
			return fmt.Errorf("expected 8 bytes, got %d", len(value))
		}
	case column.Type == core.ColumnTypeDecimal:
		if column.MaxLength > 0 && uint32(len(value)) > column.MaxLength {
			return fmt.Errorf("packed decimal of %d bytes exceeds %d", len(value), column.MaxLength)
		}
	case column.Type.IsText():
		if column.MaxLength > 0 && uint32(len(value)) > column.MaxLength {
			return fmt.Errorf("value of %d bytes exceeds max length %d", len(value), column.MaxLength)
		}
	}
	return nil
}
