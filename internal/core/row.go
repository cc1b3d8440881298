package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// rowFormatVersion tags every serialized Row so readers can reject mismatches.
const rowFormatVersion byte = 1

// ErrRowFormat is returned when a serialized row cannot be decoded.
var ErrRowFormat = errors.New("invalid row encoding")

// Row is the wire form of one table row: column name to encoded value plus
// a 16-byte row identifier. A column absent from Values is NULL; an empty
// slice is an empty, non-NULL value.
type Row struct {
	ID     uuid.UUID
	Values map[string][]byte
}

// NewRow creates an empty row with the given identifier.
func NewRow(id uuid.UUID) *Row {
	return &Row{ID: id, Values: make(map[string][]byte)}
}

// Set stores a non-NULL value. A nil slice is stored as an empty value.
func (r *Row) Set(column string, value []byte) {
	if value == nil {
		value = []byte{}
	}
	r.Values[column] = value
}

// SetNull marks the column NULL by removing it.
func (r *Row) SetNull(column string) {
	delete(r.Values, column)
}

// Get returns the encoded value and whether the column is non-NULL.
func (r *Row) Get(column string) ([]byte, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// IsNull reports whether the column is NULL in this row.
func (r *Row) IsNull(column string) bool {
	_, ok := r.Values[column]
	return !ok
}

// Columns returns the non-NULL column names in sorted order.
func (r *Row) Columns() []string {
	cols := make([]string, 0, len(r.Values))
	for c := range r.Values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() *Row {
	out := NewRow(r.ID)
	for c, v := range r.Values {
		out.Values[c] = append([]byte{}, v...)
	}
	return out
}

// MarshalBinary encodes the row as
// version | id(16) | count | (len name, name, len value, value)*.
func (r *Row) MarshalBinary() ([]byte, error) {
	cols := r.Columns()
	size := 1 + 16 + binary.MaxVarintLen64
	for _, c := range cols {
		size += 2*binary.MaxVarintLen64 + len(c) + len(r.Values[c])
	}
	buf := make([]byte, 0, size)
	buf = append(buf, rowFormatVersion)
	buf = append(buf, r.ID[:]...)
	buf = binary.AppendUvarint(buf, uint64(len(cols)))
	for _, c := range cols {
		v := r.Values[c]
		buf = binary.AppendUvarint(buf, uint64(len(c)))
		buf = append(buf, c...)
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		buf = append(buf, v...)
	}
	return buf, nil
}

// UnmarshalBinary decodes a row produced by MarshalBinary.
func (r *Row) UnmarshalBinary(data []byte) error {
	if len(data) < 17 {
		return fmt.Errorf("%w: short buffer (%d bytes)", ErrRowFormat, len(data))
	}
	if data[0] != rowFormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrRowFormat, data[0])
	}
	copy(r.ID[:], data[1:17])
	pos := 17

	count, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return fmt.Errorf("%w: bad column count", ErrRowFormat)
	}
	pos += n

	r.Values = make(map[string][]byte, count)
	for i := uint64(0); i < count; i++ {
		name, next, err := readChunk(data, pos)
		if err != nil {
			return err
		}
		value, next, err := readChunk(data, next)
		if err != nil {
			return err
		}
		r.Values[string(name)] = append([]byte{}, value...)
		pos = next
	}
	if pos != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrRowFormat, len(data)-pos)
	}
	return nil
}

func readChunk(data []byte, pos int) ([]byte, int, error) {
	l, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return nil, 0, fmt.Errorf("%w: bad length at offset %d", ErrRowFormat, pos)
	}
	pos += n
	end := pos + int(l)
	if end > len(data) || end < pos {
		return nil, 0, fmt.Errorf("%w: chunk overruns buffer at offset %d", ErrRowFormat, pos)
	}
	return data[pos:end], end, nil
}
