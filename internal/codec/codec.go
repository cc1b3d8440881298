// Package codec converts native column values to and from the canonical
// byte encodings carried in a Row Record.
//
// Canonical encodings:
//
//	LONG, ULONG, ENUM   8-byte big-endian two's complement / unsigned
//	DOUBLE              8-byte big-endian IEEE-754 double (FLOAT is widened)
//	DECIMAL             packed fixed-point binary for the column's precision/scale
//	DATE                "YYYY-MM-DD"
//	DATETIME            "YYYY-MM-DD HH:MM:SS"
//	TIME                8-byte big-endian signed nanosecond duration
//	CHAR, STRING, BINARY raw bytes
//
// NULL is never encoded; it is the absence of the column in the row.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rzpsarthak13/kvbridge/internal/core"
)

const (
	// DateLayout is the canonical DATE text form.
	DateLayout = "2006-01-02"

	// DatetimeLayout is the canonical DATETIME text form.
	DatetimeLayout = "2006-01-02 15:04:05"

	zeroDate     = "0000-00-00"
	zeroDatetime = "0000-00-00 00:00:00"
)

var (
	// ErrNullValue is returned when asked to encode NULL.
	ErrNullValue = errors.New("NULL has no encoding; omit the column instead")

	// ErrInvalidLength is returned when an encoded value has the wrong size.
	ErrInvalidLength = errors.New("encoded value has invalid length")
)

// Codec encodes values for a host of a given byte order.
type Codec struct {
	littleEndian bool
	native       binary.ByteOrder
}

// New returns a codec for the running host.
func New() *Codec {
	return NewForHost(HostLittleEndian())
}

// NewForHost returns a codec that behaves as if running on a host with the
// given byte order. The canonical output is identical for both.
func NewForHost(littleEndian bool) *Codec {
	return &Codec{littleEndian: littleEndian, native: hostOrder(littleEndian)}
}

// LittleEndian reports the host byte order this codec assumes.
func (c *Codec) LittleEndian() bool {
	return c.littleEndian
}

// EncodeUint64 lays v out in host order and swaps to network order when the
// host is little-endian.
func (c *Codec) EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	c.native.PutUint64(b, v)
	if c.littleEndian {
		reverse(b)
	}
	return b
}

// DecodeUint64 reverses EncodeUint64.
func (c *Codec) DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: %d bytes for 8-byte integer", ErrInvalidLength, len(b))
	}
	var n [8]byte
	copy(n[:], b)
	if c.littleEndian {
		reverse(n[:])
	}
	return c.native.Uint64(n[:]), nil
}

func (c *Codec) EncodeInt64(v int64) []byte {
	return c.EncodeUint64(uint64(v))
}

func (c *Codec) DecodeInt64(b []byte) (int64, error) {
	u, err := c.DecodeUint64(b)
	return int64(u), err
}

// EncodeFloat64 encodes the double image of f.
func (c *Codec) EncodeFloat64(f float64) []byte {
	return c.EncodeUint64(math.Float64bits(f))
}

func (c *Codec) DecodeFloat64(b []byte) (float64, error) {
	u, err := c.DecodeUint64(b)
	return math.Float64frombits(u), err
}

// Encode converts value to the canonical encoding for column.
func (c *Codec) Encode(column *core.ColumnSchema, value interface{}) ([]byte, error) {
	if value == nil {
		return nil, fmt.Errorf("column %s: %w", column.Name, ErrNullValue)
	}

	switch column.Type {
	case core.ColumnTypeLong:
		v, err := ToInt64(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		return c.EncodeInt64(v), nil

	case core.ColumnTypeULong, core.ColumnTypeEnum:
		v, err := ToUint64(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		return c.EncodeUint64(v), nil

	case core.ColumnTypeDouble:
		v, err := ToFloat64(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		return c.EncodeFloat64(v), nil

	case core.ColumnTypeDecimal:
		d, err := ToDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		b, err := EncodeDecimal(d, column.Precision, column.Scale)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		return b, nil

	case core.ColumnTypeDate:
		t, err := ToTime(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		return []byte(formatTemporal(t, DateLayout, zeroDate)), nil

	case core.ColumnTypeDatetime:
		t, err := ToTime(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		return []byte(formatTemporal(t, DatetimeLayout, zeroDatetime)), nil

	case core.ColumnTypeTime:
		d, err := ToDuration(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		return c.EncodeInt64(int64(d)), nil

	case core.ColumnTypeFixedString, core.ColumnTypeString, core.ColumnTypeBinary:
		b, err := ToBytes(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		return append([]byte{}, b...), nil

	default:
		return nil, fmt.Errorf("column %s: %w: %s", column.Name, core.ErrUnsupportedColumnType, column.Type)
	}
}

// Decode converts a canonical encoding back to a Go value:
// int64, uint64, float64, decimal.Decimal, time.Time, time.Duration,
// string (CHAR/STRING) or []byte (BINARY).
func (c *Codec) Decode(column *core.ColumnSchema, data []byte) (interface{}, error) {
	if data == nil {
		return nil, fmt.Errorf("column %s: %w", column.Name, ErrNullValue)
	}

	switch column.Type {
	case core.ColumnTypeLong:
		v, err := c.DecodeInt64(data)
		return wrapDecode(column, v, err)
	case core.ColumnTypeULong, core.ColumnTypeEnum:
		v, err := c.DecodeUint64(data)
		return wrapDecode(column, v, err)
	case core.ColumnTypeDouble:
		v, err := c.DecodeFloat64(data)
		return wrapDecode(column, v, err)
	case core.ColumnTypeDecimal:
		v, err := DecodeDecimal(data, column.Precision, column.Scale)
		return wrapDecode(column, v, err)
	case core.ColumnTypeDate:
		v, err := parseTemporal(string(data), DateLayout, zeroDate)
		return wrapDecode(column, v, err)
	case core.ColumnTypeDatetime:
		v, err := parseTemporal(string(data), DatetimeLayout, zeroDatetime)
		return wrapDecode(column, v, err)
	case core.ColumnTypeTime:
		v, err := c.DecodeInt64(data)
		return wrapDecode(column, time.Duration(v), err)
	case core.ColumnTypeFixedString, core.ColumnTypeString:
		return string(data), nil
	case core.ColumnTypeBinary:
		return append([]byte{}, data...), nil
	default:
		return nil, fmt.Errorf("column %s: %w: %s", column.Name, core.ErrUnsupportedColumnType, column.Type)
	}
}

func wrapDecode[T any](column *core.ColumnSchema, v T, err error) (interface{}, error) {
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", column.Name, err)
	}
	return v, nil
}

func formatTemporal(t time.Time, layout, zero string) string {
	if t.IsZero() {
		return zero
	}
	return t.Format(layout)
}

func parseTemporal(s, layout, zero string) (time.Time, error) {
	if s == zero {
		return time.Time{}, nil
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %q value %q: %w", layout, s, err)
	}
	return t, nil
}
