package sqlmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rzpsarthak13/kvbridge/internal/codec"
)

var (
	// ErrDataTooLong is returned when a value exceeds the field capacity.
	ErrDataTooLong = errors.New("data too long for field")

	// ErrOutOfRange is returned when a number does not fit the field width.
	ErrOutOfRange = errors.New("value out of range for field")

	// ErrUnsupportedField is returned for field types without a native codec.
	ErrUnsupportedField = errors.New("field type has no native representation")
)

// Native field formats follow the server's record format: integers and
// floats little-endian at their declared width, DATE as the 3-byte
// day | month<<5 | year<<9 word, TIME as a signed 3-byte hhmmss number,
// DATETIME as an 8-byte YYYYMMDDhhmmss number, TIMESTAMP as 4-byte epoch
// seconds, YEAR as an offset from 1900, DECIMAL packed, CHAR padded,
// VARCHAR length-prefixed and blobs out of line.

func decodeNative(f *Field, s []byte, blob []byte) (interface{}, error) {
	switch f.Type {
	case TypeTiny, TypeShort, TypeInt24, TypeLong, TypeLongLong:
		u := readUintLE(s)
		if f.Unsigned {
			return u, nil
		}
		return signExtend(u, len(s)), nil

	case TypeYear:
		if s[0] == 0 {
			return int64(0), nil
		}
		return int64(s[0]) + 1900, nil

	case TypeFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(s))), nil

	case TypeDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(s)), nil

	case TypeDecimal, TypeNewDecimal:
		return codec.DecodeDecimal(s, int(f.Precision), int(f.Scale))

	case TypeDate, TypeNewDate:
		v := readUintLE(s)
		if v == 0 {
			return time.Time{}, nil
		}
		return time.Date(int(v>>9), time.Month((v>>5)&15), int(v&31), 0, 0, 0, 0, time.UTC), nil

	case TypeTime:
		v := signExtend(readUintLE(s), 3)
		neg := v < 0
		if neg {
			v = -v
		}
		d := time.Duration(v/10000)*time.Hour + time.Duration(v/100%100)*time.Minute + time.Duration(v%100)*time.Second
		if neg {
			d = -d
		}
		return d, nil

	case TypeDatetime:
		v := binary.LittleEndian.Uint64(s)
		if v == 0 {
			return time.Time{}, nil
		}
		date, clock := v/1000000, v%1000000
		return time.Date(int(date/10000), time.Month(date/100%100), int(date%100),
			int(clock/10000), int(clock/100%100), int(clock%100), 0, time.UTC), nil

	case TypeTimestamp:
		v := binary.LittleEndian.Uint32(s)
		if v == 0 {
			return time.Time{}, nil
		}
		return time.Unix(int64(v), 0).UTC(), nil

	case TypeString:
		if f.Binary {
			return append([]byte{}, s...), nil
		}
		return append([]byte{}, bytes.TrimRight(s, " ")...), nil

	case TypeVarchar, TypeVarString:
		lb := varPrefix(f)
		n := varLength(s, lb)
		if lb+n > len(s) {
			return nil, fmt.Errorf("%w: stored length %d exceeds %d", ErrDataTooLong, n, len(s)-lb)
		}
		return append([]byte{}, s[lb:lb+n]...), nil

	case TypeTinyBlob, TypeBlob, TypeMediumBlob, TypeLongBlob:
		n := binary.LittleEndian.Uint32(s)
		if int(n) != len(blob) {
			return nil, fmt.Errorf("blob length %d does not match stored %d bytes", n, len(blob))
		}
		return append([]byte{}, blob...), nil

	case TypeEnum:
		return readUintLE(s), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedField, f.Type)
	}
}

func encodeNative(f *Field, s []byte, value interface{}) ([]byte, error) {
	switch f.Type {
	case TypeTiny, TypeShort, TypeInt24, TypeLong, TypeLongLong:
		width := len(s)
		if f.Unsigned {
			u, err := codec.ToUint64(value)
			if err != nil {
				return nil, err
			}
			if width < 8 && u >= 1<<(8*uint(width)) {
				return nil, fmt.Errorf("%w: %d", ErrOutOfRange, u)
			}
			writeUintLE(s, u)
			return nil, nil
		}
		v, err := codec.ToInt64(value)
		if err != nil {
			return nil, err
		}
		if width < 8 {
			limit := int64(1) << (8*uint(width) - 1)
			if v < -limit || v >= limit {
				return nil, fmt.Errorf("%w: %d", ErrOutOfRange, v)
			}
		}
		writeUintLE(s, uint64(v))
		return nil, nil

	case TypeYear:
		v, err := codec.ToInt64(value)
		if err != nil {
			return nil, err
		}
		switch {
		case v == 0:
			s[0] = 0
		case v >= 1901 && v <= 2155:
			s[0] = byte(v - 1900)
		default:
			return nil, fmt.Errorf("%w: year %d", ErrOutOfRange, v)
		}
		return nil, nil

	case TypeFloat:
		v, err := codec.ToFloat64(value)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(s, math.Float32bits(float32(v)))
		return nil, nil

	case TypeDouble:
		v, err := codec.ToFloat64(value)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint64(s, math.Float64bits(v))
		return nil, nil

	case TypeDecimal, TypeNewDecimal:
		d, err := codec.ToDecimal(value)
		if err != nil {
			return nil, err
		}
		packed, err := codec.EncodeDecimal(d, int(f.Precision), int(f.Scale))
		if err != nil {
			return nil, err
		}
		copy(s, packed)
		return nil, nil

	case TypeDate, TypeNewDate:
		t, err := codec.ToTime(value)
		if err != nil {
			return nil, err
		}
		var v uint64
		if !t.IsZero() {
			v = uint64(t.Day()) | uint64(t.Month())<<5 | uint64(t.Year())<<9
		}
		writeUintLE(s, v)
		return nil, nil

	case TypeTime:
		d, err := codec.ToDuration(value)
		if err != nil {
			return nil, err
		}
		neg := d < 0
		if neg {
			d = -d
		}
		secs := int64(d / time.Second)
		v := secs/3600*10000 + secs%3600/60*100 + secs%60
		if v > 8385959 {
			return nil, fmt.Errorf("%w: time %s", ErrOutOfRange, d)
		}
		if neg {
			v = -v
		}
		writeUintLE(s, uint64(v))
		return nil, nil

	case TypeDatetime:
		t, err := codec.ToTime(value)
		if err != nil {
			return nil, err
		}
		var v uint64
		if !t.IsZero() {
			date := uint64(t.Year())*10000 + uint64(t.Month())*100 + uint64(t.Day())
			clock := uint64(t.Hour())*10000 + uint64(t.Minute())*100 + uint64(t.Second())
			v = date*1000000 + clock
		}
		binary.LittleEndian.PutUint64(s, v)
		return nil, nil

	case TypeTimestamp:
		t, err := codec.ToTime(value)
		if err != nil {
			return nil, err
		}
		var v int64
		if !t.IsZero() {
			v = t.Unix()
		}
		if v < 0 || v > math.MaxUint32 {
			return nil, fmt.Errorf("%w: timestamp %s", ErrOutOfRange, t)
		}
		binary.LittleEndian.PutUint32(s, uint32(v))
		return nil, nil

	case TypeString:
		b, err := codec.ToBytes(value)
		if err != nil {
			return nil, err
		}
		if len(b) > len(s) {
			return nil, fmt.Errorf("%w: %d > %d", ErrDataTooLong, len(b), len(s))
		}
		pad := byte(' ')
		if f.Binary {
			pad = 0
		}
		copy(s, b)
		for i := len(b); i < len(s); i++ {
			s[i] = pad
		}
		return nil, nil

	case TypeVarchar, TypeVarString:
		b, err := codec.ToBytes(value)
		if err != nil {
			return nil, err
		}
		lb := varPrefix(f)
		if len(b) > len(s)-lb {
			return nil, fmt.Errorf("%w: %d > %d", ErrDataTooLong, len(b), len(s)-lb)
		}
		putVarLength(s, lb, len(b))
		n := copy(s[lb:], b)
		clear(s[lb+n:])
		return nil, nil

	case TypeTinyBlob, TypeBlob, TypeMediumBlob, TypeLongBlob:
		b, err := codec.ToBytes(value)
		if err != nil {
			return nil, err
		}
		if f.Length > 0 && uint64(len(b)) > uint64(f.Length) {
			return nil, fmt.Errorf("%w: %d > %d", ErrDataTooLong, len(b), f.Length)
		}
		binary.LittleEndian.PutUint32(s, uint32(len(b)))
		return append([]byte{}, b...), nil

	case TypeEnum:
		u, err := codec.ToUint64(value)
		if err != nil {
			return nil, err
		}
		if f.EnumCount > 0 && u > uint64(f.EnumCount) {
			return nil, fmt.Errorf("%w: enum ordinal %d", ErrOutOfRange, u)
		}
		writeUintLE(s, u)
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedField, f.Type)
	}
}

func readUintLE(s []byte) uint64 {
	var v uint64
	for i := len(s) - 1; i >= 0; i-- {
		v = v<<8 | uint64(s[i])
	}
	return v
}

func writeUintLE(s []byte, v uint64) {
	for i := range s {
		s[i] = byte(v)
		v >>= 8
	}
}

func signExtend(u uint64, width int) int64 {
	if width >= 8 {
		return int64(u)
	}
	shift := uint(64 - 8*width)
	return int64(u<<shift) >> shift
}

func varPrefix(f *Field) int {
	if f.Length < 256 {
		return 1
	}
	return 2
}

func varLength(s []byte, lengthBytes int) int {
	if lengthBytes == 1 {
		return int(s[0])
	}
	return int(binary.LittleEndian.Uint16(s))
}

func putVarLength(s []byte, lengthBytes, n int) {
	if lengthBytes == 1 {
		s[0] = byte(n)
		return
	}
	binary.LittleEndian.PutUint16(s, uint16(n))
}
