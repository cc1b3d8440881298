package sqlmeta

import (
	"encoding/binary"
	"fmt"
)

// keyLengthBytes is the length prefix of variable-length key parts.
const keyLengthBytes = 2

// Key buffers are the concatenation of the key parts present in the
// keypart map. A nullable part starts with a null-indicator byte (1 when
// NULL); variable-length parts carry a 2-byte little-endian length followed
// by the full key-part capacity; fixed parts use the record format.

func (l *Layout) variableKeyPart(f *Field) bool {
	return f.Type.IsVarchar() || f.Type.IsBlob()
}

func (l *Layout) keyPartCapacity(kp KeyPart) int {
	f := &l.fields[kp.Field]
	if kp.Length > 0 {
		return int(kp.Length)
	}
	if f.Type.IsBlob() && f.Length == 0 {
		return 255
	}
	return int(f.Length)
}

// KeyPartDataLength returns the size of a key part without its null byte.
func (l *Layout) KeyPartDataLength(kp KeyPart) int {
	f := &l.fields[kp.Field]
	if l.variableKeyPart(f) {
		return keyLengthBytes + l.keyPartCapacity(kp)
	}
	return l.Fields[kp.Field].PackLength
}

// KeyPartStoreLength returns the full size of a key part in a key buffer.
func (l *Layout) KeyPartStoreLength(kp KeyPart) int {
	n := l.KeyPartDataLength(kp)
	if l.fields[kp.Field].Nullable {
		n++
	}
	return n
}

// DecodeKeyPart decodes the value bytes of a key part (null byte already removed).
func (l *Layout) DecodeKeyPart(kp KeyPart, data []byte) (interface{}, error) {
	f := &l.fields[kp.Field]
	want := l.KeyPartDataLength(kp)
	if len(data) < want {
		return nil, fmt.Errorf("key part %s: %d bytes, want %d", f.Name, len(data), want)
	}
	if l.variableKeyPart(f) {
		n := int(binary.LittleEndian.Uint16(data))
		if n > want-keyLengthBytes {
			return nil, fmt.Errorf("key part %s: %w", f.Name, ErrDataTooLong)
		}
		return append([]byte{}, data[keyLengthBytes:keyLengthBytes+n]...), nil
	}
	return decodeNative(f, data[:want], nil)
}

// EncodeKeyPart returns the store image of one key part, including the
// null byte for nullable fields. A nil value encodes NULL.
func (l *Layout) EncodeKeyPart(kp KeyPart, value interface{}) ([]byte, error) {
	f := &l.fields[kp.Field]
	out := make([]byte, l.KeyPartStoreLength(kp))
	data := out
	if f.Nullable {
		data = out[1:]
		if value == nil {
			out[0] = 1
			return out, nil
		}
	} else if value == nil {
		return nil, fmt.Errorf("key part %s: field is not nullable", f.Name)
	}

	if l.variableKeyPart(f) {
		b, err := toKeyBytes(value)
		if err != nil {
			return nil, fmt.Errorf("key part %s: %w", f.Name, err)
		}
		if len(b) > len(data)-keyLengthBytes {
			b = b[:len(data)-keyLengthBytes]
		}
		binary.LittleEndian.PutUint16(data, uint16(len(b)))
		copy(data[keyLengthBytes:], b)
		return out, nil
	}
	if _, err := encodeNative(f, data, value); err != nil {
		return nil, fmt.Errorf("key part %s: %w", f.Name, err)
	}
	return out, nil
}

// BuildKey assembles a key buffer from the leading values of key and
// returns it with the matching keypart map.
func (l *Layout) BuildKey(key Key, values ...interface{}) ([]byte, uint64, error) {
	if len(values) > len(key.Parts) {
		return nil, 0, fmt.Errorf("key %s has %d parts, got %d values", key.Name, len(key.Parts), len(values))
	}
	var buf []byte
	var keypartMap uint64
	for i, v := range values {
		part, err := l.EncodeKeyPart(key.Parts[i], v)
		if err != nil {
			return nil, 0, err
		}
		buf = append(buf, part...)
		keypartMap |= 1 << uint(i)
	}
	return buf, keypartMap, nil
}

func toKeyBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot use %T as a string key", value)
	}
}
