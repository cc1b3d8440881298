package sqlmeta

import (
	"fmt"

	"github.com/rzpsarthak13/kvbridge/internal/codec"
)

// blobSlotLength is the in-record size of a blob field: a 4-byte length.
// The blob bytes live in Record.Blobs.
const blobSlotLength = 4

// FieldLayout locates one field inside a record.
type FieldLayout struct {
	Offset     int
	PackLength int
	Nullable   bool
	NullByte   int
	NullMask   byte

	// LengthBytes is the size of the inline length prefix of VARCHAR fields.
	LengthBytes int
}

// Layout is the fixed-width record format of a table: a null bitmap
// followed by each field at a fixed offset.
type Layout struct {
	Fields       []FieldLayout
	NullBytes    int
	RecordLength int

	fields []Field
}

// NewLayout computes the record layout of t.
func NewLayout(t *Table) (*Layout, error) {
	l := &Layout{
		Fields: make([]FieldLayout, len(t.Fields)),
		fields: t.Fields,
	}

	nullable := 0
	for _, f := range t.Fields {
		if f.Nullable {
			nullable++
		}
	}
	l.NullBytes = (nullable + 7) / 8

	offset := l.NullBytes
	nullBit := 0
	for i := range t.Fields {
		f := &t.Fields[i]
		packLen, lenBytes, err := packLength(f)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		fl := FieldLayout{Offset: offset, PackLength: packLen, LengthBytes: lenBytes}
		if f.Nullable {
			fl.Nullable = true
			fl.NullByte = nullBit / 8
			fl.NullMask = 1 << uint(nullBit%8)
			nullBit++
		}
		l.Fields[i] = fl
		offset += packLen
	}
	l.RecordLength = offset
	return l, nil
}

func packLength(f *Field) (int, int, error) {
	switch f.Type {
	case TypeTiny, TypeYear:
		return 1, 0, nil
	case TypeShort:
		return 2, 0, nil
	case TypeInt24, TypeNewDate, TypeDate, TypeTime:
		return 3, 0, nil
	case TypeLong, TypeFloat, TypeTimestamp:
		return 4, 0, nil
	case TypeLongLong, TypeDouble, TypeDatetime:
		return 8, 0, nil
	case TypeDecimal, TypeNewDecimal:
		n, err := codec.DecimalBinarySize(int(f.Precision), int(f.Scale))
		return n, 0, err
	case TypeString:
		return int(f.Length), 0, nil
	case TypeVarchar, TypeVarString:
		if f.Length < 256 {
			return 1 + int(f.Length), 1, nil
		}
		return 2 + int(f.Length), 2, nil
	case TypeTinyBlob, TypeBlob, TypeMediumBlob, TypeLongBlob, TypeGeometry:
		return blobSlotLength, 0, nil
	case TypeEnum:
		if f.EnumCount > 255 {
			return 2, 0, nil
		}
		return 1, 0, nil
	case TypeSet:
		n := (f.EnumCount + 7) / 8
		if n == 0 {
			n = 1
		}
		return n, 0, nil
	case TypeBit:
		return int(f.Length+7) / 8, 0, nil
	case TypeNull:
		return 0, 0, nil
	default:
		return 0, 0, fmt.Errorf("unknown field type %s", f.Type)
	}
}

// Record is one or more native row images laid out back to back. Blob
// contents are kept out of line, keyed by the absolute offset of the
// field's slot.
type Record struct {
	Data  []byte
	Blobs map[int][]byte
}

// NewRecord allocates a zeroed buffer holding one record.
func (l *Layout) NewRecord() *Record {
	return l.NewRecords(1)
}

// NewRecords allocates a buffer holding n records; record i starts at
// base i*RecordLength.
func (l *Layout) NewRecords(n int) *Record {
	return &Record{Data: make([]byte, n*l.RecordLength), Blobs: make(map[int][]byte)}
}

// Base returns the offset of record i in a multi-record buffer.
func (l *Layout) Base(i int) int {
	return i * l.RecordLength
}

// Field returns the metadata of field i.
func (l *Layout) Field(i int) *Field {
	return &l.fields[i]
}

// IsNull reports whether field i of the record at base is NULL.
func (l *Layout) IsNull(rec *Record, base, i int) bool {
	fl := &l.Fields[i]
	if !fl.Nullable {
		return false
	}
	return rec.Data[base+fl.NullByte]&fl.NullMask != 0
}

// SetNull sets or clears the NULL bit of field i. Non-nullable fields
// cannot be set NULL.
func (l *Layout) SetNull(rec *Record, base, i int, null bool) error {
	fl := &l.Fields[i]
	if !fl.Nullable {
		if null {
			return fmt.Errorf("field %s is not nullable", l.fields[i].Name)
		}
		return nil
	}
	if null {
		rec.Data[base+fl.NullByte] |= fl.NullMask
	} else {
		rec.Data[base+fl.NullByte] &^= fl.NullMask
	}
	return nil
}

// slot returns the in-record bytes of field i.
func (l *Layout) slot(rec *Record, base, i int) []byte {
	fl := &l.Fields[i]
	start := base + fl.Offset
	return rec.Data[start : start+fl.PackLength]
}

// ReadField decodes field i of the record at base. It returns nil for NULL.
func (l *Layout) ReadField(rec *Record, base, i int) (interface{}, error) {
	if l.IsNull(rec, base, i) {
		return nil, nil
	}
	fl := &l.Fields[i]
	return decodeNative(&l.fields[i], l.slot(rec, base, i), rec.Blobs[base+fl.Offset])
}

// WriteField stores value into field i of the record at base. A nil value
// sets the field NULL.
func (l *Layout) WriteField(rec *Record, base, i int, value interface{}) error {
	if value == nil {
		return l.SetNull(rec, base, i, true)
	}
	fl := &l.Fields[i]
	blob, err := encodeNative(&l.fields[i], l.slot(rec, base, i), value)
	if err != nil {
		return fmt.Errorf("field %s: %w", l.fields[i].Name, err)
	}
	key := base + fl.Offset
	if l.fields[i].Type.IsBlob() {
		rec.Blobs[key] = blob
	}
	return l.SetNull(rec, base, i, false)
}

// FieldImage returns the bytes that define the value of field i: the
// length-prefixed content of VARCHAR fields, the blob content of blob
// fields and the full slot otherwise. It is nil for NULL fields.
func (l *Layout) FieldImage(rec *Record, base, i int) []byte {
	if l.IsNull(rec, base, i) {
		return nil
	}
	fl := &l.Fields[i]
	s := l.slot(rec, base, i)
	switch {
	case l.fields[i].Type.IsBlob():
		b := rec.Blobs[base+fl.Offset]
		if b == nil {
			return []byte{}
		}
		return b
	case fl.LengthBytes > 0:
		n := varLength(s, fl.LengthBytes)
		if fl.LengthBytes+n > len(s) {
			return s
		}
		return s[:fl.LengthBytes+n]
	default:
		return s
	}
}

// CopyRecord copies the record at srcBase in src to dstBase in dst.
func (l *Layout) CopyRecord(dst *Record, dstBase int, src *Record, srcBase int) {
	copy(dst.Data[dstBase:dstBase+l.RecordLength], src.Data[srcBase:srcBase+l.RecordLength])
	for i := range l.fields {
		if !l.fields[i].Type.IsBlob() {
			continue
		}
		off := l.Fields[i].Offset
		if b, ok := src.Blobs[srcBase+off]; ok {
			dst.Blobs[dstBase+off] = append([]byte{}, b...)
		} else {
			delete(dst.Blobs, dstBase+off)
		}
	}
}
