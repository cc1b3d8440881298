package backend

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/core"
)

// Data keys live in the row store:
//
//	row:   'r' | table id (8) | row id (16)
//	index: 'i' | table id (8) | index id (4) | part* | row id (16)
//
// Each index part is a null marker (0x00 NULL, 0x01 value) followed by an
// order-preserving image of the canonical column encoding, so that byte
// order of index keys equals value order.
const (
	rowPrefix   byte = 'r'
	indexPrefix byte = 'i'

	partNull  byte = 0x00
	partValue byte = 0x01

	rowIDSize = 16
)

func tablePrefix(kind byte, tableID uint64) []byte {
	buf := make([]byte, 9, 32)
	buf[0] = kind
	binary.BigEndian.PutUint64(buf[1:], tableID)
	return buf
}

func rowKey(tableID uint64, id uuid.UUID) []byte {
	return append(tablePrefix(rowPrefix, tableID), id[:]...)
}

func indexPrefixKey(tableID uint64, indexID uint32) []byte {
	buf := tablePrefix(indexPrefix, tableID)
	return binary.BigEndian.AppendUint32(buf, indexID)
}

// rowIDFromKey returns the trailing row id of a row or index key.
func rowIDFromKey(key []byte) (uuid.UUID, error) {
	if len(key) < rowIDSize {
		return uuid.Nil, fmt.Errorf("key of %d bytes has no row id", len(key))
	}
	return uuid.FromBytes(key[len(key)-rowIDSize:])
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// appendIndexPart appends the ordered image of one index column value.
// value is the canonical encoding; nil means NULL.
func appendIndexPart(buf []byte, t core.ColumnType, value []byte, null bool) ([]byte, error) {
	if null {
		return append(buf, partNull), nil
	}
	buf = append(buf, partValue)

	switch t {
	case core.ColumnTypeLong, core.ColumnTypeTime:
		if len(value) != 8 {
			return nil, fmt.Errorf("%s index value has %d bytes, want 8", t, len(value))
		}
		u := binary.BigEndian.Uint64(value) ^ 0x8000000000000000
		return binary.BigEndian.AppendUint64(buf, u), nil

	case core.ColumnTypeULong, core.ColumnTypeEnum:
		if len(value) != 8 {
			return nil, fmt.Errorf("%s index value has %d bytes, want 8", t, len(value))
		}
		return append(buf, value...), nil

	case core.ColumnTypeDouble:
		if len(value) != 8 {
			return nil, fmt.Errorf("%s index value has %d bytes, want 8", t, len(value))
		}
		u := binary.BigEndian.Uint64(value)
		if math.Float64frombits(u) >= 0 {
			u |= 0x8000000000000000
		} else {
			u = ^u
		}
		return binary.BigEndian.AppendUint64(buf, u), nil

	case core.ColumnTypeDecimal:
		// Packed decimals of one precision/scale are fixed width and
		// already compare bytewise.
		return append(buf, value...), nil

	default:
		for _, ch := range value {
			buf = append(buf, ch)
			if ch == 0x00 {
				buf = append(buf, 0xFF)
			}
		}
		return append(buf, 0x00, 0x00), nil
	}
}

// indexEntryKey builds the index key of a row. Columns absent from the row
// are encoded as NULL parts.
func indexEntryKey(tableID uint64, idx *indexMeta, schema *core.TableSchema, row *core.Row) ([]byte, error) {
	key := indexPrefixKey(tableID, idx.ID)
	for _, col := range idx.Columns {
		column, ok := schema.Column(col)
		if !ok {
			return nil, fmt.Errorf("index %s references unknown column %s: %w", idx.Name, col, core.ErrInternalConsistency)
		}
		value, present := row.Get(col)
		var err error
		key, err = appendIndexPart(key, column.Type, value, !present)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
	}
	return append(key, row.ID[:]...), nil
}

// queryPrefix encodes the leading key values of an index query.
func queryPrefix(tableID uint64, idx *indexMeta, schema *core.TableSchema, keys []core.KeyValue) ([]byte, error) {
	if len(keys) > len(idx.Columns) {
		return nil, fmt.Errorf("index %s has %d columns, query has %d", idx.Name, len(idx.Columns), len(keys))
	}
	prefix := indexPrefixKey(tableID, idx.ID)
	for i, kv := range keys {
		if kv.Column != idx.Columns[i] {
			return nil, fmt.Errorf("query column %s does not match index column %s", kv.Column, idx.Columns[i])
		}
		column, ok := schema.Column(kv.Column)
		if !ok {
			return nil, fmt.Errorf("unknown column %s: %w", kv.Column, core.ErrInternalConsistency)
		}
		var err error
		prefix, err = appendIndexPart(prefix, column.Type, kv.Value, kv.Null)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", kv.Column, err)
		}
	}
	return prefix, nil
}

// hasPrefix reports whether key starts with prefix.
func hasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}
