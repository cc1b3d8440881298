// Package scan holds the per-handle scan state machine: table scans, index
// scans and position lookups over one backend cursor.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/bridge"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/rowcodec"
	"github.com/rzpsarthak13/kvbridge/internal/schema"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
)

// State is the scan state of a cursor.
type State int

const (
	Closed State = iota
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "SCANNING"
	}
	return "CLOSED"
}

// NoIndex is the active index outside index scans.
const NoIndex = -1

// ErrNotScanning is returned by operations that need an open cursor.
var ErrNotScanning = errors.New("no scan is open")

// Cursor owns the single backend cursor of one table handle.
type Cursor struct {
	client bridge.BackendClient
	table  *sqlmeta.Table
	rows   *rowcodec.Codec
	name   string

	state     State
	handle    int64
	index     int
	forUpdate bool
}

// New creates a closed cursor for one open table.
func New(client bridge.BackendClient, table *sqlmeta.Table, rows *rowcodec.Codec) *Cursor {
	return &Cursor{
		client: client,
		table:  table,
		rows:   rows,
		name:   table.QualifiedName(),
		index:  NoIndex,
	}
}

// State returns the current scan state.
func (c *Cursor) State() State {
	return c.state
}

// ActiveIndex returns the key being scanned, or NoIndex.
func (c *Cursor) ActiveIndex() int {
	return c.index
}

// Handle returns the backend cursor id while scanning.
func (c *Cursor) Handle() (int64, bool) {
	return c.handle, c.state == Scanning
}

// ForUpdate reports whether the open table scan was started for mutation.
func (c *Cursor) ForUpdate() bool {
	return c.forUpdate
}

// StartTableScan opens a full table scan. An open scan is ended first.
func (c *Cursor) StartTableScan(ctx context.Context, forUpdate bool) error {
	if err := c.terminate(ctx); err != nil {
		return err
	}
	id, err := c.client.StartScan(ctx, c.name, forUpdate)
	if err != nil {
		return err
	}
	c.state, c.handle, c.index, c.forUpdate = Scanning, id, NoIndex, forUpdate
	return nil
}

// StartIndexScan opens a scan over key index. An open scan is ended first.
func (c *Cursor) StartIndexScan(ctx context.Context, index int) error {
	if index < 0 || index >= len(c.table.Keys) {
		return fmt.Errorf("table %s has no key %d: %w", c.name, index, core.ErrInternalConsistency)
	}
	if err := c.terminate(ctx); err != nil {
		return err
	}
	id, err := c.client.StartIndexScan(ctx, c.name, schema.IndexName(c.table, index))
	if err != nil {
		return err
	}
	c.state, c.handle, c.index, c.forUpdate = Scanning, id, index, false
	return nil
}

// terminate ends a scan left open by the caller.
func (c *Cursor) terminate(ctx context.Context) error {
	if c.state == Closed {
		return nil
	}
	log.Printf("[SCAN] Ending open cursor %d on %s before starting a new scan", c.handle, c.name)
	return c.End(ctx)
}

// End releases the backend cursor. Ending a closed cursor is a no-op.
func (c *Cursor) End(ctx context.Context) error {
	if c.state == Closed {
		return nil
	}
	handle := c.handle
	c.state, c.handle, c.index, c.forUpdate = Closed, 0, NoIndex, false
	return c.client.EndScan(ctx, handle)
}

func (c *Cursor) open() (int64, error) {
	if c.state != Scanning {
		return 0, fmt.Errorf("%s: %w", c.name, ErrNotScanning)
	}
	return c.handle, nil
}

func (c *Cursor) openIndex() (int64, error) {
	id, err := c.open()
	if err != nil {
		return 0, err
	}
	if c.index == NoIndex {
		return 0, fmt.Errorf("%s: cursor %d is not an index scan: %w", c.name, id, core.ErrInternalConsistency)
	}
	return id, nil
}

// endOfData maps a nil row to ErrEndOfData. The cursor stays open.
func endOfData(row *core.Row, err error) (*core.Row, error) {
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, core.ErrEndOfData
	}
	return row, nil
}

// Next returns the next row of a table scan.
func (c *Cursor) Next(ctx context.Context) (*core.Row, error) {
	id, err := c.open()
	if err != nil {
		return nil, err
	}
	return endOfData(c.client.NextRow(ctx, id))
}

// NextIndex continues an index scan in the direction of the last seek.
func (c *Cursor) NextIndex(ctx context.Context) (*core.Row, error) {
	id, err := c.openIndex()
	if err != nil {
		return nil, err
	}
	return endOfData(c.client.NextIndexRow(ctx, id))
}

// First positions an index scan at its first entry.
func (c *Cursor) First(ctx context.Context) (*core.Row, error) {
	return c.positional(ctx, core.ReadIndexFirst)
}

// Last positions an index scan at its last entry; NextIndex then walks backwards.
func (c *Cursor) Last(ctx context.Context) (*core.Row, error) {
	return c.positional(ctx, core.ReadIndexLast)
}

func (c *Cursor) positional(ctx context.Context, t core.ReadType) (*core.Row, error) {
	id, err := c.openIndex()
	if err != nil {
		return nil, err
	}
	return endOfData(c.client.IndexRead(ctx, id, &core.IndexQuery{Type: t}))
}

// Seek positions an index scan from a server key buffer. A miss returns
// ErrRowNotFound.
func (c *Cursor) Seek(ctx context.Context, flag sqlmeta.FindFlag, key []byte, keypartMap uint64) (*core.Row, error) {
	id, err := c.openIndex()
	if err != nil {
		return nil, err
	}
	query, err := c.Query(flag, key, keypartMap)
	if err != nil {
		return nil, err
	}
	row, err := c.client.IndexRead(ctx, id, query)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, core.ErrRowNotFound
	}
	return row, nil
}

// GetByPosition fetches a row by id through the open cursor.
func (c *Cursor) GetByPosition(ctx context.Context, rowID uuid.UUID) (*core.Row, error) {
	id, err := c.open()
	if err != nil {
		return nil, err
	}
	return endOfData(c.client.GetRow(ctx, id, rowID))
}

// Query translates a server key buffer and find flag into a backend index
// query for the active index.
func (c *Cursor) Query(flag sqlmeta.FindFlag, key []byte, keypartMap uint64) (*core.IndexQuery, error) {
	if c.index == NoIndex {
		return nil, fmt.Errorf("%s: no active index: %w", c.name, core.ErrInternalConsistency)
	}
	k := c.table.Keys[c.index]
	layout := c.rows.Layout()
	ts := c.rows.Schema()

	query := &core.IndexQuery{}
	pos := 0
	lastNull := false
	for i, kp := range k.Parts {
		if keypartMap&(1<<uint(i)) == 0 {
			break
		}
		column := &ts.Columns[kp.Field]
		null := false
		if layout.Field(kp.Field).Nullable {
			if pos >= len(key) {
				return nil, fmt.Errorf("key %s: buffer ends before part %d", k.Name, i)
			}
			null = key[pos] != 0
			pos++
		}
		n := layout.KeyPartDataLength(kp)
		if pos+n > len(key) {
			return nil, fmt.Errorf("key %s: buffer ends inside part %d", k.Name, i)
		}

		kv := core.KeyValue{Column: column.Name, Null: null}
		if !null {
			value, err := layout.DecodeKeyPart(kp, key[pos:pos+n])
			if err != nil {
				return nil, err
			}
			kv.Value, err = c.rows.Values().Encode(column, value)
			if err != nil {
				return nil, err
			}
		}
		query.Keys = append(query.Keys, kv)
		lastNull = null
		pos += n
	}

	switch flag {
	case sqlmeta.FindKeyExact, sqlmeta.FindPrefix:
		query.Type = core.ReadExactKey
	case sqlmeta.FindKeyOrNext:
		query.Type = core.ReadKeyOrNext
	case sqlmeta.FindKeyOrPrev, sqlmeta.FindPrefixLastOrPrev:
		query.Type = core.ReadKeyOrPrevious
	case sqlmeta.FindPrefixLast:
		query.Type = core.ReadPrefixLast
	case sqlmeta.FindAfterKey:
		query.Type = core.ReadAfterKey
	case sqlmeta.FindBeforeKey:
		query.Type = core.ReadBeforeKey
	default:
		return nil, fmt.Errorf("unsupported find flag %s", flag)
	}

	if lastNull && (query.Type == core.ReadAfterKey || query.Type == core.ReadKeyOrNext) {
		return &core.IndexQuery{Type: core.ReadIndexFirst}, nil
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}
	return query, nil
}
