package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/core"
)

// cursor is one open scan. Table scans walk row keys in row-id order;
// index scans walk index entries and fetch the referenced rows.
type cursor struct {
	id        int64
	table     *tableMeta
	index     *indexMeta
	forUpdate bool

	iter       *pebble.Iterator
	started    bool
	descending bool
	// match bounds an EXACT index read to entries with this prefix.
	match []byte

	// current is the row last returned, the target of UpdateRow and DeleteRow.
	current *core.Row
}

func (c *cursor) close() error {
	if c.iter == nil {
		return nil
	}
	err := c.iter.Close()
	c.iter = nil
	return err
}

func (s *Store) openCursor(t *tableMeta, idx *indexMeta, forUpdate bool) int64 {
	s.nextCursor++
	s.cursors[s.nextCursor] = &cursor{id: s.nextCursor, table: t, index: idx, forUpdate: forUpdate}
	return s.nextCursor
}

func (s *Store) cursor(id int64) (*cursor, error) {
	c, ok := s.cursors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCursor, id)
	}
	return c, nil
}

// StartScan opens a full table scan.
func (s *Store) StartScan(ctx context.Context, name string, forUpdate bool) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return 0, err
	}
	return s.openCursor(t, nil, forUpdate), nil
}

// StartIndexScan opens a scan over one index. Rows are returned once the
// cursor is positioned with IndexRead.
func (s *Store) StartIndexScan(ctx context.Context, name, index string) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	t, err := s.catalog.get(ctx, name)
	if err != nil {
		return 0, err
	}
	idx, ok := t.index(index)
	if !ok {
		return 0, fmt.Errorf("index %s does not exist on %s", index, name)
	}
	return s.openCursor(t, idx, false), nil
}

// EndScan closes a cursor.
func (s *Store) EndScan(ctx context.Context, cursorID int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	c, err := s.cursor(cursorID)
	if err != nil {
		return err
	}
	delete(s.cursors, cursorID)
	return c.close()
}

// NextRow returns the next row of a table scan, or nil at the end.
func (s *Store) NextRow(ctx context.Context, cursorID int64) (*core.Row, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	c, err := s.cursor(cursorID)
	if err != nil {
		return nil, err
	}
	if c.index != nil {
		return nil, fmt.Errorf("cursor %d is an index scan", cursorID)
	}

	var valid bool
	if !c.started {
		lower := tablePrefix(rowPrefix, c.table.ID)
		c.iter, err = s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixEnd(lower)})
		if err != nil {
			return nil, fmt.Errorf("failed to open scan on %s: %w", c.table.Name, err)
		}
		c.started = true
		valid = c.iter.First()
	} else if c.iter != nil {
		valid = c.iter.Next()
	}
	if !valid {
		c.current = nil
		if c.iter != nil {
			return nil, c.iter.Error()
		}
		return nil, nil
	}

	row, err := decodeRow(c.iter.Value())
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", c.table.Name, err)
	}
	c.current = row
	return row, nil
}

// GetRow fetches a row by id through a cursor and makes it current.
func (s *Store) GetRow(ctx context.Context, cursorID int64, rowID uuid.UUID) (*core.Row, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	c, err := s.cursor(cursorID)
	if err != nil {
		return nil, err
	}
	row, err := s.fetchRow(c.table, rowID)
	if err != nil {
		return nil, err
	}
	c.current = row
	return row, nil
}

// fetchRow reads a committed row, returning nil when it does not exist.
func (s *Store) fetchRow(t *tableMeta, id uuid.UUID) (*core.Row, error) {
	data, closer, err := s.db.Get(rowKey(t.ID, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read row %s of %s: %w", id, t.Name, err)
	}
	defer closer.Close()
	row, err := decodeRow(data)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", t.Name, err)
	}
	return row, nil
}

// IndexRead positions an index cursor and returns the first matching row,
// or nil when nothing matches. Each call reads the latest committed state.
func (s *Store) IndexRead(ctx context.Context, cursorID int64, query *core.IndexQuery) (*core.Row, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	c, err := s.cursor(cursorID)
	if err != nil {
		return nil, err
	}
	if c.index == nil {
		return nil, fmt.Errorf("cursor %d is not an index scan", cursorID)
	}

	var prefix []byte
	if len(query.Keys) > 0 {
		prefix, err = queryPrefix(c.table.ID, c.index, c.table.Schema, query.Keys)
		if err != nil {
			return nil, err
		}
	}

	if err := c.close(); err != nil {
		return nil, err
	}
	lower := indexPrefixKey(c.table.ID, c.index.ID)
	c.iter, err = s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixEnd(lower)})
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", c.index.Name, err)
	}
	c.started = true
	c.match = nil
	c.descending = query.Type.Descending()

	var valid bool
	switch query.Type {
	case core.ReadExactKey:
		c.match = prefix
		valid = c.iter.SeekGE(prefix)
	case core.ReadAfterKey:
		if end := prefixEnd(prefix); end != nil {
			valid = c.iter.SeekGE(end)
		}
	case core.ReadKeyOrNext:
		valid = c.iter.SeekGE(prefix)
	case core.ReadKeyOrPrevious:
		if end := prefixEnd(prefix); end != nil {
			valid = c.iter.SeekLT(end)
		} else {
			valid = c.iter.Last()
		}
	case core.ReadPrefixLast:
		c.match = prefix
		if end := prefixEnd(prefix); end != nil {
			valid = c.iter.SeekLT(end)
		} else {
			valid = c.iter.Last()
		}
	case core.ReadBeforeKey:
		valid = c.iter.SeekLT(prefix)
	case core.ReadIndexFirst:
		valid = c.iter.First()
	case core.ReadIndexLast:
		valid = c.iter.Last()
	default:
		return nil, fmt.Errorf("unsupported read type %s", query.Type)
	}
	return s.indexRow(c, valid)
}

// NextIndexRow continues an index cursor in its read direction.
func (s *Store) NextIndexRow(ctx context.Context, cursorID int64) (*core.Row, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	c, err := s.cursor(cursorID)
	if err != nil {
		return nil, err
	}
	if c.index == nil {
		return nil, fmt.Errorf("cursor %d is not an index scan", cursorID)
	}
	if c.iter == nil {
		return nil, fmt.Errorf("index cursor %d has not been positioned", cursorID)
	}

	var valid bool
	if c.descending {
		valid = c.iter.Prev()
	} else {
		valid = c.iter.Next()
	}
	return s.indexRow(c, valid)
}

// indexRow resolves the entry under the iterator to its row.
func (s *Store) indexRow(c *cursor, valid bool) (*core.Row, error) {
	if !valid || (c.match != nil && !hasPrefix(c.iter.Key(), c.match)) {
		c.current = nil
		return nil, c.iter.Error()
	}
	id, err := rowIDFromKey(c.iter.Key())
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", c.index.Name, err)
	}
	row, err := s.fetchRow(c.table, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("index %s of %s references missing row %s: %w", c.index.Name, c.table.Name, id, core.ErrInternalConsistency)
	}
	c.current = row
	return row, nil
}
