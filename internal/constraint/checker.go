// Package constraint detects unique-index violations before writes reach
// the backend and maps violated index names back to key positions.
package constraint

import (
	"context"
	"log"

	"github.com/rzpsarthak13/kvbridge/internal/bridge"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/schema"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
)

// Checker runs duplicate checks for one open table.
type Checker struct {
	client bridge.BackendClient
	table  *sqlmeta.Table
	name   string
}

// New creates a checker.
func New(client bridge.BackendClient, table *sqlmeta.Table) *Checker {
	return &Checker{client: client, table: table, name: table.QualifiedName()}
}

// CheckInsert reports a duplicate-key error when any unique candidate
// value already exists. Pending writes of the token are flushed first so
// rows buffered earlier in the statement are visible.
func (c *Checker) CheckInsert(ctx context.Context, writeID int64, unique map[string][]byte) error {
	if len(unique) == 0 {
		return nil
	}
	return c.check(ctx, "writeRow", writeID, unique, nil)
}

// CheckUpdate is CheckInsert restricted to unique indexes that cover a
// changed column.
func (c *Checker) CheckUpdate(ctx context.Context, writeID int64, unique map[string][]byte, changed []string) error {
	if len(unique) == 0 || len(changed) == 0 {
		return nil
	}
	return c.check(ctx, "updateRow", writeID, unique, changed)
}

func (c *Checker) check(ctx context.Context, op string, writeID int64, unique map[string][]byte, changed []string) error {
	if err := c.client.FlushWrites(ctx, writeID); err != nil {
		return err
	}
	index, err := c.client.FindDuplicateKey(ctx, c.name, unique, changed)
	if err != nil {
		return err
	}
	if index == "" {
		return nil
	}
	return core.NewDuplicateKeyError(op, c.FailedKeyIndex(index), index)
}

// FailedKeyIndex returns the position of the key whose canonical name is
// index. An unknown name maps to key 0.
func (c *Checker) FailedKeyIndex(index string) int {
	for k := range c.table.Keys {
		if schema.IndexName(c.table, k) == index {
			return k
		}
	}
	log.Printf("[CONSTRAINT] WARNING: Index %q is not a key of %s, reporting key 0", index, c.name)
	return 0
}

// CheckNewIndex verifies that the committed rows hold no duplicates for a
// unique index about to be added at key position key.
func (c *Checker) CheckNewIndex(ctx context.Context, key int, index core.IndexSchema) error {
	if !index.Unique {
		return nil
	}
	dup, err := c.client.FindDuplicateValue(ctx, c.name, index.Name)
	if err != nil {
		return err
	}
	if dup != nil {
		log.Printf("[CONSTRAINT] Cannot add unique index %s to %s: duplicate values present", index.Name, c.name)
		return core.NewDuplicateKeyError("addIndex", key, index.Name)
	}
	return nil
}

