package scan_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/bridge/bridgetest"
	"github.com/rzpsarthak13/kvbridge/internal/codec"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/rowcodec"
	"github.com/rzpsarthak13/kvbridge/internal/scan"
	"github.com/rzpsarthak13/kvbridge/internal/schema"
	"github.com/rzpsarthak13/kvbridge/internal/sqlmeta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tableName = "shop.payments"

func newCursor(t *testing.T) (*scan.Cursor, *sqlmeta.Table, *rowcodec.Codec, *bridgetest.Client) {
	t.Helper()
	tbl := sqlmeta.NewTable("shop", "payments", []sqlmeta.Field{
		{Name: "id", Type: sqlmeta.TypeLong},
		{Name: "name", Type: sqlmeta.TypeVarchar, Length: 20, Nullable: true, Binary: true},
	})
	_, err := tbl.AddKey("PRIMARY", true, true, "id")
	require.NoError(t, err)
	_, err = tbl.AddKey("name", true, false, "name")
	require.NoError(t, err)

	ts, err := schema.NewBuilder().Build(tbl)
	require.NoError(t, err)
	rc, err := rowcodec.New(tbl, ts, codec.New())
	require.NoError(t, err)

	client := &bridgetest.Client{}
	return scan.New(client, tbl, rc), tbl, rc, client
}

func TestEndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _, _, client := newCursor(t)
	client.On("StartScan", ctx, tableName, false).Return(int64(3), nil).Once()
	client.On("EndScan", ctx, int64(3)).Return(nil).Once()

	require.NoError(t, c.End(ctx))
	require.NoError(t, c.StartTableScan(ctx, false))
	assert.Equal(t, scan.Scanning, c.State())

	require.NoError(t, c.End(ctx))
	require.NoError(t, c.End(ctx))
	assert.Equal(t, scan.Closed, c.State())
	assert.Equal(t, scan.NoIndex, c.ActiveIndex())
	client.AssertExpectations(t)
}

func TestStartingASecondScanEndsTheFirst(t *testing.T) {
	ctx := context.Background()
	c, _, _, client := newCursor(t)
	client.On("StartScan", ctx, tableName, true).Return(int64(1), nil).Once()
	client.On("StartIndexScan", ctx, tableName, "name").Return(int64(2), nil).Once()
	client.On("EndScan", ctx, int64(1)).Return(nil).Once()

	require.NoError(t, c.StartTableScan(ctx, true))
	assert.True(t, c.ForUpdate())
	require.NoError(t, c.StartIndexScan(ctx, 1))

	handle, ok := c.Handle()
	assert.True(t, ok)
	assert.Equal(t, int64(2), handle)
	assert.Equal(t, 1, c.ActiveIndex())
	client.AssertExpectations(t)
}

func TestNextReportsEndOfDataAndStaysOpen(t *testing.T) {
	ctx := context.Background()
	c, _, _, client := newCursor(t)
	row := core.NewRow(uuid.New())
	client.On("StartScan", ctx, tableName, false).Return(int64(4), nil)
	client.On("NextRow", ctx, int64(4)).Return(row, nil).Once()
	client.On("NextRow", ctx, int64(4)).Return(nil, nil).Once()

	require.NoError(t, c.StartTableScan(ctx, false))
	got, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Same(t, row, got)

	got, err = c.Next(ctx)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, core.ErrEndOfData)
	assert.Equal(t, scan.Scanning, c.State())
}

func TestOperationsNeedAnOpenScan(t *testing.T) {
	ctx := context.Background()
	c, _, _, client := newCursor(t)

	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, scan.ErrNotScanning)
	_, err = c.GetByPosition(ctx, uuid.New())
	assert.ErrorIs(t, err, scan.ErrNotScanning)

	client.On("StartScan", ctx, tableName, false).Return(int64(5), nil)
	require.NoError(t, c.StartTableScan(ctx, false))
	_, err = c.First(ctx)
	assert.ErrorIs(t, err, core.ErrInternalConsistency)
}

func TestGetByPosition(t *testing.T) {
	ctx := context.Background()
	c, _, _, client := newCursor(t)
	id := uuid.New()
	client.On("StartScan", ctx, tableName, false).Return(int64(6), nil)
	client.On("GetRow", ctx, int64(6), id).Return(nil, nil)

	require.NoError(t, c.StartTableScan(ctx, false))
	_, err := c.GetByPosition(ctx, id)
	assert.ErrorIs(t, err, core.ErrEndOfData)
}

func TestNullKeyAfterDegeneratesToIndexFirst(t *testing.T) {
	ctx := context.Background()
	c, tbl, rc, client := newCursor(t)
	row := core.NewRow(uuid.New())
	client.On("StartIndexScan", ctx, tableName, "name").Return(int64(7), nil)
	client.On("IndexRead", ctx, int64(7), &core.IndexQuery{Type: core.ReadIndexFirst}).Return(row, nil).Once()

	require.NoError(t, c.StartIndexScan(ctx, 1))
	key, keypartMap, err := rc.Layout().BuildKey(tbl.Keys[1], nil)
	require.NoError(t, err)
	assert.Equal(t, byte(1), key[0])

	got, err := c.Seek(ctx, sqlmeta.FindKeyOrNext, key, keypartMap)
	require.NoError(t, err)
	assert.Same(t, row, got)
	client.AssertExpectations(t)
}

func TestSeekMissIsRowNotFound(t *testing.T) {
	ctx := context.Background()
	c, tbl, rc, client := newCursor(t)
	client.On("StartIndexScan", ctx, tableName, "id").Return(int64(8), nil)
	client.On("IndexRead", ctx, int64(8), &core.IndexQuery{
		Type: core.ReadExactKey,
		Keys: []core.KeyValue{{Column: "id", Value: codec.New().EncodeInt64(5)}},
	}).Return(nil, nil)

	require.NoError(t, c.StartIndexScan(ctx, 0))
	key, keypartMap, err := rc.Layout().BuildKey(tbl.Keys[0], int64(5))
	require.NoError(t, err)

	_, err = c.Seek(ctx, sqlmeta.FindKeyExact, key, keypartMap)
	assert.ErrorIs(t, err, core.ErrRowNotFound)
	client.AssertExpectations(t)
}

func TestQueryTranslation(t *testing.T) {
	ctx := context.Background()
	c, tbl, rc, client := newCursor(t)
	client.On("StartIndexScan", ctx, tableName, "name").Return(int64(9), nil)
	require.NoError(t, c.StartIndexScan(ctx, 1))

	alice, keypartMap, err := rc.Layout().BuildKey(tbl.Keys[1], []byte("alice"))
	require.NoError(t, err)
	null, _, err := rc.Layout().BuildKey(tbl.Keys[1], nil)
	require.NoError(t, err)

	aliceKey := []core.KeyValue{{Column: "name", Value: []byte("alice")}}
	nullKey := []core.KeyValue{{Column: "name", Null: true}}

	tests := []struct {
		name     string
		flag     sqlmeta.FindFlag
		key      []byte
		wantType core.ReadType
		wantKeys []core.KeyValue
	}{
		{"exact", sqlmeta.FindKeyExact, alice, core.ReadExactKey, aliceKey},
		{"prefix", sqlmeta.FindPrefix, alice, core.ReadExactKey, aliceKey},
		{"key or next", sqlmeta.FindKeyOrNext, alice, core.ReadKeyOrNext, aliceKey},
		{"key or prev", sqlmeta.FindKeyOrPrev, alice, core.ReadKeyOrPrevious, aliceKey},
		{"prefix last", sqlmeta.FindPrefixLast, alice, core.ReadPrefixLast, aliceKey},
		{"prefix last or prev", sqlmeta.FindPrefixLastOrPrev, alice, core.ReadKeyOrPrevious, aliceKey},
		{"after", sqlmeta.FindAfterKey, alice, core.ReadAfterKey, aliceKey},
		{"before", sqlmeta.FindBeforeKey, alice, core.ReadBeforeKey, aliceKey},
		{"null exact", sqlmeta.FindKeyExact, null, core.ReadExactKey, nullKey},
		{"null before", sqlmeta.FindBeforeKey, null, core.ReadBeforeKey, nullKey},
		{"null after", sqlmeta.FindAfterKey, null, core.ReadIndexFirst, nil},
		{"null prefix last", sqlmeta.FindPrefixLast, null, core.ReadPrefixLast, nullKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := c.Query(tt.flag, tt.key, keypartMap)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, q.Type)
			assert.Equal(t, tt.wantKeys, q.Keys)
		})
	}

	_, err = c.Query(sqlmeta.FindKeyExact, alice[:3], keypartMap)
	assert.Error(t, err)
}
