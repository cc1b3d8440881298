// Package bridgetest provides a testify mock of bridge.BackendClient.
package bridgetest

import (
	"context"

	"github.com/google/uuid"
	"github.com/rzpsarthak13/kvbridge/internal/bridge"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/stretchr/testify/mock"
)

// Client is a mock backend.
type Client struct {
	mock.Mock
}

var _ bridge.BackendClient = (*Client)(nil)

func row(args mock.Arguments, i int) *core.Row {
	if r, ok := args.Get(i).(*core.Row); ok {
		return r
	}
	return nil
}

func (m *Client) CreateTable(ctx context.Context, name string, schema []byte) error {
	return m.Called(ctx, name, schema).Error(0)
}

func (m *Client) DropTable(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *Client) RenameTable(ctx context.Context, from, to string) error {
	return m.Called(ctx, from, to).Error(0)
}

func (m *Client) StartScan(ctx context.Context, name string, forUpdate bool) (int64, error) {
	args := m.Called(ctx, name, forUpdate)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Client) StartIndexScan(ctx context.Context, name, index string) (int64, error) {
	args := m.Called(ctx, name, index)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Client) EndScan(ctx context.Context, cursorID int64) error {
	return m.Called(ctx, cursorID).Error(0)
}

func (m *Client) NextRow(ctx context.Context, cursorID int64) (*core.Row, error) {
	args := m.Called(ctx, cursorID)
	return row(args, 0), args.Error(1)
}

func (m *Client) GetRow(ctx context.Context, cursorID int64, rowID uuid.UUID) (*core.Row, error) {
	args := m.Called(ctx, cursorID, rowID)
	return row(args, 0), args.Error(1)
}

func (m *Client) IndexRead(ctx context.Context, cursorID int64, query *core.IndexQuery) (*core.Row, error) {
	args := m.Called(ctx, cursorID, query)
	return row(args, 0), args.Error(1)
}

func (m *Client) NextIndexRow(ctx context.Context, cursorID int64) (*core.Row, error) {
	args := m.Called(ctx, cursorID)
	return row(args, 0), args.Error(1)
}

func (m *Client) WriteRow(ctx context.Context, writeID int64, name string, r *core.Row) error {
	return m.Called(ctx, writeID, name, r).Error(0)
}

func (m *Client) UpdateRow(ctx context.Context, writeID, cursorID int64, changed []string, name string, r *core.Row) error {
	return m.Called(ctx, writeID, cursorID, changed, name, r).Error(0)
}

func (m *Client) DeleteRow(ctx context.Context, writeID, cursorID int64) error {
	return m.Called(ctx, writeID, cursorID).Error(0)
}

func (m *Client) DeleteAllRows(ctx context.Context, name string) (int64, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Client) FlushWrites(ctx context.Context, writeID int64) error {
	return m.Called(ctx, writeID).Error(0)
}

func (m *Client) StartWrite(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Client) EndWrite(ctx context.Context, writeID int64) error {
	return m.Called(ctx, writeID).Error(0)
}

func (m *Client) FindDuplicateKey(ctx context.Context, name string, values map[string][]byte, changed []string) (string, error) {
	args := m.Called(ctx, name, values, changed)
	return args.String(0), args.Error(1)
}

func (m *Client) FindDuplicateValue(ctx context.Context, name, index string) ([]byte, error) {
	args := m.Called(ctx, name, index)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *Client) GetRowCount(ctx context.Context, name string) (int64, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Client) IncrementRowCount(ctx context.Context, name string, delta int64) error {
	return m.Called(ctx, name, delta).Error(0)
}

func (m *Client) SetRowCount(ctx context.Context, name string, value int64) error {
	return m.Called(ctx, name, value).Error(0)
}

func (m *Client) GetAutoIncrementValue(ctx context.Context, name, column string) (uint64, error) {
	args := m.Called(ctx, name, column)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *Client) GetNextAutoIncrementValue(ctx context.Context, name, column string) (uint64, error) {
	args := m.Called(ctx, name, column)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *Client) AlterAutoIncrementValue(ctx context.Context, name, column string, value uint64, isTruncate bool) (bool, error) {
	args := m.Called(ctx, name, column, value, isTruncate)
	return args.Bool(0), args.Error(1)
}

func (m *Client) AddIndex(ctx context.Context, name string, index core.IndexSchema) error {
	return m.Called(ctx, name, index).Error(0)
}

func (m *Client) DropIndex(ctx context.Context, name, index string) error {
	return m.Called(ctx, name, index).Error(0)
}

func (m *Client) IsNullable(ctx context.Context, name, column string) (bool, error) {
	args := m.Called(ctx, name, column)
	return args.Bool(0), args.Error(1)
}

// Attacher is a mock attacher.
type Attacher struct {
	mock.Mock
}

func (m *Attacher) Attach() error {
	return m.Called().Error(0)
}

func (m *Attacher) Detach() error {
	return m.Called().Error(0)
}
