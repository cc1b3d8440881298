package bridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rzpsarthak13/kvbridge/internal/bridge"
	"github.com/rzpsarthak13/kvbridge/internal/bridge/bridgetest"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNestedGuardsAttachOnce(t *testing.T) {
	att := &bridgetest.Attacher{}
	att.On("Attach").Return(nil).Once()
	att.On("Detach").Return(nil).Once()

	gw := bridge.NewGateway(&bridgetest.Client{}, bridge.Options{Attacher: att})
	s := gw.NewSession()

	outer, err := s.Enter()
	require.NoError(t, err)
	inner, err := s.Enter()
	require.NoError(t, err)
	assert.Equal(t, 2, s.Depth())

	inner.Release()
	inner.Release()
	assert.Equal(t, 1, s.Depth())
	att.AssertNotCalled(t, "Detach")

	outer.Release()
	assert.Equal(t, 0, s.Depth())
	att.AssertExpectations(t)
}

func TestCallsRunInsideOuterGuard(t *testing.T) {
	ctx := context.Background()
	att := &bridgetest.Attacher{}
	att.On("Attach").Return(nil).Once()
	att.On("Detach").Return(nil).Once()

	client := &bridgetest.Client{}
	client.On("FlushWrites", ctx, int64(3)).Return(nil)
	client.On("GetRowCount", ctx, "shop.payments").Return(int64(42), nil)

	s := bridge.NewGateway(client, bridge.Options{Attacher: att}).NewSession()
	guard, err := s.Enter()
	require.NoError(t, err)
	require.NoError(t, s.FlushWrites(ctx, 3))
	n, err := s.GetRowCount(ctx, "shop.payments")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	guard.Release()

	att.AssertExpectations(t)
	client.AssertExpectations(t)
}

func TestErrorTranslation(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("region server unavailable")

	tests := []struct {
		name     string
		err      error
		wantKind core.ErrorKind
		sentinel error
	}{
		{"foreign error", boom, core.KindBackendCallFailure, core.ErrBackendCall},
		{"not found passes", core.ErrRowNotFound, core.KindRowNotFound, core.ErrRowNotFound},
		{"end of data passes", core.ErrEndOfData, core.KindEndOfData, core.ErrEndOfData},
		{"duplicate passes", core.NewDuplicateKeyError("writeRow", 1, "name"), core.KindDuplicateKey, core.ErrDuplicateKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &bridgetest.Client{}
			client.On("DropTable", ctx, "shop.t").Return(tt.err)
			s := bridge.NewGateway(client, bridge.Options{}).NewSession()

			err := s.DropTable(ctx, "shop.t")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, core.KindOf(err))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, 0, s.Depth())
		})
	}

	t.Run("foreign error keeps cause", func(t *testing.T) {
		client := &bridgetest.Client{}
		client.On("DropTable", ctx, "shop.t").Return(boom)
		s := bridge.NewGateway(client, bridge.Options{}).NewSession()

		err := s.DropTable(ctx, "shop.t")
		assert.ErrorIs(t, err, boom)
		var ee *core.EngineError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "dropTable", ee.Op)
		assert.Equal(t, core.StatusInternalError, core.StatusCode(err))
	})
}

func TestPanicBecomesBackendFailure(t *testing.T) {
	ctx := context.Background()
	client := &bridgetest.Client{}
	client.On("NextRow", ctx, int64(1)).Run(func(mock.Arguments) {
		panic("jvm exploded")
	})
	att := &bridgetest.Attacher{}
	att.On("Attach").Return(nil)
	att.On("Detach").Return(nil)

	s := bridge.NewGateway(client, bridge.Options{Attacher: att}).NewSession()
	row, err := s.NextRow(ctx, 1)
	assert.Nil(t, row)
	assert.ErrorIs(t, err, core.ErrBackendCall)
	assert.Equal(t, 0, s.Depth())
	att.AssertNumberOfCalls(t, "Detach", 1)
}

func TestAttachFailureIsFatalAndSticky(t *testing.T) {
	ctx := context.Background()
	att := &bridgetest.Attacher{}
	att.On("Attach").Return(errors.New("no vm")).Once()

	var fatal []error
	gw := bridge.NewGateway(&bridgetest.Client{}, bridge.Options{
		Attacher: att,
		Fatal:    func(err error) { fatal = append(fatal, err) },
	})

	s := gw.NewSession()
	_, err := s.GetRowCount(ctx, "shop.t")
	assert.ErrorIs(t, err, bridge.ErrGatewayFailed)
	assert.Equal(t, core.KindBackendCallFailure, core.KindOf(err))
	require.Len(t, fatal, 1)
	require.Error(t, gw.Failed())

	_, err = gw.NewSession().Enter()
	assert.ErrorIs(t, err, bridge.ErrGatewayFailed)
	assert.Len(t, fatal, 1)
	att.AssertExpectations(t)
}
