package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowNullIsDistinctFromEmpty(t *testing.T) {
	row := NewRow(uuid.New())
	row.Set("empty", nil)
	row.Set("name", []byte("bob"))
	row.SetNull("name")

	v, ok := row.Get("empty")
	assert.True(t, ok)
	assert.NotNil(t, v)
	assert.Len(t, v, 0)
	assert.True(t, row.IsNull("name"))
	assert.Equal(t, []string{"empty"}, row.Columns())

	data, err := row.MarshalBinary()
	require.NoError(t, err)

	var decoded Row
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, row.ID, decoded.ID)
	assert.False(t, decoded.IsNull("empty"))
	assert.True(t, decoded.IsNull("name"))
}

func TestRowUnmarshalRejectsBadInput(t *testing.T) {
	row := NewRow(uuid.New())
	row.Set("a", []byte{1, 2, 3})
	data, err := row.MarshalBinary()
	require.NoError(t, err)

	t.Run("version", func(t *testing.T) {
		bad := append([]byte{}, data...)
		bad[0] = 9
		var r Row
		assert.ErrorIs(t, r.UnmarshalBinary(bad), ErrRowFormat)
	})

	t.Run("truncated", func(t *testing.T) {
		var r Row
		assert.ErrorIs(t, r.UnmarshalBinary(data[:len(data)-1]), ErrRowFormat)
	})

	t.Run("trailing", func(t *testing.T) {
		var r Row
		assert.ErrorIs(t, r.UnmarshalBinary(append(append([]byte{}, data...), 0)), ErrRowFormat)
	})
}
