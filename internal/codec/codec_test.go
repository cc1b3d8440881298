package codec

import (
	"math"
	"testing"
	"time"

	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func col(name string, typ core.ColumnType) *core.ColumnSchema {
	return &core.ColumnSchema{Name: name, Type: typ, MaxLength: 8}
}

func TestEncodeIsBigEndianOnBothHosts(t *testing.T) {
	for _, little := range []bool{true, false} {
		c := NewForHost(little)
		assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0x01, 0x02}, c.EncodeUint64(0x0102))
		assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, c.EncodeInt64(-1))
	}
}

func TestNegativeOneRoundTripsOnSimulatedHosts(t *testing.T) {
	column := col("v", core.ColumnTypeLong)
	for _, little := range []bool{true, false} {
		c := NewForHost(little)
		enc, err := c.Encode(column, int64(-1))
		require.NoError(t, err)

		got, err := c.Decode(column, enc)
		require.NoError(t, err)
		assert.Equal(t, int64(-1), got)
	}
}

func TestEncodingIsHostIndependent(t *testing.T) {
	little, big := NewForHost(true), NewForHost(false)
	for _, v := range []int64{0, 1, -1, math.MaxInt64, math.MinInt64, 1 << 40} {
		assert.Equal(t, little.EncodeInt64(v), big.EncodeInt64(v))

		got, err := big.DecodeInt64(little.EncodeInt64(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	assert.Equal(t, little.EncodeFloat64(3.25), big.EncodeFloat64(3.25))
}

func TestHostProbeIsStable(t *testing.T) {
	assert.Equal(t, HostLittleEndian(), HostLittleEndian())
	assert.Equal(t, HostLittleEndian(), New().LittleEndian())
}

func TestRoundTrip(t *testing.T) {
	c := New()
	day := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	moment := time.Date(1999, 12, 31, 23, 59, 58, 0, time.UTC)

	tests := []struct {
		name   string
		column *core.ColumnSchema
		in     interface{}
		want   interface{}
	}{
		{"signed", col("a", core.ColumnTypeLong), int32(-42), int64(-42)},
		{"signed min", col("a", core.ColumnTypeLong), int64(math.MinInt64), int64(math.MinInt64)},
		{"unsigned max", col("a", core.ColumnTypeULong), uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{"enum", col("a", core.ColumnTypeEnum), uint8(3), uint64(3)},
		{"double", col("a", core.ColumnTypeDouble), 12.5, 12.5},
		{"float widened", col("a", core.ColumnTypeDouble), float32(0.1), float64(float32(0.1))},
		{"date", col("a", core.ColumnTypeDate), day, day},
		{"zero date", col("a", core.ColumnTypeDate), time.Time{}, time.Time{}},
		{"datetime", col("a", core.ColumnTypeDatetime), moment, moment},
		{"zero datetime", col("a", core.ColumnTypeDatetime), time.Time{}, time.Time{}},
		{"time", col("a", core.ColumnTypeTime), -(838*time.Hour + 59*time.Minute), -(838*time.Hour + 59*time.Minute)},
		{"string", col("a", core.ColumnTypeString), "héllo", "héllo"},
		{"char", col("a", core.ColumnTypeFixedString), []byte("ab"), "ab"},
		{"binary", col("a", core.ColumnTypeBinary), []byte{0, 1, 2}, []byte{0, 1, 2}},
		{"empty binary", col("a", core.ColumnTypeBinary), []byte{}, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := c.Encode(tt.column, tt.in)
			require.NoError(t, err)
			require.NotNil(t, enc)

			got, err := c.Decode(tt.column, enc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodedWidths(t *testing.T) {
	c := New()
	enc, err := c.Encode(col("a", core.ColumnTypeLong), int8(5))
	require.NoError(t, err)
	assert.Len(t, enc, 8)

	enc, err = c.Encode(col("a", core.ColumnTypeDouble), float32(1))
	require.NoError(t, err)
	assert.Len(t, enc, 8)

	enc, err = c.Encode(col("a", core.ColumnTypeDate), time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2020-01-02", string(enc))
}

func TestNullHasNoEncoding(t *testing.T) {
	c := New()
	_, err := c.Encode(col("a", core.ColumnTypeString), nil)
	assert.ErrorIs(t, err, ErrNullValue)

	_, err = c.Decode(col("a", core.ColumnTypeString), nil)
	assert.ErrorIs(t, err, ErrNullValue)
}

func TestEncodeRejects(t *testing.T) {
	c := New()
	_, err := c.Encode(col("a", core.ColumnTypeULong), int64(-1))
	assert.Error(t, err)

	_, err = c.Encode(col("a", core.ColumnType("GEOMETRY")), []byte{1})
	assert.ErrorIs(t, err, core.ErrUnsupportedColumnType)

	_, err = c.Decode(col("a", core.ColumnTypeLong), []byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDecimalPackedLayout(t *testing.T) {
	tests := []struct {
		value            string
		precision, scale int
		want             []byte
	}{
		{"10.00", 10, 2, []byte{0x80, 0x00, 0x00, 0x0a, 0x00}},
		{"12.50", 10, 2, []byte{0x80, 0x00, 0x00, 0x0c, 0x32}},
		{"-10.00", 10, 2, []byte{0x7f, 0xff, 0xff, 0xf5, 0xff}},
		{"0", 5, 0, []byte{0x80, 0x00, 0x00}},
		{"1234567890.1", 14, 1, []byte{0x80, 0x01, 0x0d, 0xfb, 0x38, 0xd2, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			d := decimal.RequireFromString(tt.value)
			enc, err := EncodeDecimal(d, tt.precision, tt.scale)
			require.NoError(t, err)
			assert.Equal(t, tt.want, enc)

			size, err := DecimalBinarySize(tt.precision, tt.scale)
			require.NoError(t, err)
			assert.Len(t, enc, size)

			got, err := DecodeDecimal(enc, tt.precision, tt.scale)
			require.NoError(t, err)
			assert.True(t, d.Equal(got), "got %s want %s", got, d)
		})
	}
}

func TestDecimalRoundTripThroughCodec(t *testing.T) {
	c := New()
	column := &core.ColumnSchema{Name: "amount", Type: core.ColumnTypeDecimal, Precision: 20, Scale: 10}
	for _, s := range []string{"0", "-0.0000000001", "1234567890.0123456789", "-9999999999.9999999999"} {
		enc, err := c.Encode(column, s)
		require.NoError(t, err)
		got, err := c.Decode(column, enc)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString(s).Equal(got.(decimal.Decimal)), s)
	}
}

func TestDecimalOrderingFollowsBytes(t *testing.T) {
	values := []string{"-100.5", "-1.25", "0", "0.01", "3.14", "99.99"}
	var prev []byte
	for _, s := range values {
		enc, err := EncodeDecimal(decimal.RequireFromString(s), 6, 2)
		require.NoError(t, err)
		if prev != nil {
			assert.Less(t, string(prev), string(enc), s)
		}
		prev = enc
	}
}

func TestDecimalErrors(t *testing.T) {
	_, err := EncodeDecimal(decimal.RequireFromString("1000"), 5, 2)
	assert.ErrorIs(t, err, ErrDecimalOverflow)

	_, err = DecodeDecimal([]byte{0x80}, 10, 2)
	assert.ErrorIs(t, err, ErrDecimalFormat)

	_, err = DecimalBinarySize(2, 3)
	assert.Error(t, err)
}
