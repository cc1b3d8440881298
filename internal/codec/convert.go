package codec

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ToInt64 converts a Go value to int64.
func ToInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to int64: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", value)
	}
}

// ToUint64 converts a Go value to uint64; negative values are rejected.
func ToUint64(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case uint:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case string:
		u, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to uint64: %w", err)
		}
		return u, nil
	default:
		i, err := ToInt64(value)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to uint64", value)
		}
		if i < 0 {
			return 0, fmt.Errorf("negative value %d for unsigned column", i)
		}
		return uint64(i), nil
	}
}

// ToFloat64 converts a Go value to float64, widening float32.
func ToFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to float64: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

// ToDecimal converts a Go value to a decimal.
func ToDecimal(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case *decimal.Decimal:
		return *v, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("cannot convert string to decimal: %w", err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	default:
		i, err := ToInt64(value)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("cannot convert %T to decimal", value)
		}
		return decimal.NewFromInt(i), nil
	}
}

// ToBytes converts string-like values to bytes.
func ToBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to []byte", value)
	}
}

// ToTime converts a Go value to time.Time.
func ToTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range []string{DatetimeLayout, DateLayout, time.RFC3339Nano} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		if v == zeroDatetime || v == zeroDate {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("cannot parse time string: %s", v)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", value)
	}
}

// ToDuration converts a Go value to time.Duration.
func ToDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to duration: %w", err)
		}
		return d, nil
	default:
		i, err := ToInt64(value)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to time.Duration", value)
		}
		return time.Duration(i), nil
	}
}
