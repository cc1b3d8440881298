package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const digitsPerGroup = 9

// digitsToBytes is the storage size of a partial group of n digits.
var digitsToBytes = [digitsPerGroup + 1]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}

var (
	// ErrDecimalOverflow is returned when a value has more integer digits than the column allows.
	ErrDecimalOverflow = errors.New("decimal value out of range")

	// ErrDecimalFormat is returned when packed decimal bytes are malformed.
	ErrDecimalFormat = errors.New("malformed packed decimal")
)

type decimalShape struct {
	intGroups, intLeft   int
	fracGroups, fracLeft int
}

func shapeOf(precision, scale int) (decimalShape, error) {
	if precision <= 0 || scale < 0 || scale > precision {
		return decimalShape{}, fmt.Errorf("invalid decimal(%d,%d)", precision, scale)
	}
	intDigits := precision - scale
	return decimalShape{
		intGroups:  intDigits / digitsPerGroup,
		intLeft:    intDigits % digitsPerGroup,
		fracGroups: scale / digitsPerGroup,
		fracLeft:   scale % digitsPerGroup,
	}, nil
}

func (s decimalShape) size() int {
	return s.intGroups*4 + digitsToBytes[s.intLeft] + s.fracGroups*4 + digitsToBytes[s.fracLeft]
}

// DecimalBinarySize returns the packed size of a decimal(precision, scale).
func DecimalBinarySize(precision, scale int) (int, error) {
	shape, err := shapeOf(precision, scale)
	if err != nil {
		return 0, err
	}
	return shape.size(), nil
}

// EncodeDecimal packs d in the server's fixed-point binary format: digit
// groups of nine stored as big-endian words, partial groups at the outer
// edges, the sign bit flipped and every byte inverted for negative values.
func EncodeDecimal(d decimal.Decimal, precision, scale int) ([]byte, error) {
	shape, err := shapeOf(precision, scale)
	if err != nil {
		return nil, err
	}

	rounded := d.Round(int32(scale))
	digits := rounded.Abs().StringFixed(int32(scale))
	intPart, fracPart := digits, ""
	if dot := strings.IndexByte(digits, '.'); dot >= 0 {
		intPart, fracPart = digits[:dot], digits[dot+1:]
	}
	intPart = strings.TrimLeft(intPart, "0")
	intDigits := precision - scale
	if len(intPart) > intDigits {
		return nil, fmt.Errorf("%w: %s does not fit decimal(%d,%d)", ErrDecimalOverflow, d.String(), precision, scale)
	}
	intPart = strings.Repeat("0", intDigits-len(intPart)) + intPart

	buf := make([]byte, shape.size())
	pos := 0
	pos = putDigits(buf, pos, intPart[:shape.intLeft])
	for i := 0; i < shape.intGroups; i++ {
		start := shape.intLeft + i*digitsPerGroup
		pos = putDigits(buf, pos, intPart[start:start+digitsPerGroup])
	}
	for i := 0; i < shape.fracGroups; i++ {
		pos = putDigits(buf, pos, fracPart[i*digitsPerGroup:(i+1)*digitsPerGroup])
	}
	putDigits(buf, pos, fracPart[shape.fracGroups*digitsPerGroup:])

	buf[0] ^= 0x80
	if rounded.IsNegative() {
		for i := range buf {
			buf[i] ^= 0xff
		}
	}
	return buf, nil
}

// putDigits writes the decimal digits as a big-endian integer sized by digitsToBytes.
func putDigits(buf []byte, pos int, digits string) int {
	n := digitsToBytes[len(digits)]
	if n == 0 {
		return pos
	}
	v, _ := strconv.ParseUint(digits, 10, 32)
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], uint32(v))
	copy(buf[pos:pos+n], word[4-n:])
	return pos + n
}

// DecodeDecimal unpacks bytes produced by EncodeDecimal.
func DecodeDecimal(data []byte, precision, scale int) (decimal.Decimal, error) {
	shape, err := shapeOf(precision, scale)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(data) != shape.size() {
		return decimal.Decimal{}, fmt.Errorf("%w: got %d bytes, want %d for decimal(%d,%d)",
			ErrDecimalFormat, len(data), shape.size(), precision, scale)
	}

	buf := append([]byte(nil), data...)
	negative := buf[0]&0x80 == 0
	buf[0] ^= 0x80
	if negative {
		for i := range buf {
			buf[i] ^= 0xff
		}
	}

	var sb strings.Builder
	if negative {
		sb.WriteByte('-')
	}
	pos := 0
	var chunk string
	if chunk, pos, err = takeDigits(buf, pos, shape.intLeft); err != nil {
		return decimal.Decimal{}, err
	}
	sb.WriteString(chunk)
	for i := 0; i < shape.intGroups; i++ {
		if chunk, pos, err = takeDigits(buf, pos, digitsPerGroup); err != nil {
			return decimal.Decimal{}, err
		}
		sb.WriteString(chunk)
	}
	if shape.intLeft+shape.intGroups == 0 {
		sb.WriteByte('0')
	}
	if scale > 0 {
		sb.WriteByte('.')
		for i := 0; i < shape.fracGroups; i++ {
			if chunk, pos, err = takeDigits(buf, pos, digitsPerGroup); err != nil {
				return decimal.Decimal{}, err
			}
			sb.WriteString(chunk)
		}
		if chunk, _, err = takeDigits(buf, pos, shape.fracLeft); err != nil {
			return decimal.Decimal{}, err
		}
		sb.WriteString(chunk)
	}

	d, err := decimal.NewFromString(sb.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrDecimalFormat, err)
	}
	return d, nil
}

// takeDigits reads a group of n digits and returns it zero-padded to n characters.
func takeDigits(buf []byte, pos, n int) (string, int, error) {
	size := digitsToBytes[n]
	if size == 0 {
		return "", pos, nil
	}
	var word [4]byte
	copy(word[4-size:], buf[pos:pos+size])
	v := binary.BigEndian.Uint32(word[:])
	s := strconv.FormatUint(uint64(v), 10)
	if len(s) > n {
		return "", 0, fmt.Errorf("%w: group value %d exceeds %d digits", ErrDecimalFormat, v, n)
	}
	return strings.Repeat("0", n-len(s)) + s, pos + size, nil
}
