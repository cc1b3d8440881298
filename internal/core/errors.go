package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedColumnType is returned for column types the engine cannot store.
	ErrUnsupportedColumnType = errors.New("unsupported column type")

	// ErrCharsetViolation is returned for text columns without the required collation.
	ErrCharsetViolation = errors.New("character set violation")

	// ErrDuplicateKey is returned when a write would violate a unique index.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrEndOfData signals that a scan has no more rows. It is a terminal status, not a failure.
	ErrEndOfData = errors.New("end of data")

	// ErrRowNotFound signals that a positioned lookup found nothing.
	ErrRowNotFound = errors.New("row not found")

	// ErrBackendCall wraps any failure raised by the backend during a call.
	ErrBackendCall = errors.New("backend call failed")

	// ErrInternalConsistency signals disagreement between engine metadata and backend state.
	ErrInternalConsistency = errors.New("internal consistency failure")

	// ErrTableCrashed is returned when the shared table state is marked crashed.
	ErrTableCrashed = errors.New("table is marked as crashed")
)

// ErrorKind classifies engine errors.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUnsupportedColumnType
	KindCharsetViolation
	KindDuplicateKey
	KindEndOfData
	KindRowNotFound
	KindBackendCallFailure
	KindInternalConsistency
	KindCrashed
)

var kindSentinels = []struct {
	kind ErrorKind
	err  error
}{
	{KindUnsupportedColumnType, ErrUnsupportedColumnType},
	{KindCharsetViolation, ErrCharsetViolation},
	{KindDuplicateKey, ErrDuplicateKey},
	{KindEndOfData, ErrEndOfData},
	{KindRowNotFound, ErrRowNotFound},
	{KindBackendCallFailure, ErrBackendCall},
	{KindInternalConsistency, ErrInternalConsistency},
	{KindCrashed, ErrTableCrashed},
}

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) && ee.Kind != KindUnknown {
		return ee.Kind
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindUnknown
}

// EngineError carries the operation and, for duplicate keys, the positional
// index of the violated key.
type EngineError struct {
	Kind ErrorKind
	Op   string
	Key  int
	Err  error
}

func (e *EngineError) Error() string {
	if e.Kind == KindDuplicateKey {
		return fmt.Sprintf("%s: duplicate entry for key %d: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewDuplicateKeyError reports a unique violation on the key at position key.
func NewDuplicateKeyError(op string, key int, index string) *EngineError {
	return &EngineError{
		Kind: KindDuplicateKey,
		Op:   op,
		Key:  key,
		Err:  fmt.Errorf("%w on index %q", ErrDuplicateKey, index),
	}
}

// Handler status codes as understood by the server.
const (
	StatusOK                = 0
	StatusKeyNotFound       = 120
	StatusFoundDuplicateKey = 121
	StatusInternalError     = 122
	StatusEndOfFile         = 137
	StatusWrongCreateOption = 140
	StatusCrashedOnUsage    = 145
)

// StatusCode maps an error to the server's handler status number.
func StatusCode(err error) int {
	if err == nil {
		return StatusOK
	}
	switch KindOf(err) {
	case KindEndOfData:
		return StatusEndOfFile
	case KindRowNotFound:
		return StatusKeyNotFound
	case KindDuplicateKey:
		return StatusFoundDuplicateKey
	case KindUnsupportedColumnType, KindCharsetViolation:
		return StatusWrongCreateOption
	case KindCrashed:
		return StatusCrashedOnUsage
	default:
		return StatusInternalError
	}
}
