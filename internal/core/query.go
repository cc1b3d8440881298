package core

import "fmt"

// ReadType tells the backend how to position an index cursor.
type ReadType int

const (
	// ReadExactKey returns rows whose leading index columns equal the key.
	ReadExactKey ReadType = iota
	// ReadAfterKey returns rows strictly after the key, ascending.
	ReadAfterKey
	// ReadKeyOrNext returns rows at or after the key, ascending.
	ReadKeyOrNext
	// ReadKeyOrPrevious returns rows at or before the key, descending.
	ReadKeyOrPrevious
	// ReadBeforeKey returns rows strictly before the key, descending.
	ReadBeforeKey
	// ReadIndexFirst positions at the first index entry, ascending.
	ReadIndexFirst
	// ReadIndexLast positions at the last index entry, descending.
	ReadIndexLast
	// ReadPrefixLast returns rows whose leading columns equal the key,
	// descending from the last of them.
	ReadPrefixLast
)

var readTypeNames = map[ReadType]string{
	ReadExactKey:      "EXACT_KEY",
	ReadAfterKey:      "AFTER_KEY",
	ReadKeyOrNext:     "KEY_OR_NEXT",
	ReadKeyOrPrevious: "KEY_OR_PREVIOUS",
	ReadBeforeKey:     "BEFORE_KEY",
	ReadIndexFirst:    "INDEX_FIRST",
	ReadIndexLast:     "INDEX_LAST",
	ReadPrefixLast:    "PREFIX_LAST",
}

func (t ReadType) String() string {
	if s, ok := readTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ReadType(%d)", int(t))
}

// Descending reports whether rows are returned in reverse index order.
func (t ReadType) Descending() bool {
	return t == ReadKeyOrPrevious || t == ReadBeforeKey || t == ReadIndexLast || t == ReadPrefixLast
}

// KeyValue is one leading index column of a seek key.
type KeyValue struct {
	Column string
	Value  []byte
	Null   bool
}

// IndexQuery is the backend descriptor of an index seek.
type IndexQuery struct {
	Type ReadType
	Keys []KeyValue
}

// Validate checks that only the positional read types omit a key.
func (q *IndexQuery) Validate() error {
	if len(q.Keys) == 0 && q.Type != ReadIndexFirst && q.Type != ReadIndexLast {
		return fmt.Errorf("index query %s requires at least one key value", q.Type)
	}
	return nil
}
