package sqlmeta

import "math/bits"

// ColumnSet is a bitmap over a table's fields.
type ColumnSet struct {
	words []uint64
	n     int
}

// NewColumnSet creates an empty set for n fields.
func NewColumnSet(n int) *ColumnSet {
	return &ColumnSet{words: make([]uint64, (n+63)/64), n: n}
}

// Len returns the number of fields the set covers.
func (s *ColumnSet) Len() int { return s.n }

func (s *ColumnSet) Set(i int)   { s.words[i/64] |= 1 << (uint(i) % 64) }
func (s *ColumnSet) Clear(i int) { s.words[i/64] &^= 1 << (uint(i) % 64) }

func (s *ColumnSet) IsSet(i int) bool {
	return s.words[i/64]&(1<<(uint(i)%64)) != 0
}

// SetAll marks every field.
func (s *ColumnSet) SetAll() {
	for i := range s.words {
		s.words[i] = ^uint64(0)
	}
	if r := s.n % 64; r != 0 {
		s.words[len(s.words)-1] = (1 << uint(r)) - 1
	}
}

// ClearAll unmarks every field.
func (s *ColumnSet) ClearAll() {
	for i := range s.words {
		s.words[i] = 0
	}
}

// IsAll reports whether every field is marked.
func (s *ColumnSet) IsAll() bool {
	return s.Count() == s.n
}

// Count returns the number of marked fields.
func (s *ColumnSet) Count() int {
	c := 0
	for _, w := range s.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Clone returns an independent copy.
func (s *ColumnSet) Clone() *ColumnSet {
	return &ColumnSet{words: append([]uint64(nil), s.words...), n: s.n}
}

// UseAll marks every field and returns a function that restores the
// previous contents. Callers defer the restore.
func (s *ColumnSet) UseAll() (restore func()) {
	saved := append([]uint64(nil), s.words...)
	s.SetAll()
	return func() { copy(s.words, saved) }
}
