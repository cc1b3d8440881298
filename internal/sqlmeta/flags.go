package sqlmeta

// FindFlag is the server's comparison mode for an index seek.
type FindFlag int

const (
	FindKeyExact FindFlag = iota
	FindKeyOrNext
	FindKeyOrPrev
	FindAfterKey
	FindBeforeKey
	FindPrefix
	FindPrefixLast
	FindPrefixLastOrPrev
)

var findFlagNames = [...]string{
	"KEY_EXACT", "KEY_OR_NEXT", "KEY_OR_PREV", "AFTER_KEY",
	"BEFORE_KEY", "PREFIX", "PREFIX_LAST", "PREFIX_LAST_OR_PREV",
}

func (f FindFlag) String() string {
	if f >= 0 && int(f) < len(findFlagNames) {
		return findFlagNames[f]
	}
	return "UNKNOWN"
}

// LockType is the lock requested through external_lock.
type LockType int

const (
	LockRead LockType = iota
	LockWrite
	LockUnlock
)

// InfoFlag selects which statistics Info refreshes.
type InfoFlag uint32

const (
	InfoVariable InfoFlag = 1 << iota
	InfoConst
	InfoErrKey
	InfoAuto
	InfoTime
)

// Has reports whether all bits of o are set.
func (f InfoFlag) Has(o InfoFlag) bool { return f&o == o }
