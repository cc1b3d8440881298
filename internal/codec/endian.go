package codec

import (
	"encoding/binary"
	"sync"
	"unsafe"
)

// hostLittleEndian probes the byte layout of a known 16-bit value once.
var hostLittleEndian = sync.OnceValue(func() bool {
	probe := uint16(0x0102)
	return *(*byte)(unsafe.Pointer(&probe)) == 0x02
})

// HostLittleEndian reports whether the running host stores integers
// least-significant byte first.
func HostLittleEndian() bool {
	return hostLittleEndian()
}

func hostOrder(littleEndian bool) binary.ByteOrder {
	if littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
