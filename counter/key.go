package counter

import (
	"encoding/binary"
	"fmt"
)

// KeySize is the on-disk width of a Key in a staging file.
const KeySize = 16

// Key is an IPv6 address packed into two 64-bit halves, network byte order:
// groups 0..3 in Hi, groups 4..7 in Lo, most significant group first.
type Key struct {
	Hi uint64
	Lo uint64
}

// Compare orders keys by Hi, then by Lo.
func (k Key) Compare(o Key) int {
	switch {
	case k.Hi < o.Hi:
		return -1
	case k.Hi > o.Hi:
		return 1
	case k.Lo < o.Lo:
		return -1
	case k.Lo > o.Lo:
		return 1
	}
	return 0
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool { return k.Compare(o) < 0 }

// Partition is the index of the bucket the key is staged in: the top byte of Hi.
func (k Key) Partition() int {
	return int(k.Hi >> 56)
}

// Groups unpacks the key into its eight 16-bit groups.
func (k Key) Groups() [8]uint16 {
	var g [8]uint16
	for i := 0; i < 4; i++ {
		g[i] = uint16(k.Hi >> (48 - 16*i))
		g[4+i] = uint16(k.Lo >> (48 - 16*i))
	}
	return g
}

// String renders the uncompressed lower-case form, e.g. 2001:db8:0:0:0:0:0:1.
func (k Key) String() string {
	g := k.Groups()
	return fmt.Sprintf("%x:%x:%x:%x:%x:%x:%x:%x", g[0], g[1], g[2], g[3], g[4], g[5], g[6], g[7])
}

func packGroups(g *[8]uint16) Key {
	return Key{
		Hi: uint64(g[0])<<48 | uint64(g[1])<<32 | uint64(g[2])<<16 | uint64(g[3]),
		Lo: uint64(g[4])<<48 | uint64(g[5])<<32 | uint64(g[6])<<16 | uint64(g[7]),
	}
}

func putKey(b []byte, k Key) {
	binary.BigEndian.PutUint64(b[0:8], k.Hi)
	binary.BigEndian.PutUint64(b[8:16], k.Lo)
}

func readKey(b []byte) Key {
	return Key{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}
