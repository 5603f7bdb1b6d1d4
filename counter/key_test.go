package counter

import "testing"

func TestKeyCompare(t *testing.T) {
	tests := []struct {
		a, b Key
		want int
	}{
		{Key{}, Key{}, 0},
		{Key{Hi: 1}, Key{Lo: ^uint64(0)}, 1},
		{Key{Lo: 1}, Key{Lo: 2}, -1},
		{Key{Hi: 2, Lo: 0}, Key{Hi: 2, Lo: 0}, 0},
		{Key{Hi: 1 << 63}, Key{Hi: 1}, 1},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := tt.a.Less(tt.b); got != (tt.want < 0) {
			t.Errorf("%v.Less(%v) = %v", tt.a, tt.b, got)
		}
	}
}

func TestKeyPartition(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"::1", 0},
		{"fe80::1", 0xfe},
		{"2001:db8::1", 0x20},
		{"ff02::1", 0xff},
		{"00ff::", 0},
	}
	for _, tt := range tests {
		k, ok := ParseIPv6(tt.in)
		if !ok {
			t.Fatalf("ParseIPv6(%q) rejected", tt.in)
		}
		if got := k.Partition(); got != tt.want {
			t.Errorf("%s partition = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestKeyString(t *testing.T) {
	k, _ := ParseIPv6("2001:DB8::FF00:42:8329")
	if got, want := k.String(), "2001:db8:0:0:0:ff00:42:8329"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestKeyEncoding(t *testing.T) {
	k := Key{Hi: 0x20010db800000000, Lo: 0x0000ff0000428329}
	var b [KeySize]byte
	putKey(b[:], k)
	if b[0] != 0x20 || b[1] != 0x01 || b[15] != 0x29 {
		t.Errorf("encoding is not network byte order: %x", b)
	}
	if got := readKey(b[:]); got != k {
		t.Errorf("readKey = %v, want %v", got, k)
	}
}
