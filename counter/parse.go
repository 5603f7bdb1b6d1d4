package counter

var hexVal [256]int8

func init() {
	for i := range hexVal {
		hexVal[i] = -1
	}
	for c := '0'; c <= '9'; c++ {
		hexVal[c] = int8(c - '0')
	}
	for c := 'a'; c <= 'f'; c++ {
		hexVal[c] = int8(c-'a') + 10
		hexVal[c-'a'+'A'] = int8(c-'a') + 10
	}
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// trimLine drops trailing carriage returns and leading whitespace from
// data[start:end]. An empty result (start == end) is a blank line.
func trimLine(data []byte, start, end int) (int, int) {
	for end > start && data[end-1] == '\r' {
		end--
	}
	for start < end && isSpace(data[start]) {
		start++
	}
	return start, end
}

// ParseIPv6 normalizes a textual address to its Key. ok is false for blank
// and malformed input.
func ParseIPv6(s string) (Key, bool) {
	b := []byte(s)
	start, end := trimLine(b, 0, len(b))
	if start == end {
		return Key{}, false
	}
	return parseIPv6(b, start, end)
}

// parseIPv6 parses data[start:end], which must not begin with whitespace.
// Groups keep only their low 16 bits, so a group longer than four digits
// wraps instead of being rejected. Whitespace ends the address.
func parseIPv6(data []byte, start, end int) (Key, bool) {
	var groups [8]uint16
	n := 0
	gap := -1
	i := start

	if data[i] == ':' {
		if i+1 >= end || data[i+1] != ':' {
			return Key{}, false
		}
		gap = 0
		i += 2
	}

	for i < end && !isSpace(data[i]) {
		if n == 8 {
			return Key{}, false
		}
		var v uint16
		digits := 0
		for i < end {
			d := hexVal[data[i]]
			if d < 0 {
				break
			}
			v = v<<4 | uint16(d)
			digits++
			i++
		}
		if digits == 0 {
			return Key{}, false
		}
		groups[n] = v
		n++

		if i == end || isSpace(data[i]) {
			break
		}
		if data[i] != ':' {
			return Key{}, false
		}
		i++
		if i < end && data[i] == ':' {
			if gap >= 0 {
				return Key{}, false
			}
			gap = n
			i++
			continue
		}
		// a single colon must be followed by another group
		if i == end || isSpace(data[i]) {
			return Key{}, false
		}
	}

	if gap < 0 {
		if n != 8 {
			return Key{}, false
		}
		return packGroups(&groups), true
	}
	if n == 8 {
		return Key{}, false
	}

	tail := n - gap
	copy(groups[8-tail:], groups[gap:n])
	for j := gap; j < 8-tail; j++ {
		groups[j] = 0
	}
	return packGroups(&groups), true
}
