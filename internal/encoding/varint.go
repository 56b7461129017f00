// internal/encoding/varint.go
package encoding

// MaxVarintLen is the longest encoding GetVarint accepts.
const MaxVarintLen = 9

// PutVarint writes v as a big-endian base-128 varint (high bit set on every
// byte but the last) and returns the number of bytes written.
func PutVarint(buf []byte, v uint64) int {
	if v <= 127 {
		buf[0] = byte(v)
		return 1
	}

	n := VarintLen(v)
	for i := n - 1; i >= 0; i-- {
		b := byte(v >> (uint(i) * 7) & 0x7f)
		if i > 0 {
			b |= 0x80
		}
		buf[n-1-i] = b
	}
	return n
}

// GetVarint decodes a varint from buf and returns the value and its length.
// A length of 0 means buf held no complete varint.
func GetVarint(buf []byte) (uint64, int) {
	var v uint64
	for n := 0; n < len(buf) && n < MaxVarintLen; n++ {
		b := buf[n]
		v = (v << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, n + 1
		}
	}
	return 0, 0
}

// VarintLen returns the number of bytes needed to encode v
func VarintLen(v uint64) int {
	if v <= 127 {
		return 1
	}
	n := 0
	for v > 0 {
		n++
		v >>= 7
	}
	return n
}

// PutBytes writes len(b) as a varint followed by b. It returns the number of
// bytes written, or -1 if dst is too small.
func PutBytes(dst, b []byte) int {
	need := VarintLen(uint64(len(b))) + len(b)
	if need > len(dst) {
		return -1
	}
	n := PutVarint(dst, uint64(len(b)))
	copy(dst[n:], b)
	return need
}

// GetBytes reads a length-prefixed byte string written by PutBytes. The
// returned slice aliases src. ok is false if src is truncated.
func GetBytes(src []byte) (b []byte, n int, ok bool) {
	l, m := GetVarint(src)
	if m == 0 || uint64(len(src)-m) < l {
		return nil, 0, false
	}
	end := m + int(l)
	return src[m:end], end, true
}

// BytesLen returns the encoded size of b under PutBytes.
func BytesLen(b []byte) int {
	return VarintLen(uint64(len(b))) + len(b)
}
