// pkg/btree/key.go
package btree

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"pagekv/pkg/pager"
)

// Key is an order-preserving key encoding: keys compare with bytes.Compare.
type Key []byte

// IntKey encodes v so that byte order matches signed integer order.
func IntKey(v int64) Key {
	k := make(Key, pager.IntKeyWidth)
	binary.BigEndian.PutUint64(k, uint64(v)^(1<<63))
	return k
}

// StringKey wraps s as a key of a string-keyed tree.
func StringKey(s string) Key {
	return Key(s)
}

// Int decodes a key produced by IntKey.
func (k Key) Int() int64 {
	return int64(binary.BigEndian.Uint64(k) ^ (1 << 63))
}

// Compare returns -1, 0 or 1.
func (k Key) Compare(o Key) int {
	return bytes.Compare(k, o)
}

// Clone returns a copy that does not alias page memory.
func (k Key) Clone() Key {
	return append(Key(nil), k...)
}

// Format renders k for a tree with key type kt.
func (k Key) Format(kt pager.KeyType) string {
	if kt == pager.KeyInt && len(k) == pager.IntKeyWidth {
		return strconv.FormatInt(k.Int(), 10)
	}
	return strconv.Quote(string(k))
}

func checkKey(kt pager.KeyType, k Key) error {
	switch kt {
	case pager.KeyInt:
		if len(k) != pager.IntKeyWidth {
			return ErrKeyType
		}
	case pager.KeyString:
		if len(k) > pager.MaxStringKeyLen {
			return ErrKeyTooLong
		}
	default:
		return ErrKeyType
	}
	return nil
}
