package utility

import "encoding/binary"

func Concat[T any](arrays ...[]T) []T {
	size := 0
	for _, ele := range arrays {
		size += len(ele)
	}
	result := make([]T, 0, size)
	for _, ele := range arrays {
		result = append(result, ele...)
	}
	return result
}

func UintToBytes(u uint64) []byte {
	int_buffer := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(int_buffer, u)
	return int_buffer[:n]
}

// ReadUvarint decodes a uvarint from the head of b and returns the rest.
// ok is false when b is truncated or the value overflows 64 bits.
func ReadUvarint(b []byte) (v uint64, rest []byte, ok bool) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, b, false
	}
	return v, b[n:], true
}
