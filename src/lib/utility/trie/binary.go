package trie

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"

	"gitlab.com/pnathan/scoped/src/lib/utility"
)

// Binary layout:
//
//	magic "SCP1"
//	node:   uvarint len, segment | uvarint count, (uvarint len, json value)* | uvarint count, node*
//	digest: 64 byte SHAKE-256 of everything before it
const (
	binaryMagic = "SCP1"
	digestSize  = 64
)

func digest(b []byte) []byte {
	h := make([]byte, digestSize)
	sha3.ShakeSum256(h, b)
	return h
}

func (t *Index[T]) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBufferString(binaryMagic)
	if err := encodeNode(buf, t.ToSnapshot()); err != nil {
		return nil, err
	}
	buf.Write(digest(buf.Bytes()))
	return buf.Bytes(), nil
}

func encodeNode[T any](buf *bytes.Buffer, s Snapshot[T]) error {
	buf.Write(utility.UintToBytes(uint64(len(s.Segment))))
	buf.WriteString(s.Segment)
	buf.Write(utility.UintToBytes(uint64(len(s.Values))))
	for _, v := range s.Values {
		enc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode value at segment %q: %w", s.Segment, err)
		}
		buf.Write(utility.UintToBytes(uint64(len(enc))))
		buf.Write(enc)
	}
	buf.Write(utility.UintToBytes(uint64(len(s.Children))))
	for _, c := range s.Children {
		if err := encodeNode(buf, c); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalBinary decodes into t in place. See OverwriteFrom.
func (t *Index[T]) UnmarshalBinary(data []byte) error {
	s, err := decodeBinary[T](data)
	if err != nil {
		t.ensure()
		t.Reset()
		return err
	}
	return t.OverwriteFrom(s)
}

func decodeBinary[T any](data []byte) (Snapshot[T], error) {
	var s Snapshot[T]
	if len(data) < len(binaryMagic)+digestSize {
		return s, decodeErrorf("truncated: %d bytes", len(data))
	}
	if string(data[:len(binaryMagic)]) != binaryMagic {
		return s, decodeErrorf("bad magic")
	}
	body, sum := data[:len(data)-digestSize], data[len(data)-digestSize:]
	if !bytes.Equal(digest(body), sum) {
		return s, decodeErrorf("digest mismatch")
	}
	s, rest, err := decodeNode[T](body[len(binaryMagic):])
	if err != nil {
		return s, err
	}
	if len(rest) != 0 {
		return s, decodeErrorf("%d trailing bytes", len(rest))
	}
	return s, nil
}

func readBytes(b []byte) ([]byte, []byte, error) {
	n, rest, ok := utility.ReadUvarint(b)
	if !ok {
		return nil, b, decodeErrorf("bad length prefix")
	}
	if n > uint64(len(rest)) {
		return nil, b, decodeErrorf("length %d overruns input", n)
	}
	return rest[:n], rest[n:], nil
}

// readCount reads an element count; every element takes at least one byte,
// so a count larger than the remaining input is rejected up front.
func readCount(b []byte) (int, []byte, error) {
	n, rest, ok := utility.ReadUvarint(b)
	if !ok {
		return 0, b, decodeErrorf("bad count")
	}
	if n > uint64(len(rest)) {
		return 0, b, decodeErrorf("count %d overruns input", n)
	}
	return int(n), rest, nil
}

func decodeNode[T any](b []byte) (Snapshot[T], []byte, error) {
	var s Snapshot[T]
	seg, b, err := readBytes(b)
	if err != nil {
		return s, b, err
	}
	s.Segment = string(seg)

	count, b, err := readCount(b)
	if err != nil {
		return s, b, err
	}
	for i := 0; i < count; i++ {
		var raw []byte
		raw, b, err = readBytes(b)
		if err != nil {
			return s, b, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return s, b, &DecodeError{Reason: fmt.Sprintf("value %d at segment %q", i, s.Segment), Err: err}
		}
		s.Values = append(s.Values, v)
	}

	count, b, err = readCount(b)
	if err != nil {
		return s, b, err
	}
	for i := 0; i < count; i++ {
		var c Snapshot[T]
		c, b, err = decodeNode[T](b)
		if err != nil {
			return s, b, err
		}
		s.Children = append(s.Children, c)
	}
	return s, b, nil
}
