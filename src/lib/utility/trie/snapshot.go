package trie

import (
	"encoding/json"
	"strings"
)

// Snapshot is the serializable form of an Index. The root carries the empty
// segment; children are listed in creation order.
type Snapshot[T any] struct {
	Segment  string        `json:"segment"`
	Values   []T           `json:"values,omitempty"`
	Children []Snapshot[T] `json:"children,omitempty"`
}

func (t *Index[T]) ToSnapshot() Snapshot[T] {
	t.ensure()
	return snapshot(t.root, "")
}

func snapshot[T any](n *node[T], segment string) Snapshot[T] {
	s := Snapshot[T]{Segment: segment}
	if len(n.values) > 0 {
		s.Values = append(make([]T, 0, len(n.values)), n.values...)
	}
	for _, seg := range n.order {
		s.Children = append(s.Children, snapshot(n.children[seg], seg))
	}
	return s
}

func FromSnapshot[T any](s Snapshot[T], opts ...Option) (*Index[T], error) {
	t := New[T](opts...)
	if err := t.OverwriteFrom(s); err != nil {
		return nil, err
	}
	return t, nil
}

// OverwriteFrom replaces the whole tree and cache of t with the contents of
// s. The new tree is built aside and swapped in; if s is malformed, t is
// left empty and a *DecodeError is returned.
func (t *Index[T]) OverwriteFrom(s Snapshot[T]) error {
	t.ensure()
	root, err := build(s)
	if err != nil {
		t.Reset()
		return err
	}
	t.Reset()
	t.root = root
	return nil
}

func build[T any](s Snapshot[T]) (*node[T], error) {
	if s.Segment != "" {
		return nil, decodeErrorf("root segment must be empty, got %q", s.Segment)
	}
	root := newNode[T]()
	if err := fill(root, s, nil); err != nil {
		return nil, err
	}
	return root, nil
}

func fill[T any](n *node[T], s Snapshot[T], path []string) error {
	if len(s.Values) > 0 {
		n.values = append(make([]T, 0, len(s.Values)), s.Values...)
	}
	for _, c := range s.Children {
		switch {
		case c.Segment == "":
			return decodeErrorf("empty segment under %q", Join(path))
		case strings.Contains(c.Segment, Separator):
			return decodeErrorf("segment %q under %q contains a separator", c.Segment, Join(path))
		}
		if _, dup := n.children[c.Segment]; dup {
			return decodeErrorf("duplicate segment %q under %q", c.Segment, Join(path))
		}
		if err := fill(n.child(c.Segment), c, append(path[:len(path):len(path)], c.Segment)); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON has a value receiver so an Index held by value in another
// struct still encodes as its snapshot.
func (t Index[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.ToSnapshot())
}

// UnmarshalJSON decodes into t in place, discarding its previous contents.
func (t *Index[T]) UnmarshalJSON(data []byte) error {
	var s Snapshot[T]
	if err := json.Unmarshal(data, &s); err != nil {
		t.ensure()
		t.Reset()
		return &DecodeError{Reason: "malformed json", Err: err}
	}
	return t.OverwriteFrom(s)
}
