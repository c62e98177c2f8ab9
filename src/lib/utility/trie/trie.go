// Package trie implements a hierarchical index over dotted keys such as
// "chat.messages.read". Each node holds an ordered list of values and its
// children in the order they were first created.
//
// An Index does no locking. GetAll memoizes into a cache, so reads mutate
// too and every call must be serialized by the owner.
package trie

import (
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"gitlab.com/pnathan/scoped/src/lib/utility"
)

const DefaultCacheSize = 1024

type node[T any] struct {
	values   []T
	children map[string]*node[T]
	// order holds child segments in first-creation order
	order []string
}

func newNode[T any]() *node[T] {
	return &node[T]{children: map[string]*node[T]{}}
}

func (n *node[T]) child(segment string) *node[T] {
	next, ok := n.children[segment]
	if !ok {
		next = newNode[T]()
		n.children[segment] = next
		n.order = append(n.order, segment)
	}
	return next
}

type Index[T any] struct {
	root      *node[T]
	cache     *lru.Cache[string, []T]
	cacheSize int

	hits   uint64
	misses uint64
}

type Option func(*options)

type options struct {
	cacheSize int
}

// WithCacheSize bounds the number of memoized GetAll results. A size of
// zero or less turns memoization off.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

func New[T any](opts ...Option) *Index[T] {
	o := options{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	t := &Index[T]{cacheSize: o.cacheSize}
	t.Reset()
	return t
}

// Reset returns the index to its freshly constructed state. Hit and miss
// counters are kept.
func (t *Index[T]) Reset() {
	t.root = newNode[T]()
	t.cache = newCache[T](t.cacheSize)
}

func newCache[T any](size int) *lru.Cache[string, []T] {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[string, []T](size)
	if err != nil {
		// only returned for a non-positive size
		return nil
	}
	return c
}

// ensure makes a zero Index usable, e.g. as a json.Unmarshal target.
func (t *Index[T]) ensure() {
	if t.root == nil {
		if t.cacheSize == 0 {
			t.cacheSize = DefaultCacheSize
		}
		t.Reset()
	}
}

func (t *Index[T]) flush() {
	if t.cache != nil {
		t.cache.Purge()
	}
}

func (t *Index[T]) Insert(path string, value T) error {
	return t.InsertRange(path, []T{value})
}

// InsertRange appends values, in order, to the node at path, creating it
// and any missing ancestors. An empty values still creates the path.
func (t *Index[T]) InsertRange(path string, values []T) error {
	segments, err := Split(path)
	if err != nil {
		return err
	}
	t.ensure()
	n := insert(t.root, segments)
	n.values = append(n.values, values...)
	t.flush()
	return nil
}

func insert[T any](root *node[T], segments []string) *node[T] {
	n := root
	for _, s := range segments {
		n = n.child(s)
	}
	return n
}

func find[T any](root *node[T], segments []string) *node[T] {
	n := root
	for _, s := range segments {
		next, ok := n.children[s]
		if !ok {
			return nil
		}
		n = next
	}
	return n
}

func (t *Index[T]) lookup(path string) *node[T] {
	segments, err := Split(path)
	if err != nil {
		return nil
	}
	t.ensure()
	return find(t.root, segments)
}

// GetExact returns the values stored at path itself. A missing or invalid
// path yields an empty slice.
func (t *Index[T]) GetExact(path string) []T {
	n := t.lookup(path)
	if n == nil {
		return []T{}
	}
	return append(make([]T, 0, len(n.values)), n.values...)
}

// GetAll returns the values at path followed by those of its descendants,
// one tree level at a time: the node's own values, then each child's in
// creation order, then each grandchild's, and so on.
func (t *Index[T]) GetAll(path string) []T {
	segments, err := Split(path)
	if err != nil {
		return []T{}
	}
	t.ensure()
	key := Join(segments)
	if t.cache != nil {
		if cached, ok := t.cache.Get(key); ok {
			t.hits++
			return slices.Clone(cached)
		}
	}
	t.misses++
	result := collect(find(t.root, segments))
	if t.cache != nil {
		t.cache.Add(key, result)
	}
	return slices.Clone(result)
}

func collect[T any](start *node[T]) []T {
	if start == nil {
		return []T{}
	}
	levels := [][]T{}
	queue := utility.NewFifo[*node[T]]()
	queue.Put(start)
	for queue.Length() > 0 {
		width := queue.Length()
		level := []T{}
		for i := 0; i < width; i++ {
			n, err := queue.Pop()
			if err != nil {
				break
			}
			level = append(level, n.values...)
			for _, s := range n.order {
				queue.Put(n.children[s])
			}
		}
		levels = append(levels, level)
	}
	return utility.Concat(levels...)
}

// Exists reports whether a node is present at path, with or without values.
func (t *Index[T]) Exists(path string) bool {
	return t.lookup(path) != nil
}

// GetRelevantKeys keeps, in input order, the candidates that name an
// existing node: an inserted path or an ancestor of one. Descendants of
// inserted paths are not relevant.
func (t *Index[T]) GetRelevantKeys(candidates []string) []string {
	relevant := []string{}
	for _, c := range candidates {
		if t.Exists(c) {
			relevant = append(relevant, c)
		}
	}
	return relevant
}

// Keys lists every node path in pre-order, children in creation order.
func (t *Index[T]) Keys() []string {
	t.ensure()
	keys := []string{}
	var walk func(n *node[T], prefix []string)
	walk = func(n *node[T], prefix []string) {
		for _, s := range n.order {
			path := append(slices.Clip(prefix), s)
			keys = append(keys, Join(path))
			walk(n.children[s], path)
		}
	}
	walk(t.root, nil)
	return keys
}

type Stats struct {
	Nodes       int    `json:"nodes"`
	Values      int    `json:"values"`
	CachedPaths int    `json:"cached_paths"`
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`
}

func (t *Index[T]) Stats() Stats {
	t.ensure()
	s := Stats{CacheHits: t.hits, CacheMisses: t.misses}
	if t.cache != nil {
		s.CachedPaths = t.cache.Len()
	}
	var walk func(n *node[T])
	walk = func(n *node[T]) {
		s.Values += len(n.values)
		for _, seg := range n.order {
			s.Nodes++
			walk(n.children[seg])
		}
	}
	walk(t.root)
	return s
}
