package utility

import (
	"errors"
)

const defaultFifoSize = 16

var ErrEmpty = errors.New("fifo is empty")

// Fifo is a growable ring buffer. It does no locking of its own.
type Fifo[T any] struct {
	r      []T
	start  int
	length int
}

func NewFifo[T any]() *Fifo[T] {
	return NewFifoWithSize[T](defaultFifoSize)
}

func NewFifoWithSize[T any](size int) *Fifo[T] {
	if size < 1 {
		size = 1
	}
	return &Fifo[T]{
		r: make([]T, size),
	}
}

func (f *Fifo[T]) Put(e T) {
	if f.length == len(f.r) {
		f.grow()
	}
	f.r[(f.start+f.length)%len(f.r)] = e
	f.length++
}

func (f *Fifo[T]) Length() int {
	return f.length
}

func (f *Fifo[T]) Pop() (T, error) {
	var zero T
	if f.length <= 0 {
		return zero, ErrEmpty
	}
	e := f.r[f.start]
	// drop the reference so popped elements can be collected
	f.r[f.start] = zero
	f.start = (f.start + 1) % len(f.r)
	f.length--
	return e, nil
}

func (f *Fifo[T]) grow() {
	next := make([]T, 2*len(f.r))
	for i := 0; i < f.length; i++ {
		next[i] = f.r[(f.start+i)%len(f.r)]
	}
	f.r = next
	f.start = 0
}
