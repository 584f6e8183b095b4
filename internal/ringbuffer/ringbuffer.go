// Package ringbuffer implements a fixed-capacity, overwrite-oldest time
// series store used for price/volume history and diagnostic tick samples.
package ringbuffer

import "github.com/industrial-economy/simkernel/internal/errs"

// Buffer is a fixed-capacity ring of T, oldest-to-newest iteration order.
// Capacity is immutable after construction; Push is O(1).
type Buffer[T any] struct {
	data  []T
	cap   int
	start int // index of the oldest element
	size  int
}

// New constructs a Buffer with the given capacity. Capacity must be > 0.
func New[T any](capacity int) (*Buffer[T], error) {
	if capacity <= 0 {
		return nil, errs.Wrap("ringbuffer.New", errs.ErrInvalidCapacity)
	}
	return &Buffer[T]{
		data: make([]T, capacity),
		cap:  capacity,
	}, nil
}

// Push appends x, overwriting the oldest element once the buffer is full.
func (b *Buffer[T]) Push(x T) {
	writeAt := (b.start + b.size) % b.cap
	b.data[writeAt] = x
	if b.size < b.cap {
		b.size++
	} else {
		b.start = (b.start + 1) % b.cap
	}
}

// Size returns the number of elements currently stored (≤ capacity).
func (b *Buffer[T]) Size() int {
	return b.size
}

// Capacity returns the buffer's immutable capacity.
func (b *Buffer[T]) Capacity() int {
	return b.cap
}

// Get returns the element at logical index i, where 0 is the oldest and
// Size()-1 is the newest.
func (b *Buffer[T]) Get(i int) (T, bool) {
	var zero T
	if i < 0 || i >= b.size {
		return zero, false
	}
	return b.data[(b.start+i)%b.cap], true
}

// First returns the oldest element, if any.
func (b *Buffer[T]) First() (T, bool) {
	return b.Get(0)
}

// Last returns the newest element, if any.
func (b *Buffer[T]) Last() (T, bool) {
	return b.Get(b.size - 1)
}

// ToSlice copies all elements oldest-to-newest into a new slice.
func (b *Buffer[T]) ToSlice() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(b.start+i)%b.cap]
	}
	return out
}

// LastN copies up to n of the newest elements, oldest-to-newest. If n
// exceeds Size(), the whole buffer is returned.
func (b *Buffer[T]) LastN(n int) []T {
	if n <= 0 {
		return nil
	}
	if n > b.size {
		n = b.size
	}
	out := make([]T, n)
	offset := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.data[(b.start+offset+i)%b.cap]
	}
	return out
}
