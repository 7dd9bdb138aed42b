// Package arena provides a dense, position-addressed store.
//
// Values are never removed and positions never move, so a position handed
// out by Push or Insert identifies the same value for the life of the Arena.
package arena

import (
	"errors"
	"fmt"
	"iter"
)

var (
	// ErrPositionOccupied is returned when inserting over an existing value.
	ErrPositionOccupied = errors.New("arena position occupied")
	// ErrPositionOutOfRange is returned when inserting past the next free position.
	ErrPositionOutOfRange = errors.New("arena position out of range")
)

// Arena owns values of type T by zero-based position.
// It is not safe for concurrent mutation; concurrent reads of a
// no-longer-mutated Arena are safe.
type Arena[T any] struct {
	items []T
}

// New returns an empty Arena with room for capacity values.
func New[T any](capacity int) *Arena[T] {
	return &Arena[T]{items: make([]T, 0, max(capacity, 0))}
}

// Push appends v and returns its position.
func (a *Arena[T]) Push(v T) int {
	a.items = append(a.items, v)
	return len(a.items) - 1
}

// Insert stores v at pos. Only the next free position is accepted, so
// existing positions are never shifted or overwritten.
func (a *Arena[T]) Insert(v T, pos int) error {
	switch {
	case pos < 0 || pos > len(a.items):
		return fmt.Errorf("%w: %d (len %d)", ErrPositionOutOfRange, pos, len(a.items))
	case pos < len(a.items):
		return fmt.Errorf("%w: %d", ErrPositionOccupied, pos)
	}
	a.items = append(a.items, v)
	return nil
}

// Get returns a copy of the value at pos.
func (a *Arena[T]) Get(pos int) (T, bool) {
	if pos < 0 || pos >= len(a.items) {
		var zero T
		return zero, false
	}
	return a.items[pos], true
}

// GetMut returns a pointer to the value at pos. The pointer is invalidated
// by the next Push or Insert.
func (a *Arena[T]) GetMut(pos int) (*T, bool) {
	if pos < 0 || pos >= len(a.items) {
		return nil, false
	}
	return &a.items[pos], true
}

// Len returns the number of stored values.
func (a *Arena[T]) Len() int {
	return len(a.items)
}

// All iterates positions and pointers to values in position order.
func (a *Arena[T]) All() iter.Seq2[int, *T] {
	return func(yield func(int, *T) bool) {
		for i := range a.items {
			if !yield(i, &a.items[i]) {
				return
			}
		}
	}
}
