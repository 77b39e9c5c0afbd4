package fusion

// Window is a fixed-capacity FIFO buffer. Pushing onto a full window evicts
// the oldest entry. Push never mutates the receiver, so a Window can be
// copied freely between session snapshots. Use NewWindow to set a capacity;
// the zero value holds one item.
type Window[T any] struct {
	items []T
	limit int
}

// NewWindow returns an empty window holding at most capacity items.
func NewWindow[T any](capacity int) Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return Window[T]{items: make([]T, 0, capacity), limit: capacity}
}

// Push appends v, evicting the oldest item when full. It returns the
// updated window and leaves the receiver's backing array untouched.
func (w Window[T]) Push(v T) Window[T] {
	if w.limit < 1 {
		w.limit = 1
	}
	next := make([]T, 0, w.limit)
	start := 0
	if len(w.items) >= w.limit {
		start = len(w.items) - w.limit + 1
	}
	next = append(next, w.items[start:]...)
	next = append(next, v)
	return Window[T]{items: next, limit: w.limit}
}

// Len reports the number of buffered items.
func (w Window[T]) Len() int { return len(w.items) }

// Cap reports the window capacity.
func (w Window[T]) Cap() int { return w.limit }

// Items returns a copy of the buffered items, oldest first.
func (w Window[T]) Items() []T {
	out := make([]T, len(w.items))
	copy(out, w.items)
	return out
}

// Last returns the newest item.
func (w Window[T]) Last() (T, bool) {
	var zero T
	if len(w.items) == 0 {
		return zero, false
	}
	return w.items[len(w.items)-1], true
}

// Reset returns an empty window with the same capacity.
func (w Window[T]) Reset() Window[T] {
	return NewWindow[T](w.limit)
}
