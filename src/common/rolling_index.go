package common

import "strconv"

// RollingIndex keeps the most recent items of an append-only sequence. Items
// are numbered from 0; once 2*size items are cached the oldest size items are
// dropped.
type RollingIndex[T any] struct {
	name      string
	size      int
	lastIndex int
	items     []T
}

// NewRollingIndex ...
func NewRollingIndex[T any](name string, size int) *RollingIndex[T] {
	if size <= 0 {
		size = 1
	}
	return &RollingIndex[T]{
		name:      name,
		size:      size,
		items:     make([]T, 0, 2*size),
		lastIndex: -1,
	}
}

// GetLastWindow returns the cached items and the index of the last one.
func (r *RollingIndex[T]) GetLastWindow() (lastWindow []T, lastIndex int) {
	return r.items, r.lastIndex
}

// LastIndex returns the index of the last appended item, or -1.
func (r *RollingIndex[T]) LastIndex() int {
	return r.lastIndex
}

// Get returns the items appended after skipIndex. It fails with TooLate if
// some of them were already rolled out.
func (r *RollingIndex[T]) Get(skipIndex int) ([]T, error) {
	res := make([]T, 0)

	if skipIndex >= r.lastIndex {
		return res, nil
	}

	cachedItems := len(r.items)
	//assume there are no gaps between indexes
	oldestCachedIndex := r.lastIndex - cachedItems + 1
	if skipIndex+1 < oldestCachedIndex {
		return res, NewStoreErr(r.name, TooLate, strconv.Itoa(skipIndex))
	}

	//index of 'skipped' in RollingIndex
	start := skipIndex - oldestCachedIndex + 1

	return append(res, r.items[start:]...), nil
}

// GetItem ...
func (r *RollingIndex[T]) GetItem(index int) (T, error) {
	var zero T

	items := len(r.items)
	oldestCached := r.lastIndex - items + 1
	if index < oldestCached {
		return zero, NewStoreErr(r.name, TooLate, strconv.Itoa(index))
	}
	findex := index - oldestCached
	if findex >= items {
		return zero, NewStoreErr(r.name, KeyNotFound, strconv.Itoa(index))
	}
	return r.items[findex], nil
}

// Append adds item at index LastIndex()+1 and returns that index.
func (r *RollingIndex[T]) Append(item T) int {
	if len(r.items) >= 2*r.size {
		r.Roll()
	}
	r.items = append(r.items, item)
	r.lastIndex++
	return r.lastIndex
}

// Roll drops the oldest size items.
func (r *RollingIndex[T]) Roll() {
	newList := make([]T, 0, 2*r.size)
	newList = append(newList, r.items[r.size:]...)
	r.items = newList
}

// Reset empties the index and makes lastIndex the index of the last appended
// item, so that the next Append returns lastIndex+1.
func (r *RollingIndex[T]) Reset(lastIndex int) {
	r.items = make([]T, 0, 2*r.size)
	r.lastIndex = lastIndex
}
