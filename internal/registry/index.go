// Package registry provides an ordered index of non-overlapping address ranges.
//
// Ranges are half-open: [Start, Start+Length). Two ranges overlap iff
// a.Start < b.End && b.Start < a.End. The index never holds two overlapping
// ranges, which is what lets callers route a byte address to exactly one owner.
//
// Lookups take a read lock and mutations take the write lock. The lock only
// protects the tree itself; callers must not perform syscalls while holding a
// value returned from a lookup under any assumption of exclusivity.
package registry

import (
	"errors"
	"sync"

	"github.com/google/btree"
)

var (
	// ErrExists is returned when an inserted range overlaps an existing one.
	ErrExists = errors.New("registry: range overlaps an existing entry")
	// ErrNotFound is returned when removing a range that is not indexed.
	ErrNotFound = errors.New("registry: range not found")
	// ErrEmptyRange is returned for zero-length ranges.
	ErrEmptyRange = errors.New("registry: empty range")
)

const degree = 16

// Entry is a single indexed range.
type Entry[T any] struct {
	Start  uintptr
	Length uintptr
	Value  T
}

// End returns the exclusive end of the range.
func (e Entry[T]) End() uintptr {
	return e.Start + e.Length
}

func (e Entry[T]) overlaps(start, end uintptr) bool {
	return e.Start < end && start < e.End()
}

// Index is an ordered interval index guarded by a reader/writer lock.
type Index[T any] struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[Entry[T]]
}

// New creates an empty index.
func New[T any]() *Index[T] {
	return &Index[T]{
		tree: btree.NewG(degree, func(a, b Entry[T]) bool {
			return a.Start < b.Start
		}),
	}
}

// Insert adds [start, start+length) unless it overlaps an existing entry.
func (ix *Index[T]) Insert(start, length uintptr, v T) error {
	if length == 0 {
		return ErrEmptyRange
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.earliestOverlapLocked(start, start+length); ok {
		return ErrExists
	}

	ix.tree.ReplaceOrInsert(Entry[T]{Start: start, Length: length, Value: v})
	return nil
}

// Remove deletes the entry starting exactly at start.
func (ix *Index[T]) Remove(start uintptr) (T, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.tree.Delete(Entry[T]{Start: start})
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return e.Value, nil
}

// FindOverlap returns any entry overlapping [addr, addr+length).
func (ix *Index[T]) FindOverlap(addr, length uintptr) (Entry[T], bool) {
	return ix.FindEarliestOverlap(addr, length)
}

// FindEarliestOverlap returns the lowest-addressed entry overlapping
// [addr, addr+length). A zero length is treated as a single byte.
func (ix *Index[T]) FindEarliestOverlap(addr, length uintptr) (Entry[T], bool) {
	if length == 0 {
		length = 1
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.earliestOverlapLocked(addr, addr+length)
}

// Ascend calls fn, in address order, for every entry overlapping
// [addr, addr+length) until fn returns false.
func (ix *Index[T]) Ascend(addr, length uintptr, fn func(Entry[T]) bool) {
	if length == 0 {
		return
	}
	end := addr + length

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	start := addr
	if prev, ok := ix.predecessorLocked(addr); ok && prev.overlaps(addr, end) {
		if !fn(prev) {
			return
		}
		start = prev.End()
	}

	ix.tree.AscendRange(Entry[T]{Start: start}, Entry[T]{Start: end}, fn)
}

// Len returns the number of indexed ranges.
func (ix *Index[T]) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}

// Clear drops every entry.
func (ix *Index[T]) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.Clear(false)
}

// predecessorLocked returns the entry with the greatest Start <= addr.
func (ix *Index[T]) predecessorLocked(addr uintptr) (Entry[T], bool) {
	var (
		found Entry[T]
		ok    bool
	)
	ix.tree.DescendLessOrEqual(Entry[T]{Start: addr}, func(e Entry[T]) bool {
		found, ok = e, true
		return false
	})
	return found, ok
}

func (ix *Index[T]) earliestOverlapLocked(start, end uintptr) (Entry[T], bool) {
	// Entries are disjoint, so only the predecessor can straddle start.
	if prev, ok := ix.predecessorLocked(start); ok && prev.overlaps(start, end) {
		return prev, true
	}

	var (
		found Entry[T]
		ok    bool
	)
	ix.tree.AscendGreaterOrEqual(Entry[T]{Start: start}, func(e Entry[T]) bool {
		if e.Start < end {
			found, ok = e, true
		}
		return false
	})
	return found, ok
}
