// Package util
//
// This file provides a min priority queue with key-based access.
//
// A binary heap keeps the item with the lowest priority on top while a map gives O(1) access by
// key. Priority operations (AddItem, PopMin, RemoveByKey) are O(log n), lookups are O(1).
//
// The hybridlog tier coordinator uses it to pick the oldest sealed segment for migration
// (key = segment id, priority = seal sequence) while still being able to drop a segment that was
// retired by another path. Disk file statistics use it to find records whose ttl elapsed
// (key = record offset, priority = expiry time).
//
// Concurrency: MapHeap is not thread-safe. It is meant to be owned by a single background
// goroutine, otherwise external synchronization is required.
//
// Example usage:
//
//	queue := NewMapHeap()
//	queue.AddItem(7, 1)  // segment 7 sealed first
//	queue.AddItem(9, 2)
//	oldest, ok := queue.Peek() // -> {Key: 7, Priority: 1}
//	queue.RemoveByKey(7)
package util

import (
	"container/heap"
	"strconv"
)

// HeapItem is an entry of a MapHeap
type HeapItem struct {
	Key      uint64 // Unique identifier for the item
	Priority uint64 // Lower values are popped first
	index    int
}

func (i HeapItem) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// itemHeap implements heap.Interface over item pointers
type itemHeap []*HeapItem

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].Priority < h[j].Priority }

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*HeapItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	*h = old[:n-1]
	return it
}

// MapHeap is a min priority queue with key-based access
type MapHeap struct {
	items itemHeap
	byKey map[uint64]*HeapItem
}

// NewMapHeap creates an empty MapHeap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		byKey: make(map[uint64]*HeapItem),
	}
}

// Len returns the number of items in the queue
func (m *MapHeap) Len() int { return len(m.items) }

// AddItem adds a new item or updates the priority of an existing one
func (m *MapHeap) AddItem(key, priority uint64) {
	if it, exists := m.byKey[key]; exists {
		it.Priority = priority
		heap.Fix(&m.items, it.index)
		return
	}

	it := &HeapItem{Key: key, Priority: priority}
	heap.Push(&m.items, it)
	m.byKey[key] = it
}

// RemoveByKey removes an item by its key and returns its priority
func (m *MapHeap) RemoveByKey(key uint64) (uint64, bool) {
	it, exists := m.byKey[key]
	if !exists {
		return 0, false
	}

	heap.Remove(&m.items, it.index)
	delete(m.byKey, key)
	return it.Priority, true
}

// Peek returns the item with the lowest priority without removing it
func (m *MapHeap) Peek() (HeapItem, bool) {
	if len(m.items) == 0 {
		return HeapItem{}, false
	}
	return *m.items[0], true
}

// PopMin removes and returns the item with the lowest priority
func (m *MapHeap) PopMin() (HeapItem, bool) {
	if len(m.items) == 0 {
		return HeapItem{}, false
	}
	it := heap.Pop(&m.items).(*HeapItem)
	delete(m.byKey, it.Key)
	return *it, true
}

// Contains checks if a key exists in the queue
func (m *MapHeap) Contains(key uint64) bool {
	_, exists := m.byKey[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (m *MapHeap) GetByKey(key uint64) (HeapItem, bool) {
	it, exists := m.byKey[key]
	if !exists {
		return HeapItem{}, false
	}
	return *it, true
}

// Keys returns all keys in unspecified order
func (m *MapHeap) Keys() []uint64 {
	keys := make([]uint64, 0, len(m.items))
	for _, it := range m.items {
		keys = append(keys, it.Key)
	}
	return keys
}
