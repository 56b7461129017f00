// pkg/cache/lru.go
package cache

import (
	"container/list"
	"sync"
)

// lruList orders handles from most to least recently used. A handle's elem
// field is owned by the list and only touched under mu.
type lruList struct {
	mu sync.Mutex
	l  *list.List
}

func newLRUList() *lruList {
	return &lruList{l: list.New()}
}

func (lru *lruList) pushFront(h *handle) {
	lru.mu.Lock()
	h.elem = lru.l.PushFront(h)
	lru.mu.Unlock()
}

func (lru *lruList) touch(h *handle) {
	lru.mu.Lock()
	if h.elem != nil {
		lru.l.MoveToFront(h.elem)
	}
	lru.mu.Unlock()
}

// remove unlinks h and reports whether it was linked.
func (lru *lruList) remove(h *handle) bool {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	if h.elem == nil {
		return false
	}
	lru.l.Remove(h.elem)
	h.elem = nil
	return true
}

// popBack unlinks and returns the least recently used handle if the list
// holds more than max entries.
func (lru *lruList) popBack(max int) *handle {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	if lru.l.Len() <= max {
		return nil
	}
	e := lru.l.Back()
	h := e.Value.(*handle)
	lru.l.Remove(e)
	h.elem = nil
	return h
}

func (lru *lruList) len() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.l.Len()
}
