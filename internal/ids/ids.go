// Package ids hands out tag identifiers of the form prefix + counter, one
// counter per tag type.
package ids

import (
	"strconv"

	"github.com/pbaille/mae/internal/apperr"
)

// Allocator tracks the ids used per tag type. It is not safe for concurrent
// use; the store owning it serializes access.
type Allocator struct {
	used     map[string]map[string]bool
	counters map[string]int
}

// New returns an empty allocator.
func New() *Allocator {
	return &Allocator{
		used:     make(map[string]map[string]bool),
		counters: make(map[string]int),
	}
}

// Next returns the lowest unused prefix+counter id for tagType and marks it
// used. Counters only move forward.
func (a *Allocator) Next(tagType, prefix string) string {
	used := a.usedOf(tagType)
	for {
		id := prefix + strconv.Itoa(a.counters[tagType])
		a.counters[tagType]++
		if !used[id] {
			used[id] = true
			return id
		}
	}
}

// Add registers an externally supplied id, such as one read from a file.
func (a *Allocator) Add(tagType, id string) error {
	used := a.usedOf(tagType)
	if used[id] {
		return apperr.NewDuplicate("tag id", id)
	}
	used[id] = true
	return nil
}

// Has reports whether id is registered under tagType.
func (a *Allocator) Has(tagType, id string) bool {
	return a.used[tagType][id]
}

// Remove forgets id so a later Add of the same id succeeds. Next never
// reissues it because counters do not move back.
func (a *Allocator) Remove(tagType, id string) {
	delete(a.used[tagType], id)
}

// Reset forgets every id and counter.
func (a *Allocator) Reset() {
	a.used = make(map[string]map[string]bool)
	a.counters = make(map[string]int)
}

// Clone returns an independent copy, used to roll back a failed batch.
func (a *Allocator) Clone() *Allocator {
	c := New()
	for tt, ids := range a.used {
		m := make(map[string]bool, len(ids))
		for id := range ids {
			m[id] = true
		}
		c.used[tt] = m
	}
	for tt, n := range a.counters {
		c.counters[tt] = n
	}
	return c
}

func (a *Allocator) usedOf(tagType string) map[string]bool {
	m, ok := a.used[tagType]
	if !ok {
		m = make(map[string]bool)
		a.used[tagType] = m
	}
	return m
}
