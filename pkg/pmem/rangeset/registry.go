// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rangeset is the process-wide registry of mapped address ranges
// spec.md §4.4 describes: a disjoint set of [base, base+len) intervals,
// each tagged with the path and persistence-capability type of the mapping
// that produced it, queried by is_pmem and maintained by the mapping
// package's map/unmap.
package rangeset

import (
	"fmt"
	"sync"

	"github.com/google/btree"
)

// Type classifies how durably a registered range's stores reach media,
// mirroring the three origins spec.md §4.5's map lists.
type Type int

const (
	// Regular is an ordinary page-cache-backed mapping: stores need
	// msync, not CPU flush instructions, to become durable.
	Regular Type = iota
	// DevDax is a /dev/daxN character-device mapping: always
	// persistence-capable.
	DevDax
	// MapSync is a DAX-backed filesystem mapping that accepted
	// MAP_SYNC: persistence-capable because the kernel guarantees the
	// mapping is coherent with the backing extents.
	MapSync
)

func (t Type) persistenceCapable() bool {
	return t == DevDax || t == MapSync
}

// Entry is one registered range, returned by Lookup for diagnostics.
type Entry struct {
	Base uintptr
	Len  uintptr
	Path string
	Type Type
}

func (e Entry) end() uintptr { return e.Base + e.Len }

// item adapts Entry to btree.Item, ordered by Base so range queries can
// walk forward from the first entry that could possibly overlap a probe.
type item struct{ Entry }

func (a item) Less(b btree.Item) bool {
	return a.Base < b.(item).Base
}

// Registry is the registry described in spec.md §4.4. The zero value is
// not usable; construct with New.
type Registry struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// New returns an empty Registry, with a btree degree tuned for the depth
// of a typical process's mapped range count.
func New() *Registry {
	return &Registry{tree: btree.New(32)}
}

// ErrOverlap is returned by Register when [base, base+len) intersects an
// already-registered range.
type ErrOverlap struct{ Base, Len uintptr }

func (e *ErrOverlap) Error() string {
	return fmt.Sprintf("rangeset: [%#x, %#x) overlaps an existing registration", e.Base, e.Base+e.Len)
}

// ErrNotFound is returned by Unregister when no registered range covers
// the requested interval.
type ErrNotFound struct{ Base, Len uintptr }

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("rangeset: no registration covers [%#x, %#x)", e.Base, e.Base+e.Len)
}

// Register inserts a new disjoint range. Writers are serialized by a
// single lock, matching spec.md §4.4's thread-safety rule.
func (r *Registry) Register(base, length uintptr, path string, typ Type) error {
	if length == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e := Entry{Base: base, Len: length, Path: path, Type: typ}
	if r.overlapsLocked(e.Base, e.end()) {
		return &ErrOverlap{Base: base, Len: length}
	}
	r.tree.ReplaceOrInsert(item{e})
	return nil
}

// overlapsLocked reports whether any registered entry intersects
// [start, end). Callers must hold r.mu.
func (r *Registry) overlapsLocked(start, end uintptr) bool {
	overlap := false
	// Any entry whose Base is before end could still reach into
	// [start, end); walk backward from there and stop once an entry's
	// end no longer reaches start.
	r.tree.DescendLessOrEqual(item{Entry{Base: end}}, func(i btree.Item) bool {
		e := i.(item).Entry
		if e.end() <= start {
			return false
		}
		if e.Base < end && e.end() > start {
			overlap = true
			return false
		}
		return true
	})
	return overlap
}

// Unregister removes the registration(s) covering [base, base+len),
// splitting a surrounding entry into up to two smaller entries when the
// requested interval is a strict sub-range. It fails with ErrNotFound if
// [base, base+len) is not entirely covered by existing registrations.
func (r *Registry) Unregister(base, length uintptr) error {
	if length == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	start, end := base, base+length

	if !r.coversLocked(start, end) {
		return &ErrNotFound{Base: base, Len: length}
	}

	var touched []Entry
	r.tree.DescendLessOrEqual(item{Entry{Base: end}}, func(i btree.Item) bool {
		e := i.(item).Entry
		if e.end() <= start {
			return false
		}
		if e.Base < end {
			touched = append(touched, e)
		}
		return true
	})

	for _, e := range touched {
		r.tree.Delete(item{e})
		if e.Base < start {
			r.tree.ReplaceOrInsert(item{Entry{Base: e.Base, Len: start - e.Base, Path: e.Path, Type: e.Type}})
		}
		if e.end() > end {
			r.tree.ReplaceOrInsert(item{Entry{Base: end, Len: e.end() - end, Path: e.Path, Type: e.Type}})
		}
	}
	return nil
}

// walkCoverage reports whether [start, end) is entirely within the union of
// registered ranges, optionally also requiring every covering entry's Type
// to be persistence-capable. It seeks the btree to the probe point rather
// than walking from the smallest key, so the cost is logarithmic in the
// registry size plus the number of entries the interval actually spans, not
// linear in the total number of registrations. Callers must hold r.mu (for
// reading at least).
func (r *Registry) walkCoverage(start, end uintptr, requirePersistent bool) bool {
	cursor := start

	// The entry (if any) whose Base is the greatest one <= start is the
	// only one that could cover start itself; every other relevant entry
	// has Base >= start and is reached by the AscendGreaterOrEqual walk
	// below.
	var first item
	haveFirst := false
	r.tree.DescendLessOrEqual(item{Entry{Base: start}}, func(i btree.Item) bool {
		first = i.(item)
		haveFirst = true
		return false
	})
	if haveFirst && first.end() > cursor {
		if requirePersistent && !first.Type.persistenceCapable() {
			return false
		}
		cursor = first.end()
	}
	if cursor >= end {
		return true
	}

	ok := true
	r.tree.AscendGreaterOrEqual(item{Entry{Base: cursor}}, func(i btree.Item) bool {
		e := i.(item).Entry
		if e.end() <= cursor {
			return true
		}
		if e.Base > cursor || (requirePersistent && !e.Type.persistenceCapable()) {
			ok = false
			return false
		}
		if e.end() >= end {
			cursor = end
			return false
		}
		cursor = e.end()
		return true
	})
	return ok && cursor >= end
}

// coversLocked reports whether [start, end) is entirely within the union
// of registered ranges. Callers must hold r.mu.
func (r *Registry) coversLocked(start, end uintptr) bool {
	return r.walkCoverage(start, end, false)
}

// IsPmem implements spec.md §4.4's is_pmem: true iff every byte of
// [base, base+len) lies within a registered range whose Type is
// persistence-capable (DevDax or MapSync). Readers may run concurrently
// with each other.
func (r *Registry) IsPmem(base, length uintptr) bool {
	if length == 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.walkCoverage(base, base+length, true)
}

// Lookup returns the registered entry, if any, whose range contains addr.
func (r *Registry) Lookup(addr uintptr) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found Entry
	ok := false
	r.tree.DescendLessOrEqual(item{Entry{Base: addr}}, func(i btree.Item) bool {
		e := i.(item).Entry
		if e.Base <= addr && addr < e.end() {
			found, ok = e, true
		}
		return false
	})
	return found, ok
}
