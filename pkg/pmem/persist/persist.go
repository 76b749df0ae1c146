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

// Package persist is the facade of spec.md §4.3: flush/drain/persist,
// memmove/memcpy/memset, is_pmem, has_auto_flush/has_hw_drain, and the
// msync fallback used for ranges the rangeset registry does not attest as
// persistence-capable.
package persist

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/pmem/pmdk-sub008/pkg/pmem/arch"
	"github.com/pmem/pmdk-sub008/pkg/pmem/config"
	"github.com/pmem/pmdk-sub008/pkg/pmem/flush"
	"github.com/pmem/pmdk-sub008/pkg/pmem/rangeset"
)

// Facade binds one arch.Ops selection to one rangeset.Registry, the unit a
// pool hands to callers (spec.md §4.1: "the core builds a PersistOps
// record"; §4.4 ties is_pmem to the shared registry).
type Facade struct {
	ops      *arch.Ops
	registry *rangeset.Registry
	cfg      config.PersistConfig
	autoFlush bool
}

// New builds a Facade for the running CPU and the given registry. cfg.Flush
// is forced to config.FlushDisabled when autoFlush (the caller's eADR
// probe result, e.g. arch.HasAutoFlush) is true and the caller has not
// explicitly overridden it,
// matching spec.md §4.1's "flush becomes a no-op under eADR" rule.
func New(cfg config.PersistConfig, registry *rangeset.Registry, autoFlush bool) *Facade {
	if autoFlush && !cfg.FlushForced {
		cfg.Flush = config.FlushDisabled
	}
	return &Facade{
		ops:       arch.Select(cfg),
		registry:  registry,
		cfg:       cfg,
		autoFlush: autoFlush,
	}
}

// IsPmem reports whether every byte of [addr, addr+length) is covered by a
// persistence-capable registry entry, honoring cfg.IsPmemForce when set.
func (f *Facade) IsPmem(addr unsafe.Pointer, length uintptr) bool {
	if f.cfg.IsPmemForce != nil {
		return *f.cfg.IsPmemForce
	}
	return f.registry.IsPmem(uintptr(addr), length)
}

// Flush evacuates [addr, addr+length) toward the persistence domain without
// ordering it; Drain is required afterward for durability.
func (f *Facade) Flush(addr unsafe.Pointer, length uintptr) {
	f.ops.Flush(addr, length)
}

// Drain orders previously issued Flush calls.
func (f *Facade) Drain() {
	f.ops.Drain()
}

// Persist is Flush immediately followed by Drain, unless the range is not
// pmem, in which case it falls back to MsyncFallback (spec.md §4.3's
// "Decision inside persist" rule).
func (f *Facade) Persist(addr unsafe.Pointer, length uintptr) {
	if f.IsPmem(addr, length) {
		f.ops.Flush(addr, length)
		f.ops.Drain()
		return
	}
	f.MsyncFallback(addr, length)
}

// HasAutoFlush reports whether eADR (or an equivalent always-durable cache
// hierarchy) was detected for this facade.
func (f *Facade) HasAutoFlush() bool { return f.autoFlush }

// HasHWDrain always reports true: every selected tier in spec.md §4.1's
// table has a working drain primitive (SFENCE, DMB ISH, or a built-in
// fence), so the distinction libpmem2 kept for historical CPUs without a
// drain instruction does not apply here.
func (f *Facade) HasHWDrain() bool { return true }

// Memmove copies length bytes from src to dst, choosing flush+drain or
// msync based on IsPmem, per spec.md §4.3.
func (f *Facade) Memmove(dst, src unsafe.Pointer, length uintptr, flags flush.Flags) unsafe.Pointer {
	if f.IsPmem(dst, length) {
		f.ops.Memmove(dst, src, length, flags)
		if flags&flush.NoDrain == 0 && flags&flush.NoFlush == 0 {
			f.Drain()
		}
		return dst
	}
	copyGeneric(dst, src, length)
	if flags&flush.NoFlush == 0 {
		f.MsyncFallback(dst, length)
	}
	return dst
}

// Memcpy is Memmove for non-overlapping src/dst, per spec.md §4.3 (the two
// share one implementation; Go's copy semantics make the overlap check
// cheap enough that a separate non-overlapping fast path isn't worth the
// duplicated logic).
func (f *Facade) Memcpy(dst, src unsafe.Pointer, length uintptr, flags flush.Flags) unsafe.Pointer {
	return f.Memmove(dst, src, length, flags)
}

// Memset fills length bytes at dst with c, choosing flush+drain or msync
// based on IsPmem.
func (f *Facade) Memset(dst unsafe.Pointer, c byte, length uintptr, flags flush.Flags) unsafe.Pointer {
	if f.IsPmem(dst, length) {
		f.ops.Memset(dst, c, length, flags)
		if flags&flush.NoDrain == 0 && flags&flush.NoFlush == 0 {
			f.Drain()
		}
		return dst
	}
	setGeneric(dst, c, length)
	if flags&flush.NoFlush == 0 {
		f.MsyncFallback(dst, length)
	}
	return dst
}

// MsyncFallback page-aligns [addr, addr+length) and issues msync(MS_SYNC),
// the non-pmem durability path of spec.md §4.3.
func (f *Facade) MsyncFallback(addr unsafe.Pointer, length uintptr) error {
	const pageSize = 4096
	start := uintptr(addr)
	aligned := start &^ (pageSize - 1)
	alignedLen := length + (start - aligned)

	b := unsafe.Slice((*byte)(unsafe.Pointer(aligned)), alignedLen)
	return unix.Msync(b, unix.MS_SYNC)
}

func copyGeneric(dst, src unsafe.Pointer, length uintptr) {
	dstSlice := unsafe.Slice((*byte)(dst), length)
	srcSlice := unsafe.Slice((*byte)(src), length)
	copy(dstSlice, srcSlice)
}

func setGeneric(dst unsafe.Pointer, c byte, length uintptr) {
	dstSlice := unsafe.Slice((*byte)(dst), length)
	for i := range dstSlice {
		dstSlice[i] = c
	}
}
