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

// Package flush implements the cache-line flush, fence, and non-temporal
// copy/set primitives of spec.md §4.2, one variant per ISA and per flush
// instruction, plus the architecture-independent fallback of §4.2's last
// bullet. Callers select among these through pkg/pmem/arch; this package
// has no notion of CPU-feature detection itself.
package flush

import "unsafe"

// Flags mirrors the flag set of spec.md §4.3.
type Flags uint32

const (
	// NoDrain skips the trailing drain a *_persist-style composition
	// would otherwise perform.
	NoDrain Flags = 1 << iota
	// NoFlush leaves bytes dirty in the caller's cache; the caller must
	// flush later.
	NoFlush
	// NonTemporal forces non-temporal (streaming) stores regardless of
	// the length threshold.
	NonTemporal
	// Temporal forces ordinary cached stores regardless of the length
	// threshold.
	Temporal
)

const (
	// WC ("write combining") is an alias for NonTemporal.
	WC = NonTemporal
	// WB ("write back") is an alias for Temporal.
	WB = Temporal
)

// FlushFunc flushes [addr, addr+length) toward the persistence domain.
type FlushFunc func(addr unsafe.Pointer, length uintptr)

// FenceFunc waits for previously issued flushes to complete.
type FenceFunc func()

// MemmoveFunc copies length bytes from src to dst, honoring flags, without
// issuing the trailing drain (spec.md §9: "_nodrain = _persist - drain").
type MemmoveFunc func(dst, src unsafe.Pointer, length uintptr, flags Flags)

// MemsetFunc fills length bytes at dst with c, honoring flags, without
// issuing the trailing drain.
type MemsetFunc func(dst unsafe.Pointer, c byte, length uintptr, flags Flags)

// CachelineSize is the compile-time cache line size constant spec.md §4.2
// fixes at 64 bytes on both supported ISAs.
const CachelineSize = 64
