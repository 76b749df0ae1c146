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

//go:build amd64

package flush

import "unsafe"

// clflushLine, clflushoptLine, clwbLine each evacuate one cache line
// toward the persistence domain; see cacheops_amd64.s. sfence orders
// previously issued flushes. These map directly onto
// original_source/src/libpmem2/x86_64/flush.h's *_nolog primitives.
func clflushLine(addr uintptr)
func clflushoptLine(addr uintptr)
func clwbLine(addr uintptr)
func sfence()

// Sfence issues the SFENCE instruction, the amd64 drain primitive of
// spec.md §4.1's selection table.
func Sfence() { sfence() }

// MakeClflushFlush returns the flush primitive for CPUs with only CLFLUSH
// (the oldest, most conservative tier of spec.md §4.1's selection table).
// CLFLUSH is itself serializing, so spec.md's flush_has_builtin_fence is
// true for this tier.
func MakeClflushFlush() FlushFunc {
	return func(addr unsafe.Pointer, length uintptr) {
		LineIterate(addr, length, func(line unsafe.Pointer) {
			clflushLine(uintptr(line))
		})
	}
}

// MakeClflushoptFlush returns the flush primitive for CLFLUSHOPT-capable
// CPUs; callers must still issue Sfence to drain.
func MakeClflushoptFlush() FlushFunc {
	return func(addr unsafe.Pointer, length uintptr) {
		LineIterate(addr, length, func(line unsafe.Pointer) {
			clflushoptLine(uintptr(line))
		})
	}
}

// MakeClwbFlush returns the flush primitive for CLWB-capable CPUs; callers
// must still issue Sfence to drain.
func MakeClwbFlush() FlushFunc {
	return func(addr unsafe.Pointer, length uintptr) {
		LineIterate(addr, length, func(line unsafe.Pointer) {
			clwbLine(uintptr(line))
		})
	}
}
