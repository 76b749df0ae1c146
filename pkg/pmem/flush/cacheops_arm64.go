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

//go:build arm64

package flush

import "unsafe"

// dcCVACLine cleans one cache line to the point of coherency ("DC CVAC",
// available since ARMv8.0); dcCVAPLine cleans to the point of persistency
// ("DC CVAP", ARMv8.2+). dmbISH is the aarch64 drain primitive. Ported
// from original_source/src/libpmem2/aarch64/arm_cacheops.h.
func dcCVACLine(addr uintptr)
func dcCVAPLine(addr uintptr)
func dmbISH()

// DmbISH issues "DMB ISH", the aarch64 fence of spec.md §4.1's selection
// table.
func DmbISH() { dmbISH() }

// MakeDCCVACFlush returns the flush primitive for platforms without a
// point-of-persistency guarantee ("to point of coherency" tier).
func MakeDCCVACFlush() FlushFunc {
	return func(addr unsafe.Pointer, length uintptr) {
		LineIterate(addr, length, func(line unsafe.Pointer) {
			dcCVACLine(uintptr(line))
		})
	}
}

// MakeDCCVAPFlush returns the flush primitive for platforms that report
// point-of-persistency support.
func MakeDCCVAPFlush() FlushFunc {
	return func(addr unsafe.Pointer, length uintptr) {
		LineIterate(addr, length, func(line unsafe.Pointer) {
			dcCVAPLine(uintptr(line))
		})
	}
}
