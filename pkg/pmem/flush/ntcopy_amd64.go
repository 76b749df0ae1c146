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

// ntStore16 writes 16 bytes (lo, hi as two little-endian uint64 halves) to
// dst with MOVNTDQ, bypassing the cache. dst must be 16-byte aligned.
func ntStore16(dst unsafe.Pointer, lo, hi uint64)

// ntLoad16 reads 16 bytes from src, which need not be aligned.
func ntLoad16(src unsafe.Pointer) (lo, hi uint64)

// ntStore32 writes 32 bytes from src to dst with VMOVNTDQ. dst must be
// 32-byte aligned; src need not be.
func ntStore32(dst, src unsafe.Pointer)

// MemmoveNontemporalSSE2 copies length bytes from src to dst using 16-byte
// non-temporal stores for the aligned bulk of the range, falling back to
// temporal stores (flushed explicitly) for the unaligned prefix and the
// trailing tail. It never issues a fence; callers drain separately, which
// preserves the _nodrain/_persist split of spec.md Open Question 3. Ported
// from original_source/src/libpmem2/x86_64/memcpy/memcpy_nt_sse2.c.
//
// Overlapping src/dst ranges are not supported by the non-temporal path;
// callers must route overlapping regions through MemmoveGeneric instead.
func MemmoveNontemporalSSE2(dst, src unsafe.Pointer, length uintptr, flush FlushFunc) {
	const align = 16
	d, s, n := uintptr(dst), uintptr(src), length

	prefix := align - (d % align)
	if prefix == align {
		prefix = 0
	}
	if uintptr(prefix) > n {
		prefix = n
	}
	copyTemporalTail(unsafe.Pointer(d), unsafe.Pointer(s), prefix, flush)
	d += prefix
	s += prefix
	n -= prefix

	for n >= 16 {
		lo, hi := ntLoad16(unsafe.Pointer(s))
		ntStore16(unsafe.Pointer(d), lo, hi)
		d += 16
		s += 16
		n -= 16
	}

	copyTemporalTail(unsafe.Pointer(d), unsafe.Pointer(s), n, flush)
}

// MemmoveNontemporalAVX is MemmoveNontemporalSSE2's 32-byte-aligned
// counterpart for AVX-capable CPUs. Ported from
// original_source/src/libpmem2/x86_64/memcpy/memcpy_nt_avx.c.
//
// AVX-512 CPUs reuse this tier: spec.md does not require a distinct
// 64-byte-store tier, and the 32-byte AVX path already satisfies the
// persistence and byte-equivalence properties it demands.
func MemmoveNontemporalAVX(dst, src unsafe.Pointer, length uintptr, flush FlushFunc) {
	const align = 32
	d, s, n := uintptr(dst), uintptr(src), length

	prefix := align - (d % align)
	if prefix == align {
		prefix = 0
	}
	if uintptr(prefix) > n {
		prefix = n
	}
	copyTemporalTail(unsafe.Pointer(d), unsafe.Pointer(s), prefix, flush)
	d += prefix
	s += prefix
	n -= prefix

	for n >= 32 {
		ntStore32(unsafe.Pointer(d), unsafe.Pointer(s))
		d += 32
		s += 32
		n -= 32
	}

	copyTemporalTail(unsafe.Pointer(d), unsafe.Pointer(s), n, flush)
}

// copyTemporalTail copies n bytes with ordinary stores and, if flush is
// non-nil, flushes the region afterward. Used for the unaligned prefix and
// trailing tail of the non-temporal copy paths, per spec.md §4.2 step 1/4.
func copyTemporalTail(dst, src unsafe.Pointer, n uintptr, flush FlushFunc) {
	if n == 0 {
		return
	}
	for i := uintptr(0); i < n; i++ {
		setByteAt(addPtr(dst, i), byteAt(addPtr(src, i)))
	}
	if flush != nil {
		flush(dst, n)
	}
}
