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

// fillPattern8 replicates c into all 8 bytes of a uint64, the pattern
// ntStore16 stamps repeatedly across the SSE2 non-temporal memset loop
// below.
func fillPattern8(c byte) uint64 {
	p := uint64(c)
	p |= p << 8
	p |= p << 16
	p |= p << 32
	return p
}

// MemsetNontemporalSSE2 fills length bytes at dst with c using 16-byte
// non-temporal stores for the aligned bulk, falling back to temporal
// stores (explicitly flushed) for the unaligned prefix and tail. Ported
// from original_source/src/libpmem2/x86_64/memset/memset_nt_sse2.c.
func MemsetNontemporalSSE2(dst unsafe.Pointer, c byte, length uintptr, flush FlushFunc) {
	const align = 16
	d, n := uintptr(dst), length

	prefix := align - (d % align)
	if prefix == align {
		prefix = 0
	}
	if uintptr(prefix) > n {
		prefix = n
	}
	setTemporalTail(unsafe.Pointer(d), c, prefix, flush)
	d += prefix
	n -= prefix

	pattern := fillPattern8(c)
	for n >= 16 {
		ntStore16(unsafe.Pointer(d), pattern, pattern)
		d += 16
		n -= 16
	}

	setTemporalTail(unsafe.Pointer(d), c, n, flush)
}

// MemsetNontemporalAVX is MemsetNontemporalSSE2's 32-byte-aligned
// counterpart for AVX-capable CPUs, reused for AVX-512 per the rationale
// in MemmoveNontemporalAVX. Ported from
// original_source/src/libpmem2/x86_64/memset/memset_nt_avx.c.
func MemsetNontemporalAVX(dst unsafe.Pointer, c byte, length uintptr, flush FlushFunc) {
	const align = 32
	d, n := uintptr(dst), length

	prefix := align - (d % align)
	if prefix == align {
		prefix = 0
	}
	if uintptr(prefix) > n {
		prefix = n
	}
	setTemporalTail(unsafe.Pointer(d), c, prefix, flush)
	d += prefix
	n -= prefix

	var buf [32]byte
	for i := range buf {
		buf[i] = c
	}
	bufPtr := unsafe.Pointer(&buf[0])
	for n >= 32 {
		ntStore32(unsafe.Pointer(d), bufPtr)
		d += 32
		n -= 32
	}

	setTemporalTail(unsafe.Pointer(d), c, n, flush)
}

// setTemporalTail fills n bytes at dst with c using ordinary stores and,
// if flush is non-nil, flushes the region afterward.
func setTemporalTail(dst unsafe.Pointer, c byte, n uintptr, flush FlushFunc) {
	if n == 0 {
		return
	}
	for i := uintptr(0); i < n; i++ {
		setByteAt(addPtr(dst, i), c)
	}
	if flush != nil {
		flush(dst, n)
	}
}
