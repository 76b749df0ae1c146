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

package flush

import "unsafe"

// LineIterate calls op once per CachelineSize-aligned chunk covering
// [addr, addr+length), extending the window inward to cover partially
// touched lines at either end (spec.md §4.2: "Ranges are aligned inward").
// This is the windowing rule spec.md §8's "Flush windowing" property tests.
func LineIterate(addr unsafe.Pointer, length uintptr, op func(unsafe.Pointer)) {
	if length == 0 {
		return
	}
	start := uintptr(addr)
	end := start + length
	lineStart := start &^ (CachelineSize - 1)
	for p := lineStart; p < end; p += CachelineSize {
		op(unsafe.Pointer(p))
	}
}

func addPtr(p unsafe.Pointer, n uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) + n)
}

// byteAt/setByteAt give us addressable single bytes without requiring the
// caller to have a Go slice backing the pmem range (pool memory is mapped
// independently of any one slice header).
func byteAt(p unsafe.Pointer) byte        { return *(*byte)(p) }
func setByteAt(p unsafe.Pointer, v byte)  { *(*byte)(p) = v }
func u64At(p unsafe.Pointer) uint64       { return *(*uint64)(p) }
func setU64At(p unsafe.Pointer, v uint64) { *(*uint64)(p) = v }

func flushIf(flush FlushFunc, flags Flags, addr unsafe.Pointer, length uintptr) {
	if flags&NoFlush != 0 || flush == nil || length == 0 {
		return
	}
	flush(addr, length)
}

// MemmoveGeneric is the architecture-independent memmove fallback ported
// from original_source's memops_generic.c memmove_nodrain_generic: it
// guarantees at least 8-byte stores for 8-byte-aligned regions so pmemobj
// and friends can rely on atomicity of aligned word stores, and flushes
// each written chunk via flush (skipped entirely if flags has NoFlush).
func MemmoveGeneric(dst, src unsafe.Pointer, length uintptr, flags Flags, flush FlushFunc) {
	if length == 0 || dst == src {
		return
	}
	dstAddr, srcAddr := uintptr(dst), uintptr(src)
	if dstAddr-srcAddr >= length {
		// Forward copy: dst doesn't overlap src from behind, or there's
		// no overlap at all.
		memmoveForward(dst, src, length, flags, flush)
		return
	}
	memmoveBackward(dst, src, length, flags, flush)
}

func memmoveForward(dst, src unsafe.Pointer, length uintptr, flags Flags, flush FlushFunc) {
	cdst, csrc := dst, src
	remaining := length

	if cnt := uintptr(cdst) & 7; cnt > 0 {
		cnt = 8 - cnt
		if cnt > remaining {
			cnt = remaining
		}
		for i := uintptr(0); i < cnt; i++ {
			setByteAt(addPtr(cdst, i), byteAt(addPtr(csrc, i)))
		}
		flushIf(flush, flags, cdst, cnt)
		cdst, csrc = addPtr(cdst, cnt), addPtr(csrc, cnt)
		remaining -= cnt
	}

	for remaining >= 64 {
		for i := uintptr(0); i < 64; i += 8 {
			setU64At(addPtr(cdst, i), u64At(addPtr(csrc, i)))
		}
		flushIf(flush, flags, cdst, 64)
		cdst, csrc = addPtr(cdst, 64), addPtr(csrc, 64)
		remaining -= 64
	}

	tailStart := cdst
	tailWord := remaining &^ 7
	for i := uintptr(0); i < tailWord; i += 8 {
		setU64At(addPtr(cdst, i), u64At(addPtr(csrc, i)))
	}
	cdst, csrc = addPtr(cdst, tailWord), addPtr(csrc, tailWord)
	remaining -= tailWord

	for i := uintptr(0); i < remaining; i++ {
		setByteAt(addPtr(cdst, i), byteAt(addPtr(csrc, i)))
	}
	if flushed := tailWord + remaining; flushed > 0 {
		flushIf(flush, flags, tailStart, flushed)
	}
}

func sub(p unsafe.Pointer, n uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) - n)
}

func memmoveBackward(dst, src unsafe.Pointer, length uintptr, flags Flags, flush FlushFunc) {
	cdst := addPtr(dst, length)
	csrc := addPtr(src, length)
	remaining := length

	if cnt := uintptr(cdst) & 7; cnt > 0 {
		if cnt > remaining {
			cnt = remaining
		}
		cdst, csrc = sub(cdst, cnt), sub(csrc, cnt)
		remaining -= cnt
		for i := cnt; i > 0; i-- {
			setByteAt(addPtr(cdst, i-1), byteAt(addPtr(csrc, i-1)))
		}
		flushIf(flush, flags, cdst, cnt)
	}

	for remaining >= 64 {
		cdst, csrc = sub(cdst, 64), sub(csrc, 64)
		// Highest word first: dst lies above src here, so an ascending
		// word order would overwrite source bytes not yet read.
		for i := uintptr(64); i > 0; i -= 8 {
			setU64At(addPtr(cdst, i-8), u64At(addPtr(csrc, i-8)))
		}
		flushIf(flush, flags, cdst, 64)
		remaining -= 64
	}

	// tailLen bytes remain, covering a whole-word portion plus an
	// unaligned byte remainder; both are flushed together below, exactly
	// as the original memops_generic.c does (one flush call covering the
	// combined tail region).
	tailLen := remaining
	for remaining >= 8 {
		cdst, csrc = sub(cdst, 8), sub(csrc, 8)
		setU64At(cdst, u64At(csrc))
		remaining -= 8
	}
	for i := remaining; i > 0; i-- {
		setByteAt(sub(cdst, 1), byteAt(sub(csrc, 1)))
		cdst, csrc = sub(cdst, 1), sub(csrc, 1)
	}
	if tailLen > 0 {
		flushIf(flush, flags, cdst, tailLen)
	}
}

// MemsetGeneric is the architecture-independent memset fallback ported
// from memops_generic.c memset_nodrain_generic, with the same 8-byte-store
// guarantee as MemmoveGeneric.
func MemsetGeneric(dst unsafe.Pointer, c byte, length uintptr, flags Flags, flush FlushFunc) {
	if length == 0 {
		return
	}
	cdst := dst
	remaining := length

	if cnt := uintptr(cdst) & 7; cnt > 0 {
		cnt = 8 - cnt
		if cnt > remaining {
			cnt = remaining
		}
		for i := uintptr(0); i < cnt; i++ {
			setByteAt(addPtr(cdst, i), c)
		}
		flushIf(flush, flags, cdst, cnt)
		cdst = addPtr(cdst, cnt)
		remaining -= cnt
	}

	word := uint64(c)
	word |= word << 8
	word |= word << 16
	word |= word << 32

	for remaining >= 64 {
		for i := uintptr(0); i < 64; i += 8 {
			setU64At(addPtr(cdst, i), word)
		}
		flushIf(flush, flags, cdst, 64)
		cdst = addPtr(cdst, 64)
		remaining -= 64
	}

	tailStart := cdst
	tailWord := remaining &^ 7
	for i := uintptr(0); i < tailWord; i += 8 {
		setU64At(addPtr(cdst, i), word)
	}
	cdst = addPtr(cdst, tailWord)
	remaining -= tailWord

	for i := uintptr(0); i < remaining; i++ {
		setByteAt(addPtr(cdst, i), c)
	}
	if flushed := tailWord + remaining; flushed > 0 {
		flushIf(flush, flags, tailStart, flushed)
	}
}
