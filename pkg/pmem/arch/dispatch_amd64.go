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

package arch

import (
	"unsafe"

	"github.com/pmem/pmdk-sub008/pkg/pmem/config"
	"github.com/pmem/pmdk-sub008/pkg/pmem/flush"
)

// selectArch picks flush/fence/copy primitives for the local amd64 CPU,
// following spec.md §4.1's table: CLWB > CLFLUSHOPT > CLFLUSH, each
// disable-able by cfg regardless of CPU support. Ported from
// original_source/src/libpmem2/x86_64/init.c's pmem2_arch_init, which walks
// the same CLWB/CLFLUSHOPT/CLFLUSH preference order.
func selectArch(cfg config.PersistConfig) *Ops {
	feat := DetectFeatures()

	o := &Ops{Fence: flush.Sfence}

	switch {
	case feat.CLWB && !cfg.NoCLWB:
		o.Tier = TierCLWB
		o.Flush = flush.MakeClwbFlush()
		o.FlushHasBuiltinFence = false
	case feat.CLFLUSHOPT && !cfg.NoCLFLUSHOPT:
		o.Tier = TierCLFLUSHOPT
		o.Flush = flush.MakeClflushoptFlush()
		o.FlushHasBuiltinFence = false
	case feat.CLFLUSH:
		o.Tier = TierCLFLUSH
		o.Flush = flush.MakeClflushFlush()
		// CLFLUSH is itself a serializing instruction (SDM Vol 2A,
		// CLFLUSH): no separate fence is required to drain it.
		o.FlushHasBuiltinFence = true
	default:
		o.Tier = TierGenericUnknown
		o.Flush = func(unsafe.Pointer, uintptr) {}
		o.FlushHasBuiltinFence = true
	}

	if cfg.FlushForced {
		o.FlushHasBuiltinFence = false
	}
	if cfg.Flush == config.FlushDisabled {
		o.Flush = func(unsafe.Pointer, uintptr) {}
		o.FlushHasBuiltinFence = true
	}

	// feat.AVX512F CPUs always also report feat.AVX, so useWide is true
	// for them unless WCWorkaround is set; feat.AVX512F is still consulted
	// directly below so CopyTier tells an AVX-512 CPU apart from an
	// AVX-only one on the same 32-byte path.
	useWide := (feat.AVX || feat.AVX512F) && !cfg.WCWorkaround
	switch {
	case feat.AVX512F && useWide:
		o.CopyTier = TierCopyAVX512
	case useWide:
		o.CopyTier = TierCopyAVX
	default:
		o.CopyTier = TierCopySSE2
	}

	threshold := uintptr(cfg.Threshold())

	// nontemporalWanted reports whether length bytes should take the
	// non-temporal path, honoring spec.md §4.3's flag precedence: an
	// explicit Temporal or NonTemporal flag always wins and bypasses the
	// length threshold; NoMovnt is a hard disable that beats even an
	// explicit NonTemporal request; NoGenericMemcpy (test mode) forces
	// every copy non-temporal when no flag says otherwise.
	nontemporalWanted := func(flags flush.Flags, length uintptr) bool {
		switch {
		case cfg.NoMovnt || flags&flush.Temporal != 0:
			return false
		case flags&flush.NonTemporal != 0:
			return true
		case cfg.NoGenericMemcpy:
			return true
		default:
			return length >= threshold
		}
	}

	o.Memmove = func(dst, src unsafe.Pointer, length uintptr, flags flush.Flags) {
		fl := o.Flush
		if flags&flush.NoFlush != 0 {
			fl = nil
		}
		// The non-temporal routines copy forward only, so overlapping
		// ranges always take the generic path.
		d, s := uintptr(dst), uintptr(src)
		overlaps := d < s+length && s < d+length
		if !overlaps && nontemporalWanted(flags, length) {
			if useWide {
				flush.MemmoveNontemporalAVX(dst, src, length, fl)
			} else {
				flush.MemmoveNontemporalSSE2(dst, src, length, fl)
			}
			return
		}
		flush.MemmoveGeneric(dst, src, length, flags, o.Flush)
	}
	o.Memset = func(dst unsafe.Pointer, c byte, length uintptr, flags flush.Flags) {
		fl := o.Flush
		if flags&flush.NoFlush != 0 {
			fl = nil
		}
		if nontemporalWanted(flags, length) {
			if useWide {
				flush.MemsetNontemporalAVX(dst, c, length, fl)
			} else {
				flush.MemsetNontemporalSSE2(dst, c, length, fl)
			}
			return
		}
		flush.MemsetGeneric(dst, c, length, flags, o.Flush)
	}

	return o
}
