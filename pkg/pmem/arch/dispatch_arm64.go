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

package arch

import (
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/pmem/pmdk-sub008/pkg/pmem/config"
	"github.com/pmem/pmdk-sub008/pkg/pmem/flush"
)

// selectArch picks the aarch64 flush tier. Ported from
// original_source/src/libpmem2/aarch64/init.c's pmem2_arch_init: prefer "DC
// CVAP" (point of persistency, ARMv8.2+) when HWCAP_DCPOP is set, otherwise
// fall back to "DC CVAC" (point of coherency, all ARMv8). aarch64 has no
// non-temporal store tier in this selection table; Memmove/Memset always
// use the generic fallback.
func selectArch(cfg config.PersistConfig) *Ops {
	o := &Ops{Fence: flush.DmbISH}

	if cpu.ARM64.HasDCPOP && !cfg.NoCLWB {
		o.Tier = TierDCPOP
		o.Flush = flush.MakeDCCVAPFlush()
	} else {
		o.Tier = TierDCPOC
		o.Flush = flush.MakeDCCVACFlush()
	}
	o.FlushHasBuiltinFence = false

	if cfg.FlushForced {
		o.FlushHasBuiltinFence = false
	}
	if cfg.Flush == config.FlushDisabled {
		o.Flush = func(unsafe.Pointer, uintptr) {}
		o.FlushHasBuiltinFence = true
	}

	o.Memmove = func(dst, src unsafe.Pointer, length uintptr, flags flush.Flags) {
		flush.MemmoveGeneric(dst, src, length, flags, o.Flush)
	}
	o.Memset = func(dst unsafe.Pointer, c byte, length uintptr, flags flush.Flags) {
		flush.MemsetGeneric(dst, c, length, flags, o.Flush)
	}

	return o
}
