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
	"testing"
	"unsafe"

	"github.com/pmem/pmdk-sub008/pkg/pmem/config"
	"github.com/pmem/pmdk-sub008/pkg/pmem/flush"
)

func TestSelectNeverReturnsNilFields(t *testing.T) {
	o := Select(config.PersistConfig{})
	if o.Flush == nil || o.Fence == nil || o.Memmove == nil || o.Memset == nil {
		t.Fatalf("Select returned Ops with a nil field: %+v", o)
	}
}

func TestSelectHonorsNoCLWB(t *testing.T) {
	o := Select(config.PersistConfig{NoCLWB: true})
	if o.Tier == TierCLWB {
		t.Fatalf("NoCLWB set but Select still chose the clwb tier")
	}
}

func TestSelectHonorsNoCLFLUSHOPT(t *testing.T) {
	o := Select(config.PersistConfig{NoCLWB: true, NoCLFLUSHOPT: true})
	if o.Tier == TierCLWB || o.Tier == TierCLFLUSHOPT {
		t.Fatalf("NoCLWB and NoCLFLUSHOPT set but Select chose %q", o.Tier)
	}
}

func TestSelectFlushDisabledIsNoop(t *testing.T) {
	o := Select(config.PersistConfig{Flush: config.FlushDisabled, FlushForced: true})
	var buf [64]byte
	o.Flush(unsafe.Pointer(&buf[0]), 64)
	if !o.FlushHasBuiltinFence {
		t.Fatalf("FlushDisabled tier should report FlushHasBuiltinFence (Drain becomes a no-op)")
	}
}

func TestDrainSkipsFenceWhenBuiltin(t *testing.T) {
	fenced := false
	o := &Ops{FlushHasBuiltinFence: true, Fence: func() { fenced = true }}
	o.Drain()
	if fenced {
		t.Fatalf("Drain should not call Fence when FlushHasBuiltinFence is true")
	}

	o2 := &Ops{FlushHasBuiltinFence: false, Fence: func() { fenced = true }}
	o2.Drain()
	if !fenced {
		t.Fatalf("Drain should call Fence when FlushHasBuiltinFence is false")
	}
}

func TestMemmoveNoGenericMemcpyTakesArchPath(t *testing.T) {
	o := Select(config.PersistConfig{NoGenericMemcpy: true})
	src := make([]byte, 512)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, 512)
	o.Memmove(unsafe.Pointer(&dst[0]), unsafe.Pointer(&src[0]), uintptr(len(src)), 0)
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d mismatch: want %#x got %#x", i, src[i], dst[i])
		}
	}
}

func TestMemsetRespectsNoFlushFlag(t *testing.T) {
	o := Select(config.PersistConfig{})
	dst := make([]byte, 128)
	o.Memset(unsafe.Pointer(&dst[0]), 0x11, uintptr(len(dst)), flush.NoFlush)
	for i, b := range dst {
		if b != 0x11 {
			t.Fatalf("byte %d not filled: got %#x", i, b)
		}
	}
}

func TestSelectSetsCopyTier(t *testing.T) {
	o := Select(config.PersistConfig{})
	switch o.CopyTier {
	case TierCopyAVX512, TierCopyAVX, TierCopySSE2:
	default:
		t.Fatalf("Select left CopyTier unset: %q", o.CopyTier)
	}
}

// TestMemmoveNonTemporalFlagBypassesThreshold exercises spec.md §4.3's
// "regardless of the configured threshold" clause directly: an explicit
// NonTemporal flag on a copy shorter than the default threshold must still
// produce correct output by way of the non-temporal path, not merely fall
// through untouched.
func TestMemmoveNonTemporalFlagBypassesThreshold(t *testing.T) {
	o := Select(config.PersistConfig{})
	src := make([]byte, 16)
	for i := range src {
		src[i] = byte(0xA0 + i)
	}
	dst := make([]byte, 16)
	o.Memmove(unsafe.Pointer(&dst[0]), unsafe.Pointer(&src[0]), uintptr(len(src)), flush.NonTemporal)
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d mismatch: want %#x got %#x", i, src[i], dst[i])
		}
	}
}

// TestMemmoveTemporalFlagForcesGenericEvenOverThreshold exercises the other
// side of the same precedence rule: Temporal must win even when the copy is
// large enough, and NoGenericMemcpy is set, so that the non-temporal path
// would otherwise have been taken.
func TestMemmoveTemporalFlagForcesGenericEvenOverThreshold(t *testing.T) {
	o := Select(config.PersistConfig{NoGenericMemcpy: true})
	src := make([]byte, 4096)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, 4096)
	o.Memmove(unsafe.Pointer(&dst[0]), unsafe.Pointer(&src[0]), uintptr(len(src)), flush.Temporal)
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d mismatch: want %#x got %#x", i, src[i], dst[i])
		}
	}
}
