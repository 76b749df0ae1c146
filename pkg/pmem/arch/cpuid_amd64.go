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

// cpuidLeaf executes CPUID for the given leaf/subleaf; see cpuid_amd64.s.
func cpuidLeaf(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// CLFLUSH, CLFLUSHOPT and CLWB are reported by CPUID leaves golang.org/x/sys/cpu
// does not expose (it tracks the bits the Go runtime itself cares about), so
// we read them directly. Bit numbers ported from
// original_source/src/libpmem2/x86_64/cpu.c's is_cpu_*_present family.
const (
	bitCLFLUSH    = 1 << 19 // leaf 1, EDX
	bitCLFLUSHOPT = 1 << 23 // leaf 7, EBX
	bitCLWB       = 1 << 24 // leaf 7, EBX
	bitAVX        = 1 << 28 // leaf 1, ECX
	bitAVX512F    = 1 << 16 // leaf 7, EBX
)

// Features reports the subset of spec.md §4.1's selection-table inputs this
// CPU supports.
type Features struct {
	CLFLUSH    bool
	CLFLUSHOPT bool
	CLWB       bool
	AVX        bool
	AVX512F    bool
}

// DetectFeatures reads CPUID directly, mirroring
// original_source/src/libpmem2/x86_64/cpu.c's is_cpu_feature_present, which
// first checks the CPUID leaf count (leaf 0, EAX) before reading the leaf
// that carries the feature bit.
func DetectFeatures() Features {
	maxLeaf, _, _, _ := cpuidLeaf(0, 0)

	var f Features
	if maxLeaf >= 1 {
		_, _, ecx1, edx1 := cpuidLeaf(1, 0)
		f.CLFLUSH = edx1&bitCLFLUSH != 0
		f.AVX = ecx1&bitAVX != 0
	}
	if maxLeaf >= 7 {
		_, ebx7, _, _ := cpuidLeaf(7, 0)
		f.CLFLUSHOPT = ebx7&bitCLFLUSHOPT != 0
		f.CLWB = ebx7&bitCLWB != 0
		f.AVX512F = ebx7&bitAVX512F != 0
	}
	return f
}
