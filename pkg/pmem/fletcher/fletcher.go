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

// Package fletcher implements the Fletcher64 checksum used for pool
// header integrity (spec.md §3: "64-bit Fletcher64 over the entire header
// with the checksum slot treated as zero").
package fletcher

import "encoding/binary"

// Checksum64 computes the Fletcher64 checksum of data, which must have a
// length that is a multiple of 4 bytes (the header layout guarantees
// this; callers with arbitrary data must pad).
func Checksum64(data []byte) uint64 {
	var lo, hi uint32
	for i := 0; i+4 <= len(data); i += 4 {
		lo += binary.LittleEndian.Uint32(data[i : i+4])
		hi += lo
	}
	return uint64(hi)<<32 | uint64(lo)
}

// Verify reports whether data's trailing 8-byte little-endian checksum
// field (at offset checksumOff) matches Checksum64 of data with that
// field zeroed, per spec.md's "checksum slot treated as zero" rule.
func Verify(data []byte, checksumOff int) bool {
	if checksumOff < 0 || checksumOff+8 > len(data) {
		return false
	}
	want := binary.LittleEndian.Uint64(data[checksumOff : checksumOff+8])
	scratch := make([]byte, len(data))
	copy(scratch, data)
	for i := 0; i < 8; i++ {
		scratch[checksumOff+i] = 0
	}
	return Checksum64(scratch) == want
}

// Compute calculates the checksum of data with the 8-byte field at
// checksumOff treated as zero, and writes it into that field.
func Compute(data []byte, checksumOff int) {
	scratch := make([]byte, len(data))
	copy(scratch, data)
	for i := 0; i < 8; i++ {
		scratch[checksumOff+i] = 0
	}
	sum := Checksum64(scratch)
	binary.LittleEndian.PutUint64(data[checksumOff:checksumOff+8], sum)
}
