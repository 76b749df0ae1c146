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

package fletcher

import (
	"math/rand"
	"testing"
)

func TestComputeThenVerify(t *testing.T) {
	data := make([]byte, 256)
	rand.New(rand.NewSource(1)).Read(data)

	Compute(data, 248)
	if !Verify(data, 248) {
		t.Fatalf("Verify failed immediately after Compute")
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	data := make([]byte, 256)
	rand.New(rand.NewSource(2)).Read(data)
	Compute(data, 248)

	data[10] ^= 0xff
	if Verify(data, 248) {
		t.Fatalf("Verify should fail after corrupting a data byte")
	}
}

func TestVerifyRejectsBadOffset(t *testing.T) {
	data := make([]byte, 16)
	if Verify(data, -1) {
		t.Fatalf("negative offset should not verify")
	}
	if Verify(data, 100) {
		t.Fatalf("out-of-range offset should not verify")
	}
}

func TestChecksumDeterministic(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	a := Checksum64(data)
	b := Checksum64(append([]byte(nil), data...))
	if a != b {
		t.Fatalf("Checksum64 not deterministic: %d != %d", a, b)
	}
}
