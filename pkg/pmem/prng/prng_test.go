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

package prng

import "testing"

func TestSameSeedSameSequence(t *testing.T) {
	a := New(42)
	b := New(42)
	for i := 0; i < 100; i++ {
		if x, y := a.Next(), b.Next(); x != y {
			t.Fatalf("sequence diverged at step %d: %d != %d", i, x, y)
		}
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := New(1)
	b := New(2)
	same := true
	for i := 0; i < 8; i++ {
		if a.Next() != b.Next() {
			same = false
		}
	}
	if same {
		t.Fatalf("two different seeds produced the same first 8 values")
	}
}

func TestNextIsNotConstant(t *testing.T) {
	s := New(7)
	first := s.Next()
	allSame := true
	for i := 0; i < 16; i++ {
		if s.Next() != first {
			allSame = false
			break
		}
	}
	if allSame {
		t.Fatalf("Next() returned the same value repeatedly")
	}
}
