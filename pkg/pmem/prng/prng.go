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

// Package prng implements the deterministic xoshiro256** generator used by
// the allocator controller (spec.md §2's "misc (random, config)" row).
// spec.md names the need for a deterministic RNG without specifying the
// algorithm; xoshiro256** is ported from original_source/src/common/rand.c.
package prng

import (
	"crypto/rand"
	"encoding/binary"
	"os"
)

// State is the 256 bits of xoshiro256** generator state. The zero State is
// invalid; use New or Seed to initialize it.
type State [4]uint64

func hash64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func rotl(x uint64, k uint) uint64 {
	return (x << k) | (x >> (64 - k))
}

// Seed initializes s from seed. A seed of 0 draws entropy from the OS CSPRNG,
// falling back to the process ID if that fails, mirroring rand.c's
// randomize_r.
func Seed(s *State, seed uint64) {
	if seed == 0 {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err == nil {
			s[0] = binary.LittleEndian.Uint64(buf[0:8])
			s[1] = binary.LittleEndian.Uint64(buf[8:16])
			s[2] = binary.LittleEndian.Uint64(buf[16:24])
			s[3] = binary.LittleEndian.Uint64(buf[24:32])
			return
		}
		seed = uint64(os.Getpid())
	}
	s[0] = hash64(seed)
	s[1] = hash64(s[0])
	s[2] = hash64(s[1])
	s[3] = hash64(s[2])
}

// New returns a freshly seeded generator. A seed of 0 draws OS entropy.
func New(seed uint64) *State {
	s := &State{}
	Seed(s, seed)
	return s
}

// Next returns 64 bits of randomness and advances s.
func (s *State) Next() uint64 {
	result := rotl(s[1]*5, 7) * 9
	t := s[1] << 17

	s[2] ^= s[0]
	s[3] ^= s[1]
	s[1] ^= s[2]
	s[0] ^= s[3]

	s[2] ^= t
	s[3] = rotl(s[3], 45)

	return result
}
