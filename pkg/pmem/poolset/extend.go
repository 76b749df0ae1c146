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

package poolset

import (
	"fmt"
	"os"

	"github.com/pmem/pmdk-sub008/pkg/pmem/mapping"
	"github.com/pmem/pmdk-sub008/pkg/pmem/pmemerr"
	"github.com/pmem/pmdk-sub008/pkg/pmem/pmemlog"
)

// Extend grows replicaIdx by appending a new part: allocate the new file,
// map it at the next virtual-address slot, and append the entry to the
// in-memory s.Descriptor. The pool-set file on disk is not rewritten.
//
// "Must succeed contiguously or be remapped elsewhere — implementation is
// free to choose; the public contract is only that pool pointers already
// handed out remain valid" (spec.md §4.7): this implementation always maps
// the new part immediately after the replica's current window. Since that
// window was reserved once with its final size unknown, a contiguous
// extension can fail if something else has since claimed the adjacent
// address range; this implementation reports that as an error rather than
// silently relocating the replica, since relocating would invalidate
// exactly the pointers the contract above requires to survive.
func (s *Set) Extend(replicaIdx int, path string, size uint64) error {
	if replicaIdx < 0 || replicaIdx >= len(s.Replicas) {
		return fmt.Errorf("poolset: replica index %d out of range", replicaIdx)
	}
	if size < MinPartSize {
		return pmemerr.New("extend", pmemerr.KindInvalidArgument, path, nil)
	}

	f, err := createPartFile(path, size)
	if err != nil {
		return pmemerr.New("extend", pmemerr.KindIO, path, err)
	}

	mr := &s.Replicas[replicaIdx]
	newBase := mr.Base + mr.Size

	if _, err := mapping.MapFixedNoReplace(int(f.Fd()), newBase, uintptr(size), 0, path, s.registry); err != nil {
		f.Close()
		os.Remove(path)
		return pmemerr.New("extend", pmemerr.KindIO, path, err)
	}

	mr.Parts = append(mr.Parts, MappedPart{
		Path:   path,
		Offset: mr.Size,
		Length: uintptr(size),
		file:   f,
	})
	mr.Size += uintptr(size)

	s.Descriptor.Replicas[replicaIdx].Parts = append(s.Descriptor.Replicas[replicaIdx].Parts, Part{Size: size, Path: path})

	pmemlog.Logf(3, "poolset replica %d extended by %d bytes (%s)", replicaIdx, size, path)
	return nil
}
