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
	"os"
	"unsafe"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/pmem/pmdk-sub008/pkg/pmem/config"
	"github.com/pmem/pmdk-sub008/pkg/pmem/header"
	"github.com/pmem/pmdk-sub008/pkg/pmem/mapping"
	"github.com/pmem/pmdk-sub008/pkg/pmem/persist"
	"github.com/pmem/pmdk-sub008/pkg/pmem/pmemerr"
	"github.com/pmem/pmdk-sub008/pkg/pmem/pmemlog"
	"github.com/pmem/pmdk-sub008/pkg/pmem/rangeset"
)

// Open maps and validates an already-parsed descriptor's replicas
// concurrently, per spec.md §4.7's Open algorithm: "check that every
// replica has the same UUID and feature masks; if any replica disagrees,
// fail with ReplicaMismatch". Any failure unmaps everything this call
// itself successfully mapped.
func Open(d *Descriptor, signature string, known header.KnownFeatures, cfg config.PersistConfig, registry *rangeset.Registry) (*Set, error) {
	set := &Set{Descriptor: d, registry: registry}
	set.Replicas = make([]MappedReplica, len(d.Replicas))
	headers := make([]header.Header, len(d.Replicas))

	g := new(errgroup.Group)
	for i := range d.Replicas {
		i := i
		g.Go(func() error {
			mr, hdr, err := openReplica(d, i, signature, known, registry)
			if err != nil {
				return err
			}
			set.Replicas[i] = mr
			headers[i] = hdr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		set.unmapAll()
		return nil, err
	}

	first := headers[0]
	for i := 1; i < len(headers); i++ {
		if headers[i].UUID != first.UUID || headers[i].Features != first.Features {
			set.unmapAll()
			return nil, pmemerr.New("open", pmemerr.KindReplicaMismatch, "", nil)
		}
	}

	set.Facade = persist.New(cfg, registry, false)
	pmemlog.Logf(3, "poolset opened: %d replica(s)", len(set.Replicas))
	return set, nil
}

func openReplica(d *Descriptor, idx int, signature string, known header.KnownFeatures, registry *rangeset.Registry) (MappedReplica, header.Header, error) {
	rep := d.Replicas[idx]
	total := rep.ReplicaSize()

	base, err := reserveWindow(total)
	if err != nil {
		return MappedReplica{}, header.Header{}, pmemerr.New("open", pmemerr.KindIO, "", err)
	}

	mr := MappedReplica{Base: base, Size: total}
	var offset uintptr
	var replicaHeader header.Header
	haveHeader := false

	// abort releases every part this replica's attempt has mapped so far
	// plus the reserved window, so a part failing mid-replica doesn't
	// leave earlier parts of the same replica mapped and registered.
	abort := func() {
		unmapParts(registry, mr.Parts, mr.Base, false)
		unix.Munmap(byteSliceAt(base, roundPage(total)))
	}

	for pi, part := range rep.Parts {
		hasHeader := !d.Options.NoHDRs && (pi == 0 || !d.Options.SingleHDR)

		f, err := os.OpenFile(part.Path, os.O_RDWR, 0)
		if err != nil {
			abort()
			return MappedReplica{}, header.Header{}, pmemerr.New("open", pmemerr.KindIO, part.Path, err)
		}

		m, err := mapping.MapFixed(int(f.Fd()), base+offset, uintptr(part.Size), 0, part.Path, registry)
		if err != nil {
			f.Close()
			abort()
			return MappedReplica{}, header.Header{}, pmemerr.New("open", pmemerr.KindIO, part.Path, err)
		}

		if hasHeader {
			buf := unsafe.Slice((*byte)(unsafe.Pointer(m.Addr)), header.Size)
			result, err := header.Decode(buf, part.Path, signature, known)
			if err != nil {
				m.Unmap()
				f.Close()
				abort()
				return MappedReplica{}, header.Header{}, err
			}
			if !haveHeader {
				replicaHeader = result.Header
				haveHeader = true
			}
		}

		mr.Parts = append(mr.Parts, MappedPart{
			Path:      part.Path,
			Offset:    offset,
			Length:    uintptr(part.Size),
			HasHeader: hasHeader,
			file:      f,
		})
		offset += uintptr(part.Size)
	}

	return mr, replicaHeader, nil
}

// unmapAll releases every part every replica of this Set successfully
// mapped, used both when Open fails partway through (a failing replica has
// already torn down its own in-progress parts via openReplica's abort; this
// cleans up the replicas that *did* succeed) and by Close.
func (s *Set) unmapAll() {
	for _, mr := range s.Replicas {
		if len(mr.Parts) == 0 {
			continue
		}
		unmapParts(s.registry, mr.Parts, mr.Base, false)
		unix.Munmap(byteSliceAt(mr.Base, roundPage(mr.Size)))
	}
}

// Close unmaps every replica's parts and releases their file handles. It
// does not delete any file.
func (s *Set) Close() error {
	s.unmapAll()
	return nil
}
