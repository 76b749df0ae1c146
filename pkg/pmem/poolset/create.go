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
	"crypto/rand"
	"errors"
	"os"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff"
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

// MappedPart is one part of a replica after mapping, positioned at a fixed
// offset within the replica's contiguous virtual-address window.
type MappedPart struct {
	Path       string
	Offset     uintptr
	Length     uintptr
	HasHeader  bool
	file       *os.File
}

// MappedReplica is one replica's contiguous window plus its constituent
// parts, per spec.md §4.7 ("one virtual contiguous address range per
// replica, obtained by mapping parts consecutively").
type MappedReplica struct {
	Base  uintptr
	Size  uintptr
	Parts []MappedPart
}

// Set is an open, validated multi-part pool, spanning one or more
// replicas.
type Set struct {
	Descriptor *Descriptor
	Replicas   []MappedReplica
	Facade     *persist.Facade
	registry   *rangeset.Registry
}

// UsableSize returns the set's usable size (the descriptor's UsableSize,
// header overhead already excluded), satisfying spec.md §8's invariant that
// every mapped replica exposes the same usable size regardless of which
// replica a caller happens to read through.
func (s *Set) UsableSize() uint64 {
	return s.Descriptor.UsableSize()
}

// Create builds every replica of d on disk and maps each into its own
// contiguous virtual-address window, per spec.md §4.7's Create algorithm.
// Replicas are created concurrently (they are, by construction,
// independent address spaces and independent files); a failing replica
// first tears down its own parts and files. If some replicas finish
// successfully before another fails, Create unmaps, unregisters and
// deletes their parts too, so the set is left with no mappings, registry
// entries or part files at all on failure (spec.md §7: "either all parts
// mapped and registry updated, or none").
func Create(d *Descriptor, signature string, major uint32, features header.Features, cfg config.PersistConfig, registry *rangeset.Registry) (*Set, error) {
	set := &Set{Descriptor: d, registry: registry}
	set.Replicas = make([]MappedReplica, len(d.Replicas))

	g := new(errgroup.Group)
	for i := range d.Replicas {
		i := i
		g.Go(func() error {
			mr, err := createReplica(d, i, signature, major, features, registry)
			if err != nil {
				return err
			}
			set.Replicas[i] = mr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		set.rollback()
		return nil, err
	}

	set.Facade = persist.New(cfg, registry, false)
	for _, mr := range set.Replicas {
		set.Facade.Persist(unsafe.Pointer(mr.Base), headerSpanLength(d, mr))
	}

	pmemlog.Logf(3, "poolset created: %d replica(s)", len(set.Replicas))
	return set, nil
}

func headerSpanLength(d *Descriptor, mr MappedReplica) uintptr {
	if d.Options.NoHDRs {
		return 0
	}
	return header.Size
}

func createReplica(d *Descriptor, idx int, signature string, major uint32, features header.Features, registry *rangeset.Registry) (MappedReplica, error) {
	rep := d.Replicas[idx]
	total := rep.ReplicaSize()

	base, err := reserveWindow(total)
	if err != nil {
		return MappedReplica{}, pmemerr.New("create", pmemerr.KindIO, "", err)
	}

	mr := MappedReplica{Base: base, Size: total}

	// abort tears down everything this replica's attempt has built so
	// far: every part already mapped and registered, its backing file,
	// and finally the reserved window itself, so a mid-replica failure
	// leaves neither a mapping nor a registry entry behind.
	abort := func() {
		unmapParts(registry, mr.Parts, mr.Base, true)
		unix.Munmap(byteSliceAt(base, roundPage(total)))
	}

	var offset uintptr
	for pi, part := range rep.Parts {
		hasHeader := !d.Options.NoHDRs && (pi == 0 || !d.Options.SingleHDR)

		f, err := createPartFile(part.Path, part.Size)
		if err != nil {
			abort()
			return MappedReplica{}, pmemerr.New("create", pmemerr.KindIO, part.Path, err)
		}

		m, err := mapping.MapFixed(int(f.Fd()), base+offset, uintptr(part.Size), 0, part.Path, registry)
		if err != nil {
			f.Close()
			os.Remove(part.Path)
			abort()
			return MappedReplica{}, pmemerr.New("create", pmemerr.KindIO, part.Path, err)
		}

		if hasHeader {
			uuid, err := randomPartUUID()
			if err != nil {
				m.Unmap()
				f.Close()
				os.Remove(part.Path)
				abort()
				return MappedReplica{}, pmemerr.New("create", pmemerr.KindIO, part.Path, err)
			}
			hdr := header.New(signature, major, features, uuid)
			buf := unsafe.Slice((*byte)(unsafe.Pointer(m.Addr)), header.Size)
			header.Encode(buf, hdr)
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

	return mr, nil
}

// unmapParts releases every part in parts: unregistering it from registry
// and unmapping its address range, optionally deleting its backing file
// (used by create's rollback, not open's, since open never owns the files
// it maps).
func unmapParts(registry *rangeset.Registry, parts []MappedPart, base uintptr, deleteFiles bool) {
	for _, p := range parts {
		addr := base + p.Offset
		rounded := roundPage(p.Length)
		_ = registry.Unregister(addr, rounded)
		unix.Munmap(byteSliceAt(addr, rounded))
		if p.file != nil {
			p.file.Close()
		}
		if deleteFiles {
			os.Remove(p.Path)
		}
	}
}

func byteSliceAt(addr, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}

// reserveWindow reserves a contiguous, unused virtual-address range of the
// given size by mapping it PROT_NONE, then returns its base without
// releasing it: callers MAP_FIXED individual parts into sub-ranges of
// [base, base+size) immediately afterward, so the window is never visible
// to any other allocation in between.
func reserveWindow(size uint64) (uintptr, error) {
	data, err := unix.Mmap(-1, 0, int(roundPage(uintptr(size))), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(&data[0])), nil
}

func roundPage(n uintptr) uintptr {
	const pageSize = 4096
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// createPartFile creates and sizes one part file, retrying the fallocate
// step through cenkalti/backoff since fallocate on some filesystems
// transiently returns EINTR under signal delivery.
func createPartFile(path string, size uint64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	op := func() error {
		err := unix.Fallocate(int(f.Fd()), 0, 0, int64(size))
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EINTR) {
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Second
	if err := backoff.Retry(op, b); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return f, nil
}

func randomPartUUID() (header.UUID, error) {
	var u header.UUID
	if _, err := rand.Read(u[:]); err != nil {
		return u, err
	}
	return u, nil
}

// rollback unmaps, unregisters and deletes every part of every replica the
// set managed to build, used when Create fails partway through (spec.md
// §4.7's "any partial failure during create rolls back by deleting
// freshly-created parts"). A replica whose own createReplica call failed
// has already torn itself down and contributes an empty MappedReplica
// here; rollback's job is to clean up the replicas that *did* succeed, so
// the set as a whole ends with nothing mapped and nothing registered.
func (s *Set) rollback() {
	for _, mr := range s.Replicas {
		if len(mr.Parts) == 0 {
			continue
		}
		unmapParts(s.registry, mr.Parts, mr.Base, true)
		unix.Munmap(byteSliceAt(mr.Base, roundPage(mr.Size)))
	}
}
