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

// Package mapping implements spec.md §4.5: map an fd into the process
// address space with the best durability flags the kernel will accept,
// classify the result in the shared range registry, and guard the pool
// header against accidental writes. Shaped after the host/guest mmap
// bridge in gvisor's nvproxy frontend (frontend_mmap.go): attempt the
// preferred flag set first, retry once without it on rejection, and report
// back which path was actually taken.
package mapping

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/pmem/pmdk-sub008/pkg/pmem/rangeset"
)

// mapSync is MAP_SYNC (Linux 4.15+), requested alongside MAP_SHARED_VALIDATE
// when mapping a DAX-backed file so stores become visible to the backing
// extents without a separate msync. golang.org/x/sys/unix does not name
// this constant on every platform/version this module targets, so it is
// reproduced here directly from the kernel's mman-common.h.
const mapSync = 0x80000

// mapSharedValidate is MAP_SHARED_VALIDATE, required by the kernel to even
// consider mapSync; unknown flag bits are rejected outright with this set,
// rather than silently ignored as with plain MAP_SHARED.
const mapSharedValidate = 0x03

// Mapping is a single mmap'd pool region.
type Mapping struct {
	Addr         uintptr
	Length       uintptr
	Path         string
	AcceptedSync bool
	registry     *rangeset.Registry
}

// Map maps length bytes of fd at offset, per spec.md §4.5: round length up
// to the page size, attempt MAP_SHARED_VALIDATE|MAP_SYNC first, retry with
// plain MAP_SHARED if the kernel rejects the sync flag (old kernel, or a
// non-DAX filesystem), and register the result with the registry as DevDax
// (for a character-device DAX mapping), MapSync (sync flag accepted), or
// not at all (ordinary page-cache mapping, left for msync fallback).
func Map(fd int, length uintptr, offset int64, path string, registry *rangeset.Registry) (*Mapping, error) {
	pageSize := uintptr(os.Getpagesize())
	rounded := (length + pageSize - 1) &^ (pageSize - 1)

	addr, accepted, err := mapWithFallback(fd, int(rounded), offset)
	if err != nil {
		return nil, fmt.Errorf("mapping: mmap %s: %w", path, err)
	}

	typ := rangeset.Regular
	switch {
	case isDevDax(path):
		typ = rangeset.DevDax
	case accepted:
		typ = rangeset.MapSync
	}
	if typ != rangeset.Regular {
		if err := registry.Register(addr, rounded, path, typ); err != nil {
			unix.Munmap(byteSlice(addr, rounded))
			return nil, fmt.Errorf("mapping: register %s: %w", path, err)
		}
	}

	return &Mapping{
		Addr:         addr,
		Length:       rounded,
		Path:         path,
		AcceptedSync: accepted,
		registry:     registry,
	}, nil
}

func mapWithFallback(fd, length int, offset int64) (addr uintptr, accepted bool, err error) {
	data, err := unix.Mmap(fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, mapSharedValidate|mapSync)
	if err == nil {
		return uintptr(unsafe.Pointer(&data[0])), true, nil
	}
	data, err = unix.Mmap(fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return 0, false, err
	}
	return uintptr(unsafe.Pointer(&data[0])), false, nil
}

// MapFixed behaves like Map but places the mapping at the caller-supplied
// address addr (MAP_FIXED), for a part that must land at a precise offset
// within a replica's already-reserved virtual-address window: the window
// was reserved PROT_NONE for this exclusive purpose, so MAP_FIXED
// overwriting the reservation there is expected, not a collision.
// Classification (DevDax/MapSync/Regular) and registry bookkeeping follow
// the same rules as Map.
func MapFixed(fd int, addr, length uintptr, offset int64, path string, registry *rangeset.Registry) (*Mapping, error) {
	return mapAtFixedAddr(fd, addr, length, offset, path, registry, unix.MAP_FIXED)
}

// MapFixedNoReplace behaves like MapFixed but fails instead of silently
// replacing a mapping that already occupies [addr, addr+length) (Linux
// 4.17+'s MAP_FIXED_NOREPLACE). Used where addr was not itself reserved in
// advance, so the caller needs to know whether the kernel actually placed
// the mapping exactly there.
func MapFixedNoReplace(fd int, addr, length uintptr, offset int64, path string, registry *rangeset.Registry) (*Mapping, error) {
	return mapAtFixedAddr(fd, addr, length, offset, path, registry, unix.MAP_FIXED_NOREPLACE)
}

func mapAtFixedAddr(fd int, addr, length uintptr, offset int64, path string, registry *rangeset.Registry, fixedFlag int) (*Mapping, error) {
	pageSize := uintptr(os.Getpagesize())
	rounded := (length + pageSize - 1) &^ (pageSize - 1)

	got, accepted, err := mapFixedWithFallback(fd, addr, int(rounded), offset, fixedFlag)
	if err != nil {
		return nil, fmt.Errorf("mapping: mmap %s: %w", path, err)
	}

	typ := rangeset.Regular
	switch {
	case isDevDax(path):
		typ = rangeset.DevDax
	case accepted:
		typ = rangeset.MapSync
	}
	if typ != rangeset.Regular {
		if err := registry.Register(got, rounded, path, typ); err != nil {
			unix.Munmap(byteSlice(got, rounded))
			return nil, fmt.Errorf("mapping: register %s: %w", path, err)
		}
	}

	return &Mapping{
		Addr:         got,
		Length:       rounded,
		Path:         path,
		AcceptedSync: accepted,
		registry:     registry,
	}, nil
}

func mapFixedWithFallback(fd int, addr uintptr, length int, offset int64, fixedFlag int) (uintptr, bool, error) {
	got, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length),
		unix.PROT_READ|unix.PROT_WRITE, uintptr(mapSharedValidate|mapSync|fixedFlag), uintptr(fd), uintptr(offset))
	if errno == 0 {
		return got, true, nil
	}
	got, _, errno = unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length),
		uintptr(unix.PROT_READ|unix.PROT_WRITE), uintptr(unix.MAP_SHARED|fixedFlag), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, false, errno
	}
	return got, false, nil
}

// byteSlice reconstructs the []byte view of a mapping x/sys/unix's
// Munmap/Mprotect need, from the address and length this package tracks
// instead of holding the original mmap-returned slice alive.
func byteSlice(addr, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}

// ProtectHeader marks the first headerSize bytes of m read-only, the
// guard-page behavior of spec.md §4.5. Failure is not fatal: huge-page
// mappings on some platforms refuse partial-page protection changes, and
// the header is still checksum-verified on every open regardless.
func (m *Mapping) ProtectHeader(headerSize uintptr) {
	if headerSize == 0 || headerSize > m.Length {
		return
	}
	pageSize := uintptr(os.Getpagesize())
	rounded := (headerSize + pageSize - 1) &^ (pageSize - 1)
	_ = unix.Mprotect(byteSlice(m.Addr, rounded), unix.PROT_READ)
}

// Unprotect restores read-write access to the header region, used before a
// write that legitimately needs to touch it (e.g. a pool repair tool).
func (m *Mapping) Unprotect(headerSize uintptr) {
	if headerSize == 0 || headerSize > m.Length {
		return
	}
	pageSize := uintptr(os.Getpagesize())
	rounded := (headerSize + pageSize - 1) &^ (pageSize - 1)
	_ = unix.Mprotect(byteSlice(m.Addr, rounded), unix.PROT_READ|unix.PROT_WRITE)
}

// Unmap removes any registry entry for m then releases the mapping.
func (m *Mapping) Unmap() error {
	if m.registry != nil {
		_ = m.registry.Unregister(m.Addr, m.Length)
	}
	return unix.Munmap(byteSlice(m.Addr, m.Length))
}

// isDevDax reports whether path names a character device, the only mapping
// origin spec.md §4.5 always treats as persistence-capable regardless of
// whether MAP_SYNC was accepted. A stat-based check (rather than a filename
// match) also covers DAX devices reached through a symlink or an
// operator-chosen name outside the conventional /dev/daxN.N scheme.
func isDevDax(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFCHR
}
