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

// Package pool implements spec.md §4.6's single-part pool lifecycle:
// create, open, close and check, composing header, mapping, persist and
// rangeset. Multi-part pool sets build on top of this in pkg/pmem/poolset.
package pool

import (
	"crypto/rand"
	"os"
	"unsafe"

	"github.com/gofrs/flock"

	"github.com/pmem/pmdk-sub008/pkg/pmem/arch"
	"github.com/pmem/pmdk-sub008/pkg/pmem/config"
	"github.com/pmem/pmdk-sub008/pkg/pmem/header"
	"github.com/pmem/pmdk-sub008/pkg/pmem/mapping"
	"github.com/pmem/pmdk-sub008/pkg/pmem/persist"
	"github.com/pmem/pmdk-sub008/pkg/pmem/pmemerr"
	"github.com/pmem/pmdk-sub008/pkg/pmem/pmemlog"
	"github.com/pmem/pmdk-sub008/pkg/pmem/rangeset"
)

// Handle is the pool handle of spec.md §3: base address, total size,
// is_pmem flag, and the facade/lock needed to close it correctly.
type Handle struct {
	Path       string
	Header     header.Header
	ReadOnly   bool
	Size       uintptr
	mapping    *mapping.Mapping
	facade     *persist.Facade
	lock       *flock.Flock
	file       *os.File
}

// Addr is the base address of the pool's usable region (immediately after
// the reserved header).
func (h *Handle) Addr() uintptr { return h.mapping.Addr + header.Size }

// UsableSize is Size minus the reserved header region.
func (h *Handle) UsableSize() uintptr { return h.Size - header.Size }

// IsPmem reports whether the pool's usable region is backed by genuine
// persistent memory (spec.md §3's pool-handle field of the same name).
func (h *Handle) IsPmem() bool {
	return h.facade.IsPmem(unsafe.Pointer(h.Addr()), h.UsableSize())
}

// Facade returns the persist facade bound to this pool's mapping, for
// external allocators to flush their own metadata (spec.md §2 step 5).
func (h *Handle) Facade() *persist.Facade { return h.facade }

func randomUUID() (header.UUID, error) {
	var u header.UUID
	if _, err := rand.Read(u[:]); err != nil {
		return u, err
	}
	u[6] = (u[6] & 0x0f) | 0x40
	u[8] = (u[8] & 0x3f) | 0x80
	return u, nil
}

// Create creates a new pool file at path of exactly size bytes (only the
// mapping's length is rounded up to the page size), writes and persists
// its header, and returns a handle.
// Per spec.md §4.6's Create and §5's InUse rule, an existing lock on path
// causes this to fail with KindInUse rather than blocking.
func Create(path string, size uint64, signature string, major uint32, features header.Features, cfg config.PersistConfig, registry *rangeset.Registry) (*Handle, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, pmemerr.New("create", pmemerr.KindIO, path, err)
	}
	if !locked {
		return nil, pmemerr.New("create", pmemerr.KindInUse, path, nil)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		lock.Unlock()
		return nil, pmemerr.New("create", pmemerr.KindIO, path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		lock.Unlock()
		return nil, pmemerr.New("create", pmemerr.KindIO, path, err)
	}

	m, err := mapping.Map(int(f.Fd()), uintptr(size), 0, path, registry)
	if err != nil {
		f.Close()
		os.Remove(path)
		lock.Unlock()
		return nil, pmemerr.New("create", pmemerr.KindIO, path, err)
	}

	uuid, err := randomUUID()
	if err != nil {
		m.Unmap()
		f.Close()
		os.Remove(path)
		lock.Unlock()
		return nil, pmemerr.New("create", pmemerr.KindIO, path, err)
	}
	hdr := header.New(signature, major, features, uuid)

	facade := persist.New(cfg, registry, arch.HasAutoFlush())
	headerBuf := unsafe.Slice((*byte)(unsafe.Pointer(m.Addr)), header.Size)
	header.Encode(headerBuf, hdr)
	facade.Persist(unsafe.Pointer(m.Addr), header.Size)
	m.ProtectHeader(header.Size)

	pmemlog.Logf(3, "pool created: %s size=%d signature=%s", path, size, signature)

	return &Handle{
		Path:    path,
		Header:  hdr,
		Size:    uintptr(size),
		mapping: m,
		facade:  facade,
		lock:    lock,
		file:    f,
	}, nil
}

// Open validates and maps an existing pool, implementing spec.md §4.6's
// Open steps 1-7.
func Open(path string, signature string, known header.KnownFeatures, cfg config.PersistConfig, registry *rangeset.Registry) (*Handle, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, pmemerr.New("open", pmemerr.KindIO, path, err)
	}
	if !locked {
		return nil, pmemerr.New("open", pmemerr.KindInUse, path, nil)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		lock.Unlock()
		return nil, pmemerr.New("open", pmemerr.KindIO, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		lock.Unlock()
		return nil, pmemerr.New("open", pmemerr.KindIO, path, err)
	}
	size := info.Size()
	if size < header.Size {
		f.Close()
		lock.Unlock()
		return nil, pmemerr.New("open", pmemerr.KindInvalidHeader, path, nil)
	}

	m, err := mapping.Map(int(f.Fd()), uintptr(size), 0, path, registry)
	if err != nil {
		f.Close()
		lock.Unlock()
		return nil, pmemerr.New("open", pmemerr.KindIO, path, err)
	}

	headerBuf := unsafe.Slice((*byte)(unsafe.Pointer(m.Addr)), header.Size)
	result, err := header.Decode(headerBuf, path, signature, known)
	if err != nil {
		m.Unmap()
		f.Close()
		lock.Unlock()
		return nil, err
	}

	m.ProtectHeader(header.Size)
	facade := persist.New(cfg, registry, arch.HasAutoFlush())

	pmemlog.Logf(3, "pool opened: %s size=%d readonly=%v", path, size, result.ForcedReadOnly)

	return &Handle{
		Path:     path,
		Header:   result.Header,
		ReadOnly: result.ForcedReadOnly,
		Size:     uintptr(size),
		mapping:  m,
		facade:   facade,
		lock:     lock,
		file:     f,
	}, nil
}

// Close persists any dirty header metadata (none in the base lifecycle;
// changes a caller makes to h.Header are never written back), then
// unmaps and releases the pool's file lock. Close is idempotent.
func (h *Handle) Close() error {
	if h.mapping == nil {
		return nil
	}
	err := h.mapping.Unmap()
	h.mapping = nil
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
	if h.lock != nil {
		h.lock.Unlock()
		h.lock = nil
	}
	return err
}

// CheckResult is check's outcome per spec.md §4.6/§6.
type CheckResult int

const (
	Consistent CheckResult = iota
	Inconsistent
)

// Check opens path read-only just long enough to validate its header,
// implementing the external check(path, signature) interface of spec.md
// §6. It does not take the create/open exclusivity lock: a concurrent
// reader is safe because headers are only ever written at create.
func Check(path string, signature string, known header.KnownFeatures) (CheckResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return Inconsistent, pmemerr.New("check", pmemerr.KindIO, path, err)
	}
	defer f.Close()

	buf := make([]byte, header.Size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Inconsistent, nil
	}

	if _, err := header.Decode(buf, path, signature, known); err != nil {
		if perr, ok := err.(*pmemerr.Error); ok && perr.Kind == pmemerr.KindInvalidHeader {
			return Inconsistent, nil
		}
		return Inconsistent, err
	}
	return Consistent, nil
}
