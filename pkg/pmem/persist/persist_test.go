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

package persist

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/pmem/pmdk-sub008/pkg/pmem/config"
	"github.com/pmem/pmdk-sub008/pkg/pmem/rangeset"
)

func TestIsPmemForceOverridesRegistry(t *testing.T) {
	force := true
	f := New(config.PersistConfig{IsPmemForce: &force}, rangeset.New(), false)
	if !f.IsPmem(unsafe.Pointer(uintptr(0x1000)), 64) {
		t.Fatalf("IsPmemForce=true should override an empty registry's false answer")
	}

	notForce := false
	f2 := New(config.PersistConfig{IsPmemForce: &notForce}, rangeset.New(), false)
	if f2.IsPmem(unsafe.Pointer(uintptr(0x1000)), 64) {
		t.Fatalf("IsPmemForce=false should override the registry")
	}
}

func TestNewForcesFlushDisabledUnderAutoFlush(t *testing.T) {
	f := New(config.PersistConfig{}, rangeset.New(), true)
	if f.cfg.Flush != config.FlushDisabled {
		t.Fatalf("auto-flush without an explicit NO_FLUSH should force FlushDisabled, got %v", f.cfg.Flush)
	}
	if !f.HasAutoFlush() {
		t.Fatalf("HasAutoFlush should report the autoFlush argument passed to New")
	}
	if !f.HasHWDrain() {
		t.Fatalf("HasHWDrain should always be true")
	}
}

func TestNewAutoFlushDoesNotOverrideExplicitForce(t *testing.T) {
	f := New(config.PersistConfig{Flush: config.FlushNormal, FlushForced: true}, rangeset.New(), true)
	// An explicit FlushForced request must survive auto-flush detection,
	// and the facade must remain usable.
	if f.cfg.Flush != config.FlushNormal {
		t.Fatalf("explicit NO_FLUSH=0 should keep FlushNormal under auto-flush, got %v", f.cfg.Flush)
	}
	var buf [8]byte
	f.Flush(unsafe.Pointer(&buf[0]), 8)
}

func TestMemmovePmemPathCopiesBytes(t *testing.T) {
	force := true
	f := New(config.PersistConfig{IsPmemForce: &force}, rangeset.New(), false)

	src := make([]byte, 256)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, 256)

	f.Memmove(unsafe.Pointer(&dst[0]), unsafe.Pointer(&src[0]), uintptr(len(src)), 0)
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d mismatch: want %#x got %#x", i, src[i], dst[i])
		}
	}
}

func TestMemsetPmemPathFillsBytes(t *testing.T) {
	force := true
	f := New(config.PersistConfig{IsPmemForce: &force}, rangeset.New(), false)

	dst := make([]byte, 128)
	f.Memset(unsafe.Pointer(&dst[0]), 0x42, uintptr(len(dst)), 0)
	for i, b := range dst {
		if b != 0x42 {
			t.Fatalf("byte %d not filled: got %#x", i, b)
		}
	}
}

// TestMemmoveNonPmemPathUsesMsyncFallback exercises the non-pmem branch
// against a real file-backed mapping (an anonymous heap address isn't a
// valid msync target), with an empty registry so IsPmem reports false.
func TestMemmoveNonPmemPathUsesMsyncFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "region")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer file.Close()
	const size = 4096
	if err := file.Truncate(size); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	defer unix.Munmap(data)

	f := New(config.PersistConfig{}, rangeset.New(), false)

	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i + 1)
	}
	f.Memmove(unsafe.Pointer(&data[0]), unsafe.Pointer(&src[0]), uintptr(len(src)), 0)
	for i := range src {
		if data[i] != src[i] {
			t.Fatalf("byte %d mismatch: want %#x got %#x", i, src[i], data[i])
		}
	}
}

func TestMsyncFallbackAlignsToPage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "region")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer file.Close()
	const size = 8192
	if err := file.Truncate(size); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	defer unix.Munmap(data)

	f := New(config.PersistConfig{}, rangeset.New(), false)
	// Address offset by 100 bytes into the second page; MsyncFallback
	// must round the start down to a page boundary without erroring.
	if err := f.MsyncFallback(unsafe.Pointer(&data[4196]), 64); err != nil {
		t.Fatalf("MsyncFallback: %v", err)
	}
}
