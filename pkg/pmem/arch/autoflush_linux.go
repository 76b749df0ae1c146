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

//go:build linux

package arch

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	busDevicePath     = "/sys/bus/nd/devices"
	persistenceDomain = "persistence_domain"
)

// HasAutoFlush reports whether every NVDIMM region on this system declares
// "cpu_cache" as its persistence_domain, meaning the platform drains CPU
// caches to pmem on power loss (eADR) and spec.md §4.1's Drain can become a
// pure compiler barrier. Ported from
// original_source/src/libpmem2/auto_flush_linux.c's pmem2_auto_flush: walk
// /sys/bus/nd/devices for region* symlinks, then each region's
// persistence_domain file.
//
// Absence of the sysfs tree (no NVDIMM subsystem loaded) is not an error:
// it means there is nothing to attest eADR, so the answer is false.
func HasAutoFlush() bool {
	info, err := os.Stat(busDevicePath)
	if err != nil || !info.IsDir() {
		return false
	}

	entries, err := os.ReadDir(busDevicePath)
	if err != nil {
		return false
	}

	sawRegion := false
	for _, ent := range entries {
		if ent.Type()&os.ModeSymlink == 0 || !strings.Contains(ent.Name(), "region") {
			continue
		}
		sawRegion = true
		regionPath, err := filepath.EvalSymlinks(filepath.Join(busDevicePath, ent.Name()))
		if err != nil {
			return false
		}
		if !regionHasCPUCacheDomain(regionPath) {
			return false
		}
	}
	return sawRegion
}

func regionHasCPUCacheDomain(regionPath string) bool {
	domainPath := filepath.Join(regionPath, persistenceDomain)
	data, err := os.ReadFile(domainPath)
	if err != nil {
		return false
	}
	return strings.TrimSuffix(string(data), "\n") == "cpu_cache"
}
