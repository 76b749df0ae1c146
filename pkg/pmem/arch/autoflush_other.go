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

//go:build !linux

package arch

// HasAutoFlush always reports false outside Linux: the sysfs NVDIMM
// persistence_domain attestation this is grounded on
// (original_source/src/libpmem2/auto_flush_linux.c) is Linux-specific, and
// original_source/src/libpmem2/auto_flush_none.c takes the same
// conservative default on platforms without a native probe.
func HasAutoFlush() bool { return false }
