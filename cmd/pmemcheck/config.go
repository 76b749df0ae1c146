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

package main

import (
	"github.com/pmem/pmdk-sub008/pkg/pmem/config"
	"github.com/pmem/pmdk-sub008/pkg/pmem/rangeset"
)

// defaultConfig reads the PMEM_* environment overrides spec.md §4.1
// documents, the same entry point the allocator and other external
// collaborators use.
func defaultConfig() config.PersistConfig {
	return config.FromOSEnviron("PMEM_")
}

// newRegistry returns a fresh range registry for one CLI invocation. The
// registry is process-wide by contract (spec.md §4.4), but a one-shot CLI
// command never outlives a single pool's lifetime, so a fresh instance per
// invocation is equivalent to a shared singleton here.
func newRegistry() *rangeset.Registry {
	return rangeset.New()
}
