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

package config

import (
	"github.com/BurntSushi/toml"
)

// AllocatorConfig is the key=value configuration consumed by the external
// allocator controller (spec.md §2's "misc" row). The controller itself is
// out of scope (spec.md §1's "deliberately out of scope" list), but the
// core owns parsing its config file since the file lives alongside the
// pool and the core already owns config parsing for its own env surface.
type AllocatorConfig struct {
	ArenaCount    int    `toml:"arena_count"`
	TCacheEnabled bool   `toml:"tcache_enabled"`
	DirtyDecayMS  int64  `toml:"dirty_decay_ms"`
	MuzzyDecayMS  int64  `toml:"muzzy_decay_ms"`
	Backend       string `toml:"backend"`
}

// ParseAllocatorConfig parses a TOML-compatible key=value document. The
// grammar the controller actually uses (bare `key = value` lines, `#`
// comments) is a valid subset of TOML, so BurntSushi/toml serves this
// without a bespoke parser.
func ParseAllocatorConfig(data []byte) (AllocatorConfig, error) {
	var cfg AllocatorConfig
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return AllocatorConfig{}, err
	}
	return cfg, nil
}
