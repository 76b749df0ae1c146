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

// Package config turns the environment-variable override surface of
// spec.md §4.1/§6 into an explicit, immutable PersistConfig struct (the
// "Env-var configuration → explicit configuration struct" design note in
// spec.md §9), plus a TOML-backed parser for the allocator controller's
// key=value configuration file (spec.md §2 misc row).
package config

import (
	"os"
	"strconv"
	"strings"
)

// FlushMode selects how PersistConfig.Flush affects flush().
type FlushMode int

const (
	// FlushNormal issues the selected flush instruction.
	FlushNormal FlushMode = iota
	// FlushDisabled makes flush() a no-op (NO_FLUSH=1, or eADR detected).
	FlushDisabled
)

// PersistConfig is the sole input to arch dispatch selection (spec.md §9:
// "the struct is the sole input to dispatch selection. Test suites can
// construct the struct directly without mutating the process environment").
type PersistConfig struct {
	// NoCLWB forces clflushopt even when clwb is available.
	NoCLWB bool
	// NoCLFLUSHOPT forces clflush even when clflushopt is available.
	NoCLFLUSHOPT bool
	// NoMovnt disables non-temporal streaming stores entirely.
	NoMovnt bool
	// MovntThreshold overrides the default 256-byte non-temporal
	// threshold. Zero means "use the default".
	MovntThreshold int
	// Flush forces a specific flush mode, or FlushNormal to defer to
	// hardware-detected behavior (including eADR auto-detection).
	Flush FlushMode
	// FlushForced records whether NO_FLUSH was explicitly set (as
	// opposed to defaulted), since "0" and unset both mean "normal" but
	// an explicit "0" should still override an eADR auto-detection.
	FlushForced bool
	// NoGenericMemcpy sends every copy/fill to the non-temporal path on
	// amd64 unless a Temporal flag or NoMovnt says otherwise, regardless of
	// length; those two cases still use the architecture-independent
	// fallback. Used only by tests that want a specific code path to run.
	NoGenericMemcpy bool
	// WCWorkaround enables the write-combining workaround some older
	// CPUs need around non-temporal stores.
	WCWorkaround bool
	// IsPmemForce overrides the range registry's is_pmem reporting:
	// nil means "defer to the registry", non-nil forces the answer.
	IsPmemForce *bool
}

const defaultMovntThreshold = 256

// DefaultMovntThreshold returns the threshold to use when
// PersistConfig.MovntThreshold is zero.
func DefaultMovntThreshold() int { return defaultMovntThreshold }

// Threshold returns the effective non-temporal threshold for c.
func (c PersistConfig) Threshold() int {
	if c.MovntThreshold > 0 {
		return c.MovntThreshold
	}
	return defaultMovntThreshold
}

// FromEnviron builds a PersistConfig from the passed environment,
// honoring the prefix conventions of spec.md §6 (PMEM_, PMEMOBJ_, VMEM_,
// ...). An empty prefix reads the bare names (NO_CLWB, not PMEM_NO_CLWB).
func FromEnviron(prefix string, lookup func(string) (string, bool)) PersistConfig {
	var c PersistConfig
	get := func(name string) (string, bool) {
		return lookup(prefix + name)
	}

	if v, ok := get("NO_CLWB"); ok {
		c.NoCLWB = truthy(v)
	}
	if v, ok := get("NO_CLFLUSHOPT"); ok {
		c.NoCLFLUSHOPT = truthy(v)
	}
	if v, ok := get("NO_MOVNT"); ok {
		c.NoMovnt = truthy(v)
	}
	if v, ok := get("MOVNT_THRESHOLD"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			c.MovntThreshold = n
		}
	}
	if v, ok := get("NO_FLUSH"); ok {
		c.FlushForced = true
		if truthy(v) {
			c.Flush = FlushDisabled
		} else {
			c.Flush = FlushNormal
		}
	}
	if v, ok := get("NO_GENERIC_MEMCPY"); ok {
		c.NoGenericMemcpy = truthy(v)
	}
	if v, ok := get("WC_WORKAROUND"); ok {
		c.WCWorkaround = truthy(v)
	}
	if v, ok := get("IS_PMEM_FORCE"); ok {
		b := truthy(v)
		c.IsPmemForce = &b
	}
	return c
}

// FromOSEnviron is FromEnviron bound to os.LookupEnv, the normal entry
// point for production code; tests prefer FromEnviron with a synthetic map
// so they never mutate the process environment.
func FromOSEnviron(prefix string) PersistConfig {
	return FromEnviron(prefix, os.LookupEnv)
}

func truthy(v string) bool {
	v = strings.TrimSpace(v)
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}
