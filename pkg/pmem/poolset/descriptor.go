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

// Package poolset parses and builds multi-part pool-set descriptors per
// spec.md §4.7/§6, and maps each replica's parts directly through
// pkg/pmem/mapping and pkg/pmem/header; it does not go through
// pkg/pmem/pool.
package poolset

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pmem/pmdk-sub008/pkg/pmem/header"
)

// MinPartSize is the architectural minimum part size, 2 MiB, per spec.md
// §4.7.
const MinPartSize = 2 << 20

// Options bundles the header-sharing directives recognized by the core.
type Options struct {
	SingleHDR bool
	NoHDRs    bool
}

// Part is one `<size> <path>` line.
type Part struct {
	Size uint64
	Path string
}

// Replica is an ordered list of parts. Every part carries its own header
// unless SingleHDR (only the first part does) or NoHDRs (none do) is set.
type Replica struct {
	Parts []Part
}

// Descriptor is the parsed form of a pool-set file.
type Descriptor struct {
	Options  Options
	Replicas []Replica
}

// ParseDescriptor parses a pool-set file per spec.md §4.7's grammar: one
// directive per line, '#' begins a comment, whitespace collapses. The
// first non-blank non-comment line must be PMEMPOOLSET.
func ParseDescriptor(r io.Reader) (*Descriptor, error) {
	scanner := bufio.NewScanner(r)
	d := &Descriptor{}
	sawHeader := false
	cur := Replica{}
	haveCur := false

	flushReplica := func() {
		if haveCur {
			d.Replicas = append(d.Replicas, cur)
		}
		cur = Replica{}
		haveCur = false
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		if !sawHeader {
			if fields[0] != "PMEMPOOLSET" {
				return nil, fmt.Errorf("poolset: first directive must be PMEMPOOLSET, got %q", fields[0])
			}
			sawHeader = true
			continue
		}

		switch fields[0] {
		case "OPTION":
			if len(fields) != 2 {
				return nil, fmt.Errorf("poolset: malformed OPTION line %q", line)
			}
			switch fields[1] {
			case "SINGLEHDR":
				d.Options.SingleHDR = true
			case "NOHDRS":
				d.Options.NoHDRs = true
			default:
				return nil, fmt.Errorf("poolset: unknown option %q", fields[1])
			}
		case "REPLICA":
			flushReplica()
			// The new replica exists from this line on, so one left
			// without parts is reported by the check below.
			haveCur = true
		default:
			if len(fields) != 2 {
				return nil, fmt.Errorf("poolset: malformed part line %q", line)
			}
			size, err := parseSize(fields[0])
			if err != nil {
				return nil, fmt.Errorf("poolset: %w", err)
			}
			if size < MinPartSize {
				return nil, fmt.Errorf("poolset: part %q size %d below minimum %d", fields[1], size, MinPartSize)
			}
			cur.Parts = append(cur.Parts, Part{Size: size, Path: fields[1]})
			haveCur = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flushReplica()

	if !sawHeader {
		return nil, fmt.Errorf("poolset: empty descriptor, expected PMEMPOOLSET")
	}
	if len(d.Replicas) == 0 {
		return nil, fmt.Errorf("poolset: descriptor declares no parts")
	}
	for i, rep := range d.Replicas {
		if len(rep.Parts) == 0 {
			return nil, fmt.Errorf("poolset: replica %d has no parts", i)
		}
	}
	return d, nil
}

// parseSize parses a size with an optional K/M/G/T (powers-of-two) suffix.
func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'K', 'k':
		mult = 1 << 10
	case 'M', 'm':
		mult = 1 << 20
	case 'G', 'g':
		mult = 1 << 30
	case 'T', 't':
		mult = 1 << 40
	}
	numPart := s
	if mult != 1 {
		numPart = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}

// ReplicaSize sums a replica's declared part sizes.
func (r Replica) ReplicaSize() uint64 {
	var total uint64
	for _, p := range r.Parts {
		total += p.Size
	}
	return total
}

// headerOverhead returns the bytes rep's parts reserve for pool headers
// under opts: one header.Size per part unless NoHDRs is set, collapsed to a
// single header.Size for the whole replica when SingleHDR is set (only the
// first part then carries one), matching the hasHeader rule createReplica
// and openReplica use when mapping each part.
func (rep Replica) headerOverhead(opts Options) uint64 {
	if opts.NoHDRs || len(rep.Parts) == 0 {
		return 0
	}
	if opts.SingleHDR {
		return header.Size
	}
	return uint64(len(rep.Parts)) * header.Size
}

// UsableSize is the pool's usable size: the minimum, across replicas, of
// each replica's declared size less the header overhead its parts reserve,
// per spec.md §4.7 ("the pool size equals the minimum replica size"; header
// regions are reserved space, not pool payload).
func (d *Descriptor) UsableSize() uint64 {
	min := uint64(0)
	for i, rep := range d.Replicas {
		sz := rep.ReplicaSize() - rep.headerOverhead(d.Options)
		if i == 0 || sz < min {
			min = sz
		}
	}
	return min
}
