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
	"strings"
	"testing"

	"github.com/pmem/pmdk-sub008/pkg/pmem/header"
)

func TestParseDescriptorSingleReplica(t *testing.T) {
	const text = `PMEMPOOLSET
8M /mnt/pmem/part0
8M /mnt/pmem/part1
`
	d, err := ParseDescriptor(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if len(d.Replicas) != 1 {
		t.Fatalf("expected 1 replica, got %d", len(d.Replicas))
	}
	if len(d.Replicas[0].Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(d.Replicas[0].Parts))
	}
	if d.Replicas[0].Parts[0].Size != 8<<20 {
		t.Fatalf("expected 8M parsed as %d, got %d", 8<<20, d.Replicas[0].Parts[0].Size)
	}
	// Neither OPTION is set, so both parts carry their own header.
	want := uint64(16<<20) - 2*header.Size
	if d.UsableSize() != want {
		t.Fatalf("expected UsableSize %d, got %d", want, d.UsableSize())
	}
}

func TestParseDescriptorMultipleReplicas(t *testing.T) {
	const text = `PMEMPOOLSET
OPTION SINGLEHDR
8M /mnt/pmem0/part0
REPLICA
8M /mnt/pmem1/part0
4M /mnt/pmem1/part1
`
	d, err := ParseDescriptor(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if !d.Options.SingleHDR {
		t.Fatalf("expected SingleHDR option set")
	}
	if len(d.Replicas) != 2 {
		t.Fatalf("expected 2 replicas, got %d", len(d.Replicas))
	}
	// UsableSize is the smaller replica (8M vs 12M) less SINGLEHDR's
	// single header.Size reservation.
	want := uint64(8<<20) - header.Size
	if d.UsableSize() != want {
		t.Fatalf("expected UsableSize %d (the smaller replica less one header), got %d", want, d.UsableSize())
	}
}

func TestParseDescriptorCommentsAndBlankLines(t *testing.T) {
	const text = `
# a comment
PMEMPOOLSET
# another comment

8M /mnt/pmem/part0
`
	d, err := ParseDescriptor(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if len(d.Replicas) != 1 || len(d.Replicas[0].Parts) != 1 {
		t.Fatalf("unexpected descriptor shape: %+v", d)
	}
}

func TestParseDescriptorRejectsMissingHeader(t *testing.T) {
	const text = `8M /mnt/pmem/part0
`
	if _, err := ParseDescriptor(strings.NewReader(text)); err == nil {
		t.Fatalf("expected an error when the first directive is not PMEMPOOLSET")
	}
}

func TestParseDescriptorRejectsEmptyInput(t *testing.T) {
	if _, err := ParseDescriptor(strings.NewReader("")); err == nil {
		t.Fatalf("expected an error for an entirely empty descriptor")
	}
}

func TestParseDescriptorRejectsUndersizedPart(t *testing.T) {
	const text = `PMEMPOOLSET
1M /mnt/pmem/part0
`
	if _, err := ParseDescriptor(strings.NewReader(text)); err == nil {
		t.Fatalf("expected an error for a part below MinPartSize")
	}
}

func TestParseDescriptorRejectsUnknownOption(t *testing.T) {
	const text = `PMEMPOOLSET
OPTION BOGUS
8M /mnt/pmem/part0
`
	if _, err := ParseDescriptor(strings.NewReader(text)); err == nil {
		t.Fatalf("expected an error for an unrecognized OPTION")
	}
}

func TestParseDescriptorRejectsEmptyReplica(t *testing.T) {
	const text = `PMEMPOOLSET
8M /mnt/pmem/part0
REPLICA
`
	if _, err := ParseDescriptor(strings.NewReader(text)); err == nil {
		t.Fatalf("expected an error when a REPLICA directive introduces zero parts")
	}
}

func TestParseSizeSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"1024", 1024},
		{"4K", 4 << 10},
		{"4k", 4 << 10},
		{"2M", 2 << 20},
		{"1G", 1 << 30},
		{"1T", 1 << 40},
	}
	for _, c := range cases {
		got, err := parseSize(c.in)
		if err != nil {
			t.Fatalf("parseSize(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("parseSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	if _, err := parseSize("not-a-size"); err == nil {
		t.Fatalf("expected an error for a non-numeric size")
	}
}
