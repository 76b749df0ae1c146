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
	"errors"
	"path/filepath"
	"testing"

	"github.com/pmem/pmdk-sub008/pkg/pmem/config"
	"github.com/pmem/pmdk-sub008/pkg/pmem/header"
	"github.com/pmem/pmdk-sub008/pkg/pmem/pmemerr"
	"github.com/pmem/pmdk-sub008/pkg/pmem/rangeset"
)

func TestExtendRejectsOutOfRangeReplica(t *testing.T) {
	dir := t.TempDir()
	d := twoPartDescriptor(dir)
	set, err := Create(d, testPoolsetSignature, header.SupportedMajor, header.Features{}, config.PersistConfig{}, rangeset.New())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer set.Close()

	if err := set.Extend(5, filepath.Join(dir, "part-extra"), MinPartSize); err == nil {
		t.Fatalf("expected an error for an out-of-range replica index")
	}
}

func TestExtendRejectsUndersizedPart(t *testing.T) {
	dir := t.TempDir()
	d := twoPartDescriptor(dir)
	set, err := Create(d, testPoolsetSignature, header.SupportedMajor, header.Features{}, config.PersistConfig{}, rangeset.New())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer set.Close()

	err = set.Extend(0, filepath.Join(dir, "part-extra"), MinPartSize-1)
	var pe *pmemerr.Error
	if !errors.As(err, &pe) || pe.Kind != pmemerr.KindInvalidArgument {
		t.Fatalf("expected KindInvalidArgument for an undersized extend part, got %v", err)
	}
}
