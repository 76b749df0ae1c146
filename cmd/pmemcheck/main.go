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

// Command pmemcheck exposes the core's check(path, signature) interface
// (spec.md §6) from the command line: exit 0 means Consistent, 1 means
// Inconsistent, 2 means an operational error prevented the check from
// running at all.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/pmem/pmdk-sub008/pkg/pmem/header"
	"github.com/pmem/pmdk-sub008/pkg/pmem/pmemlog"
	"github.com/pmem/pmdk-sub008/pkg/pmem/pool"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&checkCmd{}, "")
	subcommands.Register(&createCmd{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

const (
	exitConsistent   subcommands.ExitStatus = 0
	exitInconsistent subcommands.ExitStatus = 1
	exitError        subcommands.ExitStatus = 2
)

type checkCmd struct {
	signature string
	logLevel  int
}

func (*checkCmd) Name() string     { return "check" }
func (*checkCmd) Synopsis() string { return "validate a pool's on-disk header" }
func (*checkCmd) Usage() string {
	return "check -signature=<sig> <path>\n  exit 0 Consistent, 1 Inconsistent, 2 error.\n"
}

func (c *checkCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.signature, "signature", "", "expected 8-byte pool signature")
	f.IntVar(&c.logLevel, "v", 0, "log level (0-15)")
}

func (c *checkCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	pmemlog.SetLevel(c.logLevel)
	if f.NArg() != 1 || c.signature == "" {
		fmt.Fprintln(os.Stderr, c.Usage())
		return exitError
	}
	path := f.Arg(0)

	result, err := pool.Check(path, c.signature, header.KnownFeatures{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pmemcheck: %v\n", err)
		return exitError
	}
	switch result {
	case pool.Consistent:
		fmt.Printf("%s: consistent\n", path)
		return exitConsistent
	default:
		fmt.Printf("%s: inconsistent\n", path)
		return exitInconsistent
	}
}

type createCmd struct {
	signature string
	size      int64
	major     int
}

func (*createCmd) Name() string     { return "create" }
func (*createCmd) Synopsis() string { return "create a new single-part pool" }
func (*createCmd) Usage() string {
	return "create -signature=<sig> -size=<bytes> <path>\n"
}

func (c *createCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.signature, "signature", "", "8-byte pool signature")
	f.Int64Var(&c.size, "size", 0, "pool size in bytes")
	f.IntVar(&c.major, "major", int(header.SupportedMajor), "pool format major version")
}

func (c *createCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || c.signature == "" || c.size <= 0 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return exitError
	}
	path := f.Arg(0)

	registry := newRegistry()
	h, err := pool.Create(path, uint64(c.size), c.signature, uint32(c.major), header.Features{}, defaultConfig(), registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pmemcheck: %v\n", err)
		return exitError
	}
	defer h.Close()

	fmt.Printf("%s: created, is_pmem=%v\n", path, h.IsPmem())
	return exitConsistent
}
