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
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/subcommands"
)

func runCmd(t *testing.T, cmd subcommands.Command, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.SetFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return cmd.Execute(context.Background(), fs)
}

func TestCreateThenCheckConsistent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.obj")

	status := runCmd(t, &createCmd{}, "-signature=CLITEST", "-size=1048576", path)
	if status != exitConsistent {
		t.Fatalf("create: expected exit %d, got %d", exitConsistent, status)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("pool file should exist after create: %v", err)
	}

	status = runCmd(t, &checkCmd{}, "-signature=CLITEST", path)
	if status != exitConsistent {
		t.Fatalf("check: expected exit %d, got %d", exitConsistent, status)
	}
}

func TestCheckInconsistentOnGarbageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.obj")
	if err := os.WriteFile(path, make([]byte, 8192), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	status := runCmd(t, &checkCmd{}, "-signature=CLITEST", path)
	if status != exitInconsistent {
		t.Fatalf("expected exit %d for a garbage header, got %d", exitInconsistent, status)
	}
}

func TestCheckErrorsOnMissingArgs(t *testing.T) {
	status := runCmd(t, &checkCmd{})
	if status != exitError {
		t.Fatalf("expected exit %d when path/signature are missing, got %d", exitError, status)
	}
}

func TestCreateErrorsOnMissingArgs(t *testing.T) {
	status := runCmd(t, &createCmd{}, "-signature=CLITEST")
	if status != exitError {
		t.Fatalf("expected exit %d when path/size are missing, got %d", exitError, status)
	}
}
