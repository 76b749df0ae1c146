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

package pmemerr

import (
	"errors"
	"strings"
	"testing"
)

func TestNewRecordsLastError(t *testing.T) {
	err := New("create", KindIO, "/mnt/pmem/part0", errors.New("no space left on device"))
	if got := LastError(); got != err.Error() {
		t.Fatalf("LastError() = %q, want %q", got, err.Error())
	}
}

func TestLastErrorReflectsMostRecentCall(t *testing.T) {
	New("open", KindInvalidArgument, "a", nil)
	second := New("open", KindReplicaMismatch, "b", nil)
	if got := LastError(); got != second.Error() {
		t.Fatalf("LastError() = %q, want the most recent call's message %q", got, second.Error())
	}
}

func TestErrorFormatsPathAndCause(t *testing.T) {
	cause := errors.New("permission denied")
	err := New("open", KindIO, "/mnt/pmem/part0", cause)
	msg := err.Error()
	if !strings.Contains(msg, "/mnt/pmem/part0") || !strings.Contains(msg, "permission denied") {
		t.Fatalf("Error() = %q, want it to contain both path and cause", msg)
	}
}

func TestErrorFormatsWithoutPathOrCause(t *testing.T) {
	err := New("check", KindInvalidArgument, "", nil)
	msg := err.Error()
	if strings.Contains(msg, "<nil>") {
		t.Fatalf("Error() = %q, should not format a nil cause", msg)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("eio")
	err := New("open", KindIO, "part0", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true via Unwrap")
	}
}

func TestLastErrorTruncatesOverlongMessages(t *testing.T) {
	hugePath := strings.Repeat("x", maxLastErrorLen*2)
	New("create", KindIO, hugePath, nil)
	if got := len(LastError()); got > maxLastErrorLen {
		t.Fatalf("LastError() length = %d, want <= %d", got, maxLastErrorLen)
	}
}
