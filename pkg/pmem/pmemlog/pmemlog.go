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

// Package pmemlog implements the level-gated diagnostic logging facility
// of spec.md §4.8: levels 1-15, directed to stderr or a caller-configured
// file, never touching persistent state and never blocking the caller.
package pmemlog

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// level is the process-wide gate, 0-15. 0 disables all diagnostic output.
var level atomic.Int32

var (
	mu     sync.Mutex
	logger = logrus.New()
)

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel sets the process-wide log level gate (spec.md LOG_LEVEL, 0-15).
func SetLevel(l int) {
	if l < 0 {
		l = 0
	}
	if l > 15 {
		l = 15
	}
	level.Store(int32(l))
	logger.SetLevel(logrusLevel(l))
}

// SetFile redirects log output to path, or to stderr when path is "-" or
// empty (spec.md LOG_FILE).
func SetFile(path string) error {
	if path == "" || path == "-" {
		mu.Lock()
		logger.SetOutput(os.Stderr)
		mu.Unlock()
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	mu.Lock()
	logger.SetOutput(f)
	mu.Unlock()
	return nil
}

// logrusLevel maps the 0-15 diagnostic scale onto logrus's five levels,
// coarsest-first: higher numbers are noisier, matching spec.md's
// convention that higher LOG_LEVEL values mean more verbose output.
func logrusLevel(l int) logrus.Level {
	switch {
	case l <= 0:
		return logrus.PanicLevel // gate everything out in practice via level check below
	case l <= 2:
		return logrus.ErrorLevel
	case l <= 6:
		return logrus.WarnLevel
	case l <= 10:
		return logrus.InfoLevel
	default:
		return logrus.TraceLevel
	}
}

func enabled(l int) bool { return int(level.Load()) >= l }

// Logf emits a diagnostic message at the given level (1-15). Calls below
// the current gate are free other than the atomic load.
func Logf(l int, format string, args ...interface{}) {
	if !enabled(l) {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	switch {
	case l <= 2:
		logger.Errorf(format, args...)
	case l <= 6:
		logger.Warnf(format, args...)
	case l <= 10:
		logger.Infof(format, args...)
	default:
		logger.Tracef(format, args...)
	}
}
