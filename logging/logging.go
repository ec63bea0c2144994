// Copyright 2024 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logging is a centralized logging system for the egress backend.
It offers efficient logging methods that save CPU power by only formatting
messages that need to be logged.

Messages follow the "Component(function) - message" convention, with any
variable data passed as key/value attributes.
*/
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var level = new(slog.LevelVar)

var logger atomic.Pointer[slog.Logger]

func init() {
	level.Set(slog.LevelInfo)
	SetOutput(os.Stderr)
}

// SetLevel changes the minimum level of messages that will be written.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetOutput redirects all log messages to w. It is mostly useful in tests.
func SetOutput(w io.Writer) {
	logger.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}

func Dbg(msg string, args ...any) {
	logger.Load().Debug(msg, args...)
}

func Dbgf(format string, args ...any) {
	l := logger.Load()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.Debug(fmt.Sprintf(format, args...))
}

func Info(msg string, args ...any) {
	logger.Load().Info(msg, args...)
}

func Infof(format string, args ...any) {
	l := logger.Load()
	if !l.Enabled(context.Background(), slog.LevelInfo) {
		return
	}
	l.Info(fmt.Sprintf(format, args...))
}

func Warn(msg string, args ...any) {
	logger.Load().Warn(msg, args...)
}

func Warnf(format string, args ...any) {
	l := logger.Load()
	if !l.Enabled(context.Background(), slog.LevelWarn) {
		return
	}
	l.Warn(fmt.Sprintf(format, args...))
}

func Err(msg string, args ...any) {
	logger.Load().Error(msg, args...)
}

func Errf(format string, args ...any) {
	l := logger.Load()
	if !l.Enabled(context.Background(), slog.LevelError) {
		return
	}
	l.Error(fmt.Sprintf(format, args...))
}
