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

package logging

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(slog.LevelInfo)

	SetLevel(slog.LevelWarn)
	Info("Test(info) - hidden")
	Infof("Test(infof) - %s", "hidden")
	Warn("Test(warn) - shown", "key", "value")
	Errf("Test(errf) - %d", 42)

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "Test(warn) - shown")
	require.Contains(t, out, "key=value")
	require.Contains(t, out, "Test(errf) - 42")
}

func TestDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(slog.LevelInfo)

	Dbgf("Test(dbgf) - %s", "before")
	SetLevel(slog.LevelDebug)
	Dbg("Test(dbg) - after")

	require.NotContains(t, buf.String(), "before")
	require.Contains(t, buf.String(), "Test(dbg) - after")
}
