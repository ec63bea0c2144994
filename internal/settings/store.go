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
Package settings is a read-only view over the application's settings file and
resolves the egress configuration from it.

Every lookup takes a default. Resolution never fails: when the settings cannot
be read, the egress redirection is disabled.
*/
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Jigsaw-Code/egress/logging"
)

// Store is a read-only key/value settings source.
type Store interface {
	// Get returns the value stored under key, or def when the key is absent.
	// A non-nil error means the store itself could not be read.
	Get(key string, def any) (any, error)
}

// MapStore is an in-memory [Store].
type MapStore map[string]any

var _ Store = MapStore(nil)

func (m MapStore) Get(key string, def any) (any, error) {
	if v, ok := m[key]; ok && v != nil {
		return v, nil
	}
	return def, nil
}

// FileStore is a [Store] loaded once from a JSON or YAML file.
type FileStore struct {
	path   string
	values MapStore
}

var _ Store = (*FileStore)(nil)

// Open loads the settings file at path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON. A missing file yields an empty store.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, values: MapStore{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Dbg("Settings(Open) - no settings file, using defaults", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s.values)
	default:
		err = json.Unmarshal(data, &s.values)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	if s.values == nil {
		s.values = MapStore{}
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string, def any) (any, error) {
	return s.values.Get(key, def)
}

// DefaultPath returns the settings file location used by the desktop client
// named app: <user config dir>/<app>/config.json.
func DefaultPath(app string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(dir, app, "config.json"), nil
}

// Reset deletes the settings file so that every key reverts to its default.
// It reports whether a file was removed.
func Reset(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete settings file: %w", err)
	}
	return true, nil
}
