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

package settings

import (
	"encoding/json"
	"math"

	"github.com/Jigsaw-Code/egress/internal/egress"
	"github.com/Jigsaw-Code/egress/logging"
)

// Setting keys read by this package.
const (
	KeyBypassEnabled = "ip_bypass_enabled"
	KeySOCKS5Host    = "socks5_host"
	KeySOCKS5Port    = "socks5_port"
	KeyAutoProxy     = "auto_proxy"
)

// ResolveEgress reads the SOCKS5 redirection settings from store.
//
// If store is nil or cannot be read, the disabled default is returned. A value
// of the wrong type falls back to the default for that key.
func ResolveEgress(store Store) egress.Config {
	def := egress.DisabledConfig()
	if store == nil {
		logging.Warn("Settings(ResolveEgress) - no settings store, egress redirection disabled")
		return def
	}

	enabled, err := getBool(store, KeyBypassEnabled, false)
	if err != nil {
		logging.Warn("Settings(ResolveEgress) - settings unavailable, egress redirection disabled", "err", err)
		return def
	}
	host, err := getString(store, KeySOCKS5Host, egress.DefaultHost)
	if err != nil {
		logging.Warn("Settings(ResolveEgress) - settings unavailable, egress redirection disabled", "err", err)
		return def
	}
	port, err := getPort(store, KeySOCKS5Port, egress.DefaultPort)
	if err != nil {
		logging.Warn("Settings(ResolveEgress) - settings unavailable, egress redirection disabled", "err", err)
		return def
	}
	return egress.Config{Enabled: enabled, Host: host, Port: port}
}

// ResolveAutoProxy reads the per-session proxy rotation flag. It is false
// whenever the store cannot be read.
func ResolveAutoProxy(store Store) bool {
	if store == nil {
		return false
	}
	v, err := getBool(store, KeyAutoProxy, false)
	if err != nil {
		logging.Warn("Settings(ResolveAutoProxy) - settings unavailable, auto proxy disabled", "err", err)
		return false
	}
	return v
}

func getBool(store Store, key string, def bool) (bool, error) {
	v, err := store.Get(key, def)
	if err != nil {
		return def, err
	}
	b, ok := v.(bool)
	if !ok {
		logging.Warn("Settings(getBool) - ignoring value of wrong type", "key", key, "value", v)
		return def, nil
	}
	return b, nil
}

func getString(store Store, key string, def string) (string, error) {
	v, err := store.Get(key, def)
	if err != nil {
		return def, err
	}
	s, ok := v.(string)
	if !ok || s == "" {
		logging.Warn("Settings(getString) - ignoring invalid value", "key", key, "value", v)
		return def, nil
	}
	return s, nil
}

func getPort(store Store, key string, def uint16) (uint16, error) {
	v, err := store.Get(key, def)
	if err != nil {
		return def, err
	}
	n, ok := toInt(v)
	if !ok || n < 1 || n > math.MaxUint16 {
		logging.Warn("Settings(getPort) - ignoring invalid port", "key", key, "value", v)
		return def, nil
	}
	return uint16(n), nil
}

// toInt accepts the integer representations produced by the JSON and YAML
// decoders, rejecting fractional numbers.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint16:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
