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

package egress

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

const (
	DefaultHost = "127.0.0.1"
	// DefaultPort is Tor's SOCKS port. Plain SOCKS5 servers usually listen on 1080.
	DefaultPort uint16 = 9050
)

// ErrInvalidConfig is returned when an enabled [Config] cannot describe a SOCKS5 endpoint.
var ErrInvalidConfig = errors.New("invalid egress config")

// Config is the egress redirection setting resolved once at process start.
// It is never reloaded; changing it requires a restart.
type Config struct {
	Enabled bool
	Host    string
	Port    uint16
}

// DisabledConfig returns the fail-open default used whenever settings are unavailable.
func DisabledConfig() Config {
	return Config{Enabled: false, Host: DefaultHost, Port: DefaultPort}
}

// Validate checks the endpoint invariant. A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidConfig)
	}
	if c.Port == 0 {
		return fmt.Errorf("%w: port must be in [1, 65535]", ErrInvalidConfig)
	}
	return nil
}

// Endpoint returns the proxy address in "host:port" form.
func (c Config) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// URL returns the proxy address as a socks5:// URL.
func (c Config) URL() string {
	return "socks5://" + c.Endpoint()
}
