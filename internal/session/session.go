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
Package session assigns a randomly chosen HTTP proxy to one browser session.

This is separate from the process-wide SOCKS5 redirection. The two are not
coordinated: when both are active, a session's traffic goes through the HTTP
proxy and then through the SOCKS5 endpoint.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/Jigsaw-Code/egress/logging"
)

// Pool is an ordered list of proxy endpoints in "http://host:port" form.
type Pool []string

// DefaultPool is a compiled-in list of public HTTP proxies. The entries are
// examples: none of them is guaranteed to be reachable.
var DefaultPool = Pool{
	"http://20.206.106.192:80",
	"http://20.210.113.32:80",
	"http://51.158.154.173:3128",
	"http://51.159.115.233:3128",
	"http://198.199.86.11:8080",
	"http://165.22.236.21:80",
	"http://143.198.228.243:80",
}

// SelectProxy returns an endpoint of pool chosen uniformly at random, or ""
// if the pool is empty.
func SelectProxy(pool Pool) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.Intn(len(pool))]
}

// Rotator selects endpoints from a pool with its own random source.
type Rotator struct {
	pool Pool

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRotator(pool Pool, seed int64) *Rotator {
	return &Rotator{pool: pool, rng: rand.New(rand.NewSource(seed))}
}

func (r *Rotator) Select() string {
	if len(r.pool) == 0 {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool[r.rng.Intn(len(r.pool))]
}

// ProxyConfig is a session proxy setting.
type ProxyConfig struct {
	// ProxyRules is a ';'-separated list of "[scheme=]proxy" entries, where
	// proxy is "[http://|https://|socks5://]host:port" or "direct://".
	ProxyRules string
}

// Session is a browser session whose proxy can be configured.
type Session interface {
	SetProxy(ctx context.Context, cfg ProxyConfig) error
}

// ApplyToSession sets endpoint as the proxy rule of s. Errors are logged and
// returned; the session keeps working without the proxy.
func ApplyToSession(ctx context.Context, s Session, endpoint string) error {
	if s == nil {
		err := errors.New("no session")
		logging.Err("Session(ApplyToSession) - proxy not set", "err", err)
		return err
	}
	if err := s.SetProxy(ctx, ProxyConfig{ProxyRules: endpoint}); err != nil {
		logging.Err("Session(ApplyToSession) - proxy not set", "endpoint", endpoint, "err", err)
		return fmt.Errorf("failed to set session proxy: %w", err)
	}
	logging.Info("Session(ApplyToSession) - session proxy set", "endpoint", endpoint)
	return nil
}
