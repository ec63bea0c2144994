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

package session

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// HTTPSession is a [Session] backed by an HTTP client. Its requests go through
// the proxy selected by the current proxy rules.
type HTTPSession struct {
	client    *http.Client
	transport *http.Transport

	mu    sync.RWMutex
	rules *proxyRules
}

var _ Session = (*HTTPSession)(nil)

// NewHTTPSession creates a session without a proxy. If dial is non-nil, every
// connection of the session, including the one to its proxy, is made with it.
func NewHTTPSession(dial func(ctx context.Context, network, addr string) (net.Conn, error)) *HTTPSession {
	var t *http.Transport
	if dt, ok := http.DefaultTransport.(*http.Transport); ok {
		t = dt.Clone()
	} else {
		t = &http.Transport{}
	}
	if dial != nil {
		t.DialContext = dial
	}
	s := &HTTPSession{transport: t, rules: &proxyRules{}}
	t.Proxy = s.proxy
	s.client = &http.Client{Transport: t}
	return s
}

// SetProxy replaces the session's proxy rules. Idle connections made under the
// previous rules are closed.
func (s *HTTPSession) SetProxy(_ context.Context, cfg ProxyConfig) error {
	rules, err := parseProxyRules(cfg.ProxyRules)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	s.transport.CloseIdleConnections()
	return nil
}

// ProxyRules returns the rules currently in effect.
func (s *HTTPSession) ProxyRules() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules.raw
}

func (s *HTTPSession) Client() *http.Client { return s.client }

func (s *HTTPSession) proxy(req *http.Request) (*url.URL, error) {
	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()
	return rules.forScheme(req.URL.Scheme), nil
}

type proxyRules struct {
	raw      string
	all      *url.URL
	byScheme map[string]*url.URL
}

// forScheme returns nil for a direct connection.
func (r *proxyRules) forScheme(scheme string) *url.URL {
	if u, ok := r.byScheme[scheme]; ok {
		return u
	}
	return r.all
}

func parseProxyRules(raw string) (*proxyRules, error) {
	rules := &proxyRules{raw: raw, byScheme: make(map[string]*url.URL)}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		scheme, target, scoped := strings.Cut(entry, "=")
		if !scoped {
			target = entry
		}
		// Only the first proxy of a fallback list is used.
		target, _, _ = strings.Cut(target, ",")
		u, err := parseProxyURI(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("invalid proxy rule %q: %w", entry, err)
		}
		if scoped {
			rules.byScheme[strings.ToLower(strings.TrimSpace(scheme))] = u
		} else {
			rules.all = u
		}
	}
	return rules, nil
}

func parseProxyURI(s string) (*url.URL, error) {
	if s == "direct://" {
		return nil, nil
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("proxy %q must be host:port", s)
	}
	return u, nil
}
