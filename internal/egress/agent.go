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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"golang.org/x/net/proxy"

	"github.com/Jigsaw-Code/egress/logging"
)

// Agent dials every connection through one SOCKS5 endpoint.
//
// An Agent is read-only once built and is safe for concurrent use. The only
// state it carries is the connection pool of its HTTP transport.
type Agent struct {
	cfg       Config
	dialer    proxy.ContextDialer
	transport *http.Transport
}

// Build creates the Agent for cfg. It returns (nil, nil) when cfg is disabled.
//
// No network I/O happens here: the SOCKS5 handshake is performed lazily for
// each connection the Agent dials. Host names are sent to the proxy unresolved.
func Build(cfg Config) (*Agent, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	forward := &streamDialerAdapter{sd: &transport.TCPStreamDialer{}}
	d, err := proxy.SOCKS5("tcp", cfg.Endpoint(), nil, forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("SOCKS5 dialer does not support DialContext")
	}
	a := &Agent{cfg: cfg, dialer: cd}
	a.transport = a.newTransport()
	return a, nil
}

func (a *Agent) Config() Config   { return a.cfg }
func (a *Agent) Endpoint() string { return a.cfg.Endpoint() }
func (a *Agent) URL() string      { return a.cfg.URL() }
func (a *Agent) String() string   { return a.cfg.URL() }

// DialContext connects to addr through the SOCKS5 endpoint. Cancellation and
// deadlines come from ctx only.
func (a *Agent) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	logging.Dbg("Egress(Agent.DialContext) - dialing", "proxy", a.cfg.Endpoint(), "addr", addr)
	return a.dialer.DialContext(ctx, network, addr)
}

// Dial implements proxy.Dialer.
func (a *Agent) Dial(network, addr string) (net.Conn, error) {
	return a.DialContext(context.Background(), network, addr)
}

// RoundTripper returns the shared HTTP transport whose connections are all
// dialed through the Agent. Callers must not modify it.
func (a *Agent) RoundTripper() http.RoundTripper {
	return a.transport
}

// newTransport copies the default transport's timeouts so that redirecting a
// request does not change how long it may block.
func (a *Agent) newTransport() *http.Transport {
	var t *http.Transport
	if dt, ok := http.DefaultTransport.(*http.Transport); ok {
		t = dt.Clone()
	} else {
		t = &http.Transport{}
	}
	t.Proxy = nil
	t.DialContext = a.DialContext
	return t
}

// streamDialerAdapter exposes a [transport.StreamDialer] as a proxy.ContextDialer,
// which is what the SOCKS5 client uses to reach the proxy server.
type streamDialerAdapter struct {
	sd transport.StreamDialer
}

var _ proxy.ContextDialer = (*streamDialerAdapter)(nil)

func (a *streamDialerAdapter) Dial(network, addr string) (net.Conn, error) {
	return a.DialContext(context.Background(), network, addr)
}

func (a *streamDialerAdapter) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
	conn, err := a.sd.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
