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

// Package wsock holds the process-wide WebSocket constructor.
package wsock

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"

	"github.com/Jigsaw-Code/egress/internal/egress"
	"github.com/Jigsaw-Code/egress/logging"
)

const defaultOrigin = "http://localhost/"

// Options are the connection options passed to a [Dialer].
type Options struct {
	Origin    string // defaults to http://localhost/
	Header    http.Header
	TLSConfig *tls.Config

	// Agent, when set, dials the underlying TCP connection.
	Agent *egress.Agent
}

// Dialer opens WebSocket connections.
type Dialer interface {
	Dial(ctx context.Context, rawurl string, protocols []string, opts *Options) (*websocket.Conn, error)
}

// DialerFunc adapts a function to the [Dialer] interface.
type DialerFunc func(ctx context.Context, rawurl string, protocols []string, opts *Options) (*websocket.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, rawurl string, protocols []string, opts *Options) (*websocket.Conn, error) {
	return f(ctx, rawurl, protocols, opts)
}

// Module is a replaceable WebSocket constructor.
type Module struct {
	impl atomic.Pointer[Dialer]
}

// NewModule creates a module whose constructor is base.
func NewModule(base Dialer) *Module {
	m := &Module{}
	m.impl.Store(&base)
	return m
}

// New returns a module that connects directly unless an agent is given.
func New() *Module {
	return NewModule(DialerFunc(dialWebSocket))
}

// Constructor returns the current constructor.
func (m *Module) Constructor() Dialer {
	return *m.impl.Load()
}

// Replace installs wrap(current) as the constructor.
func (m *Module) Replace(wrap func(Dialer) (Dialer, error)) error {
	next, err := wrap(m.Constructor())
	if err != nil {
		return err
	}
	m.impl.Store(&next)
	return nil
}

func (m *Module) Dial(ctx context.Context, rawurl string, protocols []string, opts *Options) (*websocket.Conn, error) {
	return m.Constructor().Dial(ctx, rawurl, protocols, opts)
}

// Intercept routes every connection made through the module via agent.
func (m *Module) Intercept(agent *egress.Agent) error {
	return m.Replace(func(next Dialer) (Dialer, error) {
		return WithAgent(next, agent)
	})
}

// WithAgent returns a Dialer that sets agent on the options of every call and
// forwards the URL, the protocol list and all other options to next unchanged.
// The caller's Options value is not modified.
func WithAgent(next Dialer, agent *egress.Agent) (Dialer, error) {
	if next == nil {
		return nil, errors.New("no WebSocket constructor to wrap")
	}
	if agent == nil {
		return nil, errors.New("agent is required")
	}
	return DialerFunc(func(ctx context.Context, rawurl string, protocols []string, opts *Options) (*websocket.Conn, error) {
		var o Options
		if opts != nil {
			o = *opts
		}
		o.Agent = agent
		return next.Dial(ctx, rawurl, protocols, &o)
	}), nil
}

func dialWebSocket(ctx context.Context, rawurl string, protocols []string, opts *Options) (*websocket.Conn, error) {
	if opts == nil {
		opts = &Options{}
	}
	origin := opts.Origin
	if origin == "" {
		origin = defaultOrigin
	}
	config, err := websocket.NewConfig(rawurl, origin)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket config: %w", err)
	}
	config.Protocol = protocols
	for k, vs := range opts.Header {
		for _, v := range vs {
			config.Header.Add(k, v)
		}
	}

	var secure bool
	var port string
	switch config.Location.Scheme {
	case "ws":
		port = "80"
	case "wss":
		secure = true
		port = "443"
	default:
		return nil, fmt.Errorf("unsupported WebSocket scheme %q", config.Location.Scheme)
	}
	if p := config.Location.Port(); p != "" {
		port = p
	}
	addr := net.JoinHostPort(config.Location.Hostname(), port)

	logging.Dbg("WebSocket(dial) - dialing", "addr", addr, "proxied", opts.Agent != nil)
	var conn net.Conn
	if opts.Agent != nil {
		conn, err = opts.Agent.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if secure {
		tlsConfig := &tls.Config{}
		if opts.TLSConfig != nil {
			tlsConfig = opts.TLSConfig.Clone()
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = config.Location.Hostname()
		}
		tc := tls.Client(conn, tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		conn = tc
	}

	ws, err := websocket.NewClient(config, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("WebSocket handshake failed: %w", err)
	}
	return ws, nil
}
