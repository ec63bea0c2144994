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

// Package egresstest provides a loopback SOCKS5 server for tests that need to
// observe traffic leaving through an [egress.Agent].
package egresstest

import (
	"context"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/armon/go-socks5"
	"github.com/stretchr/testify/require"

	"github.com/Jigsaw-Code/egress/internal/egress"
)

// SOCKSServer is a SOCKS5 server listening on 127.0.0.1 that records every
// destination it is asked to connect to.
type SOCKSServer struct {
	ln net.Listener

	mu      sync.Mutex
	targets []string
}

// NewSOCKSServer starts a server that is shut down when the test ends.
func NewSOCKSServer(t testing.TB) *SOCKSServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &SOCKSServer{ln: ln}
	srv, err := socks5.New(&socks5.Config{
		Dial:   s.dial,
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)

	go srv.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *SOCKSServer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	s.mu.Lock()
	s.targets = append(s.targets, addr)
	s.mu.Unlock()
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// Addr returns the "host:port" the server listens on.
func (s *SOCKSServer) Addr() string {
	return s.ln.Addr().String()
}

// Targets returns the destinations requested so far, in order.
func (s *SOCKSServer) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.targets...)
}

// Config returns an enabled egress config pointing at this server.
func (s *SOCKSServer) Config() egress.Config {
	addr := s.ln.Addr().(*net.TCPAddr)
	return egress.Config{Enabled: true, Host: addr.IP.String(), Port: uint16(addr.Port)}
}

// Agent builds an agent bound to this server.
func (s *SOCKSServer) Agent(t testing.TB) *egress.Agent {
	t.Helper()
	a, err := egress.Build(s.Config())
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

// HostPort splits a listener address into the form used by request options.
func HostPort(t testing.TB, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
