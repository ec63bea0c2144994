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

package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jigsaw-Code/egress/internal/egresstest"
	"github.com/Jigsaw-Code/egress/internal/fetch"
	"github.com/Jigsaw-Code/egress/internal/httpreq"
	"github.com/Jigsaw-Code/egress/internal/netpatch"
	"github.com/Jigsaw-Code/egress/internal/session"
	"github.com/Jigsaw-Code/egress/internal/settings"
	"github.com/Jigsaw-Code/egress/internal/wsock"
	"github.com/Jigsaw-Code/egress/logging"
)

func testSurfaces() netpatch.Surfaces {
	return netpatch.Surfaces{
		HTTP:      httpreq.NewHTTP(),
		HTTPS:     httpreq.NewHTTPS(nil),
		WebSocket: wsock.New(),
		Fetch:     fetch.NewDispatcher(),
	}
}

func storeFor(t *testing.T, socks *egresstest.SOCKSServer) settings.MapStore {
	t.Helper()
	addr := socks.Config()
	return settings.MapStore{
		settings.KeyBypassEnabled: true,
		settings.KeySOCKS5Host:    addr.Host,
		settings.KeySOCKS5Port:    int(addr.Port),
	}
}

func TestActivateDisabled(t *testing.T) {
	s := testSurfaces()
	before := s.HTTP.Requester()
	e := New(s)

	r := e.Activate(settings.MapStore{})
	assert.Empty(t, r.Records)
	assert.Nil(t, e.Agent())
	assert.Same(t, before, s.HTTP.Requester())
}

func TestActivateUnreadableSettings(t *testing.T) {
	e := New(testSurfaces())
	r := e.Activate(nil)
	assert.Empty(t, r.Records)
	assert.Nil(t, e.Agent())
}

func TestActivateRoutesTraffic(t *testing.T) {
	socks := egresstest.NewSOCKSServer(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hi")
	}))
	defer srv.Close()
	host, port := egresstest.HostPort(t, srv.Listener.Addr().String())

	e := New(testSurfaces())
	r := e.Activate(storeFor(t, socks))
	require.Equal(t, 4, r.Applied())
	require.NotNil(t, e.Agent())
	assert.Equal(t, socks.Addr(), e.Agent().Endpoint())

	resp, err := e.HTTP().Request(context.Background(), &httpreq.RequestOptions{Hostname: host, Port: port})
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = fetch.Fetch(context.Background(), e.Fetch(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{srv.Listener.Addr().String(), srv.Listener.Addr().String()}, socks.Targets())
}

func TestActivateOnce(t *testing.T) {
	socks := egresstest.NewSOCKSServer(t)
	s := testSurfaces()
	e := New(s)
	first := e.Activate(storeFor(t, socks))
	wrapped := s.HTTP.Requester()

	second := e.Activate(storeFor(t, socks))
	assert.Same(t, first, second)
	assert.Same(t, wrapped, s.HTTP.Requester())
}

func TestActivatePartial(t *testing.T) {
	socks := egresstest.NewSOCKSServer(t)
	s := testSurfaces()
	s.WebSocket = nil
	r := New(s).Activate(storeFor(t, socks))

	assert.Equal(t, 3, r.Applied())
	rec, ok := r.Record(netpatch.TargetWebSocket)
	require.True(t, ok)
	assert.Equal(t, netpatch.StatusSkipped, rec.Status)
}

type rejectingSession struct{}

func (rejectingSession) SetProxy(context.Context, session.ProxyConfig) error {
	return errors.New("session closed")
}

func TestConfigureSession(t *testing.T) {
	endpoint, err := ConfigureSession(context.Background(), settings.MapStore{}, rejectingSession{})
	require.NoError(t, err)
	assert.Empty(t, endpoint)

	_, err = ConfigureSession(context.Background(), settings.MapStore{settings.KeyAutoProxy: true}, rejectingSession{})
	require.Error(t, err)

	s := session.NewHTTPSession(nil)
	endpoint, err = ConfigureSession(context.Background(), settings.MapStore{settings.KeyAutoProxy: true}, s)
	require.NoError(t, err)
	assert.Contains(t, session.DefaultPool, endpoint)
	assert.Equal(t, endpoint, s.ProxyRules())
}

func TestNewSessionStacksOnSOCKS(t *testing.T) {
	socks := egresstest.NewSOCKSServer(t)
	store := storeFor(t, socks)
	store[settings.KeyAutoProxy] = true

	e := New(testSurfaces())
	e.Activate(store)
	s, endpoint := e.NewSession(context.Background(), store)
	require.NotNil(t, s)
	require.Contains(t, session.DefaultPool, endpoint)

	// Point the session at a local proxy so the double hop can be observed.
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.URL.Host)
	}))
	defer proxy.Close()
	require.NoError(t, s.SetProxy(context.Background(), session.ProxyConfig{ProxyRules: proxy.URL}))

	resp, err := s.Client().Get("http://game.test/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "game.test", string(body))
	assert.Equal(t, []string{proxy.Listener.Addr().String()}, socks.Targets())
}

func TestNewSessionWithoutAutoProxy(t *testing.T) {
	e := New(testSurfaces())
	e.Activate(settings.MapStore{})
	s, endpoint := e.NewSession(context.Background(), settings.MapStore{})
	require.NotNil(t, s)
	assert.Empty(t, endpoint)
	assert.Empty(t, s.ProxyRules())
}

func TestDefaultSurfaces(t *testing.T) {
	s := DefaultSurfaces()
	assert.NotNil(t, s.HTTP)
	assert.NotNil(t, s.HTTPS)
	assert.NotNil(t, s.WebSocket)
	assert.Equal(t, fetch.DefaultClient, s.Fetch)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stderr) })
	return &buf
}

func TestActivateLogs(t *testing.T) {
	logs := captureLogs(t)
	New(testSurfaces()).Activate(settings.MapStore{})
	assert.Contains(t, logs.String(), "Egress(Activate) - disabled")

	logs = captureLogs(t)
	socks := egresstest.NewSOCKSServer(t)
	s := testSurfaces()
	s.WebSocket = nil
	New(s).Activate(storeFor(t, socks))
	out := logs.String()
	assert.Contains(t, out, "NetPatch(Apply) - patching skipped")
	assert.Contains(t, out, "target=websocket")
	assert.Contains(t, out, "Egress(Activate) - traffic routed via SOCKS5")
	assert.Contains(t, out, "endpoint="+socks.Addr())
	assert.NotContains(t, out, "Egress(Activate) - disabled")
}
