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

package wsock_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/Jigsaw-Code/egress/internal/egress"
	"github.com/Jigsaw-Code/egress/internal/egresstest"
	"github.com/Jigsaw-Code/egress/internal/wsock"
)

type call struct {
	url       string
	protocols []string
	opts      *wsock.Options
}

func recordingDialer(calls *[]call) wsock.Dialer {
	return wsock.DialerFunc(func(_ context.Context, rawurl string, protocols []string, opts *wsock.Options) (*websocket.Conn, error) {
		*calls = append(*calls, call{rawurl, protocols, opts})
		return nil, nil
	})
}

func TestWithAgentInjects(t *testing.T) {
	agent, err := egress.Build(egress.Config{Enabled: true, Host: "127.0.0.1", Port: 9050})
	require.NoError(t, err)

	var calls []call
	m := wsock.NewModule(recordingDialer(&calls))
	require.NoError(t, m.Intercept(agent))

	opts := &wsock.Options{Origin: "https://game.test", Header: http.Header{"X-A": {"b"}}}
	_, err = m.Dial(context.Background(), "wss://game.test/ws", []string{"v1", "v2"}, opts)
	require.NoError(t, err)
	_, err = m.Dial(context.Background(), "ws://game.test/ws", nil, nil)
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, "wss://game.test/ws", calls[0].url)
	assert.Equal(t, []string{"v1", "v2"}, calls[0].protocols)
	assert.Same(t, agent, calls[0].opts.Agent)
	assert.Equal(t, "https://game.test", calls[0].opts.Origin)
	assert.Equal(t, "b", calls[0].opts.Header.Get("X-A"))
	assert.Nil(t, opts.Agent)

	assert.Same(t, agent, calls[1].opts.Agent)
}

func TestWithAgentCapabilityChecks(t *testing.T) {
	agent, err := egress.Build(egress.Config{Enabled: true, Host: "127.0.0.1", Port: 9050})
	require.NoError(t, err)

	_, err = wsock.WithAgent(nil, agent)
	require.Error(t, err)

	m := wsock.New()
	before := m.Constructor()
	require.Error(t, m.Intercept(nil))
	assert.NotNil(t, before)
	assert.NotNil(t, m.Constructor())
}

func echoServer(t *testing.T, protocols chan<- []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(websocket.Server{
		Handshake: func(config *websocket.Config, _ *http.Request) error {
			protocols <- append([]string(nil), config.Protocol...)
			if len(config.Protocol) > 0 {
				config.Protocol = config.Protocol[:1]
			}
			return nil
		},
		Handler: func(ws *websocket.Conn) {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err == nil {
				websocket.Message.Send(ws, "echo:"+msg)
			}
			ws.Close()
		},
	})
	t.Cleanup(srv.Close)
	return srv
}

func TestDialThroughSOCKS(t *testing.T) {
	socks := egresstest.NewSOCKSServer(t)
	protocols := make(chan []string, 1)
	srv := echoServer(t, protocols)

	m := wsock.New()
	require.NoError(t, m.Intercept(socks.Agent(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat"
	ws, err := m.Dial(ctx, url, []string{"game", "chat"}, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, websocket.Message.Send(ws, "hello"))
	var reply string
	require.NoError(t, websocket.Message.Receive(ws, &reply))
	assert.Equal(t, "echo:hello", reply)
	assert.Equal(t, []string{"game", "chat"}, <-protocols)
	assert.Equal(t, []string{srv.Listener.Addr().String()}, socks.Targets())
}

func TestDialDirect(t *testing.T) {
	protocols := make(chan []string, 1)
	srv := echoServer(t, protocols)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := wsock.New().Dial(context.Background(), url, nil, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, websocket.Message.Send(ws, "x"))
	var reply string
	require.NoError(t, websocket.Message.Receive(ws, &reply))
	assert.Equal(t, "echo:x", reply)
	assert.Empty(t, <-protocols)
}

func TestDialRejectsScheme(t *testing.T) {
	_, err := wsock.New().Dial(context.Background(), "http://example.test/", nil, nil)
	require.Error(t, err)
}
