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
Package fetch exposes the global low-level HTTP dispatcher: the
[http.RoundTripper] used by fetch-style helpers that take a URL and return a
response.

[DefaultClient] is the dispatcher of [http.DefaultClient], so installing a
dispatcher there affects http.Get and friends for the whole process.
*/
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/Jigsaw-Code/egress/internal/egress"
	"github.com/Jigsaw-Code/egress/logging"
)

// Registry holds a global dispatcher.
type Registry interface {
	GlobalDispatcher() http.RoundTripper
	SetGlobalDispatcher(http.RoundTripper)
}

// DefaultClient is the [Registry] backed by [http.DefaultClient].
var DefaultClient Registry = defaultClientRegistry{}

type defaultClientRegistry struct{}

func (defaultClientRegistry) GlobalDispatcher() http.RoundTripper {
	if rt := http.DefaultClient.Transport; rt != nil {
		return rt
	}
	return http.DefaultTransport
}

func (defaultClientRegistry) SetGlobalDispatcher(rt http.RoundTripper) {
	http.DefaultClient.Transport = rt
}

// Dispatcher is a standalone [Registry], starting with [http.DefaultTransport].
type Dispatcher struct {
	rt atomic.Pointer[http.RoundTripper]
}

var _ Registry = (*Dispatcher)(nil)

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) GlobalDispatcher() http.RoundTripper {
	if rt := d.rt.Load(); rt != nil {
		return *rt
	}
	return http.DefaultTransport
}

func (d *Dispatcher) SetGlobalDispatcher(rt http.RoundTripper) {
	d.rt.Store(&rt)
}

// Install makes agent's transport the global dispatcher of reg.
func Install(reg Registry, agent *egress.Agent) error {
	if reg == nil {
		return errors.New("no global dispatcher")
	}
	if agent == nil {
		return errors.New("agent is required")
	}
	reg.SetGlobalDispatcher(agent.RoundTripper())
	logging.Dbg("Fetch(Install) - proxy dispatcher installed", "proxy", agent.Endpoint())
	return nil
}

// Fetch sends a request to rawurl with the global dispatcher of reg.
func Fetch(ctx context.Context, reg Registry, method, rawurl string, body io.Reader) (*http.Response, error) {
	if reg == nil {
		reg = DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Transport: reg.GlobalDispatcher()}
	return client.Do(req)
}
