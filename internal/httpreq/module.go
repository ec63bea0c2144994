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
Package httpreq holds the process-wide HTTP and HTTPS request entry points.

Code that issues requests keeps a [*Module] and calls through it. The module's
implementation can be replaced at startup, which is how egress redirection is
installed without touching call sites.

Two call forms exist, mirroring the options-object and bare-URL forms of a
request API:

  - [Module.Request] and [Module.Get] take a [*RequestOptions]. An installed
    interceptor sets RequestOptions.Agent on these calls.
  - [Module.RequestURL] and [Module.GetURL] take a URL string. They are never
    rewritten, so they bypass egress redirection.
*/
package httpreq

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/Jigsaw-Code/egress/internal/egress"
	"github.com/Jigsaw-Code/egress/logging"
)

// Requester issues HTTP requests.
type Requester interface {
	// Request sends a request described by opts. If opts.Agent is set, the
	// connection is dialed through it.
	Request(ctx context.Context, opts *RequestOptions) (*http.Response, error)
	// Get is Request with the method forced to GET.
	Get(ctx context.Context, opts *RequestOptions) (*http.Response, error)
	// RequestURL sends a body-less request to rawurl.
	RequestURL(ctx context.Context, method, rawurl string) (*http.Response, error)
	// GetURL sends a GET request to rawurl.
	GetURL(ctx context.Context, rawurl string) (*http.Response, error)
}

// Module is a replaceable [Requester].
type Module struct {
	name string
	impl atomic.Pointer[Requester]
}

var _ Requester = (*Module)(nil)

// NewModule creates a module named name (used in logs) that delegates to base.
func NewModule(name string, base Requester) *Module {
	m := &Module{name: name}
	m.impl.Store(&base)
	return m
}

// NewHTTP returns a module sending plain-text requests with the default transport settings.
func NewHTTP() *Module {
	return NewModule("http", NewClient("http", nil))
}

// NewHTTPS returns a module sending TLS requests. If t is nil, the default
// transport settings are used.
func NewHTTPS(t *http.Transport) *Module {
	return NewModule("https", NewClient("https", t))
}

func (m *Module) Name() string { return m.name }

// Requester returns the current implementation. A caller that keeps the
// returned value will not observe later replacements.
func (m *Module) Requester() Requester {
	return *m.impl.Load()
}

// Replace installs wrap(current) as the new implementation.
func (m *Module) Replace(wrap func(Requester) Requester) {
	next := wrap(m.Requester())
	m.impl.Store(&next)
}

// Intercept makes every options-form request carry agent. Requests made with a
// bare URL are not affected.
//
// Calling Intercept twice adds a second wrapper; the agent seen by requests is
// unchanged.
func (m *Module) Intercept(agent *egress.Agent) error {
	if agent == nil {
		return errors.New("agent is required")
	}
	m.Replace(func(next Requester) Requester {
		return &injector{next: next, agent: agent}
	})
	logging.Dbg("HTTPReq(Module.Intercept) - interceptor installed", "module", m.name, "proxy", agent.Endpoint())
	return nil
}

func (m *Module) Request(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	return m.Requester().Request(ctx, opts)
}

func (m *Module) Get(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	return m.Requester().Get(ctx, opts)
}

func (m *Module) RequestURL(ctx context.Context, method, rawurl string) (*http.Response, error) {
	return m.Requester().RequestURL(ctx, method, rawurl)
}

func (m *Module) GetURL(ctx context.Context, rawurl string) (*http.Response, error) {
	return m.Requester().GetURL(ctx, rawurl)
}

// injector sets the agent on options-form calls before delegating.
type injector struct {
	next  Requester
	agent *egress.Agent
}

func (r *injector) Request(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	if opts != nil {
		opts.Agent = r.agent
	}
	return r.next.Request(ctx, opts)
}

func (r *injector) Get(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	if opts != nil {
		opts.Agent = r.agent
	}
	return r.next.Get(ctx, opts)
}

// Bare-URL calls have no options to carry the agent and go out directly.
func (r *injector) RequestURL(ctx context.Context, method, rawurl string) (*http.Response, error) {
	return r.next.RequestURL(ctx, method, rawurl)
}

func (r *injector) GetURL(ctx context.Context, rawurl string) (*http.Response, error) {
	return r.next.GetURL(ctx, rawurl)
}
