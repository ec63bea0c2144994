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
	"context"
	"sync"

	"github.com/Jigsaw-Code/egress/internal/egress"
	"github.com/Jigsaw-Code/egress/internal/fetch"
	"github.com/Jigsaw-Code/egress/internal/httpreq"
	"github.com/Jigsaw-Code/egress/internal/netpatch"
	"github.com/Jigsaw-Code/egress/internal/session"
	"github.com/Jigsaw-Code/egress/internal/settings"
	"github.com/Jigsaw-Code/egress/internal/wsock"
	"github.com/Jigsaw-Code/egress/logging"
)

// Egress owns the outbound-connection surfaces of a process.
type Egress struct {
	surfaces netpatch.Surfaces

	once   sync.Once
	report *netpatch.Report
}

// New creates an Egress managing s.
func New(s netpatch.Surfaces) *Egress {
	return &Egress{surfaces: s}
}

// DefaultSurfaces returns fresh HTTP, HTTPS and WebSocket modules together with
// the dispatcher of [http.DefaultClient].
func DefaultSurfaces() netpatch.Surfaces {
	return netpatch.Surfaces{
		HTTP:      httpreq.NewHTTP(),
		HTTPS:     httpreq.NewHTTPS(nil),
		WebSocket: wsock.New(),
		Fetch:     fetch.DefaultClient,
	}
}

func (e *Egress) HTTP() *httpreq.Module    { return e.surfaces.HTTP }
func (e *Egress) HTTPS() *httpreq.Module   { return e.surfaces.HTTPS }
func (e *Egress) WebSocket() *wsock.Module { return e.surfaces.WebSocket }
func (e *Egress) Fetch() fetch.Registry    { return e.surfaces.Fetch }

// Activate turns on SOCKS5 redirection if the settings in store ask for it.
//
// Only the first call does anything; later calls return the first report.
// Activate never fails: any problem leaves the affected surfaces unproxied and
// is logged and recorded in the report.
func (e *Egress) Activate(store settings.Store) *netpatch.Report {
	first := false
	e.once.Do(func() {
		first = true
		e.report = e.activate(store)
	})
	if !first {
		logging.Warn("Egress(Activate) - already activated, ignoring")
	}
	return e.report
}

func (e *Egress) activate(store settings.Store) *netpatch.Report {
	cfg := settings.ResolveEgress(store)
	if !cfg.Enabled {
		logging.Info("Egress(Activate) - disabled (enable ip_bypass_enabled in settings)")
		return &netpatch.Report{}
	}

	agent, err := egress.Build(cfg)
	if err != nil {
		logging.Err("Egress(Activate) - failed to initialize", "endpoint", cfg.Endpoint(), "err", err)
		return &netpatch.Report{}
	}

	r := netpatch.Apply(agent, e.surfaces)
	if r.Applied() == 0 {
		logging.Err("Egress(Activate) - no surface could be redirected", "endpoint", agent.Endpoint())
		return r
	}
	logging.Info("Egress(Activate) - traffic routed via SOCKS5",
		"endpoint", agent.Endpoint(), "applied", r.Applied(), "targets", len(r.Records))
	return r
}

// Agent returns the active SOCKS5 agent, or nil.
func (e *Egress) Agent() *egress.Agent {
	if e.report == nil {
		return nil
	}
	return e.report.Agent
}

// NewSession creates a browser session. Its connections go through the SOCKS5
// agent when redirection is active. If auto_proxy is set in store, a proxy is
// chosen from [session.DefaultPool] and assigned to the session; the chosen
// endpoint is returned. Failing to assign it does not prevent the session from
// being used.
func (e *Egress) NewSession(ctx context.Context, store settings.Store) (*session.HTTPSession, string) {
	var s *session.HTTPSession
	if agent := e.Agent(); agent != nil {
		s = session.NewHTTPSession(agent.DialContext)
	} else {
		s = session.NewHTTPSession(nil)
	}
	endpoint, err := ConfigureSession(ctx, store, s)
	if err != nil {
		return s, ""
	}
	return s, endpoint
}

// ConfigureSession assigns a random proxy from [session.DefaultPool] to s when
// the auto_proxy setting is on. It returns the endpoint it assigned.
func ConfigureSession(ctx context.Context, store settings.Store, s session.Session) (string, error) {
	if !settings.ResolveAutoProxy(store) {
		return "", nil
	}
	endpoint := session.SelectProxy(session.DefaultPool)
	logging.Info("Egress(ConfigureSession) - enabling auto proxy", "endpoint", endpoint)
	if err := session.ApplyToSession(ctx, s, endpoint); err != nil {
		return "", err
	}
	return endpoint, nil
}
