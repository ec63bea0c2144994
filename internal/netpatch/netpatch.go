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
Package netpatch installs egress redirection on every outbound-connection
surface of the process.

[Apply] intercepts four targets independently: HTTP, HTTPS, WebSocket and the
fetch dispatcher. A failure on one target never prevents the others from being
attempted, and nothing is rolled back. The outcome of each attempt is kept in a
[Report].

Apply must run before anything else in the process issues a request. Code that
captured a surface's inner implementation earlier keeps using it unproxied.
*/
package netpatch

import (
	"errors"
	"fmt"

	"github.com/Jigsaw-Code/egress/internal/egress"
	"github.com/Jigsaw-Code/egress/internal/fetch"
	"github.com/Jigsaw-Code/egress/internal/httpreq"
	"github.com/Jigsaw-Code/egress/internal/wsock"
	"github.com/Jigsaw-Code/egress/logging"
)

// ErrUnavailable means the process does not expose a patch target.
var ErrUnavailable = errors.New("patch target unavailable")

// Surfaces are the outbound-connection entry points of the process. A nil
// field is a target this process does not have.
type Surfaces struct {
	HTTP      *httpreq.Module
	HTTPS     *httpreq.Module
	WebSocket *wsock.Module
	Fetch     fetch.Registry
}

// Apply intercepts every surface in s with agent. With a nil agent nothing is
// patched and the report has no records.
//
// Apply is meant to run once. Running it again wraps the surfaces a second
// time; requests still use agent.
func Apply(agent *egress.Agent, s Surfaces) *Report {
	r := &Report{Agent: agent}
	if agent == nil {
		return r
	}

	r.run(TargetHTTP, func() error {
		if s.HTTP == nil {
			return ErrUnavailable
		}
		return s.HTTP.Intercept(agent)
	})
	r.run(TargetHTTPS, func() error {
		if s.HTTPS == nil {
			return ErrUnavailable
		}
		return s.HTTPS.Intercept(agent)
	})
	r.run(TargetWebSocket, func() error {
		if s.WebSocket == nil {
			return ErrUnavailable
		}
		return s.WebSocket.Intercept(agent)
	})
	r.run(TargetFetchDispatcher, func() error {
		if s.Fetch == nil {
			return ErrUnavailable
		}
		if d, ok := s.Fetch.(*fetch.Dispatcher); ok && d == nil {
			return ErrUnavailable
		}
		return fetch.Install(s.Fetch, agent)
	})
	return r
}

func (r *Report) run(target Target, patch func() error) {
	rec := Record{Target: target}
	func() {
		defer func() {
			if p := recover(); p != nil {
				rec.Err = fmt.Errorf("panic: %v", p)
			}
		}()
		rec.Err = patch()
	}()

	switch {
	case rec.Err == nil:
		rec.Status = StatusApplied
		logging.Dbg("NetPatch(Apply) - target patched", "target", target)
	case errors.Is(rec.Err, ErrUnavailable):
		rec.Status = StatusSkipped
		logging.Warn("NetPatch(Apply) - patching skipped", "target", target, "err", rec.Err)
	default:
		rec.Status = StatusFailed
		logging.Warn("NetPatch(Apply) - patching failed", "target", target, "err", rec.Err)
	}
	r.Records = append(r.Records, rec)
}
