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

package netpatch

import (
	"errors"
	"fmt"

	"github.com/Jigsaw-Code/egress/internal/egress"
)

// Target identifies an outbound-connection surface.
type Target int

const (
	TargetHTTP Target = iota
	TargetHTTPS
	TargetWebSocket
	TargetFetchDispatcher
)

func (t Target) String() string {
	switch t {
	case TargetHTTP:
		return "http"
	case TargetHTTPS:
		return "https"
	case TargetWebSocket:
		return "websocket"
	case TargetFetchDispatcher:
		return "fetch"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// Status is the outcome of patching one target.
type Status int

const (
	StatusApplied Status = iota
	StatusSkipped        // The target does not exist in this process.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Record is the outcome of one patch attempt. Err is nil iff Status is StatusApplied.
type Record struct {
	Target Target
	Status Status
	Err    error
}

// Report collects the records of one [Apply] pass. It is written once, at
// startup, and only read afterwards.
type Report struct {
	Agent   *egress.Agent // nil when redirection is disabled
	Records []Record
}

// Record returns the record for target, if it was attempted.
func (r *Report) Record(target Target) (Record, bool) {
	for _, rec := range r.Records {
		if rec.Target == target {
			return rec, true
		}
	}
	return Record{}, false
}

// Applied counts the targets that were patched.
func (r *Report) Applied() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Status == StatusApplied {
			n++
		}
	}
	return n
}

// Err joins the errors of the failed targets. Skipped targets are not errors.
func (r *Report) Err() error {
	var errs []error
	for _, rec := range r.Records {
		if rec.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("%v: %w", rec.Target, rec.Err))
		}
	}
	return errors.Join(errs...)
}
