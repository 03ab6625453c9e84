// Package gateway defines the contract between the reconciliation engine and
// an external calendar service. Implementations wrap a concrete backend
// (Google Calendar, CalDAV) and report every call as one of three outcomes:
// ok, unavailable, or error. Unavailable means the backend is not configured
// or failed to initialize and the engine should degrade to local-only
// operation without alarm; error is an unexpected failure the caller should
// see but that must not block the local write path.
package gateway

import (
	"context"
	"errors"
)

// State classifies the result of a gateway call.
type State int

const (
	StateOK State = iota
	StateUnavailable
	StateError
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "ok"
	case StateUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}

// EventPayload is the event shape sent to the external service. Start and
// End are ISO-8601 timestamps; TimeZone names the zone the service should
// render them in.
type EventPayload struct {
	Summary     string
	Description string
	StartISO    string
	EndISO      string
	Attendees   []string
	TimeZone    string
}

// Outcome is the tri-state result of a single gateway operation. EventID and
// the echo fields are populated on success; Err carries the cause for
// StateError outcomes (including context.DeadlineExceeded on timeout).
type Outcome struct {
	State    State
	EventID  string
	Summary  string
	StartISO string
	EndISO   string
	Err      error
}

// OK reports whether the call reached the backend and succeeded.
func (o Outcome) OK() bool { return o.State == StateOK }

// Timeout reports whether the outcome is an error caused by the caller's
// deadline expiring.
func (o Outcome) Timeout() bool {
	return o.State == StateError && errors.Is(o.Err, context.DeadlineExceeded)
}

// Unavailable builds the outcome for a backend that is not configured or not
// initialized.
func Unavailable() Outcome { return Outcome{State: StateUnavailable} }

// Errored builds an error outcome.
func Errored(err error) Outcome { return Outcome{State: StateError, Err: err} }

// Gateway is the set of operations the reconciliation engine needs from an
// external calendar service. Callers bound every method with a context
// deadline; implementations must honor it. Reset clears any cached
// failed-initialization state so the next call retries connectivity from
// scratch.
type Gateway interface {
	CreateEvent(ctx context.Context, payload EventPayload) Outcome
	UpdateEvent(ctx context.Context, eventID string, updates map[string]any) Outcome
	DeleteEvent(ctx context.Context, eventID string) Outcome
	GetEvent(ctx context.Context, eventID string) Outcome
	Reset()
}
