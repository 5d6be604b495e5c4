package messaging

import (
	"errors"
	"fmt"
	"strings"
)

// Errors reported to the callers of a Channel or a Coordinator. They point
// at a mistake of the caller, not at a network condition.
var (
	ErrNilMessage      = errors.New("nil message")
	ErrNoRecipients    = errors.New("no recipients")
	ErrChannelReleased = errors.New("channel released")
	ErrBindingNotFound = errors.New("binding not found")
	ErrBindingExists   = errors.New("recipient already bound")
	ErrBackendExists   = errors.New("backend already added")
	ErrUnknownBackend  = errors.New("unknown backend")
)

// ExternalRouteError is returned when no backend accepted an external route
// request.
type ExternalRouteError struct {
	Action    string
	BackendID string
	Rejected  []string
}

func (e *ExternalRouteError) Error() string {
	return fmt.Sprintf("no backend accepted to %s external route %q, "+
		"rejected by: [%s]",
		e.Action, e.BackendID, strings.Join(e.Rejected, ", "))
}

// Unwrap makes the error match ErrUnknownBackend.
func (e *ExternalRouteError) Unwrap() error {
	return ErrUnknownBackend
}
