package blemidi

import (
	"errors"
	"fmt"
	"strings"
)

// SetupErrorKind classifies a failed subscription handshake
type SetupErrorKind string

const (
	ServiceNotFound        SetupErrorKind = "service_not_found"
	CharacteristicNotFound SetupErrorKind = "characteristic_not_found"
)

// SetupError reports that the peer does not expose the MIDI profile.
type SetupError struct {
	Kind       SetupErrorKind
	Peer       string   // peer address
	UUID       string   // the UUID that could not be resolved
	Service    string   // enclosing service, for CharacteristicNotFound
	Discovered []string // service UUIDs discovered on the peer, for ServiceNotFound
	Err        error    // underlying transport error
}

func (e *SetupError) Error() string {
	var msg string
	switch e.Kind {
	case ServiceNotFound:
		msg = fmt.Sprintf("MIDI service %s not found", e.UUID)
		if len(e.Discovered) > 0 {
			msg = fmt.Sprintf("%s (discovered: %s)", msg, strings.Join(e.Discovered, ", "))
		}
	case CharacteristicNotFound:
		msg = fmt.Sprintf("MIDI characteristic %s not found in service %s", e.UUID, e.Service)
	default:
		msg = string(e.Kind)
	}
	if e.Peer != "" {
		msg = fmt.Sprintf("%s: %s", e.Peer, msg)
	}
	return msg
}

// Is matches SetupErrors of the same Kind
func (e *SetupError) Is(target error) bool {
	t, ok := target.(*SetupError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

var (
	ErrServiceNotFound        = &SetupError{Kind: ServiceNotFound}
	ErrCharacteristicNotFound = &SetupError{Kind: CharacteristicNotFound}
)

// ErrOutputClosed is returned by an OutputDevice whose peer was detached
var ErrOutputClosed = errors.New("MIDI output device is closed")

// IsSetupKind reports whether err is a SetupError of the given kind
func IsSetupKind(err error, kind SetupErrorKind) bool {
	var serr *SetupError
	if errors.As(err, &serr) {
		return serr.Kind == kind
	}
	return false
}
