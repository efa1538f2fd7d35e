package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource  string   // "service", "characteristic", "descriptor"
	UUIDs     []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
	Available []string // UUIDs discovered at the same level, for diagnostics
}

func (e *NotFoundError) Error() string {
	var msg string
	switch len(e.UUIDs) {
	case 0:
		msg = fmt.Sprintf("%s not found", e.Resource)
	case 1:
		msg = fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		// For BLE hierarchy: characteristic is in service, descriptor is in characteristic
		parentResource := "service"
		if e.Resource == "descriptor" {
			parentResource = "characteristic"
		}
		msg = fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
	}
	if len(e.Available) > 0 {
		msg = fmt.Sprintf("%s (available: %s)", msg, strings.Join(e.Available, ", "))
	}
	return msg
}

// Is matches any NotFoundError for the same resource kind
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Resource == "" || t.Resource == e.Resource
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Peer identifies a remote device
type Peer interface {
	Name() string
	Address() string
}

// Service represents a resolved GATT service
type Service interface {
	UUID() string
}

// Characteristic represents a resolved GATT characteristic
type Characteristic interface {
	UUID() string
	Descriptors() []Descriptor
}

// Descriptor represents a GATT descriptor with a locally staged value
type Descriptor interface {
	UUID() string
	Value() []byte
	SetValue(value []byte)
}

// NotificationHandler receives characteristic value-change payloads.
// It is invoked on the transport's delivery goroutine and must not block.
type NotificationHandler func(data []byte)

// Transport is the GATT surface of an already-connected peer
type Transport interface {
	Peer

	// ServiceUUIDs lists the normalized UUIDs of all discovered services
	ServiceUUIDs() []string
	ResolveService(uuid string) (Service, error)
	ResolveCharacteristic(svc Service, uuid string) (Characteristic, error)
	EnableNotifications(char Characteristic, handler NotificationHandler) error
	WriteDescriptor(desc Descriptor, value []byte) error
	ReadCharacteristic(char Characteristic) ([]byte, error)
	WriteCharacteristic(char Characteristic, value []byte) error
}
