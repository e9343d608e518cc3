// Package ferrors defines the exhaustive error kinds the core surfaces to
// its caller (spec §7), grounded on the teacher's DownloadError shape.
package ferrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// Kind is one of the exhaustive error kinds a fetch can terminate with.
type Kind string

const (
	TransientNetwork  Kind = "TransientNetwork"
	ServerBackoff     Kind = "ServerBackoff"
	ProtocolDegraded  Kind = "ProtocolDegraded"
	TlsFailure        Kind = "TlsFailure"
	PinMismatch       Kind = "PinMismatch"
	IntegrityMismatch Kind = "IntegrityMismatch"
	LocalIo           Kind = "LocalIo"
	Cancelled         Kind = "Cancelled"
	UnsupportedScheme Kind = "UnsupportedScheme"

	// ResourceError covers fatal HTTP statuses (4xx other than 408/429,
	// per spec §4.1) that do not fit any of the other named kinds. The
	// spec's Kind table does not name one explicitly; this is the
	// resolution of that gap, recorded in DESIGN.md.
	ResourceError Kind = "ResourceError"
)

// fatal reports whether a kind terminates a fetch outright rather than
// being absorbed by the retry classifier at the chunk level.
var fatal = map[Kind]bool{
	TlsFailure:        true,
	PinMismatch:       true,
	IntegrityMismatch: true,
	LocalIo:           true,
	UnsupportedScheme: true,
	ResourceError:     true,
}

func (k Kind) Fatal() bool { return fatal[k] }

// FetchError is the structured error type carried through the core.
type FetchError struct {
	Err        error
	Kind       Kind
	Resource   string
	StatusCode int
	RetryAfter time.Duration
	Timestamp  time.Time
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] %s (status %d): %v", e.Kind, e.Resource, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func new(kind Kind, err error, resource string) *FetchError {
	return &FetchError{
		Err:       err,
		Kind:      kind,
		Resource:  resource,
		Timestamp: time.Now(),
	}
}

func NewTransientNetwork(err error, resource string) *FetchError {
	return new(TransientNetwork, err, resource)
}

func NewServerBackoff(err error, resource string, retryAfter time.Duration, statusCode int) *FetchError {
	e := new(ServerBackoff, err, resource)
	e.RetryAfter = retryAfter
	e.StatusCode = statusCode
	return e
}

func NewProtocolDegraded(err error, resource string) *FetchError {
	return new(ProtocolDegraded, err, resource)
}

func NewTlsFailure(err error, resource string) *FetchError {
	return new(TlsFailure, err, resource)
}

func NewPinMismatch(resource string) *FetchError {
	return new(PinMismatch, errors.New("TLS fingerprint does not match configured pin"), resource)
}

func NewIntegrityMismatch(resource string) *FetchError {
	return new(IntegrityMismatch, errors.New("computed hash does not match expected hash"), resource)
}

func NewLocalIo(err error, resource string) *FetchError {
	return new(LocalIo, err, resource)
}

func NewCancelled(err error, resource string) *FetchError {
	return new(Cancelled, err, resource)
}

func NewUnsupportedScheme(scheme string) *FetchError {
	return new(UnsupportedScheme, fmt.Errorf("no handler registered for scheme %q", scheme), scheme)
}

// NewHTTPStatus classifies an HTTP response status into a FetchError,
// per the status-code policy of spec §4.1.
func NewHTTPStatus(statusCode int, resource string, retryAfter time.Duration) *FetchError {
	switch {
	case statusCode == 429 || statusCode == 503:
		e := NewServerBackoff(fmt.Errorf("http status %d", statusCode), resource, retryAfter, statusCode)
		return e
	case statusCode == 408 || statusCode >= 500:
		e := NewTransientNetwork(fmt.Errorf("http status %d", statusCode), resource)
		e.StatusCode = statusCode
		return e
	case statusCode >= 400:
		// Any 4xx other than 408/429 is fatal per spec §4.1.
		e := new(ResourceError, fmt.Errorf("http status %d", statusCode), resource)
		e.StatusCode = statusCode
		return e
	default:
		e := new(ResourceError, fmt.Errorf("unexpected http status %d", statusCode), resource)
		e.StatusCode = statusCode
		return e
	}
}

// IsFatal reports whether err, if a FetchError, carries a fatal Kind.
func IsFatal(err error) bool {
	k, ok := Kindof(err)
	return ok && k.Fatal()
}

// Kindof extracts the Kind of a FetchError anywhere in err's chain. For an
// error that no FetchError wraps it returns "" and false.
func Kindof(err error) (Kind, bool) {
	var fe *FetchError
	if As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Resourceof extracts the resource string, if any.
func Resourceof(err error) string {
	var fe *FetchError
	if As(err, &fe) {
		return fe.Resource
	}
	return ""
}
