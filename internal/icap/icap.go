// Package icap models the callback contract between a host ICAP engine and an
// adaptation service, together with an in-process engine that drives a service
// through the per-transaction state machine.
package icap

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidConfig is returned by Activate when the host-provided configuration handle is unusable.
	ErrInvalidConfig = errors.New("icap: unusable service configuration")
	// ErrMethodNotAllowed is returned when a transaction's method is not declared by the service.
	ErrMethodNotAllowed = errors.New("icap: method not supported by service")
	// ErrFinalized is returned when a session is used after it was closed.
	ErrFinalized = errors.New("icap: session finalized")
	// ErrStreamed is returned when a session body is streamed more than once.
	ErrStreamed = errors.New("icap: session already streamed")
	// ErrAdaptation is returned when the service signals an adaptation error.
	ErrAdaptation = errors.New("icap: adaptation error")
)

// Method is a set of ICAP adaptation methods.
type Method uint8

const (
	MethodRespMod Method = 1 << iota
	MethodReqMod
)

// Has reports whether every method in o is in m.
func (m Method) Has(o Method) bool {
	return o != 0 && m&o == o
}

func (m Method) String() string {
	var parts []string
	if m.Has(MethodRespMod) {
		parts = append(parts, "RESPMOD")
	}
	if m.Has(MethodReqMod) {
		parts = append(parts, "REQMOD")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// ParseMethod maps an ICAP method name (case-insensitive) to a Method.
func ParseMethod(s string) (Method, bool) {
	switch strings.ToUpper(s) {
	case "RESPMOD":
		return MethodRespMod, true
	case "REQMOD":
		return MethodReqMod, true
	}
	return 0, false
}

// Status is the result a service callback hands back to the host.
type Status int

const (
	// StatusOK reports that a callback completed.
	StatusOK Status = iota
	// StatusContinue asks the host to keep adapting with the full body.
	StatusContinue
	// StatusAllow204 asks the host to answer "no modification needed".
	StatusAllow204
	// StatusError aborts adaptation of the transaction.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusContinue:
		return "continue"
	case StatusAllow204:
		return "allow204"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Descriptor is the static identity a service registers with the host.
type Descriptor struct {
	Name        string
	Description string
	Methods     Method
}

// Request is the host's view of one transaction, as exposed to a service.
type Request interface {
	// Method is the adaptation method of the transaction.
	Method() Method
	// ResponseHeader returns the first value of the named header of the
	// encapsulated HTTP response.
	ResponseHeader(name string) (string, bool)
	// AddResponseHeader appends a literal "Name: value" line to the
	// encapsulated HTTP response headers. It reports false when the
	// transaction carries no response or the line is malformed.
	AddResponseHeader(line string) bool
	// SetResponseHeader is AddResponseHeader after dropping every existing
	// value of the same header.
	SetResponseHeader(line string) bool
}

// Service is the capability set a host invokes. T is the per-transaction
// context type owned by the service.
type Service[T any] interface {
	Descriptor() Descriptor

	Activate(cfg *ServiceConfig) error
	Deactivate()

	CreateContext(req Request) (T, error)
	DestroyContext(data T)

	OnPreview(preview []byte, data T) Status
	OnEndOfData(data T) Status
	// Transform adapts one body chunk. The returned slice is what the host
	// emits for this step; it is valid until the next call.
	Transform(chunk []byte, eof bool, data T) ([]byte, Status)
}
