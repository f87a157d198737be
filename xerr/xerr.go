// Package xerr defines the closed error taxonomy shared across every
// satlink component: nine kinds, a severity grading, and a recoverability
// predicate that local layers use to decide retry vs. surfacing a fault to
// the fault manager.
package xerr

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/orbitlink/satlink/fault"
	"github.com/orbitlink/satlink/ids"
)

// Kind is the closed set of error categories a satlink component may raise.
// The set is closed by convention, not by the type system: callers should
// treat any Kind outside this list as a programming error.
type Kind uint8

const (
	KindCommunicationTimeout Kind = iota
	KindInvalidPacket
	KindHardwareFailure
	KindMemoryError
	KindCryptographicError
	KindProtocolError
	KindResourceExhausted
	KindConfigurationError
	KindIntegrityError
)

var kindName = [...]string{
	"CommunicationTimeout",
	"InvalidPacket",
	"HardwareFailure",
	"MemoryError",
	"CryptographicError",
	"ProtocolError",
	"ResourceExhausted",
	"ConfigurationError",
	"IntegrityError",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < len(kindName) {
		return kindName[k]
	}
	return "Unknown"
}

// Severity grades how urgently a Kind demands operator/fault-manager
// attention.
type Severity uint8

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityName = [...]string{"Low", "Medium", "High", "Critical"}

// String implements fmt.Stringer.
func (s Severity) String() string {
	if int(s) < len(severityName) {
		return severityName[s]
	}
	return "Unknown"
}

// Severity returns the fixed grading for k: hardware, memory, cryptographic
// and integrity kinds are Critical; invalid-packet, protocol,
// configuration and resource-exhausted kinds are Medium; communication
// timeout is Low.
func (k Kind) Severity() Severity {
	switch k {
	case KindHardwareFailure, KindMemoryError, KindCryptographicError, KindIntegrityError:
		return SeverityCritical
	case KindInvalidPacket, KindProtocolError, KindConfigurationError, KindResourceExhausted:
		return SeverityMedium
	case KindCommunicationTimeout:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// MemoryErrorKind is the closed sub-taxonomy carried by a MemoryError.
type MemoryErrorKind uint8

const (
	MemoryAllocationFailed MemoryErrorKind = iota
	MemoryBufferOverflow
	MemoryOutOfMemory
	MemoryCorruptionDetected
)

var memoryKindName = [...]string{"AllocationFailed", "BufferOverflow", "OutOfMemory", "CorruptionDetected"}

// String implements fmt.Stringer.
func (m MemoryErrorKind) String() string {
	if int(m) < len(memoryKindName) {
		return memoryKindName[m]
	}
	return "Unknown"
}

// Error is the concrete error value every satlink component raises. The
// Fields map carries the kind-specific payload described in spec section 7
// (e.g. timeout_ms/operation, component/code, parameter/value/reason).
type Error struct {
	kind    Kind
	message string
	fields  map[string]interface{}
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Cause implements the github.com/pkg/errors Causer interface so
// errors.Cause(err) unwraps through a satlink *Error to whatever it wraps.
func (e *Error) Cause() error { return e.cause }

// Unwrap supports the standard library's errors.Is/errors.As chain walking.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's taxonomy kind.
func (e *Error) Kind() Kind { return e.kind }

// Severity returns the fixed severity grading for the error's kind.
func (e *Error) Severity() Severity { return e.kind.Severity() }

// IsRecoverable reports whether a local layer may retry/back-pressure this
// error instead of surfacing it to the fault manager as a fault.
// CommunicationTimeout and ResourceExhausted are always recoverable;
// MemoryError is recoverable only for the AllocationFailed sub-kind; every
// other kind is non-recoverable.
func (e *Error) IsRecoverable() bool {
	switch e.kind {
	case KindCommunicationTimeout, KindResourceExhausted:
		return true
	case KindMemoryError:
		mk, _ := e.fields["memory_kind"].(MemoryErrorKind)
		return mk == MemoryAllocationFailed
	default:
		return false
	}
}

// Fields returns a logrus.Fields view of the error suitable for structured
// logging via clog, merging the kind/severity/recoverability with whatever
// kind-specific payload was attached at construction.
func (e *Error) Fields() logrus.Fields {
	f := logrus.Fields{
		"error_kind":  e.kind.String(),
		"severity":    e.kind.Severity().String(),
		"recoverable": e.IsRecoverable(),
	}
	for k, v := range e.fields {
		f[k] = v
	}
	return f
}

// Wrap attaches cause as the underlying error via github.com/pkg/errors
// semantics, preserving err's kind/fields.
func (e *Error) Wrap(cause error) *Error {
	e.cause = errors.WithStack(cause)
	return e
}

func newError(kind Kind, message string, fields map[string]interface{}) *Error {
	return &Error{kind: kind, message: message, fields: fields}
}

// NewCommunicationTimeout builds a CommunicationTimeout{timeout_ms, operation} error.
func NewCommunicationTimeout(operation string, timeoutMs int64) *Error {
	return newError(KindCommunicationTimeout, fmt.Sprintf("%s timed out after %dms", operation, timeoutMs),
		map[string]interface{}{"operation": operation, "timeout_ms": timeoutMs})
}

// NewInvalidPacket builds an InvalidPacket{reason, packet_id?} error. Pass
// a nil packetID when the packet could not be identified (e.g. too short
// to contain a header).
func NewInvalidPacket(reason string, packetID *uint32) *Error {
	fields := map[string]interface{}{"reason": reason}
	if packetID != nil {
		fields["packet_id"] = *packetID
	}
	return newError(KindInvalidPacket, reason, fields)
}

// NewHardwareFailure builds a HardwareFailure{component, code} error.
func NewHardwareFailure(component string, code int) *Error {
	return newError(KindHardwareFailure, fmt.Sprintf("hardware failure in %s (code %d)", component, code),
		map[string]interface{}{"component": component, "code": code})
}

// NewMemoryError builds a MemoryError{kind, size?} error.
func NewMemoryError(kind MemoryErrorKind, size *uint64) *Error {
	fields := map[string]interface{}{"memory_kind": kind}
	if size != nil {
		fields["size"] = *size
	}
	return newError(KindMemoryError, fmt.Sprintf("memory error: %s", kind), fields)
}

// NewCryptographicError builds a CryptographicError{operation, details} error.
func NewCryptographicError(operation, details string) *Error {
	return newError(KindCryptographicError, fmt.Sprintf("cryptographic error in %s: %s", operation, details),
		map[string]interface{}{"operation": operation, "details": details})
}

// NewProtocolError builds a ProtocolError{expected, received, protocol} error.
func NewProtocolError(protocol, expected, received string) *Error {
	return newError(KindProtocolError, fmt.Sprintf("%s protocol error: expected %s, received %s", protocol, expected, received),
		map[string]interface{}{"protocol": protocol, "expected": expected, "received": received})
}

// NewResourceExhausted builds a ResourceExhausted{resource, current, max} error.
func NewResourceExhausted(resource string, current, max uint64) *Error {
	return newError(KindResourceExhausted, fmt.Sprintf("%s exhausted: %d/%d", resource, current, max),
		map[string]interface{}{"resource": resource, "current": current, "max": max})
}

// NewConfigurationError builds a ConfigurationError{parameter, value, reason} error.
func NewConfigurationError(parameter, value, reason string) *Error {
	return newError(KindConfigurationError, fmt.Sprintf("invalid configuration %s=%s: %s", parameter, value, reason),
		map[string]interface{}{"parameter": parameter, "value": value, "reason": reason})
}

// NewIntegrityError builds an IntegrityError{check_type, expected, calculated} error.
func NewIntegrityError(checkType string, expected, calculated uint32) *Error {
	return newError(KindIntegrityError, fmt.Sprintf("%s integrity check failed: expected %#x, calculated %#x", checkType, expected, calculated),
		map[string]interface{}{"check_type": checkType, "expected": expected, "calculated": calculated})
}

// severityErrorCode derives a fault.Fault.ErrorCode from a severity grading
// when no kind-specific numeric code was attached at construction, chosen so
// it lands on the right side of each fault decision table's thresholds for
// that severity.
func severityErrorCode(s Severity) uint32 {
	switch s {
	case SeverityCritical:
		return 1000
	case SeverityHigh:
		return 700
	case SeverityMedium:
		return 400
	default:
		return 100
	}
}

// Fault converts e into a fault.Fault for ingestion by the fault manager
// (C8), letting any local failure surface upward regardless of which layer
// detected it. band and component are used when e carries no more specific
// field of its own (e.g. a HardwareFailure's own component/code fields take
// precedence over the arguments).
//
// CommunicationTimeout, InvalidPacket and IntegrityError become
// KindCommunication faults against band; HardwareFailure becomes a
// KindHardware fault against its own component; MemoryError becomes a
// KindMemory fault; every other kind becomes a KindSoftware fault against
// component, or a more specific field name (operation/parameter) when e
// carries one.
func (e *Error) Fault(band ids.BandType, component string) fault.Fault {
	code := severityErrorCode(e.Severity())

	switch e.kind {
	case KindCommunicationTimeout, KindInvalidPacket, KindIntegrityError:
		return fault.Fault{Kind: fault.KindCommunication, Band: band, ErrorCode: code}

	case KindHardwareFailure:
		comp := component
		if c, ok := e.fields["component"].(string); ok {
			comp = c
		}
		if c, ok := e.fields["code"].(int); ok {
			code = uint32(c)
		}
		return fault.Fault{Kind: fault.KindHardware, Component: comp, ErrorCode: code}

	case KindMemoryError:
		return fault.Fault{Kind: fault.KindMemory, ErrorCode: code}

	default:
		mod := component
		if op, ok := e.fields["operation"].(string); ok {
			mod = op
		} else if p, ok := e.fields["parameter"].(string); ok {
			mod = p
		}
		return fault.Fault{Kind: fault.KindSoftware, Module: mod, ErrorCode: code}
	}
}
