// Package fiscal implements the fiscal integrity engine: canonical encoding,
// hash chaining and device signatures, fiscal counter aggregation, and the
// validation rules that gate fiscal day closure.
package fiscal

import (
	"fmt"

	"github.com/google/uuid"
)

// StructuralError reports a missing or malformed input field. Structural
// errors are raised before any hashing — the engine never substitutes
// defaults for required fiscal fields.
type StructuralError struct {
	Field  string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error: field %s: %s", e.Field, e.Reason)
}

// ChainIntegrityError reports a hash or signature mismatch during
// verification. It is fatal for the receipt and is never auto-corrected.
type ChainIntegrityError struct {
	GlobalNo int64
	Reason   string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain integrity error at receipt %d: %s", e.GlobalNo, e.Reason)
}

// SequencingConflictError reports a concurrent-write race on the device's
// sequence counters. The caller should retry the whole operation from a
// fresh read.
type SequencingConflictError struct {
	DeviceID uuid.UUID
}

func (e *SequencingConflictError) Error() string {
	return fmt.Sprintf("sequencing conflict on device %s", e.DeviceID)
}

// NoOpenFiscalDayError is returned when an operation requires an open fiscal
// day and the device has none. Operational error — not retryable.
type NoOpenFiscalDayError struct {
	FiscalDeviceID int
}

func (e *NoOpenFiscalDayError) Error() string {
	return fmt.Sprintf("device %d has no open fiscal day", e.FiscalDeviceID)
}

// ClosureBlockedError carries the Red/Grey findings that prevent a fiscal
// day from closing.
type ClosureBlockedError struct {
	Findings []Finding
}

func (e *ClosureBlockedError) Error() string {
	return fmt.Sprintf("fiscal day closure blocked by %d finding(s)", len(e.Findings))
}

// RemoteApiError is a structured error body returned by the revenue
// authority (non-2xx with a parseable payload). Retryability depends on the
// reported code; the engine never retries these on its own.
type RemoteApiError struct {
	Code    string
	Message string
}

func (e *RemoteApiError) Error() string {
	return fmt.Sprintf("authority error %s: %s", e.Code, e.Message)
}

// RemoteUnavailableError wraps a transport failure or timeout talking to the
// authority. Always retryable; local state is left unchanged.
type RemoteUnavailableError struct {
	Op  string
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("authority unreachable during %s: %v", e.Op, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }
