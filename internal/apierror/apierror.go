// Package apierror provides standardized error response structures for the API.
// All errors returned to clients go through this package to ensure consistency
// and to prevent leaking internal details (stack traces, DB errors, etc.).
package apierror

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
)

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

// Validation wraps multiple field errors.
type ValidationError struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Detail: "Validation failed", Fields: fields}
}

// FindingDetail is one validation finding inside a closure-blocked response.
type FindingDetail struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// BlockedError is the envelope for a fiscal day closure refused by
// blocking findings.
type BlockedError struct {
	Detail   string          `json:"detail"`
	Findings []FindingDetail `json:"findings"`
}

// FromError maps a domain error to an HTTP status and response body.
// Unknown errors collapse to a generic 500 so internals never leak.
func FromError(err error) (int, any) {
	var (
		structural  *fiscal.StructuralError
		chain       *fiscal.ChainIntegrityError
		conflict    *fiscal.SequencingConflictError
		noDay       *fiscal.NoOpenFiscalDayError
		blocked     *fiscal.ClosureBlockedError
		remote      *fiscal.RemoteApiError
		unavailable *fiscal.RemoteUnavailableError
	)
	switch {
	case errors.As(err, &structural):
		return http.StatusUnprocessableEntity, New(structural.Error())
	case errors.As(err, &chain):
		return http.StatusConflict, New(chain.Error())
	case errors.As(err, &conflict):
		return http.StatusConflict, New(conflict.Error())
	case errors.As(err, &noDay):
		return http.StatusConflict, New(noDay.Error())
	case errors.As(err, &blocked):
		out := &BlockedError{Detail: blocked.Error()}
		for _, f := range blocked.Findings {
			out.Findings = append(out.Findings, FindingDetail{
				Code: f.Code, Message: f.Message, Severity: string(f.Severity),
			})
		}
		return http.StatusConflict, out
	case errors.As(err, &remote):
		return http.StatusBadGateway, &APIError{Detail: remote.Message, Code: remote.Code}
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, New("Revenue authority unreachable, retry later")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, New("Resource not found")
	default:
		return http.StatusInternalServerError, New("Internal server error")
	}
}
