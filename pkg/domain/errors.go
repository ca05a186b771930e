package domain

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound       = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasteTooLarge       = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusRequestEntityTooLarge)
	ErrCapacityExceeded    = NewErr("CAPACITY_EXCEEDED", "no more pastes can be stored at this time", http.StatusForbidden)
	ErrEmptyFileSet        = NewErr("EMPTY_FILE_SET", "a paste must contain at least one file", http.StatusBadRequest)
	ErrInvalidTTL          = NewErr("INVALID_TTL", "retention must be between 1 and 30 days", http.StatusBadRequest)
	ErrInvalidRequest      = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrRateLimitExceeded   = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrAllocationFailed    = NewErr("ALLOCATION_FAILED", "identifier allocation failed", http.StatusInternalServerError)
	ErrUniquenessViolation = NewErr("UNIQUENESS_VIOLATION", "identifier already in use", http.StatusInternalServerError)
	ErrCorruptData         = NewErr("CORRUPT_DATA", "stored content failed to decode", http.StatusInternalServerError)
	ErrInternalServer      = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string                 `json:"code"`
	Msg    string                 `json:"message"`
	Status int                    `json:"-"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

func (e *Err) Error() string { return e.Msg }

// Is matches on error code so derived instances (e.g. a PasteTooLarge
// carrying the byte excess) compare equal to their sentinel.
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	return ok && t.Code == e.Code
}

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// PasteTooLarge reports by exactly how many bytes the cumulative original
// content size overran the configured maximum.
func PasteTooLarge(excess int64) *Err {
	return &Err{
		Code:   ErrPasteTooLarge.Code,
		Msg:    fmt.Sprintf("paste exceeds the maximum size by %d bytes", excess),
		Status: ErrPasteTooLarge.Status,
		Meta:   map[string]interface{}{"excess_bytes": excess},
	}
}

// Excess extracts the byte overage from a PasteTooLarge error, or 0.
func Excess(err error) int64 {
	e, ok := asErr(err)
	if !ok || e.Meta == nil {
		return 0
	}
	if v, ok := e.Meta["excess_bytes"].(int64); ok {
		return v
	}
	return 0
}

func asErr(err error) (*Err, bool) {
	if e, ok := err.(*Err); ok {
		return e, true
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e, true
	}
	return nil, false
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}

type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func ToResp(err error) ErrResp {
	if e, ok := asErr(err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg, Meta: e.Meta}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}

func Status(err error) int {
	if e, ok := asErr(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
