package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Error codes used across the messaging core. Grouped by the failure
// class; codes are stable, messages are not.
const (
	CodeAuthentication   = 1101
	CodeRateLimited      = 1201
	CodeValidation       = 1301
	CodePersistence      = 1401
	CodeCacheUnavailable = 1501
)

var (
	ErrAuthentication   = NewCodeError(CodeAuthentication, "authentication failed")
	ErrRateLimited      = NewCodeError(CodeRateLimited, "rate limit exceeded")
	ErrValidation       = NewCodeError(CodeValidation, "invalid payload")
	ErrPersistence      = NewCodeError(CodePersistence, "persistence failed")
	ErrCacheUnavailable = NewCodeError(CodeCacheUnavailable, "cache unavailable")
)

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

// WithDetail returns a copy carrying extra detail; the sentinel itself
// is never mutated.
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Is matches any *CodeError with the same code, so wrapped errors keep
// working with errors.Is against the sentinels above.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// CodeOf extracts the error code, or 0 when err carries none.
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
