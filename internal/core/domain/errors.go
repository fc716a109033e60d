package domain

import "errors"

// Error kinds. Match them with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("access forbidden")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrTokenReuse   = errors.New("refresh token reuse detected")
	ErrNotFound     = errors.New("not found")
)

// Error carries a kind, a message that is safe to show to the caller and an
// optional reason that only goes to logs.
type Error struct {
	Kind    error
	Message string
	Reason  string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// WithReason returns a copy of e annotated with a log-only reason.
func (e *Error) WithReason(reason string) *Error {
	cp := *e
	cp.Reason = reason
	return &cp
}

// ReasonOf returns the log-only reason carried by err, if any.
func ReasonOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}

func ValidationError(msg string) *Error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func ConflictError(msg string) *Error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func AuthError(msg string) *Error {
	return &Error{Kind: ErrUnauthorized, Message: msg}
}

func ForbiddenError(msg string) *Error {
	return &Error{Kind: ErrForbidden, Message: msg}
}

func TokenError(msg string) *Error {
	return &Error{Kind: ErrInvalidToken, Message: msg}
}

func ReuseDetectedError() *Error {
	return &Error{Kind: ErrTokenReuse, Message: "session revoked, please log in again"}
}

func NotFoundError(msg string) *Error {
	return &Error{Kind: ErrNotFound, Message: msg}
}
