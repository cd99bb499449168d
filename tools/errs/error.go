package errs

import (
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Error 不带错误码的普通错误
type Error interface {
	error
	Wrap() error
	WrapMsg(msg string, kv ...any) error
}

func New(s string, kv ...any) Error {
	return &errorString{s: toString(s, kv)}
}

type errorString struct {
	s string
}

func (e *errorString) Error() string { return e.s }

func (e *errorString) Wrap() error { return pkgerrors.WithStack(e) }

func (e *errorString) WrapMsg(msg string, kv ...any) error {
	return pkgerrors.WithStack(NewErrorWrapper(e, toString(msg, kv)))
}

type ErrWrapper interface {
	error
	Unwrap() error
	Msg() string
}

func NewErrorWrapper(err error, msg string) ErrWrapper {
	return &errWrapper{error: err, s: msg}
}

type errWrapper struct {
	error
	s string
}

func (e *errWrapper) Error() string {
	if e.s == "" {
		return e.error.Error()
	}
	return e.s + ": " + e.error.Error()
}

func (e *errWrapper) Unwrap() error { return e.error }

func (e *errWrapper) Msg() string { return e.s }

// toString msg, k1=v1, k2=v2
func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
