package errs

import (
	"errors"
	"strconv"

	pkgerrors "github.com/pkg/errors"
)

// CodeError Msg 是面向客户端的文案，Detail 只进日志
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

// 预定义的错误是共享的，所有修改都在副本上做
func (e *CodeError) clone() *CodeError {
	c := *e
	return &c
}

func (e *CodeError) withDetail(detail string) *CodeError {
	ret := e.clone()
	switch {
	case detail == "":
	case ret.Detail == "":
		ret.Detail = detail
	default:
		ret.Detail += ", " + detail
	}
	return ret
}

func (e *CodeError) WithDetail(detail string) *CodeError { return e.withDetail(detail) }

// WithMsg 同一错误码换一句文案
func (e *CodeError) WithMsg(msg string) *CodeError {
	ret := e.clone()
	ret.Msg = msg
	return ret
}

func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	return pkgerrors.WithStack(e.withDetail(toString(msg, kv)))
}

// Is 供 errors.Is 使用：target 的错误码是父码即命中
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	if e == nil || t == nil {
		return e == t
	}
	return DefaultCodeRelation.Is(t.Code, e.Code)
}

func (e *CodeError) Error() string {
	s := strconv.Itoa(e.Code) + " " + e.Msg
	if e.Detail != "" {
		s += " " + e.Detail
	}
	return s
}

// Code 取链上第一个 CodeError 的错误码；普通 error 视为内部错误
func Code(err error) int {
	if err == nil {
		return 0
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerInternalError
}

// Message 面向客户端的文案，非 CodeError 不外泄
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ce *CodeError
	if errors.As(err, &ce) && ce.Msg != "" {
		return ce.Msg
	}
	return ErrInternalServer.Msg
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(NewErrorWrapper(err, toString(msg, kv)))
}
