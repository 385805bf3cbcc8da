// Package apperr 定义业务错误分类，在 HTTP 边界统一转换成响应
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindNotFound            Kind = "NOT_FOUND"
	KindAuth                Kind = "AUTH"
	KindConflict            Kind = "CONFLICT"
	KindInsufficientCredits Kind = "INSUFFICIENT_CREDITS"
	KindConfig              Kind = "CONFIG"
	KindUpstream            Kind = "UPSTREAM"
	KindInternal            Kind = "INTERNAL"
)

// Error 业务错误
// Message 直接返回给客户端；Details、Fields 可选，会并入响应体
type Error struct {
	Kind    Kind
	Message string
	Details string
	Fields  map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按 Kind 匹配，便于 errors.Is(err, apperr.ErrNotFound) 这种写法
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// WithField 附加响应字段
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// 只带 Kind 的哨兵，用于 errors.Is
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrAuth                = &Error{Kind: KindAuth}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInsufficientCredits = &Error{Kind: KindInsufficientCredits}
	ErrConfig              = &Error{Kind: KindConfig}
	ErrUpstream            = &Error{Kind: KindUpstream}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(message string) *Error { return New(KindValidation, message) }
func NotFound(message string) *Error   { return New(KindNotFound, message) }
func Auth(message string) *Error       { return New(KindAuth, message) }
func Conflict(message string) *Error   { return New(KindConflict, message) }
func Config(message string) *Error     { return New(KindConfig, message) }

func InsufficientCredits(balance int64) *Error {
	return New(KindInsufficientCredits, "Insufficient credits").WithField("creditBalance", balance)
}

func Upstream(message, details string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Details: details, Cause: cause}
}

func Internal(cause error) *Error {
	return Wrap(KindInternal, "Internal server error", cause)
}

// KindOf 返回错误分类，非 *Error 一律视为 Internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
