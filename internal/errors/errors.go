// Package errors defines the error taxonomy shared by the relay, the
// conversation store and the transport handlers.
package errors

import (
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown      = "UNKNOWN"
	CodeConfig       = "CONFIG"
	CodeConnectivity = "CONNECTIVITY"
	CodeValidation   = "VALIDATION"
	CodeUpstream     = "UPSTREAM"
	CodeConsistency  = "CONSISTENCY"
)

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error represents a basic application error.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if there is none.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// ConfigError is raised when the process is misconfigured or a component is
// used before it was set up. It is fatal at startup.
type ConfigError struct {
	base Error
}

func (e *ConfigError) Error() string {
	return e.base.Error()
}

func (e *ConfigError) Code() string {
	return e.base.Code()
}

func (e *ConfigError) Unwrap() error {
	return e.base.Unwrap()
}

func NewConfigError(message string, cause error) error {
	return &ConfigError{
		base: Error{
			code:    CodeConfig,
			message: message,
			err:     cause,
		},
	}
}

// ConnectivityError marks a store that could not be reached. It is surfaced
// to the caller of the failing request and never retried automatically.
type ConnectivityError struct {
	base Error
}

func (e *ConnectivityError) Error() string {
	return e.base.Error()
}

func (e *ConnectivityError) Code() string {
	return e.base.Code()
}

func (e *ConnectivityError) Unwrap() error {
	return e.base.Unwrap()
}

func NewConnectivityError(message string, cause error) error {
	return &ConnectivityError{
		base: Error{
			code:    CodeConnectivity,
			message: message,
			err:     cause,
		},
	}
}

type ValidationError struct {
	base Error
}

func (e *ValidationError) Error() string {
	return e.base.Error()
}

func (e *ValidationError) Code() string {
	return e.base.Code()
}

func (e *ValidationError) Unwrap() error {
	return e.base.Unwrap()
}

func NewValidationError(message string, cause error) error {
	return &ValidationError{
		base: Error{
			code:    CodeValidation,
			message: message,
			err:     cause,
		},
	}
}

// UpstreamKind classifies an LLM backend failure.
type UpstreamKind string

const (
	KindTimeout     UpstreamKind = "timeout"
	KindAuth        UpstreamKind = "auth"
	KindRateLimit   UpstreamKind = "rate_limit"
	KindUnavailable UpstreamKind = "unavailable"
	KindGeneric     UpstreamKind = "generic"
)

var userMessages = map[UpstreamKind]string{
	KindTimeout:     "Timeout: Запрос к LLM превысил лимит времени. Попробуйте еще раз.",
	KindAuth:        "Authentication error: Проверьте API ключ LLM провайдера.",
	KindRateLimit:   "Rate limit: Превышен лимит запросов. Попробуйте позже.",
	KindUnavailable: "API error: LLM сервис временно недоступен. Попробуйте позже.",
	KindGeneric:     "Произошла непредвиденная ошибка. Попробуйте еще раз.",
}

// UpstreamError is a failure reported by the LLM backend. The raw cause is
// kept for logs; end users only ever see UserMessage.
type UpstreamError struct {
	base Error
	Kind UpstreamKind
}

func (e *UpstreamError) Error() string {
	return e.base.Error()
}

func (e *UpstreamError) Code() string {
	return e.base.Code()
}

func (e *UpstreamError) Unwrap() error {
	return e.base.Unwrap()
}

// UserMessage returns the fixed, human readable text for the error's kind.
func (e *UpstreamError) UserMessage() string {
	if msg, ok := userMessages[e.Kind]; ok {
		return msg
	}
	return userMessages[KindGeneric]
}

func NewUpstreamError(kind UpstreamKind, message string, cause error) error {
	if _, ok := userMessages[kind]; !ok {
		kind = KindGeneric
	}
	return &UpstreamError{
		base: Error{
			code:    CodeUpstream,
			message: message,
			err:     cause,
		},
		Kind: kind,
	}
}

// UpstreamKindOf returns the kind of the first UpstreamError in err's chain.
func UpstreamKindOf(err error) (UpstreamKind, bool) {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Kind, true
	}
	return "", false
}

// ConsistencyWarning reports that a reply was delivered to the user but
// could not be persisted. It is logged and never retried.
type ConsistencyWarning struct {
	base Error
}

func (e *ConsistencyWarning) Error() string {
	return e.base.Error()
}

func (e *ConsistencyWarning) Code() string {
	return e.base.Code()
}

func (e *ConsistencyWarning) Unwrap() error {
	return e.base.Unwrap()
}

func NewConsistencyWarning(message string, cause error) error {
	return &ConsistencyWarning{
		base: Error{
			code:    CodeConsistency,
			message: message,
			err:     cause,
		},
	}
}

// UserMessage maps any error to text that is safe to show an end user.
func UserMessage(err error) string {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.UserMessage()
	}
	return userMessages[KindGeneric]
}
