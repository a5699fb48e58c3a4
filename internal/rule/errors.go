package rule

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is against a *ParseError.
var (
	ErrUnsupportedRuleType = errors.New("unsupported rule type")
	ErrEmptyValue          = errors.New("empty value")
	ErrInvalidValueFormat  = errors.New("invalid value format")
	ErrMalformedComposite  = errors.New("malformed composite rule")
)

// ParseError 单行解析错误，均可恢复：调用方丢弃该行并告警
type ParseError struct {
	Kind   error
	Line   string
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Is matches the sentinel kind.
func (e *ParseError) Is(target error) bool { return e.Kind == target }

func (e *ParseError) Unwrap() error { return e.Cause }

func newError(kind error, line, format string, args ...interface{}) *ParseError {
	return &ParseError{Kind: kind, Line: line, Reason: fmt.Sprintf(format, args...)}
}

// KindName 返回错误种类的简短名称，用于报告分组
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedRuleType):
		return "unsupported_rule_type"
	case errors.Is(err, ErrEmptyValue):
		return "empty_value"
	case errors.Is(err, ErrInvalidValueFormat):
		return "invalid_value_format"
	case errors.Is(err, ErrMalformedComposite):
		return "malformed_composite"
	default:
		return "other"
	}
}
