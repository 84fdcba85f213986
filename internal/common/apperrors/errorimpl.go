package apperrors

import (
	"errors"
	"strings"
)

type appError struct {
	msg        string
	parent     error
	causes     []error
	statusCode int
	kind       string
	expand     bool
}

func (e *appError) Error() string {
	return e.msg
}

// ErrorAll joins the message with every cause when expansion is enabled.
func (e *appError) ErrorAll() string {
	if !e.expand || len(e.causes) == 0 {
		return e.msg
	}
	parts := make([]string, 0, len(e.causes)+1)
	parts = append(parts, e.msg)
	for _, c := range e.causes {
		if c == nil || c.Error() == e.msg {
			continue
		}
		parts = append(parts, c.Error())
	}
	return strings.Join(parts, "; ")
}

func (e *appError) Unwrap() error {
	return e.parent
}

func (e *appError) UnwrapAll() []error {
	return e.causes
}

// derive builds a child that inherits status, kind and expansion from e.
func (e *appError) derive(msg string, causes []error) *appError {
	return &appError{
		msg:        msg,
		parent:     e,
		causes:     causes,
		statusCode: e.statusCode,
		kind:       e.kind,
		expand:     e.expand,
	}
}

func (e *appError) New(msg string) Error {
	return e.derive(msg, nil)
}

func (e *appError) Msg(msg string) Error {
	return e.derive(msg, append([]error{e}, e.causes...))
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	return e.derive(msg, append([]error{e}, errs...))
}

func (e *appError) Err(errs ...error) Error {
	return e.derive(e.msg, append([]error{e}, errs...))
}

func (e *appError) SetExpandError(flag bool) Error {
	cp := *e
	cp.expand = flag
	return &cp
}

func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.statusCode = code
	return &cp
}

func (e *appError) StatusCode() int {
	return e.statusCode
}

func (e *appError) SetKind(kind string) Error {
	cp := *e
	cp.kind = kind
	return &cp
}

func (e *appError) Kind() string {
	return e.kind
}

// Is matches target against the parent chain and every attached cause.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.parent, target) {
		return true
	}
	for _, c := range e.causes {
		if errors.Is(c, target) {
			return true
		}
	}
	return false
}

// New creates a root error.
func New(msg string) Error {
	return &appError{msg: msg}
}
