// Package apperrors provides chainable application errors that carry an HTTP status code
// and a taxonomy kind alongside the message. Errors derive from one another so that
// errors.Is matches any ancestor in the chain.
package apperrors

// Error is an application error. All mutators return a copy so package-level
// sentinels stay immutable.
type Error interface {
	error
	Unwrap() error

	New(msg string) Error                  // derive a sibling error with a new message
	Msg(msg string) Error                  // new message, current error kept as cause
	MsgErr(msg string, err ...error) Error // new message, current error and err kept as causes
	Err(err ...error) Error                // same message, err attached as causes
	SetExpandError(bool) Error             // ErrorAll includes causes when set
	SetStatusCode(int) Error
	StatusCode() int
	SetKind(string) Error // taxonomy name reported to clients, e.g. "ExchangeError"
	Kind() string
	ErrorAll() string
	UnwrapAll() []error
}

// KindOf returns the kind of err if it is an Error, otherwise fallback.
func KindOf(err error, fallback string) string {
	if appErr, ok := err.(Error); ok && appErr.Kind() != "" {
		return appErr.Kind()
	}
	return fallback
}
