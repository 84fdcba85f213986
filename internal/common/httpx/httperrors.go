package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/tansive/agentgateway/internal/common/apperrors"
)

// Error is an HTTP error response.
type Error struct {
	Description string `json:"description"`
	StatusCode  int    `json:"http_status_code"`
	Kind        string `json:"type,omitempty"`
}

// errorRsp keeps the result/error pair and mirrors the message under detail
// for clients written against the original gateway.
type errorRsp struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
	Detail string `json:"detail"`
	Type   string `json:"type,omitempty"`
}

// Failure is the result code carried in every error body.
const Failure int = 0

// Send writes the error to w. A nil writer is ignored.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	rspJson, err := json.Marshal(&errorRsp{
		Result: Failure,
		Error:  e.Description,
		Detail: e.Description,
		Type:   e.Kind,
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("unable to encode error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(rspJson)
}

func (e *Error) Error() string {
	return e.Description
}

// SendError writes an application error, defaulting to 500 when it carries no status.
func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	statusCode := err.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	httperror := &Error{
		StatusCode:  statusCode,
		Description: err.ErrorAll(),
		Kind:        err.Kind(),
	}
	httperror.Send(w)
}

func ErrReqMethodNotSupported() *Error {
	return &Error{
		Description: "request method not supported",
		StatusCode:  http.StatusMethodNotAllowed,
	}
}

func ErrUnableToParseReqData() *Error {
	return &Error{
		Description: "unable to parse request data",
		StatusCode:  http.StatusBadRequest,
	}
}

// ErrApplicationError returns a 500. If no message is provided, a default message is used.
func ErrApplicationError(err ...string) *Error {
	s := "unable to process request"
	if len(err) > 0 {
		s = err[0]
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusInternalServerError,
	}
}

// ErrInvalidRequest returns a 400. If no message is provided, a default message is used.
func ErrInvalidRequest(str ...string) *Error {
	s := "invalid request data or empty request values"
	if len(str) > 0 {
		s = str[0]
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrRequestTimeout() *Error {
	return &Error{
		Description: "request timed out",
		StatusCode:  http.StatusRequestTimeout,
	}
}

func ErrTooManyRequests() *Error {
	return &Error{
		Description: "too many requests",
		StatusCode:  http.StatusTooManyRequests,
	}
}

func ErrStreamingNotSupported() *Error {
	return &Error{
		Description: "streaming not supported",
		StatusCode:  http.StatusInternalServerError,
	}
}
