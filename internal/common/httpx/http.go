// Package httpx provides HTTP request/response handling utilities shared by the gateway
// handlers: JSON request decoding, a handler signature that returns a response or an
// error, consistent error bodies, and a server-sent events writer.
package httpx

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tansive/agentgateway/internal/common/apperrors"
)

// MaxRequestBody bounds decoded JSON request bodies.
const MaxRequestBody int64 = 1 << 20

// GetRequestData parses a JSON request body into data.
// Only POST and PUT are accepted.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil || r.Body == http.NoBody {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBody))
	if err := dec.Decode(data); err != nil {
		log.Ctx(r.Context()).Debug().Err(err).Msg("unable to decode request")
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response is what a RequestHandler returns on success.
type Response struct {
	StatusCode  int
	Location    string
	Response    any
	ContentType string
}

// RequestHandler handles a request and returns either a response or an error.
// Errors of type *Error or apperrors.Error are mapped to their status codes.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp adapts a RequestHandler to http.HandlerFunc.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			SendAnyError(w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		if rsp.StatusCode == 0 {
			rsp.StatusCode = http.StatusOK
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		switch rsp.ContentType {
		case "application/json":
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
		case "text/plain":
			s, _ := rsp.Response.(string)
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(rsp.StatusCode)
			w.Write([]byte(s))
		default:
			ErrApplicationError("unsupported response type").Send(w)
		}
	})
}

// SendAnyError writes err as a JSON error body.
func SendAnyError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *Error:
		e.Send(w)
	case apperrors.Error:
		SendError(w, e)
	default:
		ErrApplicationError(err.Error()).Send(w)
	}
}
