package oauth

import (
	"net/http"

	"github.com/tansive/agentgateway/internal/common/apperrors"
)

var (
	// ErrOAuthError is the base error for the oauth package.
	ErrOAuthError apperrors.Error = apperrors.New("oauth error").SetStatusCode(http.StatusInternalServerError)

	ErrUnknownProvider apperrors.Error = ErrOAuthError.New("unknown provider").SetStatusCode(http.StatusNotFound).SetKind("UnknownProvider")
	ErrInvalidState    apperrors.Error = ErrOAuthError.New("invalid oauth state").SetStatusCode(http.StatusBadRequest).SetKind("InvalidState")
	ErrStateSigning    apperrors.Error = ErrOAuthError.New("unable to sign oauth state")
	ErrInvalidProvider apperrors.Error = ErrOAuthError.New("invalid provider configuration")

	ErrCredentialRevoked apperrors.Error = ErrOAuthError.New("credential no longer stored")
)

// ExchangeKind is the error kind reported for failed code exchanges.
const ExchangeKind = "ExchangeError"

// ExchangeError is returned by every failed code exchange, whether the provider
// rejected the code or could not be reached. Code is the provider's error code when
// it reported one.
type ExchangeError struct {
	Provider string
	Code     string
	Message  string
	cause    error
}

func (e *ExchangeError) Error() string {
	return e.Message
}

func (e *ExchangeError) Unwrap() error {
	return e.cause
}

// StatusCode is what the callback endpoint answers with.
func (e *ExchangeError) StatusCode() int {
	return http.StatusBadRequest
}

func (e *ExchangeError) Kind() string {
	return ExchangeKind
}
