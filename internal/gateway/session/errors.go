package session

import (
	"net/http"

	"github.com/tansive/agentgateway/internal/common/apperrors"
)

var (
	// ErrSessionError is the base error for all session-related errors.
	ErrSessionError apperrors.Error = apperrors.New("error in processing session").SetStatusCode(http.StatusInternalServerError)

	// ErrSessionNotFound is returned by lookups of an unknown session id. Lookups never create.
	ErrSessionNotFound apperrors.Error = ErrSessionError.New("session not found").SetStatusCode(http.StatusNotFound).SetKind("SessionNotFound")

	// ErrInvalidToken is returned when a token bundle without an access token is stored.
	ErrInvalidToken apperrors.Error = ErrSessionError.New("invalid token bundle").SetStatusCode(http.StatusBadRequest).SetKind("InvalidToken")

	// ErrInvalidProvider is returned for an empty provider name.
	ErrInvalidProvider apperrors.Error = ErrSessionError.New("invalid provider").SetStatusCode(http.StatusBadRequest)

	// ErrMissingUser is returned when a session is requested without a user id.
	ErrMissingUser apperrors.Error = ErrSessionError.New("user_id is required").SetStatusCode(http.StatusBadRequest)
)
