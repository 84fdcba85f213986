package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/tansive/agentgateway/internal/common/httpx"
	"github.com/tansive/agentgateway/internal/common/logtrace"
	"github.com/tansive/agentgateway/internal/gateway/turn"
)

// APIVersionHeader carries the client's API version. Requests without it are accepted.
const APIVersionHeader = "X-AgentGW-API-Version"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ChatRequest is the /chat/stream body.
type ChatRequest struct {
	UserID    string `json:"user_id" validate:"required,max=256"`
	Message   string `json:"message" validate:"required"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=256"`
}

// chatStream runs one turn and writes its events as server-sent events. The turn
// stops when the client goes away; the session is left as it was.
func (s *GatewayServer) chatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChatRequest
	if err := httpx.GetRequestData(r, &req); err != nil {
		httpx.SendAnyError(w, err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if err := validate.Struct(&req); err != nil {
		httpx.ErrInvalidRequest(describeValidation(err)).Send(w)
		return
	}

	sse, err := httpx.NewSSEWriter(w)
	if err != nil {
		httpx.SendAnyError(w, err)
		return
	}
	defer sse.Close()

	start := time.Now()
	outcome := s.runner.Start(ctx, turn.StartRequest{
		UserID:    req.UserID,
		Message:   req.Message,
		SessionID: req.SessionID,
	}, func(e turn.Event) error {
		return sse.WriteEvent(e.Name, e.Data)
	})

	log.Ctx(ctx).Info().
		Str("user_id", req.UserID).
		Str("session_id", logtrace.ShortID(req.SessionID)).
		Str("outcome", outcome.String()).
		Dur("elapsed", time.Since(start)).
		Msg("chat turn finished")
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Field() {
	case "UserID":
		field = "user_id"
	case "SessionID":
		field = "session_id"
	}
	if fe.Tag() == "required" {
		return field + " is required"
	}
	return field + " is invalid"
}

// checkAPIVersion rejects clients that announce an API version this server cannot serve.
func checkAPIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get(APIVersionHeader); v != "" && !IsAPICompatible(v) {
			httpx.ErrInvalidRequest("unsupported api version " + v + ", server speaks " + APIVersion).Send(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
