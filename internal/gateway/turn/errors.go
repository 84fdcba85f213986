package turn

import (
	"net/http"

	"github.com/tansive/agentgateway/internal/common/apperrors"
)

// ErrorKind is the error event type for failures inside a turn.
const ErrorKind = "TurnExecutionError"

var (
	ErrTurnExecution apperrors.Error = apperrors.New("turn execution failed").SetStatusCode(http.StatusInternalServerError).SetKind(ErrorKind)
	ErrEnginePanic   apperrors.Error = ErrTurnExecution.New("internal error during turn")
	ErrUnknownChunk  apperrors.Error = ErrTurnExecution.New("engine produced an unknown chunk")
	ErrTokenStore    apperrors.Error = ErrTurnExecution.New("unable to store credential").SetKind("TokenStoreError")
)
