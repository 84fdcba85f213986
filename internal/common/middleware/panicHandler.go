package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/tansive/agentgateway/internal/common/httpx"
)

// PanicHandler recovers handler panics, logs the stack and answers 500 if nothing
// was written yet. http.ErrAbortHandler is re-raised so net/http can drop the connection.
func PanicHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := httpx.NewResponseWriter(w)
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			log.Ctx(r.Context()).Error().
				Str("panic", fmt.Sprintf("%v", p)).
				Str("stack_trace", string(debug.Stack())).
				Msg("panic occurred")
			if !rw.Written() {
				httpx.ErrApplicationError().Send(rw)
			}
		}()
		next.ServeHTTP(rw, r)
	})
}
