package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tansive/agentgateway/internal/common/httpx"
)

// SetTimeout bounds request handling. When the deadline passes before the handler has
// written anything, the client gets a 408. Not for streaming routes.
func SetTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			rw := &lockedWriter{ResponseWriter: httpx.NewResponseWriter(w)}
			r = r.WithContext(ctx)

			done := make(chan struct{})
			go func() {
				defer func() {
					if p := recover(); p != nil {
						log.Ctx(ctx).Error().Msgf("panic in handler: %v", p)
						rw.sendIfUnwritten(httpx.ErrApplicationError())
					}
					close(done)
				}()
				next.ServeHTTP(rw, r)
			}()

			select {
			case <-done:
				return
			case <-ctx.Done():
				rw.sendIfUnwritten(httpx.ErrRequestTimeout())
				log.Ctx(ctx).Error().Dur("timeout", timeout).Msg("request timed out")
				// the handler goroutine sees the cancelled context; wait so it
				// never writes to a recycled ResponseWriter
				<-done
			}
		})
	}
}

// lockedWriter serializes writes between the handler goroutine and the timeout path.
type lockedWriter struct {
	mu sync.Mutex
	*httpx.ResponseWriter
	timedOut bool
}

func (lw *lockedWriter) WriteHeader(code int) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.timedOut {
		return
	}
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *lockedWriter) Write(b []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	return lw.ResponseWriter.Write(b)
}

func (lw *lockedWriter) sendIfUnwritten(e *httpx.Error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.ResponseWriter.Written() || lw.timedOut {
		return
	}
	e.Send(lw.ResponseWriter)
	lw.timedOut = true
}
