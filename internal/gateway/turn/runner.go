package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tansive/agentgateway/internal/common/apperrors"
	"github.com/tansive/agentgateway/internal/common/logtrace"
	"github.com/tansive/agentgateway/internal/gateway/session"
)

// Outcome is how a turn ended.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomePendingAuth
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomePendingAuth:
		return "pending_auth"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Exchanger converts an authorization code into a token bundle.
type Exchanger interface {
	Exchange(ctx context.Context, provider, code string) (*session.TokenBundle, error)
}

// Observer is told how turns end.
type Observer interface {
	TurnFinished(outcome string, elapsed time.Duration)
	PendingAuth(provider string)
}

// StartRequest starts a turn. An empty SessionID creates a new session.
type StartRequest struct {
	UserID    string
	Message   string
	SessionID string
}

// ResumeResult acknowledges a stored credential.
type ResumeResult struct {
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Runner runs turns against an engine and resumes sessions after authorization.
type Runner struct {
	sessions  session.SessionManager
	engine    Engine
	exchanger Exchanger
	observer  Observer
	now       func() time.Time
}

type Option func(*Runner)

// WithObserver reports turn outcomes to o.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

func NewRunner(sessions session.SessionManager, engine Engine, exchanger Exchanger, opts ...Option) *Runner {
	r := &Runner{
		sessions:  sessions,
		engine:    engine,
		exchanger: exchanger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs one turn, delivering events through emit in the order
// session, message*, then exactly one of pending_auth, done or error. If emit fails
// or ctx ends, the turn stops without a terminal event; session state is kept.
func (r *Runner) Start(ctx context.Context, req StartRequest, emit Emitter) Outcome {
	started := r.now()
	t := &turnState{emit: emit}

	outcome := r.run(ctx, req, t)
	if r.observer != nil {
		r.observer.TurnFinished(outcome.String(), r.now().Sub(started))
	}
	log.Ctx(ctx).Info().
		Str("session_id", logtrace.ShortID(t.sessionID)).
		Str("outcome", outcome.String()).
		Int("messages", t.messages).
		Dur("elapsed", r.now().Sub(started)).
		Msg("turn finished")
	return outcome
}

// turnState tracks what a turn has emitted so far.
type turnState struct {
	emit      Emitter
	sessionID string
	messages  int
	terminal  bool
}

// send emits e. Nothing is emitted once a terminal event went out.
func (t *turnState) send(e Event) error {
	if t.terminal {
		return nil
	}
	if e.Terminal() {
		t.terminal = true
	}
	return t.emit(e)
}

func (r *Runner) run(ctx context.Context, req StartRequest, t *turnState) Outcome {
	sess, _, err := r.sessions.GetOrCreate(ctx, req.UserID, req.SessionID)
	if err != nil {
		return r.fail(ctx, t, err)
	}
	t.sessionID = sess.ID()
	ctx = log.Ctx(ctx).With().Str("session_id", logtrace.ShortID(sess.ID())).Logger().WithContext(ctx)

	if err := t.send(Event{Name: EventSession, Data: SessionPayload{SessionID: sess.ID(), UserID: sess.UserID()}}); err != nil {
		return OutcomeCancelled
	}

	stream, err := r.startEngine(ctx, TurnRequest{Session: sess, Message: req.Message})
	if err != nil {
		return r.fail(ctx, t, err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			log.Ctx(ctx).Debug().Err(cerr).Msg("closing engine stream")
		}
	}()

	for {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}
		chunk, err := recv(stream)
		if errors.Is(err, io.EOF) {
			if err := t.send(Event{Name: EventDone, Data: DonePayload{Status: "completed"}}); err != nil {
				return OutcomeCancelled
			}
			return OutcomeDone
		}
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled
			}
			return r.fail(ctx, t, err)
		}

		switch c := chunk.(type) {
		case TextChunk:
			typ := c.Type
			if typ == "" {
				typ = TypeText
			}
			if err := t.send(Event{Name: EventMessage, Data: MessagePayload{Content: c.Content, Type: typ}}); err != nil {
				return OutcomeCancelled
			}
			t.messages++
		case AuthRequiredChunk:
			if r.observer != nil {
				r.observer.PendingAuth(c.Provider)
			}
			log.Ctx(ctx).Info().Str("provider", c.Provider).Msg("turn suspended pending authorization")
			if err := t.send(Event{Name: EventPendingAuth, Data: PendingAuthPayload{
				AuthURL:     c.AuthURL,
				Provider:    c.Provider,
				Description: c.Description,
				SessionID:   sess.ID(),
			}}); err != nil {
				return OutcomeCancelled
			}
			return OutcomePendingAuth
		default:
			return r.fail(ctx, t, ErrUnknownChunk.Msg(fmt.Sprintf("engine produced an unknown chunk %T", chunk)))
		}
	}
}

func (r *Runner) startEngine(ctx context.Context, req TurnRequest) (stream Streamer, err error) {
	defer func() {
		if p := recover(); p != nil {
			logPanic(log.Ctx(ctx), p)
			stream, err = nil, ErrEnginePanic
		}
	}()
	stream, err = r.engine.RunTurn(ctx, req)
	if err == nil && stream == nil {
		err = ErrTurnExecution.Msg("engine returned no stream")
	}
	return stream, err
}

func recv(stream Streamer) (chunk Chunk, err error) {
	defer func() {
		if p := recover(); p != nil {
			logPanic(&log.Logger, p)
			chunk, err = nil, ErrEnginePanic
		}
	}()
	return stream.Recv()
}

func logPanic(logger *zerolog.Logger, p any) {
	logger.Error().Interface("panic", p).Msg("engine panicked")
}

func (r *Runner) fail(ctx context.Context, t *turnState, err error) Outcome {
	log.Ctx(ctx).Error().Err(err).Msg("turn failed")
	payload := ErrorPayload{Error: err.Error(), Type: apperrors.KindOf(err, ErrorKind)}
	if emitErr := t.send(Event{Name: EventError, Data: payload}); emitErr != nil {
		return OutcomeCancelled
	}
	return OutcomeFailed
}

// Resume stores the token obtained for provider with code in the session. It does
// not restart the suspended turn. The session is looked up first, so an unknown
// session fails without calling the token endpoint, and a failed exchange leaves
// the session untouched.
func (r *Runner) Resume(ctx context.Context, sessionID, provider, code string) (*ResumeResult, error) {
	sess, err := r.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	bundle, err := r.exchanger.Exchange(ctx, provider, code)
	if err != nil {
		return nil, err
	}
	if err := sess.PutToken(provider, bundle); err != nil {
		return nil, ErrTokenStore.Err(err)
	}

	log.Ctx(ctx).Info().
		Str("session_id", logtrace.ShortID(sessionID)).
		Str("provider", provider).
		Msg("credential stored for session")
	return &ResumeResult{
		Status:    "success",
		Provider:  provider,
		SessionID: sessionID,
		Message:   cases.Title(language.English).String(provider) + " authentication successful",
	}, nil
}
