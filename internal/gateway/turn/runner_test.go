package turn

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tansive/agentgateway/internal/gateway/session"
)

// scriptedEngine replays a fixed list of steps. A step is a Chunk, an error, or a
// panic value wrapped in panicStep.
type scriptedEngine struct {
	steps    []any
	startErr error
	recvs    atomic.Int32
	closed   atomic.Int32
	lastReq  TurnRequest
}

type panicStep struct{ v any }

func (e *scriptedEngine) RunTurn(ctx context.Context, req TurnRequest) (Streamer, error) {
	e.lastReq = req
	if e.startErr != nil {
		return nil, e.startErr
	}
	return &scriptedStream{engine: e, ctx: ctx}, nil
}

type scriptedStream struct {
	engine *scriptedEngine
	ctx    context.Context
	pos    int
}

func (s *scriptedStream) Recv() (Chunk, error) {
	s.engine.recvs.Add(1)
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.engine.steps) {
		return nil, io.EOF
	}
	step := s.engine.steps[s.pos]
	s.pos++
	switch v := step.(type) {
	case Chunk:
		return v, nil
	case error:
		return nil, v
	case panicStep:
		panic(v.v)
	}
	return nil, errors.New("bad step")
}

func (s *scriptedStream) Close() error {
	s.engine.closed.Add(1)
	return nil
}

type fakeExchanger struct {
	bundle *session.TokenBundle
	err    error
	calls  atomic.Int32
}

func (f *fakeExchanger) Exchange(_ context.Context, _, _ string) (*session.TokenBundle, error) {
	f.calls.Add(1)
	return f.bundle, f.err
}

type recorder struct {
	events []Event
}

func (r *recorder) emit(e Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) names() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func TestStartPendingAuthScenario(t *testing.T) {
	authURL := "https://github.com/login/oauth/authorize?client_id=x&state=y"
	engine := &scriptedEngine{steps: []any{
		AuthRequiredChunk{Provider: "github", AuthURL: authURL, Description: "Connect GitHub"},
		TextChunk{Content: "never read"},
	}}
	mgr := session.NewManager()
	r := NewRunner(mgr, engine, &fakeExchanger{})
	rec := &recorder{}

	outcome := r.Start(context.Background(), StartRequest{UserID: "u1", Message: "list my repos"}, rec.emit)

	assert.Equal(t, OutcomePendingAuth, outcome)
	require.Equal(t, []string{EventSession, EventPendingAuth}, rec.names())
	sessPayload := rec.events[0].Data.(SessionPayload)
	assert.Equal(t, "u1", sessPayload.UserID)
	pending := rec.events[1].Data.(PendingAuthPayload)
	assert.Equal(t, authURL, pending.AuthURL)
	assert.Equal(t, "github", pending.Provider)
	assert.Equal(t, "Connect GitHub", pending.Description)
	assert.Equal(t, sessPayload.SessionID, pending.SessionID)
	assert.Equal(t, int32(1), engine.recvs.Load(), "no chunk is read after the auth interrupt")
	assert.Equal(t, int32(1), engine.closed.Load())
	assert.Equal(t, "list my repos", engine.lastReq.Message)

	_, err := mgr.Get(sessPayload.SessionID)
	assert.NoError(t, err, "a suspended session is kept")
}

func TestStartStreamsMessages(t *testing.T) {
	engine := &scriptedEngine{steps: []any{
		TextChunk{Content: "Hello"},
		TextChunk{Content: "calling github__list_repos", Type: TypeToolCall},
	}}
	mgr := session.NewManager()
	existing, _, _ := mgr.GetOrCreate(context.Background(), "u1", "")
	r := NewRunner(mgr, engine, &fakeExchanger{})
	rec := &recorder{}

	outcome := r.Start(context.Background(), StartRequest{UserID: "u1", Message: "hi", SessionID: existing.ID()}, rec.emit)

	assert.Equal(t, OutcomeDone, outcome)
	assert.Equal(t, []string{EventSession, EventMessage, EventMessage, EventDone}, rec.names())
	assert.Equal(t, existing.ID(), rec.events[0].Data.(SessionPayload).SessionID)
	assert.Equal(t, MessagePayload{Content: "Hello", Type: TypeText}, rec.events[1].Data)
	assert.Equal(t, MessagePayload{Content: "calling github__list_repos", Type: TypeToolCall}, rec.events[2].Data)
	assert.Equal(t, DonePayload{Status: "completed"}, rec.events[3].Data)
	assert.Same(t, existing, engine.lastReq.Session)
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name     string
		engine   *scriptedEngine
		wantErr  string
		wantType string
	}{
		{
			name:     "engine error mid stream",
			engine:   &scriptedEngine{steps: []any{TextChunk{Content: "a"}, errors.New("model unavailable")}},
			wantErr:  "model unavailable",
			wantType: ErrorKind,
		},
		{
			name:     "engine fails to start",
			engine:   &scriptedEngine{startErr: ErrTurnExecution.Msg("no api key")},
			wantErr:  "no api key",
			wantType: ErrorKind,
		},
		{
			name:     "engine panics",
			engine:   &scriptedEngine{steps: []any{panicStep{"boom"}}},
			wantErr:  ErrEnginePanic.Error(),
			wantType: ErrorKind,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(session.NewManager(), tt.engine, &fakeExchanger{})
			rec := &recorder{}
			outcome := r.Start(context.Background(), StartRequest{UserID: "u1", Message: "m"}, rec.emit)

			assert.Equal(t, OutcomeFailed, outcome)
			last := rec.events[len(rec.events)-1]
			require.Equal(t, EventError, last.Name)
			assert.Equal(t, ErrorPayload{Error: tt.wantErr, Type: tt.wantType}, last.Data)
			assert.Equal(t, EventSession, rec.events[0].Name)
		})
	}
}

func TestStartStopsWhenClientGoes(t *testing.T) {
	t.Run("emit failure", func(t *testing.T) {
		engine := &scriptedEngine{steps: []any{TextChunk{Content: "a"}, TextChunk{Content: "b"}, TextChunk{Content: "c"}}}
		mgr := session.NewManager()
		r := NewRunner(mgr, engine, &fakeExchanger{})
		var sent []Event
		emit := func(e Event) error {
			if e.Name == EventMessage {
				return errors.New("broken pipe")
			}
			sent = append(sent, e)
			return nil
		}
		assert.Equal(t, OutcomeCancelled, r.Start(context.Background(), StartRequest{UserID: "u1", Message: "m"}, emit))
		assert.Equal(t, int32(1), engine.recvs.Load())
		assert.Equal(t, int32(1), engine.closed.Load())
		require.Len(t, sent, 1)
		_, err := mgr.Get(sent[0].Data.(SessionPayload).SessionID)
		assert.NoError(t, err, "disconnects keep session state")
	})

	t.Run("context cancelled", func(t *testing.T) {
		engine := &scriptedEngine{steps: []any{TextChunk{Content: "a"}, TextChunk{Content: "b"}}}
		r := NewRunner(session.NewManager(), engine, &fakeExchanger{})
		ctx, cancel := context.WithCancel(context.Background())
		rec := &recorder{}
		emit := func(e Event) error {
			_ = rec.emit(e)
			if e.Name == EventMessage {
				cancel()
			}
			return nil
		}
		assert.Equal(t, OutcomeCancelled, r.Start(ctx, StartRequest{UserID: "u1", Message: "m"}, emit))
		assert.Equal(t, []string{EventSession, EventMessage}, rec.names())
		assert.Equal(t, int32(1), engine.closed.Load())
	})
}

func TestEventOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	// 0 text, 1 tool text, 2 auth required, 3 engine error, 4 panic
	toStep := func(k int) any {
		switch k {
		case 0:
			return TextChunk{Content: "t"}
		case 1:
			return TextChunk{Content: "tool", Type: TypeToolCall}
		case 2:
			return AuthRequiredChunk{Provider: "github", AuthURL: "https://example.com/auth"}
		case 3:
			return errors.New("engine failure")
		default:
			return panicStep{"boom"}
		}
	}

	properties.Property("session, message*, exactly one terminal", prop.ForAll(
		func(kinds []int) bool {
			steps := make([]any, len(kinds))
			for i, k := range kinds {
				steps[i] = toStep(k)
			}
			r := NewRunner(session.NewManager(), &scriptedEngine{steps: steps}, &fakeExchanger{})
			rec := &recorder{}
			r.Start(context.Background(), StartRequest{UserID: "u", Message: "m"}, rec.emit)

			events := rec.events
			if len(events) < 2 || events[0].Name != EventSession {
				return false
			}
			for _, e := range events[1 : len(events)-1] {
				if e.Name != EventMessage {
					return false
				}
			}
			if !events[len(events)-1].Terminal() {
				return false
			}

			// the terminal event matches the first non-text step
			want := EventDone
			for _, k := range kinds {
				if k == 2 {
					want = EventPendingAuth
					break
				}
				if k >= 3 {
					want = EventError
					break
				}
			}
			return events[len(events)-1].Name == want
		},
		gen.SliceOf(gen.IntRange(0, 4)),
	))
	properties.TestingRun(t)
}

func TestResume(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the token", func(t *testing.T) {
		mgr := session.NewManager()
		sess, _, _ := mgr.GetOrCreate(ctx, "u1", "")
		ex := &fakeExchanger{bundle: &session.TokenBundle{AccessToken: "gho_X", TokenType: "Bearer"}}
		r := NewRunner(mgr, &scriptedEngine{}, ex)

		res, err := r.Resume(ctx, sess.ID(), "github", "abc123")
		require.NoError(t, err)
		assert.Equal(t, &ResumeResult{
			Status:    "success",
			Provider:  "github",
			SessionID: sess.ID(),
			Message:   "Github authentication successful",
		}, res)
		stored, ok := sess.GetToken("github")
		require.True(t, ok)
		assert.Equal(t, "gho_X", stored.AccessToken)
	})

	t.Run("unknown session", func(t *testing.T) {
		ex := &fakeExchanger{bundle: &session.TokenBundle{AccessToken: "x"}}
		r := NewRunner(session.NewManager(), &scriptedEngine{}, ex)
		_, err := r.Resume(ctx, "missing", "github", "abc")
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
		assert.Equal(t, int32(0), ex.calls.Load())
	})

	t.Run("exchange error leaves the session untouched", func(t *testing.T) {
		mgr := session.NewManager()
		sess, _, _ := mgr.GetOrCreate(ctx, "u1", "")
		require.NoError(t, sess.PutToken("github", &session.TokenBundle{AccessToken: "previous"}))
		exErr := errors.New("bad_verification_code")
		r := NewRunner(mgr, &scriptedEngine{}, &fakeExchanger{err: exErr})

		_, err := r.Resume(ctx, sess.ID(), "github", "bad")
		assert.Same(t, exErr, err)
		stored, _ := sess.GetToken("github")
		assert.Equal(t, "previous", stored.AccessToken)
	})
}

type countingObserver struct {
	outcomes []string
	pending  []string
}

func (o *countingObserver) TurnFinished(outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
}

func (o *countingObserver) PendingAuth(provider string) {
	o.pending = append(o.pending, provider)
}

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	engine := &scriptedEngine{steps: []any{AuthRequiredChunk{Provider: "carbon"}}}
	r := NewRunner(session.NewManager(), engine, &fakeExchanger{}, WithObserver(obs))
	r.Start(context.Background(), StartRequest{UserID: "u1"}, (&recorder{}).emit)
	assert.Equal(t, []string{"pending_auth"}, obs.outcomes)
	assert.Equal(t, []string{"carbon"}, obs.pending)
}
