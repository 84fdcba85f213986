package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"

	"github.com/tansive/agentgateway/internal/gateway/session"
	"github.com/tansive/agentgateway/internal/gateway/tools"
	"github.com/tansive/agentgateway/internal/gateway/turn"
)

const (
	historyKey  = "engine.history"
	connectTool = "connect"

	DefaultModel         = "gpt-4o"
	DefaultMaxToolRounds = 8
	DefaultMaxHistory    = 50
)

// DefaultSystemPrompt is used when none is configured.
const DefaultSystemPrompt = `You are an assistant with access to the user's connected accounts through tools.
Tool names are "<provider>__<tool>". A tool named "<provider>__connect" means the user has not connected that
provider yet; call it when the request needs that provider and the user will be asked to sign in.
Never ask the user for passwords or tokens.`

var ErrToolRounds = turn.ErrTurnExecution.New("tool call limit reached for this turn")

// OpenAIConfig configures the OpenAI engine.
type OpenAIConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	SystemPrompt  string
	MaxToolRounds int
	MaxHistory    int
}

// OpenAI runs turns against the chat completions API. Tool calls go to the
// providers' MCP servers with the session's credentials; a call rejected for lack of
// authorization suspends the turn.
type OpenAI struct {
	client       openai.Client
	model        string
	systemPrompt string
	maxRounds    int
	maxHistory   int
	tools        ToolSource
	auth         Authorizer
}

var _ turn.Engine = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig, src ToolSource, auth Authorizer, opts ...option.RequestOption) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)

	e := &OpenAI{
		client:       openai.NewClient(reqOpts...),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxRounds:    cfg.MaxToolRounds,
		maxHistory:   cfg.MaxHistory,
		tools:        src,
		auth:         auth,
	}
	if e.model == "" {
		e.model = DefaultModel
	}
	if e.systemPrompt == "" {
		e.systemPrompt = DefaultSystemPrompt
	}
	if e.maxRounds <= 0 {
		e.maxRounds = DefaultMaxToolRounds
	}
	if e.maxHistory <= 0 {
		e.maxHistory = DefaultMaxHistory
	}
	return e
}

func (e *OpenAI) RunTurn(ctx context.Context, req turn.TurnRequest) (turn.Streamer, error) {
	if req.Session == nil {
		return nil, turn.ErrTurnExecution.Msg("no session for turn")
	}
	return startStream(ctx, func(ctx context.Context, emit emitFunc) error {
		return e.run(ctx, req.Session, req.Message, emit)
	}), nil
}

func (e *OpenAI) run(ctx context.Context, sess *session.Session, message string, emit emitFunc) error {
	available, needsAuth := toolsByProvider(ctx, e.tools, sess)

	history := loadHistory(sess)
	turnMessages := []openai.ChatCompletionMessageParamUnion{openai.UserMessage(message)}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Tools: e.toolParams(available, needsAuth),
	}

	for round := 0; round < e.maxRounds; round++ {
		params.Messages = append(append([]openai.ChatCompletionMessageParamUnion{openai.SystemMessage(e.systemPrompt)}, history...), turnMessages...)

		completion, err := e.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return turn.ErrTurnExecution.MsgErr("model request failed: "+err.Error(), err)
		}
		if len(completion.Choices) == 0 {
			return turn.ErrTurnExecution.Msg("model returned no choices")
		}
		msg := completion.Choices[0].Message

		if msg.Content != "" {
			if !emit(turn.TextChunk{Content: msg.Content, Type: turn.TypeText}) {
				return nil
			}
		}
		turnMessages = append(turnMessages, msg.ToParam())

		if len(msg.ToolCalls) == 0 {
			storeHistory(sess, append(history, turnMessages...), e.maxHistory)
			return nil
		}

		for _, call := range msg.ToolCalls {
			name := call.Function.Name
			if !emit(turn.TextChunk{Content: "Calling " + name, Type: turn.TypeToolCall}) {
				return nil
			}

			provider, tool, _ := tools.SplitName(name)
			if tool == connectTool && provider != "" {
				return e.suspend(ctx, sess, provider, emit)
			}

			result, err := e.tools.Call(ctx, sess, name, call.Function.Arguments)
			var authErr *tools.AuthRequiredError
			if errors.As(err, &authErr) {
				return e.suspend(ctx, sess, authErr.Provider, emit)
			}
			turnMessages = append(turnMessages, openai.ToolMessage(toolContent(result, err), call.ID))
		}
	}
	return ErrToolRounds
}

// suspend ends the turn with an authorization request. The turn's messages are not
// kept; the client repeats the request once the provider is connected.
func (e *OpenAI) suspend(ctx context.Context, sess *session.Session, provider string, emit emitFunc) error {
	chunk, err := authRequired(e.auth, provider, sess.ID())
	if err != nil {
		return turn.ErrTurnExecution.MsgErr("unable to build authorization url for "+provider, err)
	}
	log.Ctx(ctx).Debug().Str("provider", provider).Msg("tool call needs authorization")
	emit(chunk)
	return nil
}

func (e *OpenAI) toolParams(available []*tools.Tool, needsAuth []string) []openai.ChatCompletionToolParam {
	params := make([]openai.ChatCompletionToolParam, 0, len(available)+len(needsAuth))
	for _, t := range available {
		params = append(params, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.QualifiedName(),
				Description: openai.String(t.Description),
				Parameters:  functionParameters(t.InputSchema),
			},
		})
	}
	for _, provider := range needsAuth {
		description := "Connect the user's " + provider + " account. Call this when the request needs " + provider + "."
		if p, ok := e.auth.Get(provider); ok {
			description = "Connect the user's " + p.DisplayName() + " account. Call this when the request needs " + p.DisplayName() + "."
		}
		params = append(params, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tools.QualifiedName(provider, connectTool),
				Description: openai.String(description),
				Parameters:  functionParameters(nil),
			},
		})
	}
	return params
}

func functionParameters(schema json.RawMessage) openai.FunctionParameters {
	params := openai.FunctionParameters{}
	if len(schema) > 0 && json.Unmarshal(schema, &params) == nil && len(params) > 0 {
		return params
	}
	return openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
}

func toolContent(result *tools.Result, err error) string {
	switch {
	case err != nil:
		return "Error: " + err.Error()
	case result == nil:
		return ""
	case result.IsError:
		return "Error: " + result.Text
	}
	return result.Text
}

func loadHistory(sess *session.Session) []openai.ChatCompletionMessageParamUnion {
	v, ok := sess.Get(historyKey)
	if !ok {
		return nil
	}
	h, _ := v.([]openai.ChatCompletionMessageParamUnion)
	return append([]openai.ChatCompletionMessageParamUnion(nil), h...)
}

// storeHistory keeps the last limit messages. A kept prefix never starts with tool
// results whose assistant message was trimmed away.
func storeHistory(sess *session.Session, h []openai.ChatCompletionMessageParamUnion, limit int) {
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	for len(h) > 0 && h[0].OfTool != nil {
		h = h[1:]
	}
	sess.Set(historyKey, h)
}

// Describe returns a one line description of the engine for logs.
func (e *OpenAI) Describe() string {
	return fmt.Sprintf("openai model=%s tool_rounds=%d", e.model, e.maxRounds)
}

// resetHistory drops the conversation kept in sess.
func resetHistory(sess *session.Session) {
	sess.Delete(historyKey)
}
