package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tansive/agentgateway/pkg/api"
)

var (
	chatUser       string
	chatSession    string
	chatNewSession bool
	chatWait       time.Duration
)

var sessionColor = color.New(color.FgHiMagenta, color.Bold)
var authColor = color.New(color.FgYellow, color.Bold)
var toolColor = color.New(color.FgHiWhite, color.Faint)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Run one chat turn",
	Long: `Run one chat turn and print the streamed answer.

The session of the previous chat is continued unless --new or --session is given.
When a tool needs a provider the session has not authorized, the turn stops and
prints a link. After authorizing, chat again to continue.

Examples:
  agentgw chat "what changed in my repo today?"
  agentgw chat --new --user bob "hello"
  agentgw chat "/connect github"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		opts := chatOptions{
			userID:    firstNonEmpty(chatUser, cfg.UserID),
			sessionID: chatSession,
			message:   strings.Join(args, " "),
			wait:      chatWait,
		}
		if opts.sessionID == "" && !chatNewSession {
			opts.sessionID = cfg.SessionID
		}
		if opts.userID == "" {
			return errors.New("a user id is required: pass --user or run \"agentgw config create --user <id>\"")
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		p := &eventPrinter{out: os.Stdout, raw: jsonOutput}
		res, err := runChat(cmd.Context(), client, opts, p)
		if res.sessionID != "" {
			if err := rememberSession(res.sessionID); err != nil {
				warnLabel.Fprintf(os.Stderr, "Warning: could not remember session: %v\n", err)
			}
		}
		if err != nil {
			return err
		}
		if res.failed {
			return ErrAlreadyHandled
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "", "User id, overrides the configured user")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Session to continue")
	chatCmd.Flags().BoolVar(&chatNewSession, "new", false, "Start a new session")
	chatCmd.Flags().DurationVar(&chatWait, "wait", 0, "Wait up to this long for the gateway to become ready")
	rootCmd.AddCommand(chatCmd)
}

type chatOptions struct {
	userID    string
	sessionID string
	message   string
	wait      time.Duration
}

type chatResult struct {
	sessionID string
	outcome   string
	failed    bool
}

// runChat waits for the gateway when asked to, then streams one turn into p.
func runChat(ctx context.Context, client *api.Client, opts chatOptions, p *eventPrinter) (chatResult, error) {
	var res chatResult
	if opts.wait > 0 {
		if err := waitReady(ctx, client, opts.wait); err != nil {
			return res, err
		}
	}

	err := client.ChatStream(ctx, api.ChatRequest{
		UserID:    opts.userID,
		Message:   opts.message,
		SessionID: opts.sessionID,
	}, func(e api.Event) error {
		if e.Name == api.EventSession {
			var s api.SessionEvent
			if err := e.Decode(&s); err != nil {
				return err
			}
			res.sessionID = s.SessionID
		}
		if e.Terminal() {
			res.outcome = e.Name
			res.failed = e.Name == api.EventError
		}
		return p.Print(e)
	})
	return res, err
}

// waitReady polls /ready until it answers or wait elapses.
func waitReady(ctx context.Context, client *api.Client, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	err := retry.Do(func() error {
		_, err := client.Ready(ctx)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(250*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("gateway not ready after %s: %w", wait, err)
	}
	return nil
}

// eventPrinter renders chat events for a terminal, or as one JSON object per line
// when raw is set.
type eventPrinter struct {
	out io.Writer
	raw bool

	midText bool
}

func (p *eventPrinter) Print(e api.Event) error {
	if p.raw {
		line, err := json.Marshal(struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}{e.Name, e.Data})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.out, string(line))
		return err
	}

	switch e.Name {
	case api.EventSession:
		var s api.SessionEvent
		if err := e.Decode(&s); err != nil {
			return err
		}
		sessionColor.Fprintf(p.out, "Session: %s\n", s.SessionID)
	case api.EventMessage:
		var m api.MessageEvent
		if err := e.Decode(&m); err != nil {
			return err
		}
		if m.Type != "" && m.Type != "text" {
			p.endText()
			toolColor.Fprintf(p.out, "[%s] %s\n", m.Type, m.Content)
			return nil
		}
		fmt.Fprint(p.out, m.Content)
		p.midText = m.Content != "" && !strings.HasSuffix(m.Content, "\n")
	case api.EventPendingAuth:
		var a api.PendingAuthEvent
		if err := e.Decode(&a); err != nil {
			return err
		}
		p.endText()
		authColor.Fprintf(p.out, "Authorization required: %s\n", a.Provider)
		if a.Description != "" {
			fmt.Fprintf(p.out, "  %s\n", a.Description)
		}
		fmt.Fprintf(p.out, "  Open: %s\n", a.AuthURL)
		fmt.Fprintln(p.out, "  Chat again once authorized to continue.")
	case api.EventDone:
		p.endText()
		okLabel.Fprintln(p.out, "Done")
	case api.EventError:
		var ev api.ErrorEvent
		if err := e.Decode(&ev); err != nil {
			return err
		}
		p.endText()
		errorLabel.Fprintf(p.out, "Error: %s\n", ev.Error)
	}
	return nil
}

func (p *eventPrinter) endText() {
	if p.midText {
		fmt.Fprintln(p.out)
		p.midText = false
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
