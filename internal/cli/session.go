package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tansive/agentgateway/pkg/api"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and remove gateway sessions",
	Long: `Inspect and remove gateway sessions. Commands that take a session id default to
the remembered session.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "get [session-id]",
	Short: "Show a session and the providers it holds credentials for",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := sessionArg(args)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		info, err := client.GetSession(cmd.Context(), sid)
		if err != nil {
			return err
		}

		if printStructured(map[string]any{
			"session_id": info.SessionID,
			"user_id":    info.UserID,
			"auth":       info.Auth,
		}) {
			return nil
		}
		fmt.Printf("Session: %s\n", info.SessionID)
		fmt.Printf("User:    %s\n", info.UserID)
		providers := make([]string, 0, len(info.Auth))
		for p := range info.Auth {
			providers = append(providers, p)
		}
		sort.Strings(providers)
		for _, p := range providers {
			if info.Auth[p] {
				okLabel.Printf("  %-12s authorized\n", p)
			} else {
				fmt.Printf("  %-12s not authorized\n", p)
			}
		}
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Delete a session and every credential it holds",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := sessionArg(args)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.DeleteSession(cmd.Context(), sid); err != nil {
			return err
		}
		if sid == GetConfig().SessionID {
			if err := rememberSession(""); err != nil {
				warnLabel.Printf("Warning: could not forget session: %v\n", err)
			}
		}
		if jsonOutput {
			printJSON(map[string]string{"status": "deleted", "session_id": sid})
		} else {
			fmt.Printf("Session %s deleted\n", sid)
		}
		return nil
	},
}

var sessionUserCmd = &cobra.Command{
	Use:   "user <user-id>",
	Short: "Show a user's most recent session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		sid, err := client.UserSession(cmd.Context(), args[0])
		if err != nil {
			if api.IsNotFound(err) {
				return fmt.Errorf("user %s has no session", args[0])
			}
			return err
		}
		if jsonOutput {
			printJSON(map[string]string{"user_id": args[0], "session_id": sid})
		} else {
			fmt.Println(sid)
		}
		return nil
	},
}

// sessionArg returns the explicit session id or the remembered one.
func sessionArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg := GetConfig(); cfg != nil && cfg.SessionID != "" {
		return cfg.SessionID, nil
	}
	return "", errors.New("no session id given and none remembered")
}

func init() {
	sessionCmd.AddCommand(sessionGetCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	sessionCmd.AddCommand(sessionUserCmd)
	rootCmd.AddCommand(sessionCmd)
}
