package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	authCode    string
	authState   string
	authSession string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Complete or revoke provider authorizations",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var authCompleteCmd = &cobra.Command{
	Use:   "complete <provider>",
	Short: "Hand an authorization code to the gateway",
	Long: `Hand an authorization code to the gateway, as the provider's redirect would.
Use it when the redirect cannot reach the gateway.

The state from the authorization link identifies the session. Without it, the
session is --session or the remembered one.

Examples:
  agentgw auth complete github --code 4d1f... --state eyJhbGci...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if authCode == "" {
			return errors.New("--code is required")
		}
		sid := authSession
		if sid == "" && authState == "" {
			var err error
			if sid, err = sessionArg(nil); err != nil {
				return err
			}
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		res, err := client.OAuthCallback(cmd.Context(), args[0], authCode, sid, authState)
		if err != nil {
			return err
		}
		if printStructured(res) {
			return nil
		}
		okLabel.Println(res.Message)
		fmt.Printf("Session: %s\n", res.SessionID)
		return nil
	},
}

var authRevokeCmd = &cobra.Command{
	Use:   "revoke <provider>",
	Short: "Drop a session's credential for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sid := authSession
		if sid == "" {
			var err error
			if sid, err = sessionArg(nil); err != nil {
				return err
			}
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.RevokeProvider(cmd.Context(), sid, args[0]); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]string{"status": "revoked", "provider": args[0], "session_id": sid})
		} else {
			fmt.Printf("Revoked %s for session %s\n", args[0], sid)
		}
		return nil
	},
}

func init() {
	authCmd.PersistentFlags().StringVarP(&authSession, "session", "s", "", "Session id, defaults to the remembered session")
	authCompleteCmd.Flags().StringVar(&authCode, "code", "", "Authorization code")
	authCompleteCmd.Flags().StringVar(&authState, "state", "", "State from the authorization link")

	authCmd.AddCommand(authCompleteCmd)
	authCmd.AddCommand(authRevokeCmd)
	rootCmd.AddCommand(authCmd)
}
