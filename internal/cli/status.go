package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get gateway readiness and version",
	Long: `Get gateway readiness and version: live sessions, configured providers and
uptime.

Examples:
  agentgw status
  agentgw status -j`,
	RunE: getStatus,
}

func getStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ready, err := client.Ready(cmd.Context())
	if err != nil {
		return fmt.Errorf("gateway at %s is not ready: %w", GetConfig().ServerURL, err)
	}
	version, err := client.Version(cmd.Context())
	if err != nil {
		return err
	}

	if printStructured(map[string]any{
		"server":         GetConfig().ServerURL,
		"status":         ready.Status,
		"sessions":       ready.Sessions,
		"providers":      ready.Providers,
		"uptime":         ready.Uptime,
		"server_version": version.ServerVersion,
		"api_version":    version.ApiVersion,
		"engine":         version.Engine,
		"version_cli":    getCLIVersion(),
	}) {
		return nil
	}

	okLabel.Printf("%s is %s\n", GetConfig().ServerURL, ready.Status)
	fmt.Printf("Server Version: %s\n", version.ServerVersion)
	fmt.Printf("API Version:    %s\n", version.ApiVersion)
	fmt.Printf("Engine:         %s\n", version.Engine)
	fmt.Printf("Sessions:       %d\n", ready.Sessions)
	fmt.Printf("Providers:      %s\n", strings.Join(ready.Providers, ", "))
	fmt.Printf("Uptime:         %s\n", ready.Uptime)
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
