package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/tansive/agentgateway/internal/gateway/server"
	"github.com/tansive/agentgateway/pkg/api"
)

var (
	// Global flags
	jsonOutput bool
	yamlOutput bool
	configFile string
	gatewayURL string
)

// GatewayURLEnv overrides the configured gateway url.
const GatewayURLEnv = "AGENTGW_URL"

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)
var warnLabel = color.New(color.FgYellow)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentgw [command] [flags]",
	Short: "agentgw - run and talk to the agent gateway",
	Long: `agentgw runs the agent gateway and talks to a running one.

Examples:
  # Run a gateway
  agentgw serve -c agentgw.conf

  # Point the CLI at it and chat
  agentgw config create --server localhost:8000 --user alice
  agentgw chat "list my open pull requests"

  # Finish a pending authorization by hand
  agentgw auth complete github --code <code> --state <state>`,
	PersistentPreRunE: preRunHandlePersistents,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file to override default")
	rootCmd.PersistentFlags().StringVarP(&gatewayURL, "gateway", "g", "", "Gateway url, overrides the configured server (env "+GatewayURLEnv+")")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&yamlOutput, "yaml", "y", false, "Output in YAML format")

	rootCmd.AddCommand(newVersionCmd())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(map[string]string{"error": err.Error()})
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// preRunHandlePersistents resolves the config file and, for commands that talk to a
// gateway, loads it. A missing file is not an error: the defaults point at a local
// gateway.
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		var err error
		configFile, err = GetDefaultConfigPath()
		if err != nil {
			return err
		}
	}

	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "config", "version", "serve":
			return nil
		}
	}

	if err := LoadConfig(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		useDefaultConfig()
	}
	if env := os.Getenv(GatewayURLEnv); env != "" && gatewayURL == "" {
		gatewayURL = env
	}
	if gatewayURL != "" {
		GetConfig().ServerURL = MorphServer(gatewayURL)
	}
	return nil
}

// newClient returns an api client for the configured gateway.
func newClient() (*api.Client, error) {
	cfg := GetConfig()
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return api.NewClient(cfg.GetServerURL(), api.WithTimeout(30*time.Second))
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of agentgw",
		Run: func(cmd *cobra.Command, args []string) {
			configPath, err := GetDefaultConfigPath()
			if err != nil {
				configPath = "unknown"
			}

			if jsonOutput {
				printJSON(map[string]string{
					"version":     getCLIVersion(),
					"api_version": api.APIVersion,
					"config_file": configPath,
				})
			} else {
				cmd.Printf("agentgw %s (api %s)\n", getCLIVersion(), api.APIVersion)
				cmd.Printf("Config file: %s\n", configPath)
			}
		},
	}
}

// printJSON prints the given value as JSON to stdout
func printJSON(data any) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}

// printYAML prints the given value as YAML, keyed by its json tags.
func printYAML(data any) {
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(yamlData))
}

// printStructured prints data as JSON or YAML when one was requested and reports
// whether it did.
func printStructured(data any) bool {
	switch {
	case jsonOutput:
		printJSON(data)
	case yamlOutput:
		printYAML(data)
	default:
		return false
	}
	return true
}

func getCLIVersion() string {
	return "v" + server.Version
}
