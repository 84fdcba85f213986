package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tansive/agentgateway/internal/common/logtrace"
	gwconfig "github.com/tansive/agentgateway/internal/gateway/config"
	"github.com/tansive/agentgateway/internal/gateway/server"
)

// TraceEnv turns on route tracing when set to any non-empty value.
const TraceEnv = "AGENTGW_TRACE"

var (
	serveConfigFile string
	serveEnvFiles   []string
	serveTrace      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway until interrupted.

The configuration is TOML. It may reference environment variables as {{ .ENV.NAME }}.
Values from --env-file never override the process environment.

Examples:
  agentgw serve -c agentgw.conf --env-file .env`,
	RunE: func(cmd *cobra.Command, args []string) error {
		slog := log.With().Str("state", "init").Logger()

		if err := gwconfig.LoadConfig(serveConfigFile, serveEnvFiles...); err != nil {
			return fmt.Errorf("loading config file: %w", err)
		}
		cfg := gwconfig.Config()
		logtrace.InitLogger(cfg.LogLevel)
		if serveTrace || os.Getenv(TraceEnv) != "" {
			logtrace.SetTraceEnabled(true)
		}
		slog.Info().Str("config_file", serveConfigFile).Strs("providers", cfg.ProviderNames()).Msg("config loaded")

		g, err := server.NewGateway(cfg)
		if err != nil {
			return fmt.Errorf("creating gateway: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return g.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config-file", "c", "agentgw.conf", "Gateway configuration file")
	serveCmd.Flags().StringSliceVar(&serveEnvFiles, "env-file", nil, "Env files to load before rendering the configuration")
	serveCmd.Flags().BoolVar(&serveTrace, "trace", false, "Print mounted routes at startup (also "+TraceEnv+")")
	rootCmd.AddCommand(serveCmd)
}
