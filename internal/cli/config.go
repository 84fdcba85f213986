package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default name of the config file
const DefaultConfigFile = "config.yaml"

const defaultServerURL = "http://localhost:8000"

// Config is the CLI's view of one gateway and the identity it chats as.
type Config struct {
	// Version of the configuration file format
	Version string `yaml:"version"`
	// ServerURL is the url of the gateway
	ServerURL string `yaml:"server_url"`
	// UserID is sent with every chat turn
	UserID string `yaml:"user_id,omitempty"`
	// SessionID is the session the last chat ran in; chat continues it
	SessionID string `yaml:"session_id,omitempty"`
}

var config *Config

// loadedFromFile is false when the defaults are in use.
var loadedFromFile bool

// GetDefaultConfigPath returns the default path for the config file
// It uses the OS-specific config directory (e.g., ~/.config/agentgw on Linux)
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "agentgw", DefaultConfigFile), nil
}

// LoadConfig loads the configuration from the specified file
// If no file is specified, it uses the default config location
func LoadConfig(file string) error {
	if file == "" {
		var err error
		file, err = GetDefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get default config path: %w", err)
		}
	}

	yamlStr, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}

	var c Config
	if err = yaml.Unmarshal(yamlStr, &c); err != nil {
		return fmt.Errorf("unable to parse config file: %w", err)
	}
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	c.ServerURL = MorphServer(c.ServerURL)

	config = &c
	loadedFromFile = true
	return nil
}

func useDefaultConfig() {
	config = &Config{Version: "0.1.0", ServerURL: defaultServerURL}
	loadedFromFile = false
}

// GetConfig returns the current configuration
func GetConfig() *Config {
	return config
}

// WriteConfig writes the configuration to file, creating its directory.
func (cfg *Config) WriteConfig(file string) error {
	if file == "" {
		return errors.New("file path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}

	yamlStr, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("unable to generate configuration: %w", err)
	}

	if err := os.WriteFile(file, yamlStr, os.FileMode(0600)); err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}
	return nil
}

// ValidateConfig checks the server url.
func (cfg *Config) ValidateConfig() error {
	if cfg.ServerURL == "" {
		return errors.New("server url is required")
	}
	if !strings.HasPrefix(cfg.ServerURL, "http://") && !strings.HasPrefix(cfg.ServerURL, "https://") {
		return errors.New("server url must start with http:// or https://")
	}
	return nil
}

// MorphServer adds http:// when no scheme is given and removes trailing slashes.
func MorphServer(server string) string {
	if server == "" {
		return server
	}
	server = strings.TrimRight(server, "/")
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}
	return server
}

// GetServerURL returns the properly formatted server URL
func (cfg *Config) GetServerURL() string {
	return MorphServer(cfg.ServerURL)
}

// rememberSession stores sid as the session to continue, when a config file is in use.
func rememberSession(sid string) error {
	cfg := GetConfig()
	if cfg == nil || !loadedFromFile || cfg.SessionID == sid {
		return nil
	}
	cfg.SessionID = sid
	return cfg.WriteConfig(configFile)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  `Manage the gateway url and the user the CLI chats as.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Write a new configuration file",
	Long: `Write a new configuration file. Any remembered session is dropped.

Examples:
  agentgw config create --server localhost:8000 --user alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		user, _ := cmd.Flags().GetString("user")

		cfg := &Config{
			Version:   "0.1.0",
			ServerURL: MorphServer(server),
			UserID:    strings.TrimSpace(user),
		}
		if cfg.ServerURL == "" {
			cfg.ServerURL = defaultServerURL
		}
		if err := cfg.ValidateConfig(); err != nil {
			return err
		}
		if err := cfg.WriteConfig(configFile); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}

		if jsonOutput {
			printJSON(map[string]string{
				"server":      cfg.ServerURL,
				"user_id":     cfg.UserID,
				"config_file": configFile,
			})
		} else {
			fmt.Printf("Server configured: %s\n", cfg.ServerURL)
			fmt.Printf("Config file: %s\n", configFile)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := LoadConfig(configFile); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Println("agentgw config file not found. Configure agentgw with \"agentgw config create\" first.")
				return ErrAlreadyHandled
			}
			return err
		}
		cfg := GetConfig()
		if printStructured(cfg) {
			return nil
		}
		fmt.Printf("Server:  %s\n", cfg.ServerURL)
		fmt.Printf("User:    %s\n", cfg.UserID)
		fmt.Printf("Session: %s\n", cfg.SessionID)
		return nil
	},
}

var configClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the remembered session",
	Long:  `Forget the remembered session so the next chat starts a new one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := LoadConfig(configFile); err != nil {
			return err
		}
		cfg := GetConfig()
		cfg.SessionID = ""
		if err := cfg.WriteConfig(configFile); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		if jsonOutput {
			printJSON(map[string]int{"result": 1})
		} else {
			fmt.Println("The next chat starts a new session")
		}
		return nil
	},
}

func init() {
	configCreateCmd.Flags().String("server", "", "Gateway host:port or url (default "+defaultServerURL+")")
	configCreateCmd.Flags().String("user", "", "User id to chat as")

	configCmd.AddCommand(configCreateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configClearCmd)
	rootCmd.AddCommand(configCmd)
}
