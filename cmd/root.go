package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"live-auction/internal/config"
	"live-auction/utils"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "live-auction",
	Short: "real-time vehicle auction bidding server",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file (empty for env only)")
}

// loadConfig reads .env, then the config file, then validates the result
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		utils.Warn("failed to load .env file", map[string]any{"component": "cmd", "error": err.Error()})
	}

	path := cfgFile
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("expand config path: %w", err)
		}
		path = expanded
		if _, err := os.Stat(path); os.IsNotExist(err) {
			utils.Warn("config file not found, using defaults and environment", map[string]any{"component": "cmd", "path": path})
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
