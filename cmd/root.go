package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cuioss/nifi-uiharness/internal/config"
	"github.com/cuioss/nifi-uiharness/internal/observability"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "uiharness",
	Short:   "uiharness drives browser-based state checks against a NiFi canvas UI.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Initialize configuration loading (Viper)
		if err := initializeConfig(); err != nil {
			basicLogger, _ := zap.NewDevelopment()
			basicLogger.Error("Failed to initialize configuration", zap.Error(err))
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		// 2. Unmarshal the configuration
		var cfg config.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			observability.Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "uiharness"})
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		// 3. Validate the configuration
		if err := cfg.Validate(); err != nil {
			observability.Initialize(cfg.Logger)
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// 4. Store the configuration globally
		config.Set(&cfg)

		// 5. Initialize the logger
		observability.Initialize(cfg.Logger)
		logger := observability.Logger()
		logger.Info("Starting uiharness",
			zap.String("version", Version),
			zap.String("base_url", cfg.Harness.BaseURL),
		)

		return nil
	},
}

// Execute adds all child commands to the root command and runs it. It
// accepts a context passed from main.go for graceful shutdown.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.Logger(); logger != nil {
			// context.Canceled is the normal result of Ctrl-C, not a failure.
			if ctx.Err() == nil {
				logger.Error("Command execution failed", zap.Error(err))
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(observationsCmd)
	rootCmd.AddCommand(versionCmd)
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig() error {
	// Set default values so the harness can run with a minimal config.
	config.SetDefaults(viper.GetViper())

	// 1. Set up config file search paths
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// 2. Environment variable configuration
	viper.SetEnvPrefix("UIHARNESS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicitly bind critical environment variables.
	_ = viper.BindEnv("postgres.url", "UIHARNESS_POSTGRES_URL")
	_ = viper.BindEnv("harness.base_url", "UIHARNESS_BASE_URL")

	// 3. Read the configuration file
	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
