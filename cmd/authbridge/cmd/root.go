package cmd

import (
	"errors"
	"fmt"

	"authbridge/pkg/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "authbridge",
	Short: "Desktop OAuth authentication bridge",
	Long: `authbridge signs a desktop application in through the system browser.

Just run:
  authbridge login

Your browser will open, you'll authenticate with the identity provider, and
the credential is stored in your OS keychain.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (environment is used otherwise)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves configuration from the file flag or the environment.
// A missing issuer is reported as a configuration problem, not an auth error.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.FromFile(configFile)
	} else {
		cfg, err = config.FromEnv()
	}
	if errors.Is(err, config.ErrMissingIssuer) {
		return nil, fmt.Errorf("authentication is not configured: set AUTHBRIDGE_ISSUER_URL or provide --config")
	}
	return cfg, err
}

func buildLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}

	log, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
