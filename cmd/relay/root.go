package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/charlesng35/sponsor/internal/app"
	iauth "github.com/charlesng35/sponsor/internal/auth"
	"github.com/charlesng35/sponsor/internal/relay"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sponsor-relay",
		Short:         "Caller-side relay for sponsor registries",
		Long:          "Forwards verification and usage-log calls to sponsor registries using the relay's own identity.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration directory or file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(
		newServeCommand(opts),
		newVerifyCommand(opts),
		newLogCommand(opts),
		newTokenCommand(opts),
	)
	return cmd
}

// load reads configuration, fills generated secrets and configures logging.
func (o *rootOptions) load() (*app.Config, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if _, err := app.ApplyRuntimeDefaults(cfg); err != nil {
		return nil, err
	}

	level := cfg.Server.LogLevel
	if strings.TrimSpace(o.logLevel) != "" {
		level = o.logLevel
	}
	if err := app.ConfigureLogging(level, "sponsor-relay"); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return cfg, nil
}

// client builds the relay client from configuration.
func (o *rootOptions) client(cfg *app.Config) (*iauth.JWTService, *relay.Client, error) {
	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("initialise jwt service: %w", err)
	}
	client, err := relay.NewClient(jwtSvc, cfg.Relay.Principal, relay.WithTimeout(cfg.Relay.Timeout))
	if err != nil {
		return nil, nil, err
	}
	return jwtSvc, client, nil
}

func loadConfig(path string) (*app.Config, error) {
	if strings.TrimSpace(path) == "" {
		return app.LoadConfig()
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return app.LoadConfig(path)
	case err == nil:
		return app.LoadConfig(filepath.Dir(path))
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config path %q does not exist", path)
	default:
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
