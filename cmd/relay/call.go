package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/charlesng35/sponsor/internal/app"
)

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Ask a registry whether the relay principal is one of its controllers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			url, err := resolveTarget(cfg, target)
			if err != nil {
				return err
			}
			_, client, err := opts.client(cfg)
			if err != nil {
				return err
			}

			controller, err := client.VerifyRemoteControl(cmd.Context(), url)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s controller=%t\n", client.Principal(), controller)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Configured target name or registry URL")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newLogCommand(opts *rootOptions) *cobra.Command {
	var target, key string

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record one use of a param on a registry",
		Long:  "Submits a usage log for --key. Refusals by the registry are not reported; only transport failures are.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				return fmt.Errorf("--key must not be empty")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			url, err := resolveTarget(cfg, target)
			if err != nil {
				return err
			}
			_, client, err := opts.client(cfg)
			if err != nil {
				return err
			}

			if err := client.RelayUsageLog(cmd.Context(), url, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "usage of %q submitted to %s\n", key, url)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Configured target name or registry URL")
	cmd.Flags().StringVar(&key, "key", "", "Param key to log")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func resolveTarget(cfg *app.Config, name string) (string, error) {
	url, ok := cfg.Relay.Target(name)
	if !ok {
		known := cfg.Relay.TargetNames()
		if len(known) == 0 {
			return "", fmt.Errorf("unknown target %q (no targets configured)", name)
		}
		return "", fmt.Errorf("unknown target %q (known: %s)", name, strings.Join(known, ", "))
	}
	return url, nil
}
