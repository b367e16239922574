package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	iauth "github.com/charlesng35/sponsor/internal/auth"
	"github.com/charlesng35/sponsor/internal/relay"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		principal string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed identity token",
		Long:  "Mints an identity token with the shared secret. Defaults to the relay principal.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(principal) == "" {
				principal = cfg.Relay.Principal
			}

			jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
			if err != nil {
				return fmt.Errorf("initialise jwt service: %w", err)
			}
			token, err := jwtSvc.IssueIdentityToken(iauth.IdentityTokenInput{
				Principal: principal,
				Audience:  []string{relay.Audience},
				TTL:       ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&principal, "principal", "", "Principal to embed (defaults to relay.principal)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.jwt.token_ttl)")
	return cmd
}
