package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopsite/fulfillment/internal/platform/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		secret  string
		issuer  string
		subject string
		role    string
		email   string
		locale  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		Long:  "token signs an HS256 token accepted by the API when FULFILLMENT_AUTH_DEV_TOKEN_SECRET is set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" || issuer == "" {
				env, err := a.environment(a.envFile)
				if err != nil {
					return err
				}
				if secret == "" {
					secret = strings.TrimSpace(env["FULFILLMENT_AUTH_DEV_TOKEN_SECRET"])
				}
				if issuer == "" {
					issuer = strings.TrimSpace(env["FULFILLMENT_AUTH_DEV_TOKEN_ISSUER"])
				}
			}
			if secret == "" {
				return errors.New("token: no signing secret; pass --secret or set FULFILLMENT_AUTH_DEV_TOKEN_SECRET")
			}
			if strings.Contains(secret, "://") {
				return errors.New("token: signing secret is a secret reference; pass the resolved value with --secret")
			}

			token, err := auth.IssueDevToken(auth.DevTokenRequest{
				Secret:  secret,
				Issuer:  issuer,
				Subject: subject,
				Role:    role,
				Email:   email,
				Locale:  locale,
				TTL:     ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret (defaults to FULFILLMENT_AUTH_DEV_TOKEN_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer claim (defaults to FULFILLMENT_AUTH_DEV_TOKEN_ISSUER)")
	cmd.Flags().StringVar(&subject, "sub", "", "user id placed in the sub claim")
	cmd.Flags().StringVar(&role, "role", auth.RoleCustomer, "customer, merchant or admin")
	cmd.Flags().StringVar(&email, "email", "", "optional email claim")
	cmd.Flags().StringVar(&locale, "locale", "", "optional locale claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
