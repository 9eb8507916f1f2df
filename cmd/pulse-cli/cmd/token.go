package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/pulse/internal/auth"
	"github.com/nfrund/pulse/internal/config"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token",
	Long: `Mint an HS256 bearer token for a user, signed with AUTH_JWT_SECRET.

Examples:
  pulse-cli token --user alice
  pulse-cli token --user alice --ttl 15m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUser == "" {
			return errors.New("--user is required")
		}
		cfg := config.New()
		if cfg.GetJWTSecret() == "" {
			return errors.New("AUTH_JWT_SECRET is not set")
		}

		issuer, err := auth.NewIssuer(auth.Options{
			Secret: []byte(cfg.GetJWTSecret()),
			Issuer: cfg.GetJWTIssuer(),
		})
		if err != nil {
			return err
		}
		token, exp, err := issuer.Issue(tokenUser, tokenTTL)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to put in the sub claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
