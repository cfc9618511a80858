package main

import (
	"fmt"
	"time"

	"go_certagent/internal/auth"

	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the status API",
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "who the token is for")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeRead}, "granted scopes ("+auth.ScopeRead+", "+auth.ScopeRun+")")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: api jwt_expire_minutes)")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpireMinutes)*time.Minute)
	if err != nil {
		return err
	}
	for _, s := range tokenScopes {
		if s != auth.ScopeRead && s != auth.ScopeRun {
			return fmt.Errorf("unknown scope %q", s)
		}
	}

	token, expireAt, err := issuer.GenerateToken(tokenSubject, tokenScopes, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	cmd.PrintErrf("expires %s\n", expireAt.Format(time.RFC3339))
	return nil
}
