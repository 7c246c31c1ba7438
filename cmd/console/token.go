package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/commanddeck/internal/domain"
	"github.com/ashureev/commanddeck/internal/identity"
)

var (
	tokenTTL      time.Duration
	tokenEmail    string
	tokenUsername string
	tokenIssuer   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development token",
	Long: `Prints an HS256 token for --subject signed with --secret.
Only useful against servers configured with AUTH_JWT_SECRET.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		t, err := mintToken()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), t)
		return err
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "username claim")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", envOr("AUTH_ISSUER", ""), "iss claim")
}

func mintToken() (string, error) {
	if secret == "" {
		return "", errors.New("--secret or AUTH_JWT_SECRET is required to mint a token")
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return identity.SignHS256(secret, domain.Identity{
		Subject:       subject,
		Email:         tokenEmail,
		EmailVerified: tokenEmail != "",
		Username:      tokenUsername,
	}, ttl, tokenIssuer)
}

// resolveToken returns --token, minting one when only a secret is configured.
func resolveToken() (string, error) {
	if token != "" {
		return token, nil
	}
	return mintToken()
}
