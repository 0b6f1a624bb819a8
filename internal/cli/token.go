package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/auth"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		Long:  "Sign an access token with JWT_SECRET for local testing of the generator API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if len(cfg.JWT.Secret) < 32 {
				return errors.New("JWT_SECRET must be at least 32 characters")
			}

			id := uuid.New()
			if userID != "" {
				if id, err = uuid.Parse(userID); err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
			}
			if ttl <= 0 {
				ttl = cfg.JWT.DevTokenExpiry
			}

			token, err := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Audience, cfg.JWT.Issuer).Issue(id, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (uuid); random when empty")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_DEV_TOKEN_EXPIRY)")

	return cmd
}
