package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/utils"
)

func newTokenCmd() *cobra.Command {
	var (
		secret string
		userID string
		role   string
		ttl    int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token, e.g. for the scheduler that calls the lifecycle endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !model.Role(role).Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			tok, err := utils.NewAccessToken(secret, userID, role, ttl)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"token":      tok.Token,
				"expires_at": tok.Exp.UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret (defaults to JWT_SECRET)")
	cmd.Flags().StringVar(&userID, "user", "scheduler", "Subject user id")
	cmd.Flags().StringVar(&role, "role", string(model.RoleSupervisor), "Role claim")
	cmd.Flags().IntVar(&ttl, "ttl", 60, "Lifetime in minutes")
	return cmd
}
