package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/dropline-backend/pkg/auth"
	"github.com/angelmondragon/dropline-backend/pkg/config"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
)

var tokenRole string

// tokenCmd mints a bearer token for a scheduler calling the internal sweeper routes.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for the internal sweeper endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		role, err := enums.ParseActorRole(tokenRole)
		if err != nil {
			return err
		}
		if role == enums.ActorRoleUser {
			return fmt.Errorf("role %q cannot call sweeper endpoints", role)
		}
		token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{
			UserID: uuid.New(),
			Role:   role,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(enums.ActorRoleScheduler), "Role claim: scheduler or admin")
	rootCmd.AddCommand(tokenCmd)
}
