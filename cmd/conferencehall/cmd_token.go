package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conference-hall/scheduler/internal/auth"
	"github.com/conference-hall/scheduler/internal/models"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with the configured key",
	RunE:  runToken,
}

var (
	tokenUser   string
	tokenRoles  []string
	tokenEvents []string
	tokenTTL    time.Duration
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User id (required)")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{string(models.TeamRoleOwner)}, "Team roles")
	tokenCmd.Flags().StringSliceVar(&tokenEvents, "event", nil, "Event ids the bearer may edit, or * for all (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	_ = tokenCmd.MarkFlagRequired("event")
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	roles := make([]string, 0, len(tokenRoles))
	for _, r := range tokenRoles {
		roles = append(roles, string(models.NormalizeTeamRole(models.TeamRole(r))))
	}
	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{
		UserID: tokenUser,
		Roles:  roles,
		Events: tokenEvents,
	}, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
