package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chronicle/collab/internal/auth"
	"chronicle/collab/internal/config"
	"chronicle/collab/internal/rbac"
)

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token signed with COLLAB_TOKEN_SECRET",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id carried by the token")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(rbac.RoleEditor), "viewer, commenter, editor or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.TokenSecret) == "" {
		return fmt.Errorf("COLLAB_TOKEN_SECRET is required")
	}
	token, err := auth.NewSigner([]byte(cfg.TokenSecret)).Issue(tokenUser, rbac.Normalize(tokenRole), tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
