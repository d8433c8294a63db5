package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"live-auction/internal/auth"
)

var tokenUser string

// TokenCmd mints a signed identity token for local testing
var TokenCmd = &cobra.Command{
	Use:   "token",
	Short: "mint a development identity token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		token, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Issue(tokenUser)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	TokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to put in the token")
	_ = TokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(TokenCmd)
}
