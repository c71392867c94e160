package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gosuda/boardsync/internal/auth"
)

func newTokenCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an attribution token for a display name",
		Long: `Sign a token that attributes API mutations to a display name. The secret
must match the server's BOARDSYNC_JWT_SECRET.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := v.GetString("secret")
			if len(secret) < 32 {
				return errors.New("secret must be at least 32 characters")
			}
			token, err := auth.IssueActorToken(secret, v.GetString("name"), v.GetDuration("ttl"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	f := cmd.Flags()
	f.String("name", "", "display name carried by the token")
	f.String("secret", "", "HS256 signing secret")
	f.Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
