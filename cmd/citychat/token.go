package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lhdbsbz/citychat/internal/auth"
	"github.com/lhdbsbz/citychat/internal/config"
	"github.com/spf13/cobra"
)

var tokenSave bool

var tokenCmd = &cobra.Command{
	Use:   "token <uid>",
	Short: "Mint a signed session token for a user",
	Long: `Mint a session token signed with auth.sessionSecret. Send it as the
session cookie, or pass --save to store it as the terminal client's token.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		if cfg.Auth.SessionSecret == "" {
			return errors.New("auth.sessionSecret is not set; run citychat init or set CITYCHAT_SESSION_SECRET")
		}
		v, err := auth.NewHMACVerifier(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
		if err != nil {
			return err
		}
		token, exp, err := v.Sign(args[0])
		if err != nil {
			return err
		}
		fmt.Println(token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s (%s)\n", exp.Format(time.RFC3339), humanize.Time(exp))

		if tokenSave {
			cfg.Client.SessionToken = token
			cfg.Client.UserID = args[0]
			if err := config.Write(configPath(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved to %s\n", configPath())
		}
		return nil
	},
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "store the token and uid in the client section of the config file")
}

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file with a fresh session secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		cfg := config.DefaultConfig()
		cfg.Auth.SessionSecret = config.GenerateSecret()
		if err := config.Write(path, cfg); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}
