package main

import (
	"fmt"

	"github.com/lhdbsbz/citychat/internal/config"
	"github.com/lhdbsbz/citychat/internal/logging"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "citychat",
	Short:         "City information chat relay and terminal client",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()
		cfg, err := config.LoadOrDefault(configPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		config.Set(cfg)
		logging.Setup(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CITYCHAT_HOME/config.yaml)")
	rootCmd.AddCommand(serveCmd, chatCmd, sessionsCmd, tokenCmd, initCmd, versionCmd)
}

func configPath() string {
	return config.ResolveConfigPath(cfgFile)
}
