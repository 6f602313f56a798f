// Package cmd contains the CLI setup and commands exposed to the user
package cmd

import (
	"log"
	"log/slog"

	"github.com/pliu/huddle/internal/config"
	"github.com/spf13/cobra"
)

var (
	ConfigFile string
	cfg        *config.Config
	logger     *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Real-time social backend: friends, groups, requests, presence and messaging",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(ConfigFile)
		if err != nil {
			return err
		}
		logger = config.NewLogger(cfg.Log.Level)
		slog.SetDefault(logger)
		return nil
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err.Error())
	}
}

func init() {
	defaultConfigFile, err := config.DefaultFile()
	if err != nil {
		defaultConfigFile = ""
	}
	rootCmd.PersistentFlags().StringVar(&ConfigFile, "config", defaultConfigFile, "config file")
}
