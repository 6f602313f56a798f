package cmd

import (
	"context"

	"github.com/pliu/huddle/internal/server"
	"github.com/spf13/cobra"
)

var portOverride int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the huddle server",
	Args:  cobra.NoArgs,
	PreRun: func(_ *cobra.Command, _ []string) {
		if portOverride != 0 {
			cfg.Server.Port = portOverride
		}
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		s, err := server.New(cfg, logger)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.ListenAndServe(context.Background())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&portOverride, "port", "p", 0, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
