package cmd

import (
	"context"

	"github.com/fatih/color"
	"github.com/pliu/huddle/internal/presence"
	"github.com/pliu/huddle/internal/store/sqlstore"
	"github.com/spf13/cobra"
)

// resetPresenceCmd runs the startup purge by hand, for instance after a crash
// left users marked online.
var resetPresenceCmd = &cobra.Command{
	Use:   "reset-presence",
	Short: "Delete every connection row and mark every user offline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := presence.NewManager(st, nil, nil, nil, logger).Reset(context.Background()); err != nil {
			color.Red("Failed to reset presence: %v", err)
			return err
		}
		color.Green("Presence reset")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetPresenceCmd)
}
