package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether a huddle server is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		url := fmt.Sprintf("http://%s:%d/health", host, cfg.Server.Port)

		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			color.Red("No huddle server at %s", url)
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			color.Yellow("Server at %s answered %s", url, resp.Status)
			return fmt.Errorf("unhealthy: %s", resp.Status)
		}
		color.Green("Huddle server is running at %s", url)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
