package cli

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API and the periodic rate refresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch and store today's USD/PHP rate once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SyncLatest(cmd.Context())
	},
}
