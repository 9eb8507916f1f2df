package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfrund/pulse/internal/app"
	"github.com/nfrund/pulse/internal/config"
	"github.com/nfrund/pulse/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway until interrupted. Configuration is read from the
environment, after loading a .env file from the working directory if present.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.New()
		logging.New()
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return app.New(cfg).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
