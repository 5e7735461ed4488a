package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/consentcompanion/policywatch/internal/server"
	"github.com/consentcompanion/policywatch/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring daemon and its HTTP bridge",
	Long: `Runs the engine on the local database: the watchlist is polled on a timer and
tab events, messages and notification clicks are accepted over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(true)
		if err != nil {
			return err
		}
		defer rt.Close()

		// Tab results belong to the browsing session that produced them.
		rt.clearSession(ctx)

		rt.host.HandleAlarms(func(ctx context.Context, name string) {
			rt.engine.OnAlarm(ctx, name)
		})
		if fresh, _ := cmd.Flags().GetBool("installed"); fresh {
			rt.engine.OnInstalled(ctx)
		} else {
			rt.engine.OnStartup(ctx)
		}

		srv := server.New(rt.engine, rt.host,
			viper.GetString("server.username"), viper.GetString("server.password"), utils.Log)
		return srv.Start(ctx, viper.GetString("server.bind"))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("bind", "", "HTTP listen address (overrides server.bind)")
	serveCmd.Flags().Bool("installed", false, "Treat this start as a fresh install")
	_ = viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
}
