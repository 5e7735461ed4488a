package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/consentcompanion/policywatch/internal/server"
	"github.com/consentcompanion/policywatch/internal/utils"
	"github.com/consentcompanion/policywatch/pkg/router"
)

// The watch commands go through the message router so they behave exactly
// like the popup.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the watched policy documents",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <service_id> <doc_type>",
	Short: "Watch a policy document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		since, _ := cmd.Flags().GetString("since")
		return sendWatch(cmd, router.WatchAdd{ServiceID: args[0], DocType: args[1], Name: name, LastDiffAt: since})
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <service_id> <doc_type>",
	Short: "Stop watching a policy document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendWatch(cmd, router.WatchRemove{ServiceID: args[0], DocType: args[1]})
	},
}

var watchStatusCmd = &cobra.Command{
	Use:   "status <service_id> <doc_type>",
	Short: "Tell whether a policy document is watched",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendWatch(cmd, router.WatchStatus{ServiceID: args[0], DocType: args[1]})
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the watched policy documents and their baselines",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.engine.Handle(cmd.Context(), router.WatchList{}, router.Sender{})
		if !resp.OK {
			return fmt.Errorf("%s", resp.Error)
		}
		seen, err := rt.engine.Watchlist().Seen(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tDOCUMENT\tNAME\tSEEN UNTIL")
		for _, e := range resp.Entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ServiceID, e.DocType, e.Name, seen[e.Key()])
		}
		return w.Flush()
	},
}

func sendWatch(cmd *cobra.Command, req router.Request) error {
	resp, err := routeWatch(cmd.Context(), req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	if resp.Watched != nil && *resp.Watched {
		fmt.Println("watched")
	} else {
		fmt.Println("not watched")
	}
	return nil
}

// routeWatch serves req on the local database when it is free. While a
// daemon holds it, req goes through the daemon's bridge so every write is
// made by the one process that owns the storage.
func routeWatch(ctx context.Context, req router.Request) (router.Response, error) {
	dbPath, err := utils.GetAbsDBPath(viper.GetString("db.path"))
	if err != nil {
		return router.Response{}, err
	}
	lock, err := utils.NewDBLock(dbPath)
	if err != nil {
		return router.Response{}, err
	}
	held, err := lock.TryLock()
	if err != nil {
		return router.Response{}, err
	}
	if !held {
		base := bridgeURL(viper.GetString("server.bind"))
		utils.Log.Debugf("Database is held by a running daemon, sending through %s", base)
		c := server.NewClient(base, viper.GetString("server.username"), viper.GetString("server.password"))
		return c.Send(ctx, req)
	}

	rt, err := newRuntime(dbPath, lock)
	if err != nil {
		return router.Response{}, err
	}
	defer rt.Close()
	return rt.engine.Handle(ctx, req, router.Sender{}), nil
}

// bridgeURL turns a listen address into a URL a local client can dial.
func bridgeURL(bind string) string {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "http://" + bind
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.AddCommand(watchAddCmd, watchRemoveCmd, watchStatusCmd, watchListCmd)
	watchAddCmd.Flags().String("name", "", "Display name (default: <service_id>:<doc_type>)")
	watchAddCmd.Flags().String("since", "", "Only notify about changes after this timestamp (default: now)")
}
