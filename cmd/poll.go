package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/consentcompanion/policywatch/internal/utils"
)

// pollCmd implements: policywatch poll
// It runs one watchlist poll against the local database, exactly like a
// timer tick of the daemon, and prints the hits.
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Check the watchlist once and notify about unseen changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command: '%s'. See 'policywatch poll --help'", args[0])
		}

		rt, err := openRuntime(true)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.engine.PollNow(cmd.Context())
		if err != nil {
			return err
		}
		if res.Targets == 0 {
			utils.Log.Info("Watchlist is empty. Add targets with 'policywatch watch add'.")
			return nil
		}
		if len(res.Hits) == 0 {
			utils.Log.Infof("No unseen changes for %d watched target(s)", res.Targets)
			return nil
		}

		notes := rt.host.Notifications()
		for _, n := range notes {
			fmt.Printf("%s\n  %s\n", n.Title, n.Message)
			if link, ok := rt.engine.Notifications().Link(n.ID); ok {
				fmt.Printf("  %s\n", link)
			}
		}
		for _, err := range res.Errors {
			utils.Log.Warnf("%v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
