package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the policy documents the backend tracks",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cmd.Context()
		targets, err := rt.engine.Client().Targets(ctx)
		if err != nil {
			return err
		}
		entries, err := rt.engine.Watchlist().List(ctx)
		if err != nil {
			return err
		}
		watched := make(map[string]bool, len(entries))
		for _, e := range entries {
			watched[e.Key()] = true
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tDOCUMENT\tNAME\tWATCHED")
		for _, t := range targets {
			mark := ""
			if watched[t.Key()] {
				mark = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ServiceID, t.DocType, t.Name, mark)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}
