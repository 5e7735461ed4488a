package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <domain>",
	Short: "Check a single domain, bypassing the cooldown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.engine.CheckDomain(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !res.OK {
			return fmt.Errorf("%s: %s", res.Domain, res.Error)
		}

		b := res.Badge()
		fmt.Printf("%s (%s): %s [%s]\n", res.Domain, res.Site, res.Status, b.Text)
		if res.Summary != "" {
			fmt.Println(strings.TrimSpace(res.Summary))
		}
		if res.ServiceID != "" {
			fmt.Printf("service: %s, document: %s\n", res.ServiceID, res.DocType)
		}
		if res.DetailURL != "" {
			if link, err := rt.engine.Client().ResolveURL(cmd.Context(), res.DetailURL); err == nil {
				fmt.Println(link)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
