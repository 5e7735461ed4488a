package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/consentcompanion/policywatch/internal/utils"
	"github.com/consentcompanion/policywatch/pkg/storage"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the policywatch database",
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := utils.GetAbsDBPath(viper.GetString("db.path"))
		if err != nil {
			return err
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		fmt.Println("--> Starting interactive shell... (Ctrl+D to exit)")
		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

// statsCmd prints the number of keys per storage area.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints the number of stored keys per storage area.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := utils.GetAbsDBPath(viper.GetString("db.path"))
		if err != nil {
			return err
		}
		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		verbose, _ := cmd.Flags().GetBool("keys")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "AREA\tKEYS\t")
		for _, area := range []string{storage.AreaSync, storage.AreaLocal, storage.AreaSession} {
			keys, err := db.ListKeys(cmd.Context(), area)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%d\t\n", area, len(keys))
			if verbose {
				for _, k := range keys {
					fmt.Fprintf(w, "  %s\t\t\n", k)
				}
			}
		}
		return w.Flush()
	},
}

var clearCmd = &cobra.Command{
	Use:       "clear <area>",
	Short:     "Delete every key of a storage area (sync, local or session)",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{storage.AreaSync, storage.AreaLocal, storage.AreaSession},
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(true)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.db.ClearArea(cmd.Context(), args[0]); err != nil {
			return err
		}
		utils.Log.Infof("Cleared %s storage", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
	dbCmd.AddCommand(clearCmd)
	statsCmd.Flags().Bool("keys", false, "List the keys of every area")
}
