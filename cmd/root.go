package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/consentcompanion/policywatch/internal/utils"
	"github.com/consentcompanion/policywatch/pkg/backend"
	"github.com/consentcompanion/policywatch/pkg/debounce"
	"github.com/consentcompanion/policywatch/pkg/polling"
	"github.com/consentcompanion/policywatch/pkg/throttle"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "policywatch",
	Short: "Keeps an eye on the privacy policies and terms of the sites you use.",
	Long: `policywatch tells you, per tab, whether the policy of the site you are looking at
changed materially, and notifies you when a policy you watch changes.

Run "policywatch serve" to start the daemon and its HTTP bridge.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		levelString, _ := cmd.Flags().GetString("loglevel")
		return utils.SetLogLevel(levelString)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.policywatch.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("api", "", "Backend API base URL (overrides api.base)")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/policywatch/policywatch.sqlite)")
	_ = viper.BindPFlag("api.base", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("db.path", rootCmd.PersistentFlags().Lookup("dbpath"))
}

func setDefaults() {
	viper.SetDefault("api.base", backend.DefaultBaseURL)
	viper.SetDefault("api.timeout", backend.DefaultTimeout)
	viper.SetDefault("api.retries", backend.DefaultRetries)
	viper.SetDefault("poll.period", polling.DefaultPeriod)
	viper.SetDefault("poll.alarm", polling.DefaultAlarmName)
	viper.SetDefault("throttle.cooldown", throttle.DefaultCooldown)
	viper.SetDefault("debounce.delay", debounce.DefaultDelay)
	viper.SetDefault("db.path", "")
	viper.SetDefault("server.bind", "127.0.0.1:7878")
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".policywatch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("POLICYWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := filepath.Join(home, ".policywatch.yaml")
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				utils.Log.Debugf("Could not create config file: %v", err)
			}
		} else {
			utils.Log.Warnf("Could not read config file: %v", err)
		}
	}
}
