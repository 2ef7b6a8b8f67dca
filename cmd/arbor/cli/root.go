package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arbor",
		Short: "Multi-tenant genealogy database server",
		Long: `Arbor serves family tree databases over a REST API.

Each tree is an isolated SQLite database; users belong to at most one tree
and hold a role that maps to a fixed permission set. Long-running work
(email delivery, search reindexing, imports and exports) runs inline or on
a redis-backed task queue when one is configured.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./arbor.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: ~/.arbor)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newImportConfigCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("arbor")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.arbor")
	}

	viper.SetEnvPrefix("ARBOR")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
