package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	dataDir string
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "querylens",
		Short: "Explain SQL queries in plain language",
		Long: `QueryLens explains SQL queries: what they do, how the database will
execute them, and how to make them faster.

It fingerprints queries so that statements differing only in literal values
share one cached explanation, parses EXPLAIN output for postgres, mysql and
sqlite, and merges heuristic index suggestions into every result. Run it as
an HTTP service, a one-shot CLI, or an MCP server for AI agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./querylens.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.querylens)")

	cobra.OnInitialize(initViper)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExplainCmd())
	cmd.AddCommand(newFingerprintCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("querylens")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.querylens")
	}

	viper.SetEnvPrefix("QUERYLENS")
	viper.AutomaticEnv()
	viper.ReadInConfig() // config file is optional
}
