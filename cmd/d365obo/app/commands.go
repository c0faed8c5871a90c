// Package app provides the entry point for the d365obo command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "d365obo",
	DisableAutoGenTag: true,
	Short:             "On-behalf-of token broker and OData proxy for Dynamics 365 F&O",
	Long: `d365obo authenticates callers against Azure AD, exchanges their tokens
through the on-behalf-of grant, and proxies OData CRUD requests to a
Dynamics 365 Finance & Operations environment with the exchanged token.
Downstream calls are made as the calling user, so F&O authorization and
auditing see the real caller rather than a shared service account.

It also ships a capacity measurement mode that drives concurrent
authenticated reads through the same broker and proxy to estimate how
much load the downstream environment sustains.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the d365obo CLI.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	err = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	if err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMeasureCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}
