// Package cli is the terminal front end: it runs one agentic search
// against the configured backend, or tails the search outcome events.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "sales-intel",
	Short: "agentic company and partner search from the terminal",
	Long: `sales-intel - agentic company and partner search
  - search <query>  stream one search and print its phases and results
  - watch           follow SEARCH_COMPLETED / SEARCH_FAILED events`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(watchCmd)
}
