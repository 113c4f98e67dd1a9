package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "synthgen",
	Short: "Batched synthetic data generation with reasoning extraction",
	Long: `synthgen runs batches of LLM calls that turn seed content into
(query, reasoning, answer) triples. Seeds come from local files or a
paginated remote dataset; results land in a local SQLite database and
failed items can be retried in bulk.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the synthgen version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("synthgen version %s\n", version)
	},
}
