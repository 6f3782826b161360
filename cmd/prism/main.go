package main

import (
	"fmt"
	"os"

	"github.com/prismdb/prism/pkg/journal"
	"github.com/prismdb/prism/pkg/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "prism",
	Short: "Prism - distributed multi-stage analytical query engine broker",
	Long: `Prism is the broker of a distributed multi-stage analytical query
engine. It fans partitioned stage plans out to worker servers, reduces the
result stream locally, and keeps a journal of finished queries.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Prism version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(journalCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List recorded queries from the broker journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		j, err := journal.Open(dataDir)
		if err != nil {
			return err
		}
		defer j.Close()

		entries, err := j.List()
		if err != nil {
			return fmt.Errorf("failed to list journal entries: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("journal is empty")
			return nil
		}
		out, err := yaml.Marshal(entries)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	journalCmd.Flags().String("data-dir", ".", "Directory holding the broker journal")
}
