package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Execute runs the CLI.
func Execute() {
	// .env is optional; real deployments use environment or config files
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "reelforge",
		Short: "Video production pipeline orchestrator",
	}
	root.AddCommand(serveCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
