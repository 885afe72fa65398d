package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of cve-harvest",
	// Skips config and logger setup.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cve-harvest %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
