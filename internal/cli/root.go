// Package cli holds the promptgen command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "promptgen",
		Short: "Quota-enforcing AI prompt generator",
		Long:  "Promptgen serves the AI prompt generator API: it authenticates callers, enforces a daily per-user generation limit and proxies requests to a chat completion service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newUsageCmd(),
	)

	root.Version = Version
	root.SetVersionTemplate(fmt.Sprintf("promptgen %s\n", Version))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
