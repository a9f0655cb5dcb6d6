// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thumbgate/thumbgate/internal/version"
)

// commandContext carries the persistent flag values into the subcommands.
type commandContext struct {
	serverFlag *string
	tokenFlag  *string
	jsonFlag   *bool
}

func (c *commandContext) client() (*client, error) {
	return newClient(*c.serverFlag, *c.tokenFlag)
}

func (c *commandContext) jsonOut() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func newRootCommand() *cobra.Command {
	var serverFlag string
	var tokenFlag string
	var jsonFlag bool

	ctx := &commandContext{
		serverFlag: &serverFlag,
		tokenFlag:  &tokenFlag,
		jsonFlag:   &jsonFlag,
	}

	rootCmd := &cobra.Command{
		Use:           "tgctl",
		Short:         "Operations CLI for the thumbgate caching gateway",
		Version:       version.Version + " (commit: " + version.Commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s",
		envOr("THUMBGATE_SERVER", "http://localhost:8080"),
		"admin API base URL (env THUMBGATE_SERVER)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token",
		os.Getenv("THUMBGATE_TOKEN"),
		"bearer token for the admin API (env THUMBGATE_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false,
		"print raw JSON instead of tables")

	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newEntriesCommand(ctx))
	rootCmd.AddCommand(newPurgeCommand(ctx))
	rootCmd.AddCommand(newPrewarmCommand(ctx))
	rootCmd.AddCommand(newVerifyCommand(ctx))
	rootCmd.AddCommand(newJournalCommand(ctx))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
