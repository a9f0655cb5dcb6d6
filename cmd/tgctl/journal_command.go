// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thumbgate/thumbgate/internal/diskcache"
)

func newJournalCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the on-disk cache journal",
	}
	cmd.AddCommand(newJournalCheckCommand(ctx))
	return cmd
}

func newJournalCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <cache-dir>",
		Short: "Parse a cache directory's journal offline and report problems",
		Long: `Parse a cache directory's journal and reconcile it against the entry
files there. Works directly on the files, so the daemon may be down.
Nothing is modified. The command fails when the journal is damaged or
disagrees with the directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := diskcache.InspectJournal(args[0])
			if err != nil {
				return err
			}

			if ctx.jsonOut() {
				if err := writeJSON(cmd, rep); err != nil {
					return err
				}
			} else {
				rows := [][]string{
					{"Records", strconv.Itoa(rep.Records)},
					{"Live entries", strconv.Itoa(rep.Live)},
					{"Live bytes", humanize.IBytes(uint64(rep.LiveBytes))},
					{"Redundant records", strconv.Itoa(rep.Redundant)},
					{"Dangling edits", strconv.Itoa(rep.Dangling)},
					{"Truncated", strconv.FormatBool(rep.Truncated)},
					{"Orphan files", strconv.Itoa(len(rep.Orphans))},
					{"Missing files", strconv.Itoa(len(rep.Missing))},
				}
				fmt.Fprintln(cmd.OutOrStdout(),
					renderTable([]string{"Journal", "Value"}, rows,
						[]columnAlignment{alignLeft, alignRight}))
				for _, name := range rep.Orphans {
					fmt.Fprintf(cmd.OutOrStdout(), "orphan: %s\n", name)
				}
				for _, name := range rep.Missing {
					fmt.Fprintf(cmd.OutOrStdout(), "missing: %s\n", name)
				}
			}

			var problems []string
			if rep.Dangling > 0 {
				problems = append(problems, fmt.Sprintf("%d dangling edit(s)", rep.Dangling))
			}
			if rep.Truncated {
				problems = append(problems, "journal ends mid-record")
			}
			if n := len(rep.Orphans); n > 0 {
				problems = append(problems, fmt.Sprintf("%d orphan file(s)", n))
			}
			if n := len(rep.Missing); n > 0 {
				problems = append(problems, fmt.Sprintf("%d missing file(s)", n))
			}
			if len(problems) > 0 {
				return fmt.Errorf("journal check: %s", strings.Join(problems, "; "))
			}
			if !ctx.jsonOut() {
				fmt.Fprintln(cmd.OutOrStdout(), "Journal is consistent")
			}
			return nil
		},
	}
}
