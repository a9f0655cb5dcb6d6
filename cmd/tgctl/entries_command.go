// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thumbgate/thumbgate/internal/diskcache"
)

// entriesDoc mirrors the daemon's entries response.
type entriesDoc struct {
	Entries []diskcache.EntryInfo `json:"entries"`
	Count   int                   `json:"count"`
	Total   int                   `json:"total"`
}

func newEntriesCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List cached entries, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			var doc entriesDoc
			if err := cl.get(cmd.Context(), fmt.Sprintf("/api/v1/entries?limit=%d", limit), &doc); err != nil {
				return err
			}
			if ctx.jsonOut() {
				return writeJSON(cmd, doc)
			}
			if doc.Count == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty")
				return nil
			}

			rows := make([][]string, 0, doc.Count)
			for i, e := range doc.Entries {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					e.Key,
					humanize.IBytes(uint64(e.Size)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"#", "Key", "Size"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignRight}))
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d entries\n", doc.Count, doc.Total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to list")
	return cmd
}
