// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thumbgate/thumbgate/internal/diskcache"
	"github.com/thumbgate/thumbgate/internal/fetch"
)

// statsDoc mirrors the daemon's stats response.
type statsDoc struct {
	Cache   diskcache.Stats `json:"cache"`
	Prewarm *fetch.Stats    `json:"prewarm,omitempty"`
	Breaker string          `json:"breaker,omitempty"`
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache, prewarm, and breaker statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			var doc statsDoc
			if err := cl.get(cmd.Context(), "/api/v1/stats", &doc); err != nil {
				return err
			}
			if ctx.jsonOut() {
				return writeJSON(cmd, doc)
			}

			rows := [][]string{
				{"Entries", strconv.Itoa(doc.Cache.Entries)},
				{"Size", fmt.Sprintf("%s / %s",
					humanize.IBytes(uint64(doc.Cache.Size)),
					humanize.IBytes(uint64(doc.Cache.MaxSize)))},
				{"Hits", strconv.FormatUint(doc.Cache.Hits, 10)},
				{"Misses", strconv.FormatUint(doc.Cache.Misses, 10)},
				{"Sets", strconv.FormatUint(doc.Cache.Sets, 10)},
				{"Evictions", strconv.FormatUint(doc.Cache.Evictions, 10)},
			}
			if doc.Breaker != "" {
				rows = append(rows, []string{"Breaker", doc.Breaker})
			}
			if p := doc.Prewarm; p != nil {
				rows = append(rows,
					[]string{"Prewarm workers", strconv.Itoa(p.Workers)},
					[]string{"Prewarm queue", fmt.Sprintf("%d / %d", p.QueueDepth, p.QueueCap)},
					[]string{"Prewarm warmed", strconv.FormatInt(p.Warmed, 10)},
					[]string{"Prewarm deduped", strconv.FormatInt(p.Deduped, 10)},
					[]string{"Prewarm dropped", strconv.FormatInt(p.Dropped, 10)},
					[]string{"Prewarm errors", strconv.FormatInt(p.Errors, 10)},
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"Stat", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}
