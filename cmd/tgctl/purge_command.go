// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type purgeBody struct {
	URL string `json:"url,omitempty"`
	All bool   `json:"all,omitempty"`
}

type purgeDoc struct {
	Purged int    `json:"purged"`
	URL    string `json:"url,omitempty"`
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "purge [url]",
		Short: "Remove one cached URL, or the whole cache with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass exactly one of a URL or --all")
			}

			cl, err := ctx.client()
			if err != nil {
				return err
			}
			body := purgeBody{All: all}
			if len(args) == 1 {
				body.URL = args[0]
			}
			var doc purgeDoc
			if err := cl.post(cmd.Context(), "/api/v1/purge", body, &doc); err != nil {
				return err
			}
			if ctx.jsonOut() {
				return writeJSON(cmd, doc)
			}
			switch {
			case doc.URL != "":
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %s\n", doc.URL)
			case doc.Purged == 1:
				fmt.Fprintln(cmd.OutOrStdout(), "Purged 1 entry")
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d entries\n", doc.Purged)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "purge every cached entry")
	return cmd
}
