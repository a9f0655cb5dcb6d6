// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thumbgate/thumbgate/internal/fetch"
)

type prewarmBody struct {
	URLs []string `json:"urls"`
}

type prewarmDoc struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

func newPrewarmCommand(ctx *commandContext) *cobra.Command {
	var manifest string

	cmd := &cobra.Command{
		Use:   "prewarm [url]...",
		Short: "Queue URLs for background warming",
		Long: `Queue URLs for background warming, from arguments, a manifest file
(one URL per line, #-comments allowed), or both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := append([]string(nil), args...)
			if manifest != "" {
				fromFile, err := fetch.ReadManifest(manifest)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return errors.New("pass URLs or --manifest")
			}

			cl, err := ctx.client()
			if err != nil {
				return err
			}
			var doc prewarmDoc
			if err := cl.post(cmd.Context(), "/api/v1/prewarm", prewarmBody{URLs: urls}, &doc); err != nil {
				return err
			}
			if ctx.jsonOut() {
				return writeJSON(cmd, doc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %d of %d URLs\n", doc.Accepted, len(urls))
			if doc.Dropped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d dropped (queue full)\n", doc.Dropped)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifest, "manifest", "m", "", "manifest file with one URL per line")
	return cmd
}
