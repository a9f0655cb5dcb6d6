// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/thumbgate/thumbgate/internal/verify"
)

// verifyRunsDoc mirrors the daemon's verify runs listing.
type verifyRunsDoc struct {
	Runs  []verify.Report `json:"runs"`
	Count int             `json:"count"`
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the verification suite and print the report",
		Long: `Run the verification suite and print the report. The command fails when
any check fails. With --wait, a run already in progress is waited out
instead of answering with a conflict, and the report is confirmed to
have landed in history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}

			// Remember the newest stored run so a conflict wait can tell
			// the ongoing run's report from an older one.
			beforeID := ""
			var before verify.Report
			if err := cl.get(cmd.Context(), "/api/v1/verify/latest", &before); err == nil {
				beforeID = before.ID
			}

			var report verify.Report
			err = cl.post(cmd.Context(), "/api/v1/verify", nil, &report)
			switch {
			case err == nil:
				if wait {
					if werr := waitForRun(cmd.Context(), cl, report.ID); werr != nil {
						return werr
					}
				}
				return printReport(cmd, ctx, report)
			case isAPIError(err, "verify_in_progress") && wait:
				landed, werr := waitForNewLatest(cmd.Context(), cl, beforeID)
				if werr != nil {
					return werr
				}
				return printReport(cmd, ctx, *landed)
			default:
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for an in-progress run and for history persistence")
	cmd.AddCommand(newVerifyHistoryCommand(ctx))
	return cmd
}

// waitForRun polls history until the given run is stored.
func waitForRun(ctx context.Context, cl *client, runID string) error {
	deadline := time.After(15 * time.Second)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		var stored verify.Report
		if err := cl.get(ctx, "/api/v1/verify/runs/"+runID, &stored); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("run %s did not land in history", runID)
		case <-ticker.C:
		}
	}
}

// waitForNewLatest polls the latest stored run until one newer than
// beforeID appears, then returns it.
func waitForNewLatest(ctx context.Context, cl *client, beforeID string) (*verify.Report, error) {
	deadline := time.After(2 * time.Minute)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var latest verify.Report
		if err := cl.get(ctx, "/api/v1/verify/latest", &latest); err == nil {
			if latest.ID != "" && latest.ID != beforeID {
				return &latest, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("timed out waiting for the in-progress run to finish")
		case <-ticker.C:
		}
	}
}

func printReport(cmd *cobra.Command, ctx *commandContext, report verify.Report) error {
	if ctx.jsonOut() {
		if err := writeJSON(cmd, report); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(report.Results))
		for _, res := range report.Results {
			rows = append(rows, []string{
				res.Name,
				string(res.Status),
				(time.Duration(res.DurationMS) * time.Millisecond).String(),
				res.Detail,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(),
			renderTable([]string{"Check", "Status", "Duration", "Detail"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s (%s): %s, %d passed / %d warned / %d failed in %s\n",
			report.ID, report.Trigger, report.Overall,
			report.Passed, report.Warned, report.Failed,
			(time.Duration(report.DurationMS) * time.Millisecond).String())
	}

	if report.Overall == verify.StatusFail {
		return fmt.Errorf("verification failed: %d of %d checks failed", report.Failed, report.Total)
	}
	return nil
}

func newVerifyHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored verification runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			var doc verifyRunsDoc
			if err := cl.get(cmd.Context(), fmt.Sprintf("/api/v1/verify/runs?limit=%d", limit), &doc); err != nil {
				return err
			}
			if ctx.jsonOut() {
				return writeJSON(cmd, doc)
			}
			if doc.Count == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No verification runs recorded")
				return nil
			}

			rows := make([][]string, 0, doc.Count)
			for _, r := range doc.Runs {
				rows = append(rows, []string{
					r.ID,
					r.Trigger,
					string(r.Overall),
					r.StartedAt.Format(time.RFC3339),
					(time.Duration(r.DurationMS) * time.Millisecond).String(),
					fmt.Sprintf("%d / %d / %d", r.Passed, r.Warned, r.Failed),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"ID", "Trigger", "Overall", "Started", "Duration", "Pass / Warn / Fail"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
			fmt.Fprintf(cmd.OutOrStdout(), "%s runs\n", strconv.Itoa(doc.Count))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
