package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"callpipe/internal/stage"
	"callpipe/internal/workflow"
)

type runSummaryJSON struct {
	RunID      string `json:"run_id"`
	Stage      string `json:"stage"`
	Pending    int    `json:"pending"`
	Processed  int    `json:"processed"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	NotFound   int    `json:"not_found"`
	NoSource   int    `json:"no_source"`
	Unresolved int    `json:"unresolved"`
	Remaining  int    `json:"remaining"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var workers int

	cmd := &cobra.Command{
		Use:       "run <stage>",
		Short:     "Process the next batch of pending items for a stage",
		Long:      "Process the next batch of pending items for fetch, transcribe or classify.\nItems already completed are skipped, so the command can be rerun safely.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: stageNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := stage.Parse(args[0])
			if err != nil {
				return err
			}
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}
			if workers < 0 {
				return errors.New("--workers must not be negative")
			}
			manager, _, err := ctx.newManager()
			if err != nil {
				return err
			}

			summary, runErr := manager.Run(cmd.Context(), id, workflow.RunOptions{Limit: limit, Workers: workers})
			if ctx.jsonOutput() {
				payload := summaryJSON(summary)
				if runErr != nil {
					payload.Error = runErr.Error()
				}
				if err := writeJSON(cmd, payload); err != nil {
					return err
				}
				return runErr
			}
			if runErr != nil && summary.RunID == "" {
				return runErr
			}
			printRunSummary(cmd, summary)
			return runErr
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum items to process (default: run.item_cap)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent workers (default: run.workers)")
	return cmd
}

func summaryJSON(summary workflow.Summary) runSummaryJSON {
	return runSummaryJSON{
		RunID:      summary.RunID,
		Stage:      summary.Stage.String(),
		Pending:    summary.Pending,
		Processed:  summary.Processed,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		NotFound:   summary.NotFound,
		NoSource:   summary.NoSource,
		Unresolved: summary.Unresolved,
		Remaining:  summary.Remaining(),
		DurationMS: summary.Duration.Milliseconds(),
	}
}

func printRunSummary(cmd *cobra.Command, summary workflow.Summary) {
	out := cmd.OutOrStdout()
	if summary.Pending == 0 {
		fmt.Fprintf(out, "Nothing pending for %s\n", summary.Stage)
		return
	}
	rows := [][]string{
		{"Pending", strconv.Itoa(summary.Pending)},
		{"Succeeded", strconv.Itoa(summary.Succeeded)},
		{"Failed", strconv.Itoa(summary.Failed)},
		{"Not found", strconv.Itoa(summary.NotFound)},
		{"No source", strconv.Itoa(summary.NoSource)},
		{"Unresolved", strconv.Itoa(summary.Unresolved)},
		{"Remaining", strconv.Itoa(summary.Remaining())},
	}
	fmt.Fprintf(out, "Run %s (%s, %s)\n", summary.RunID, summary.Stage, summary.Duration.Round(time.Millisecond))
	fmt.Fprintln(out, renderTable([]string{"Outcome", "Items"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func stageNames() []string {
	ids := stage.All()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return names
}

func stageList() string {
	return strings.Join(stageNames(), ", ")
}
