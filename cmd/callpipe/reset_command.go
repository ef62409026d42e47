package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"callpipe/internal/records"
	"callpipe/internal/stage"
	"callpipe/internal/workflow"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var failed bool
	var statuses []string
	var all bool

	cmd := &cobra.Command{
		Use:   "reset <stage> [id...]",
		Short: "Make completed items eligible for a stage again",
		Long: `Reset clears the outcome of a stage so the next run processes the items again.

Resetting fetch deletes the selected status records; select them by id, by
--status, or with --failed. Resetting transcribe also resets classify.
Reset refuses to run while the stage or a later one is running.
Stages: ` + stageList() + ".",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := stage.Parse(args[0])
			if err != nil {
				return err
			}
			ids := trimIDs(args[1:])
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			release, err := workflow.LockStages(cfg, id.Downstream()...)
			if err != nil {
				return err
			}
			defer func() { _ = release() }()

			var affected int64
			if id.First() {
				selected, err := parseStatuses(statuses)
				if err != nil {
					return err
				}
				if failed {
					selected = append(selected, records.StatusFailed)
				}
				if len(ids) == 0 && len(selected) == 0 {
					return errors.New("reset fetch requires ids, --status, or --failed")
				}
				affected, err = store.ResetFetch(cmd.Context(), ids, selected)
				if err != nil {
					return err
				}
			} else {
				if failed || len(statuses) > 0 {
					return fmt.Errorf("--failed and --status apply to fetch only; failed %s items are retried on the next run", id)
				}
				if len(ids) == 0 && !all {
					return fmt.Errorf("reset %s requires ids or --all", id)
				}
				affected, err = store.ResetStage(cmd.Context(), id.Flag(), ids)
				if err != nil {
					return err
				}
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"stage": id.String(), "reset": affected})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d item(s) for %s\n", affected, id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&failed, "failed", false, "Reset fetch records that FAILED")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Reset fetch records in these statuses (SUCCESS, FAILED, NOT_FOUND, NO_SOURCE)")
	cmd.Flags().BoolVar(&all, "all", false, "Reset every completed item of a later stage")
	return cmd
}

func parseStatuses(values []string) ([]records.Status, error) {
	var statuses []records.Status
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, ok := records.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func trimIDs(values []string) []string {
	ids := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}
