package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"callpipe/internal/records"
)

type statusJSON struct {
	Store            string         `json:"store"`
	Total            int            `json:"total"`
	ByStatus         map[string]int `json:"by_status"`
	Flags            map[string]int `json:"flags"`
	TranscribeFailed int            `json:"transcribe_failed"`
	ClassifyFailed   int            `json:"classify_failed"`
	Records          []recordJSON   `json:"records,omitempty"`
}

const listDetailLimit = 80

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status store counts by status and stage",
		Long: `Status prints record counts by fetch status and by stage.

With --status it also lists the matching records, oldest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			var listed []*records.Record
			if len(selected) > 0 {
				listed, err = store.List(cmd.Context(), records.Filter{Statuses: selected, Limit: limit})
				if err != nil {
					return err
				}
			}

			if ctx.jsonOutput() {
				payload := statusJSON{
					Store:            store.Location(),
					Total:            stats.Total,
					ByStatus:         map[string]int{},
					Flags:            map[string]int{},
					TranscribeFailed: stats.TranscribeFailed,
					ClassifyFailed:   stats.ClassifyFailed,
				}
				for _, status := range records.AllStatuses() {
					payload.ByStatus[string(status)] = stats.ByStatus[status]
				}
				for _, flag := range records.AllFlags() {
					payload.Flags[string(flag)] = stats.Flags[flag]
				}
				for _, record := range listed {
					payload.Records = append(payload.Records, toRecordJSON(record))
				}
				return writeJSON(cmd, payload)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status store: %s (%s)\n", store.Location(), store.Driver())
			if stats.Total == 0 {
				fmt.Fprintln(out, "No records yet")
				return nil
			}

			statusRows := make([][]string, 0, len(records.AllStatuses())+1)
			for _, status := range records.AllStatuses() {
				statusRows = append(statusRows, []string{string(status), strconv.Itoa(stats.ByStatus[status])})
			}
			statusRows = append(statusRows, []string{"total", strconv.Itoa(stats.Total)})
			fmt.Fprintln(out, renderTable([]string{"Status", "Records"}, statusRows, []columnAlignment{alignLeft, alignRight}))

			stageRows := [][]string{
				{"fetch", strconv.Itoa(stats.Flags[records.FlagFetched]), "-"},
				{"transcribe", strconv.Itoa(stats.Flags[records.FlagTranscribed]), strconv.Itoa(stats.TranscribeFailed)},
				{"analysis", strconv.Itoa(stats.Flags[records.FlagAnalyzed]), "-"},
				{"classify", strconv.Itoa(stats.Flags[records.FlagClassified]), strconv.Itoa(stats.ClassifyFailed)},
			}
			fmt.Fprintln(out, renderTable([]string{"Stage", "Complete", "Failed"}, stageRows, []columnAlignment{alignLeft, alignRight, alignRight}))

			if len(selected) > 0 {
				printRecordList(cmd, listed)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "List records in these statuses (SUCCESS, FAILED, NOT_FOUND, NO_SOURCE)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum records to list (0 = no limit)")
	return cmd
}

func printRecordList(cmd *cobra.Command, listed []*records.Record) {
	out := cmd.OutOrStdout()
	if len(listed) == 0 {
		fmt.Fprintln(out, "No matching records")
		return
	}
	rows := make([][]string, 0, len(listed))
	for _, record := range listed {
		rows = append(rows, []string{
			record.ID,
			string(record.Status),
			valueOrDash(formatTimestamp(record.ProcessedAt)),
			valueOrDash(truncate(strings.Join(strings.Fields(record.RawResponse), " "), listDetailLimit)),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "Status", "Processed", "Detail"}, rows, nil))
}
