package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"callpipe/internal/records"
)

type recordJSON struct {
	ID                  string          `json:"id"`
	Status              string          `json:"status"`
	ArtifactLocation    string          `json:"artifact_location,omitempty"`
	MediaType           string          `json:"media_type,omitempty"`
	Flags               map[string]bool `json:"flags"`
	RawResponse         string          `json:"raw_response,omitempty"`
	Transcript          string          `json:"transcript,omitempty"`
	DiarizedTranscript  string          `json:"diarized_transcript,omitempty"`
	Summary             string          `json:"summary,omitempty"`
	Classification      string          `json:"classification,omitempty"`
	ClassificationModel string          `json:"classification_model,omitempty"`
	TranscribeStatus    string          `json:"transcribe_status,omitempty"`
	TranscribeError     string          `json:"transcribe_error,omitempty"`
	ClassifyStatus      string          `json:"classify_status,omitempty"`
	ClassifyError       string          `json:"classify_error,omitempty"`
	CreatedAt           string          `json:"created_at,omitempty"`
	ProcessedAt         string          `json:"processed_at,omitempty"`
}

const previewLimit = 240

func newShowCommand(ctx *commandContext) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the status record of one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return errors.New("item id is required")
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			record, err := store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("no status record for %s", id)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, toRecordJSON(record))
			}
			printRecord(cmd, record, full)
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Print transcripts and payloads without truncation")
	return cmd
}

func toRecordJSON(record *records.Record) recordJSON {
	flags := make(map[string]bool, len(records.AllFlags()))
	for _, flag := range records.AllFlags() {
		flags[string(flag)] = record.Has(flag)
	}
	return recordJSON{
		ID:                  record.ID,
		Status:              string(record.Status),
		ArtifactLocation:    record.ArtifactLocation,
		MediaType:           record.MediaType,
		Flags:               flags,
		RawResponse:         record.RawResponse,
		Transcript:          record.Transcript,
		DiarizedTranscript:  record.DiarizedTranscript,
		Summary:             record.Summary,
		Classification:      record.Classification,
		ClassificationModel: record.ClassificationModel,
		TranscribeStatus:    string(record.Transcribe.Status),
		TranscribeError:     record.Transcribe.Error,
		ClassifyStatus:      string(record.Classify.Status),
		ClassifyError:       record.Classify.Error,
		CreatedAt:           formatTimestamp(record.CreatedAt),
		ProcessedAt:         formatTimestamp(record.ProcessedAt),
	}
}

func printRecord(cmd *cobra.Command, record *records.Record, full bool) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Item "+record.ID, colorize) {
		fmt.Fprintln(out, line)
	}

	rows := [][]string{
		{"Status", string(record.Status)},
		{"Artifact", valueOrDash(record.ArtifactLocation)},
		{"Media type", valueOrDash(record.MediaType)},
	}
	for _, flag := range records.AllFlags() {
		rows = append(rows, []string{titleCase(string(flag)), yesNo(record.Has(flag))})
	}
	if record.Transcribe.Status != "" {
		rows = append(rows, []string{"Transcribe", stageOutcomeText(record.Transcribe)})
	}
	if record.Classify.Status != "" {
		rows = append(rows, []string{"Classify", stageOutcomeText(record.Classify)})
	}
	if record.ClassificationModel != "" {
		rows = append(rows, []string{"Model", record.ClassificationModel})
	}
	rows = append(rows,
		[]string{"Created", valueOrDash(formatTimestamp(record.CreatedAt))},
		[]string{"Processed", valueOrDash(formatTimestamp(record.ProcessedAt))},
	)
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))

	sections := []struct {
		title string
		body  string
	}{
		{"Summary", record.Summary},
		{"Conversation", record.DiarizedTranscript},
		{"Classification", record.Classification},
		{"Raw response", record.RawResponse},
	}
	for _, section := range sections {
		if strings.TrimSpace(section.body) == "" {
			continue
		}
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader(section.title, colorize) {
			fmt.Fprintln(out, line)
		}
		body := section.body
		if !full {
			body = preview(body)
		}
		fmt.Fprintln(out, body)
	}
}

func stageOutcomeText(outcome records.StageOutcome) string {
	if outcome.Error == "" {
		return string(outcome.Status)
	}
	return fmt.Sprintf("%s: %s", outcome.Status, preview(outcome.Error))
}

func preview(value string) string {
	return truncate(value, previewLimit)
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}

func formatTimestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func titleCase(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
