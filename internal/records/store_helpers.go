package records

import (
	"database/sql"
	"errors"
	"time"
)

const recordColumns = "id, status, artifact_location, media_type, raw_response, fetched, transcribed, analyzed, classified, transcript, diarized_transcript, transcript_raw, summary, topics, intents, sentiment, classification, classification_model, transcribe_status, transcribe_error, classify_status, classify_error, created_at, processed_at"

// timeLayout is fixed width so processed_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id                  string
		statusStr           string
		artifactLocation    sql.NullString
		mediaType           sql.NullString
		rawResponse         sql.NullString
		fetched             sql.NullInt64
		transcribed         sql.NullInt64
		analyzed            sql.NullInt64
		classified          sql.NullInt64
		transcript          sql.NullString
		diarized            sql.NullString
		transcriptRaw       sql.NullString
		summary             sql.NullString
		topics              sql.NullString
		intents             sql.NullString
		sentiment           sql.NullString
		classification      sql.NullString
		classificationModel sql.NullString
		transcribeStatus    sql.NullString
		transcribeError     sql.NullString
		classifyStatus      sql.NullString
		classifyError       sql.NullString
		createdRaw          sql.NullString
		processedRaw        sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&statusStr,
		&artifactLocation,
		&mediaType,
		&rawResponse,
		&fetched,
		&transcribed,
		&analyzed,
		&classified,
		&transcript,
		&diarized,
		&transcriptRaw,
		&summary,
		&topics,
		&intents,
		&sentiment,
		&classification,
		&classificationModel,
		&transcribeStatus,
		&transcribeError,
		&classifyStatus,
		&classifyError,
		&createdRaw,
		&processedRaw,
	); err != nil {
		return nil, err
	}

	record := &Record{
		ID:               id,
		Status:           Status(statusStr),
		ArtifactLocation: artifactLocation.String,
		MediaType:        mediaType.String,
		RawResponse:      rawResponse.String,
		Flags: map[Flag]bool{
			FlagFetched:     fetched.Int64 != 0,
			FlagTranscribed: transcribed.Int64 != 0,
			FlagAnalyzed:    analyzed.Int64 != 0,
			FlagClassified:  classified.Int64 != 0,
		},
		Transcript:          transcript.String,
		DiarizedTranscript:  diarized.String,
		TranscriptRaw:       transcriptRaw.String,
		Summary:             summary.String,
		Topics:              topics.String,
		Intents:             intents.String,
		Sentiment:           sentiment.String,
		Classification:      classification.String,
		ClassificationModel: classificationModel.String,
		Transcribe:          StageOutcome{Status: Status(transcribeStatus.String), Error: transcribeError.String},
		Classify:            StageOutcome{Status: Status(classifyStatus.String), Error: classifyError.String},
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	if processed, err := parseTimeString(processedRaw.String); err == nil {
		record.ProcessedAt = processed
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
