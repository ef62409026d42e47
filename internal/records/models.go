package records

import (
	"fmt"
	"strings"
	"time"
)

// Status is the terminal outcome of the fetch stage. Later stages record their
// own outcome in StageOutcome columns and reuse the SUCCESS and FAILED values.
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusNotFound Status = "NOT_FOUND"
	StatusNoSource Status = "NO_SOURCE"
)

type statusTraits struct {
	terminal bool
	eligible bool // may feed the stages after fetch
}

var statusTable = map[Status]statusTraits{
	StatusSuccess:  {terminal: true, eligible: true},
	StatusFailed:   {terminal: true},
	StatusNotFound: {terminal: true},
	StatusNoSource: {terminal: true},
}

var allStatuses = []Status{StatusSuccess, StatusFailed, StatusNotFound, StatusNoSource}

// AllStatuses returns every status in display order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToUpper(strings.TrimSpace(value)))
	_, ok := statusTable[status]
	return status, ok
}

// IsTerminal reports whether the fetch stage never retries an item in this
// status without an explicit reset.
func (s Status) IsTerminal() bool {
	return statusTable[s].terminal
}

// EligibleForLaterStages reports whether items in this status may be picked
// up by the stages that follow fetch.
func (s Status) EligibleForLaterStages() bool {
	return statusTable[s].eligible
}

// Flag names one stage completion column.
type Flag string

const (
	FlagFetched     Flag = "fetched"
	FlagTranscribed Flag = "transcribed"
	FlagAnalyzed    Flag = "analyzed"
	FlagClassified  Flag = "classified"
)

var allFlags = []Flag{FlagFetched, FlagTranscribed, FlagAnalyzed, FlagClassified}

// AllFlags returns every completion flag in pipeline order.
func AllFlags() []Flag {
	return append([]Flag(nil), allFlags...)
}

func (f Flag) valid() bool {
	for _, known := range allFlags {
		if f == known {
			return true
		}
	}
	return false
}

// StageOutcome is the latest result of a stage after fetch.
type StageOutcome struct {
	Status Status
	Error  string
}

// Record is one row of the status table.
type Record struct {
	ID                  string
	Status              Status
	ArtifactLocation    string
	MediaType           string
	RawResponse         string
	Flags               map[Flag]bool
	Transcript          string
	DiarizedTranscript  string
	TranscriptRaw       string
	Summary             string
	Topics              string
	Intents             string
	Sentiment           string
	Classification      string
	ClassificationModel string
	Transcribe          StageOutcome
	Classify            StageOutcome
	CreatedAt           time.Time
	ProcessedAt         time.Time
}

// Has reports whether a completion flag is set.
func (r *Record) Has(flag Flag) bool {
	if r == nil {
		return false
	}
	return r.Flags[flag]
}

// ClassificationRow is the flattened classification written alongside the
// classified flag.
type ClassificationRow struct {
	Version           string
	CallTypes         string // JSON array
	SaleResult        string
	ProductFamily     string
	AgentName         string
	OverallConfidence float64
	Model             string
}

// Patch lists the columns a single write changes. Nil fields are left
// untouched. ProcessedAt is always refreshed.
type Patch struct {
	Status              *Status
	ArtifactLocation    *string
	MediaType           *string
	RawResponse         *string
	Flags               map[Flag]bool
	Transcript          *string
	DiarizedTranscript  *string
	TranscriptRaw       *string
	Summary             *string
	Topics              *string
	Intents             *string
	Sentiment           *string
	Classification      *string
	ClassificationModel *string
	Transcribe          *StageOutcome
	Classify            *StageOutcome
	// ClassificationRow is written to call_classifications in the same
	// transaction as the patch.
	ClassificationRow *ClassificationRow
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}

type assignment struct {
	column string
	value  any
}

func (p Patch) assignments() ([]assignment, error) {
	var out []assignment
	add := func(column string, value *string) {
		if value != nil {
			out = append(out, assignment{column, *value})
		}
	}
	if p.Status != nil {
		if _, ok := statusTable[*p.Status]; !ok {
			return nil, fmt.Errorf("invalid status %q", *p.Status)
		}
		out = append(out, assignment{"status", string(*p.Status)})
	}
	add("artifact_location", p.ArtifactLocation)
	add("media_type", p.MediaType)
	add("raw_response", p.RawResponse)
	for _, flag := range allFlags {
		if value, ok := p.Flags[flag]; ok {
			out = append(out, assignment{string(flag), boolToInt(value)})
		}
	}
	for flag := range p.Flags {
		if !flag.valid() {
			return nil, fmt.Errorf("unknown flag %q", flag)
		}
	}
	add("transcript", p.Transcript)
	add("diarized_transcript", p.DiarizedTranscript)
	add("transcript_raw", p.TranscriptRaw)
	add("summary", p.Summary)
	add("topics", p.Topics)
	add("intents", p.Intents)
	add("sentiment", p.Sentiment)
	add("classification", p.Classification)
	add("classification_model", p.ClassificationModel)
	if p.Transcribe != nil {
		out = append(out,
			assignment{"transcribe_status", string(p.Transcribe.Status)},
			assignment{"transcribe_error", nullableString(p.Transcribe.Error)},
		)
	}
	if p.Classify != nil {
		out = append(out,
			assignment{"classify_status", string(p.Classify.Status)},
			assignment{"classify_error", nullableString(p.Classify.Error)},
		)
	}
	return out, nil
}

// Filter selects records for BulkKeys. Zero values match everything.
type Filter struct {
	Statuses  []Status
	FlagSet   []Flag
	FlagUnset []Flag
	Limit     int
}
