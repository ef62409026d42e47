package stage

import (
	"fmt"
	"strings"

	"callpipe/internal/records"
)

// ID names one pipeline stage.
type ID string

const (
	Fetch      ID = "fetch"
	Transcribe ID = "transcribe"
	Classify   ID = "classify"
)

var ordered = []ID{Fetch, Transcribe, Classify}

var flags = map[ID]records.Flag{
	Fetch:      records.FlagFetched,
	Transcribe: records.FlagTranscribed,
	Classify:   records.FlagClassified,
}

// All returns every stage in pipeline order.
func All() []ID {
	return append([]ID(nil), ordered...)
}

// Parse converts a CLI argument into a stage ID.
func Parse(value string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := flags[id]; !ok {
		return "", fmt.Errorf("unknown stage %q (want fetch, transcribe or classify)", value)
	}
	return id, nil
}

// Flag returns the completion flag the stage owns.
func (id ID) Flag() records.Flag {
	return flags[id]
}

// Predecessor returns the stage whose completion gates id. Fetch has none.
func (id ID) Predecessor() (ID, bool) {
	for i, candidate := range ordered {
		if candidate == id {
			if i == 0 {
				return "", false
			}
			return ordered[i-1], true
		}
	}
	return "", false
}

// Downstream returns id followed by every later stage.
func (id ID) Downstream() []ID {
	for i, candidate := range ordered {
		if candidate == id {
			return append([]ID(nil), ordered[i:]...)
		}
	}
	return nil
}

// First reports whether id is the stage that creates status records.
func (id ID) First() bool {
	return id == ordered[0]
}

func (id ID) String() string {
	return string(id)
}
