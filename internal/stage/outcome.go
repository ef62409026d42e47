package stage

import (
	"strings"

	"callpipe/internal/records"
)

// Outcome is the classified result of processing one item. Patch carries the
// stage payload; Compose adds the status, outcome and completion columns.
type Outcome struct {
	Status records.Status
	Patch  records.Patch
	Detail string
}

// Succeeded builds a SUCCESS outcome carrying patch.
func Succeeded(patch records.Patch) Outcome {
	return Outcome{Status: records.StatusSuccess, Patch: patch}
}

// Failed builds a FAILED outcome with the error detail.
func Failed(detail string) Outcome {
	return Outcome{Status: records.StatusFailed, Detail: strings.TrimSpace(detail)}
}

// NotFound builds a NOT_FOUND outcome.
func NotFound(detail string) Outcome {
	return Outcome{Status: records.StatusNotFound, Detail: strings.TrimSpace(detail)}
}

// NoSource builds a NO_SOURCE outcome.
func NoSource(detail string) Outcome {
	return Outcome{Status: records.StatusNoSource, Detail: strings.TrimSpace(detail)}
}

// Compose returns the single patch that records o for stage id. The fetch
// stage writes the record status and keeps the detail as raw_response when
// no payload was captured. Later stages never touch the fetch columns; they
// record their own outcome, and anything other than SUCCESS is stored as
// FAILED. The completion flag is set only for SUCCESS.
func (o Outcome) Compose(id ID) records.Patch {
	patch := o.Patch
	flags := make(map[records.Flag]bool, len(patch.Flags)+1)
	for flag, value := range patch.Flags {
		flags[flag] = value
	}
	success := o.Status == records.StatusSuccess

	if id.First() {
		status := o.Status
		patch.Status = &status
		if patch.RawResponse == nil && o.Detail != "" {
			patch.RawResponse = records.Ptr(o.Detail)
		}
	} else {
		patch.Status = nil
		outcome := &records.StageOutcome{Status: records.StatusSuccess}
		if !success {
			outcome = &records.StageOutcome{Status: records.StatusFailed, Error: o.Detail}
			if outcome.Error == "" {
				outcome.Error = string(o.Status)
			}
			// A failed stage must not leave completion behind.
			clear(flags)
		}
		switch id {
		case Transcribe:
			patch.Transcribe = outcome
		case Classify:
			patch.Classify = outcome
		}
	}

	if success {
		flags[id.Flag()] = true
	}
	if len(flags) > 0 {
		patch.Flags = flags
	} else {
		patch.Flags = nil
	}
	return patch
}
