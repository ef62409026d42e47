// Package stageexec runs a stage handler for one work item and persists the
// classified outcome, retrying the status write with backoff.
package stageexec
