// Package workflow runs one pipeline stage as a bounded batch.
//
// Manager.Run takes the stage's file lock, resolves the pending set from the
// source feed and the status store, and drains it with a fixed pool of
// workers. Each worker builds its own stage handler (and so its own executor
// streams) from the registered StageSet; the credential session is shared.
// Every item runs through stageexec, which writes its outcome exactly once.
// Per-item failures are counted in the Summary; a fatal handler error, such
// as an authentication failure, cancels the remaining workers and is
// returned.
//
// Stages gate on each other only through the completion flags in the status
// store, so fetch, transcribe and classify can be invoked independently and
// in any order.
package workflow
