// Package main hosts the callpipe CLI.
//
// Each invocation opens the status store, runs or inspects one pipeline stage,
// and exits. Runs are bounded by the configured item cap, so repeated
// invocations advance the backlog batch by batch.
package main
