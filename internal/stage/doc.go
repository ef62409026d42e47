// Package stage defines the contract between the run orchestrator and the
// per-item stage handlers: stage identities and their ordering, the Outcome a
// handler reports for each item, and health reporting.
package stage
