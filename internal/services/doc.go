// Package services defines shared utilities consumed by the stage handlers
// and the external API clients.
//
// Key responsibilities:
//   - Context helpers that stamp work item IDs, stage names, run IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so the executor and stage
//     runner can tell not-found, transient, permanent, and fatal failures apart.
//   - HTTPStatusError, the common non-2xx error returned by every HTTP client.
package services
