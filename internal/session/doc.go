// Package session caches a time-limited credential shared by every worker of
// a run.
//
// Manager hands out the cached credential while it is comfortably inside its
// validity window and re-authenticates otherwise. Refreshes are serialized:
// concurrent callers that find the credential stale block on a single
// authentication and then share its result. A FileStore can persist the
// credential between runs.
package session
