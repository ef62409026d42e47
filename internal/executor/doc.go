// Package executor runs calls to external services with pacing, per-attempt
// timeouts, and bounded retries.
//
// Every attempt first waits on a rate limiter so consecutive calls through
// the same Executor are spaced by at least the configured delay. Failures are
// classified into not-found, transient, and permanent outcomes; only
// transient failures are retried, with jittered exponential backoff capped at
// a ceiling. A Retry-After hint carried by the error replaces the computed
// delay. Results are returned as values so callers decide how each outcome is
// recorded.
package executor
