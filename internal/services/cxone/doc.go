// Package cxone talks to the NICE CXone authentication and media playback
// APIs: password-grant authentication, recording metadata lookup, and
// recording download. Each method performs a single HTTP exchange; pacing and
// retries belong to the caller.
package cxone
