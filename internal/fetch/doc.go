// Package fetch implements the first pipeline stage: look up a contact's
// recording metadata, download the recording to the staging directory and
// upload it to the object store.
//
// Every external call goes through its own executor stream (metadata,
// download, upload) so pacing and retries are tracked per operation. The
// shared session manager supplies the API credential; an authentication
// failure stops the run, while a 401 on a metadata lookup invalidates the
// cached credential and retries the lookup once.
//
// Outcomes:
//   - NOT_FOUND: the API has no such contact
//   - NO_SOURCE: no downloadable interaction, zero duration, a missing file
//     or an empty download
//   - FAILED: retries exhausted or a permanent error on any call
//   - SUCCESS: artifact_location and media_type written, fetched flag set
package fetch
