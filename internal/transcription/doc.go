// Package transcription implements the second pipeline stage. It opens the
// fetched recording from the object store, sends it to Deepgram through a
// paced executor and stores the transcript, the speaker-labelled
// conversation and any audio intelligence results.
//
// A failure is recorded in transcribe_status/transcribe_error and leaves the
// transcribed flag unset, so the next run picks the item up again. The fetch
// columns are never touched.
package transcription
