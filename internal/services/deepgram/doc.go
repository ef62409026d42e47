// Package deepgram submits recordings to the Deepgram /v1/listen endpoint
// and turns the response into a readable conversation transcript plus the
// audio intelligence fields (summary, topics, intents, sentiment).
//
// Stereo recordings are labelled by channel (channel 0 is the agent, channel
// 1 the customer) with words from both channels merged by start time. Mono
// recordings use diarized utterances labelled "Speaker N". When neither is
// available the plain transcript is used.
package deepgram
