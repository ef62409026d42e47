package deepgram

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Transcription is the parsed result of one listen request. The analysis
// fields hold JSON documents and are empty when the service returned none.
type Transcription struct {
	Transcript   string
	Conversation string
	Summary      string
	Topics       string
	Intents      string
	Sentiment    string
	Raw          string
	Channels     int
}

// HasAnalysis reports whether any audio intelligence field was returned.
func (t Transcription) HasAnalysis() bool {
	return t.Summary != "" || t.Topics != "" || t.Intents != "" || t.Sentiment != ""
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Words      []word `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Speaker    int    `json:"speaker"`
			Transcript string `json:"transcript"`
		} `json:"utterances"`
		Summary *struct {
			Short string `json:"short"`
		} `json:"summary"`
		Topics *struct {
			Segments []struct {
				Text   string `json:"text"`
				Topics []struct {
					Topic      string  `json:"topic"`
					Confidence float64 `json:"confidence_score"`
				} `json:"topics"`
			} `json:"segments"`
		} `json:"topics"`
		Intents *struct {
			Segments []struct {
				Text    string `json:"text"`
				Intents []struct {
					Intent     string  `json:"intent"`
					Confidence float64 `json:"confidence_score"`
				} `json:"intents"`
			} `json:"segments"`
		} `json:"intents"`
		Sentiments *struct {
			Average struct {
				Sentiment string  `json:"sentiment"`
				Score     float64 `json:"sentiment_score"`
			} `json:"average"`
			Segments []struct {
				Text      string  `json:"text"`
				Sentiment string  `json:"sentiment"`
				Score     float64 `json:"sentiment_score"`
			} `json:"segments"`
		} `json:"sentiments"`
	} `json:"results"`
}

type word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
}

// Topic is one detected topic with the text it was found in.
type Topic struct {
	Topic      string  `json:"topic"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text"`
}

// Intent is one detected intent with the text it was found in.
type Intent struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text"`
}

// SentimentScore is a sentiment label and score.
type SentimentScore struct {
	Text      string  `json:"text,omitempty"`
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"sentiment_score"`
}

// Sentiment is the average sentiment plus per-segment scores.
type Sentiment struct {
	Average  SentimentScore   `json:"average"`
	Segments []SentimentScore `json:"segments"`
}

var channelLabels = map[int]string{0: "Agent", 1: "Customer"}

// Parse converts a raw listen response into a Transcription.
func Parse(body []byte) (Transcription, error) {
	var resp listenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Transcription{}, fmt.Errorf("decode listen response: %w", err)
	}
	result := Transcription{Raw: string(body), Channels: len(resp.Results.Channels)}

	channels := resp.Results.Channels
	if len(channels) > 0 && len(channels[0].Alternatives) > 0 {
		result.Transcript = strings.TrimSpace(channels[0].Alternatives[0].Transcript)
	}

	switch {
	case len(channels) >= 2:
		perChannel := make([][]word, len(channels))
		for i, channel := range channels {
			if len(channel.Alternatives) > 0 {
				perChannel[i] = channel.Alternatives[0].Words
			}
		}
		result.Conversation = mergeChannels(perChannel)
		if result.Transcript == "" {
			var parts []string
			for _, channel := range channels {
				if len(channel.Alternatives) > 0 {
					if text := strings.TrimSpace(channel.Alternatives[0].Transcript); text != "" {
						parts = append(parts, text)
					}
				}
			}
			result.Transcript = strings.Join(parts, " ")
		}
	case len(resp.Results.Utterances) > 0:
		var lines []string
		for _, utt := range resp.Results.Utterances {
			if text := strings.TrimSpace(utt.Transcript); text != "" {
				lines = append(lines, fmt.Sprintf("Speaker %d: %s", utt.Speaker+1, text))
			}
		}
		result.Conversation = strings.Join(lines, "\n")
	default:
		result.Conversation = result.Transcript
	}

	if s := resp.Results.Summary; s != nil && strings.TrimSpace(s.Short) != "" {
		result.Summary = strings.TrimSpace(s.Short)
	}
	if t := resp.Results.Topics; t != nil {
		topics := []Topic{}
		for _, seg := range t.Segments {
			for _, item := range seg.Topics {
				topics = append(topics, Topic{Topic: item.Topic, Confidence: item.Confidence, Text: seg.Text})
			}
		}
		result.Topics = mustJSON(topics)
	}
	if in := resp.Results.Intents; in != nil {
		intents := []Intent{}
		for _, seg := range in.Segments {
			for _, item := range seg.Intents {
				intents = append(intents, Intent{Intent: item.Intent, Confidence: item.Confidence, Text: seg.Text})
			}
		}
		result.Intents = mustJSON(intents)
	}
	if s := resp.Results.Sentiments; s != nil {
		average := SentimentScore{Sentiment: s.Average.Sentiment, Score: s.Average.Score}
		if average.Sentiment == "" {
			average.Sentiment = "neutral"
		}
		sentiment := Sentiment{Average: average, Segments: []SentimentScore{}}
		for _, seg := range s.Segments {
			label := seg.Sentiment
			if label == "" {
				label = "neutral"
			}
			sentiment.Segments = append(sentiment.Segments, SentimentScore{Text: seg.Text, Sentiment: label, Score: seg.Score})
		}
		result.Sentiment = mustJSON(sentiment)
	}
	return result, nil
}

type channelWord struct {
	text    string
	start   float64
	channel int
}

// mergeChannels orders words from every channel by start time and groups
// consecutive words from the same channel into one labelled line.
func mergeChannels(channels [][]word) string {
	var all []channelWord
	for ch, words := range channels {
		for _, w := range words {
			text := w.PunctuatedWord
			if text == "" {
				text = w.Word
			}
			all = append(all, channelWord{text: text, start: w.Start, channel: ch})
		}
	}
	if len(all) == 0 {
		return ""
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].start < all[j].start })

	var (
		lines   []string
		current = all[0].channel
		words   = []string{all[0].text}
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(words, " "))
		if text == "" {
			return
		}
		label, ok := channelLabels[current]
		if !ok {
			label = fmt.Sprintf("Channel %d", current+1)
		}
		lines = append(lines, label+": "+text)
	}
	for _, w := range all[1:] {
		if w.channel == current {
			words = append(words, w.text)
			continue
		}
		flush()
		current = w.channel
		words = []string{w.text}
	}
	flush()
	return strings.Join(lines, "\n")
}

func mustJSON(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(data)
}
