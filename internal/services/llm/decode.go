package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var thinkBlock = regexp.MustCompile(`(?is)<think(?:ing)?>.*?</think(?:ing)?>`)

// DecodeJSON unmarshals a model payload into target. Reasoning blocks
// (<think>...</think>), markdown code fences and surrounding prose are
// removed before decoding.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("decode model payload: empty")
	}
	err := json.Unmarshal([]byte(trimmed), target)
	if err == nil {
		return nil
	}
	cleaned := extractJSON(trimmed)
	if cleaned == "" || cleaned == trimmed {
		return fmt.Errorf("decode model payload: %w (payload: %s)", err, snippet(trimmed))
	}
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("decode model payload: %w (extracted: %s)", err, snippet(cleaned))
	}
	return nil
}

// extractJSON returns the first balanced JSON object or array in content
// once reasoning blocks and code fences are stripped.
func extractJSON(content string) string {
	text := strings.TrimSpace(thinkBlock.ReplaceAllString(content, ""))
	text = unfence(text)
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	if end := matchingClose(text, start); end > start {
		return text[start : end+1]
	}
	return text[start:]
}

func unfence(text string) string {
	open := strings.Index(text, "```")
	if open < 0 {
		return text
	}
	body := text[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		// Drop the language tag line, e.g. ```json.
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// matchingClose returns the index of the bracket closing text[start], or -1.
// Brackets inside string literals are ignored.
func matchingClose(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return clean
}
