package llm

import "strings"

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *Usage       `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// chatChoice tolerates providers that answer with the streaming "delta" shape
// or the legacy completion "text" field.
type chatChoice struct {
	Message      assistantMessage `json:"message"`
	Delta        assistantMessage `json:"delta"`
	Text         string           `json:"text"`
	FinishReason string           `json:"finish_reason"`
}

type assistantMessage struct {
	Content      string        `json:"content"`
	Refusal      string        `json:"refusal"`
	ToolCalls    []toolCall    `json:"tool_calls"`
	FunctionCall *functionCall `json:"function_call"`
}

type toolCall struct {
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// arguments returns the first non-empty function call argument string.
func (m assistantMessage) arguments() string {
	if m.FunctionCall != nil {
		if args := strings.TrimSpace(m.FunctionCall.Arguments); args != "" {
			return args
		}
	}
	for _, call := range m.ToolCalls {
		if args := strings.TrimSpace(call.Function.Arguments); args != "" {
			return args
		}
	}
	return ""
}

// payload returns the first usable text across all choices, preferring
// message content over function arguments, plus the first finish reason seen.
func (r chatResponse) payload() (string, string) {
	var finish string
	for _, choice := range r.Choices {
		if finish == "" {
			finish = strings.TrimSpace(choice.FinishReason)
		}
		for _, candidate := range []string{
			choice.Message.Content,
			choice.Delta.Content,
			choice.Text,
			choice.Message.arguments(),
			choice.Delta.arguments(),
		} {
			if text := strings.TrimSpace(candidate); text != "" {
				return text, finish
			}
		}
	}
	return "", finish
}

func (r chatResponse) refusal() string {
	for _, choice := range r.Choices {
		for _, candidate := range []string{choice.Message.Refusal, choice.Delta.Refusal} {
			if text := strings.TrimSpace(candidate); text != "" {
				return text
			}
		}
	}
	return ""
}
