package httptransport

import "llmratelimit/internal/ratelimit/core"

// chatMessage mirrors the OpenAI chat message shape (§3, §5).
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the body of POST /v1/chat/completions.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int64         `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// chatCompletionResponse is the 200 body of POST /v1/chat/completions.
type chatCompletionResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []chatCompletionChoice  `json:"choices"`
	Usage   chatCompletionUsage     `json:"usage"`
}

// errorBody is the shape of every non-2xx response (§5).
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	Dimension  string `json:"dimension,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// usageResponse is the 200 body of GET /v1/usage/{api_key}.
type usageResponse struct {
	InputTokensUsed  int64 `json:"input_tokens_used"`
	OutputTokensUsed int64 `json:"output_tokens_used"`
	RequestsUsed     int64 `json:"requests_used"`
	WindowSeconds    int64 `json:"window_seconds"`
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelsResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// modelCatalog is the static set of models the mock generator reports,
// per SUPPLEMENTED FEATURES in SPEC_FULL.md.
var modelCatalog = []modelEntry{
	{ID: "gpt-3.5-turbo", Object: "model", Created: 1677610602, OwnedBy: "llmratelimit"},
	{ID: "gpt-4", Object: "model", Created: 1687882411, OwnedBy: "llmratelimit"},
}

func toChatMessages(in []chatMessage) []core.ChatMessage {
	out := make([]core.ChatMessage, len(in))
	for i, m := range in {
		out[i] = core.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func fromGeneratedResponse(resp core.GeneratedResponse) chatCompletionResponse {
	return chatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: []chatCompletionChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: resp.Content},
			FinishReason: resp.FinishReason,
		}},
		Usage: chatCompletionUsage{
			PromptTokens:     resp.ActualPromptTokens,
			CompletionTokens: resp.ActualOutputTokens,
			TotalTokens:      resp.ActualPromptTokens + resp.ActualOutputTokens,
		},
	}
}

func rateLimitErrorBody(dimension core.Dimension, retryAfterSeconds int64) errorBody {
	return errorBody{Error: errorDetail{
		Type:       "rate_limit_exceeded",
		Dimension:  string(dimension),
		RetryAfter: retryAfterSeconds,
	}}
}

func simpleErrorBody(errType, message string) errorBody {
	return errorBody{Error: errorDetail{Type: errType, Message: message}}
}
