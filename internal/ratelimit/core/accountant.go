package core

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// ChatMessage is the minimal shape the accountant needs from an
// OpenAI-style message: a role and a content string.
type ChatMessage struct {
	Role    string
	Content string
}

// tokensPerMessage is the fixed per-message overhead the tokenizer charges
// on top of the role and content token counts, matching the OpenAI
// chat-format convention this model's encoding was trained against.
const tokensPerMessage = 3

// tokensPerReply is the overhead reserved for the assistant's reply
// priming, added once per request.
const tokensPerReply = 3

// Accountant is the Token Accountant (§4.5). count_input is a pure,
// deterministic function of its input: the same messages always produce
// the same token count on any node, which is what lets a node admit
// against a committed estimate that the mock generator later reports back
// verbatim as prompt_tokens.
type Accountant struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

// NewAccountant constructs an Accountant using the cl100k_base byte-pair
// encoding, the same encoding OpenAI's gpt-3.5-turbo and gpt-4 models use.
func NewAccountant() (*Accountant, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load tokenizer encoding: %w", err)
	}
	return &Accountant{encoding: encoding}, nil
}

// CountInput sums the fixed per-message overhead and the token counts of
// every message's content and role. It is a pure function of messages:
// identical input yields an identical count, on any node.
func (a *Accountant) CountInput(messages []ChatMessage) int64 {
	if a == nil || a.encoding == nil {
		return estimateByLength(messages)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for _, msg := range messages {
		total += tokensPerMessage
		total += int64(len(a.encoding.Encode(msg.Role, nil, nil)))
		total += int64(len(a.encoding.Encode(msg.Content, nil, nil)))
	}
	total += tokensPerReply
	if total < 1 {
		total = 1
	}
	return total
}

// estimateByLength is the fallback used if the tokenizer failed to load;
// kept deterministic so pre-admission and generator-reported counts still
// agree even in that degraded mode.
func estimateByLength(messages []ChatMessage) int64 {
	var chars int64
	for _, msg := range messages {
		chars += int64(len(msg.Content))
	}
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
