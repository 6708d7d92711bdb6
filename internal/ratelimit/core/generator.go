package core

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GeneratorRequest is what the Request Handler passes to the external mock
// generator after admission (§4.3 step 6).
type GeneratorRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int64
	Temperature float64
}

// GeneratedResponse is the mock generator's reply: a completion payload
// plus the actual token counts used to reconcile the booked estimate.
type GeneratedResponse struct {
	ID                 string
	Created            int64
	Model              string
	Content            string
	FinishReason       string
	ActualPromptTokens int64
	ActualOutputTokens int64
}

// Generator is the external collaborator §1 calls out of scope for the
// core's admission logic but whose interface the Request Handler depends
// on. MockGenerator is the reference implementation used by this
// repository in place of a real inference backend.
type Generator interface {
	Generate(ctx context.Context, req GeneratorRequest) (GeneratedResponse, error)
}

// MockGeneratorConfig tunes the synthetic completion length distribution.
type MockGeneratorConfig struct {
	MinOutputTokens int64
	MaxOutputTokens int64
	AvgOutputTokens int64
}

// DefaultMockGeneratorConfig matches original_source/mock_generator.py's
// defaults.
var DefaultMockGeneratorConfig = MockGeneratorConfig{
	MinOutputTokens: 50,
	MaxOutputTokens: 500,
	AvgOutputTokens: 150,
}

// MockGenerator produces a realistic-looking OpenAI chat-completion
// payload as a pure function of the request plus a sampled output-token
// count, per §4.5's sample_output and §1's "mock response generator"
// collaborator.
type MockGenerator struct {
	cfg        MockGeneratorConfig
	accountant *Accountant
	rng        *rand.Rand
}

// NewMockGenerator constructs a MockGenerator. accountant is reused so the
// generator's reported prompt_tokens agrees byte-for-byte with the value
// the engine admitted against (§4.5, §8 round-trip property).
func NewMockGenerator(cfg MockGeneratorConfig, accountant *Accountant) *MockGenerator {
	if cfg.MinOutputTokens <= 0 {
		cfg = DefaultMockGeneratorConfig
	}
	return &MockGenerator{
		cfg:        cfg,
		accountant: accountant,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate synthesizes a response. The output token count is sampled in
// [1, maxTokens] around the configured average, per §4.5's sample_output
// contract; callers using this for pre-admission estimates should instead
// rely on the Accountant and the request's own max_tokens.
func (g *MockGenerator) Generate(ctx context.Context, req GeneratorRequest) (GeneratedResponse, error) {
	promptTokens := g.accountant.CountInput(req.Messages)
	outputTokens := g.sampleOutputTokens(req.MaxTokens)
	content := g.renderContent(req.Messages, outputTokens)
	return GeneratedResponse{
		ID:                 "mock_" + uuid.NewString(),
		Created:             time.Now().Unix(),
		Model:               req.Model,
		Content:             content,
		FinishReason:        "stop",
		ActualPromptTokens:  promptTokens,
		ActualOutputTokens:  outputTokens,
	}, nil
}

// sampleOutputTokens implements sample_output(max_tokens): an integer in
// [1, max_tokens] drawn from a normal distribution centered on the
// configured average, clamped to the configured min/max and to the
// caller's max_tokens ceiling.
func (g *MockGenerator) sampleOutputTokens(maxTokens int64) int64 {
	ceiling := maxTokens
	if ceiling <= 0 {
		ceiling = g.cfg.MaxOutputTokens
	}
	stdDev := float64(g.cfg.MaxOutputTokens-g.cfg.MinOutputTokens) / 6
	if stdDev <= 0 {
		stdDev = 1
	}
	sample := g.rng.NormFloat64()*stdDev + float64(g.cfg.AvgOutputTokens)
	tokens := int64(sample)
	if tokens < g.cfg.MinOutputTokens {
		tokens = g.cfg.MinOutputTokens
	}
	if tokens > g.cfg.MaxOutputTokens {
		tokens = g.cfg.MaxOutputTokens
	}
	if tokens > ceiling {
		tokens = ceiling
	}
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

var fillerSentences = []string{
	"This is an important consideration in modern applications.",
	"The implications are significant for system design.",
	"Multiple factors should be taken into account.",
	"This approach offers several advantages.",
	"Let me elaborate on this point further.",
	"The technical details are quite fascinating.",
	"This represents a common challenge in the field.",
	"Understanding these concepts is crucial for success.",
}

var responseTemplates = []string{
	"I understand you're asking about: %s. Let me provide a comprehensive response.",
	"Based on your question regarding %s, here's my analysis.",
	"Regarding %s, I can share the following insights.",
	"Let me help you with your question about %s.",
}

// renderContent builds filler content of about 0.75 words per target
// token, seeded from the last message's content, matching the texture of
// original_source/mock_generator.py's _generate_response_content.
func (g *MockGenerator) renderContent(messages []ChatMessage, targetTokens int64) string {
	if len(messages) == 0 {
		return "Hello! I'm a mock AI assistant. How can I help you today?"
	}
	last := messages[len(messages)-1]
	topic := last.Content
	if len(topic) > 50 {
		topic = topic[:50] + "..."
	}
	template := responseTemplates[g.rng.Intn(len(responseTemplates))]
	base := sprintfTemplate(template, topic)

	targetWords := int(float64(targetTokens) * 0.75)
	words := strings.Fields(base)
	for len(words) < targetWords {
		words = append(words, strings.Fields(fillerSentences[g.rng.Intn(len(fillerSentences))])...)
	}
	if len(words) > targetWords && targetWords > 0 {
		words = words[:targetWords]
	}
	return strings.Join(words, " ")
}

func sprintfTemplate(template, topic string) string {
	return strings.Replace(template, "%s", topic, 1)
}

// FormatUsageHeaderValue renders an int64 for an X-RateLimit-* header.
func FormatUsageHeaderValue(v int64) string {
	return strconv.FormatInt(v, 10)
}
