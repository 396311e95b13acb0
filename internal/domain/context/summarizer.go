package context

import (
	"context"
	"fmt"
	"strings"
)

// Summarizer condenses a message list into a short text summary.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// ModelClient is the minimal LLM surface a Summarizer needs.
type ModelClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMSummarizer asks a model to compress a message list.
type LLMSummarizer struct {
	client          ModelClient
	maxInputTokens  int
	maxOutputTokens int
	summaryPrompt   string
}

// SummarizerConfig configures LLMSummarizer.
type SummarizerConfig struct {
	MaxInputTokens  int
	MaxOutputTokens int
	CustomPrompt    string
}

// DefaultSummarizerConfig returns LLMSummarizer's stock limits.
func DefaultSummarizerConfig() *SummarizerConfig {
	return &SummarizerConfig{
		MaxInputTokens:  8000,
		MaxOutputTokens: 500,
		CustomPrompt:    "",
	}
}

// NewLLMSummarizer creates an LLMSummarizer. A nil config uses the
// defaults; an empty CustomPrompt falls back to defaultSummaryPrompt.
func NewLLMSummarizer(client ModelClient, config *SummarizerConfig) *LLMSummarizer {
	if config == nil {
		config = DefaultSummarizerConfig()
	}

	prompt := config.CustomPrompt
	if prompt == "" {
		prompt = defaultSummaryPrompt
	}

	return &LLMSummarizer{
		client:          client,
		maxInputTokens:  config.MaxInputTokens,
		maxOutputTokens: config.MaxOutputTokens,
		summaryPrompt:   prompt,
	}
}

const defaultSummaryPrompt = `Compress the following conversation history into a concise summary, preserving:
1. The user's core goal and requirements
2. Important actions already completed and decisions made
3. Any drafted or revised content and its current state
4. Open questions or pending follow-ups

Keep the summary under 300 words, as a bullet list.

Conversation:
%s

Summary:`

// Summarize generates a conversation summary, truncating the oldest
// input once it would exceed maxInputTokens.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	tokenizer := NewSimpleTokenizer()
	totalTokens := 0

	for _, msg := range messages {
		line := fmt.Sprintf("[%s]: %s\n", msg.Role, msg.Content)
		lineTokens := tokenizer.Count(line)

		if totalTokens+lineTokens > s.maxInputTokens {
			sb.WriteString("... (earlier messages omitted)\n")
			break
		}

		sb.WriteString(line)
		totalTokens += lineTokens
	}

	prompt := fmt.Sprintf(s.summaryPrompt, sb.String())

	summary, err := s.client.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	return summary, nil
}

// SummarizePruner layers LLM-generated summaries on top of Pruner: old
// messages beyond PreserveRecent are replaced by a single summary message
// instead of being scored and dropped individually.
type SummarizePruner struct {
	*Pruner
	summarizer Summarizer
	summaryMsg *Message
}

// NewSummarizePruner creates a SummarizePruner; config.Strategy is forced
// to PruneSummarize.
func NewSummarizePruner(config *PruneConfig, tokenizer Tokenizer, summarizer Summarizer) *SummarizePruner {
	config.Strategy = PruneSummarize
	return &SummarizePruner{
		Pruner:     NewPruner(config, tokenizer),
		summarizer: summarizer,
	}
}

// PruneWithSummary summarizes everything older than PreserveRecent and
// returns system messages + summary + the recent window. Falls back to
// plain Prune if summarization fails or no summarizer is configured.
func (p *SummarizePruner) PruneWithSummary(ctx context.Context, messages []Message) ([]Message, error) {
	if !p.NeedsPruning(messages) {
		return messages, nil
	}

	var systemMsgs, dialogMsgs []Message
	for _, msg := range messages {
		if msg.Role == "system" {
			systemMsgs = append(systemMsgs, msg)
		} else {
			dialogMsgs = append(dialogMsgs, msg)
		}
	}

	recentCount := p.config.PreserveRecent
	if recentCount > len(dialogMsgs) {
		recentCount = len(dialogMsgs)
	}

	recentMsgs := dialogMsgs[len(dialogMsgs)-recentCount:]
	oldMsgs := dialogMsgs[:len(dialogMsgs)-recentCount]

	if len(oldMsgs) > 0 && p.summarizer != nil {
		summary, err := p.summarizer.Summarize(ctx, oldMsgs)
		if err != nil {
			return p.Prune(messages), nil
		}

		p.summaryMsg = &Message{
			Role:    "system",
			Content: fmt.Sprintf("[conversation history summary]\n%s", summary),
		}
	}

	result := make([]Message, 0, len(systemMsgs)+1+len(recentMsgs))
	result = append(result, systemMsgs...)
	if p.summaryMsg != nil {
		result = append(result, *p.summaryMsg)
	}
	result = append(result, recentMsgs...)

	return result, nil
}

// GetLastSummary returns the most recently generated summary, if any.
func (p *SummarizePruner) GetLastSummary() string {
	if p.summaryMsg != nil {
		return p.summaryMsg.Content
	}
	return ""
}

// SimpleSummarizer extracts keyword-matching lines instead of calling a
// model — used as compaction.go's fallback when the LLM call fails.
type SimpleSummarizer struct{}

// NewSimpleSummarizer creates a SimpleSummarizer.
func NewSimpleSummarizer() *SimpleSummarizer {
	return &SimpleSummarizer{}
}

// Summarize pulls out messages that mention errors, completions, or
// creation/modification of something, capped at the 10 most recent hits.
func (s *SimpleSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var points []string

	for _, msg := range messages {
		content := strings.ToLower(msg.Content)
		if strings.Contains(content, "error") ||
			strings.Contains(content, "done") ||
			strings.Contains(content, "completed") ||
			strings.Contains(content, "created") ||
			strings.Contains(content, "modified") ||
			strings.Contains(content, "updated") {
			summary := msg.Content
			if len(summary) > 100 {
				summary = summary[:100] + "..."
			}
			points = append(points, fmt.Sprintf("- [%s] %s", msg.Role, summary))
		}
	}

	if len(points) == 0 {
		return fmt.Sprintf("%d prior messages, no notable events detected", len(messages)), nil
	}

	if len(points) > 10 {
		points = points[len(points)-10:]
	}

	return strings.Join(points, "\n"), nil
}
