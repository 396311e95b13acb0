package context

import (
	"strings"
	"unicode/utf8"
)

// PruningStrategy selects how Pruner trims an oversized message list.
type PruningStrategy int

const (
	PruneNone      PruningStrategy = iota // no pruning
	PruneAdaptive                         // importance-weighted trim
	PruneHardClear                        // keep only what fits, newest first
	PruneSummarize                        // falls back to adaptive; summarization needs a model call
)

// String returns the strategy's name.
func (s PruningStrategy) String() string {
	switch s {
	case PruneNone:
		return "none"
	case PruneAdaptive:
		return "adaptive"
	case PruneHardClear:
		return "hard_clear"
	case PruneSummarize:
		return "summarize"
	default:
		return "unknown"
	}
}

// Message is a lightweight, role-tagged chat entry. It intentionally
// doesn't reuse service.LLMMessage to avoid a service->context->service
// import cycle; callers convert at the boundary.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	Importance float64 // precomputed importance score (0-1); 0 means "not scored yet"
	Tokens     int      // cached token estimate
}

// PruneConfig configures Pruner's thresholds.
type PruneConfig struct {
	Strategy            PruningStrategy
	MaxTokens            int     // token budget
	SoftTrimRatio        float64 // pruning starts once usage crosses this fraction of MaxTokens
	HardClearRatio       float64 // a second, more aggressive cut triggers past this fraction
	PreserveSystem       bool    // keep all system-role messages regardless of score
	PreserveRecent       int     // always keep the last N messages untouched
	ImportanceThreshold  float64 // messages scoring below this are dropped from the middle section
}

// DefaultPruneConfig returns the Pruner's stock thresholds.
func DefaultPruneConfig() *PruneConfig {
	return &PruneConfig{
		Strategy:            PruneAdaptive,
		MaxTokens:            100000,
		SoftTrimRatio:        0.7,
		HardClearRatio:       0.85,
		PreserveSystem:       true,
		PreserveRecent:       4,
		ImportanceThreshold:  0.3,
	}
}

// Pruner trims a message list down to a token budget, preferring to keep
// system messages, the most recent turns, and whatever scores as
// important in between.
type Pruner struct {
	config    *PruneConfig
	tokenizer Tokenizer
}

// Tokenizer estimates the token cost of a string.
type Tokenizer interface {
	Count(text string) int
}

// SimpleTokenizer estimates tokens from character counts: CJK runs
// roughly 2 characters/token, everything else roughly 4.
type SimpleTokenizer struct {
	charsPerToken float64
}

// NewSimpleTokenizer creates a character-count-based tokenizer.
func NewSimpleTokenizer() *SimpleTokenizer {
	return &SimpleTokenizer{
		charsPerToken: 4.0,
	}
}

// Count estimates the number of tokens in text.
func (t *SimpleTokenizer) Count(text string) int {
	chineseCount := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			chineseCount++
		}
	}

	totalChars := utf8.RuneCountInString(text)
	englishChars := totalChars - chineseCount

	tokens := float64(chineseCount)/2.0 + float64(englishChars)/t.charsPerToken

	return int(tokens) + 1
}

// NewPruner creates a Pruner. A nil tokenizer falls back to SimpleTokenizer.
func NewPruner(config *PruneConfig, tokenizer Tokenizer) *Pruner {
	if tokenizer == nil {
		tokenizer = NewSimpleTokenizer()
	}
	return &Pruner{
		config:    config,
		tokenizer: tokenizer,
	}
}

// Prune applies the configured strategy, returning messages unchanged if
// the soft threshold hasn't been crossed.
func (p *Pruner) Prune(messages []Message) []Message {
	if p.config.Strategy == PruneNone {
		return messages
	}

	totalTokens := p.calculateTotalTokens(messages)

	softThreshold := int(float64(p.config.MaxTokens) * p.config.SoftTrimRatio)
	hardThreshold := int(float64(p.config.MaxTokens) * p.config.HardClearRatio)

	if totalTokens < softThreshold {
		return messages
	}

	switch p.config.Strategy {
	case PruneAdaptive:
		return p.adaptivePrune(messages, totalTokens, softThreshold, hardThreshold)
	case PruneHardClear:
		return p.hardClearPrune(messages, hardThreshold)
	case PruneSummarize:
		// Summarization needs a model call; SummarizePruner.PruneWithSummary
		// handles that. A bare Pruner falls back to adaptive.
		return p.adaptivePrune(messages, totalTokens, softThreshold, hardThreshold)
	default:
		return messages
	}
}

func (p *Pruner) calculateTotalTokens(messages []Message) int {
	total := 0
	for i := range messages {
		if messages[i].Tokens == 0 {
			messages[i].Tokens = p.tokenizer.Count(messages[i].Content)
		}
		total += messages[i].Tokens
	}
	return total
}

// adaptivePrune keeps system messages, the most recent PreserveRecent
// messages, and whatever middle messages clear ImportanceThreshold.
func (p *Pruner) adaptivePrune(messages []Message, totalTokens, softThreshold, hardThreshold int) []Message {
	if len(messages) == 0 {
		return messages
	}

	result := make([]Message, 0, len(messages))

	systemMessages := make([]Message, 0)
	if p.config.PreserveSystem {
		for _, msg := range messages {
			if msg.Role == "system" {
				systemMessages = append(systemMessages, msg)
			}
		}
	}

	recentStart := len(messages) - p.config.PreserveRecent
	if recentStart < 0 {
		recentStart = 0
	}
	recentMessages := messages[recentStart:]

	middleMessages := make([]Message, 0)
	for i, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		if i >= recentStart {
			continue
		}

		importance := p.evaluateImportance(msg)
		if importance >= p.config.ImportanceThreshold {
			middleMessages = append(middleMessages, msg)
		}
	}

	result = append(result, systemMessages...)
	result = append(result, middleMessages...)
	result = append(result, recentMessages...)

	currentTokens := p.calculateTotalTokens(result)
	if currentTokens > hardThreshold && len(middleMessages) > 0 {
		halfMiddle := len(middleMessages) / 2
		result = make([]Message, 0)
		result = append(result, systemMessages...)
		result = append(result, middleMessages[halfMiddle:]...)
		result = append(result, recentMessages...)
	}

	return result
}

// hardClearPrune keeps system messages plus as many of the newest
// remaining messages as fit under hardThreshold.
func (p *Pruner) hardClearPrune(messages []Message, hardThreshold int) []Message {
	if len(messages) == 0 {
		return messages
	}

	result := make([]Message, 0)
	currentTokens := 0

	if p.config.PreserveSystem {
		for _, msg := range messages {
			if msg.Role == "system" {
				result = append(result, msg)
				currentTokens += msg.Tokens
			}
		}
	}

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role == "system" {
			continue
		}

		if currentTokens+msg.Tokens > hardThreshold {
			break
		}

		insertIdx := len(result)
		for j, m := range result {
			if m.Role != "system" {
				insertIdx = j
				break
			}
		}

		result = append(result[:insertIdx], append([]Message{msg}, result[insertIdx:]...)...)
		currentTokens += msg.Tokens
	}

	return result
}

// evaluateImportance scores a message 0-1: tool-bearing, code-bearing,
// error-bearing, and long messages each add weight over a 0.5 baseline.
func (p *Pruner) evaluateImportance(msg Message) float64 {
	if msg.Importance > 0 {
		return msg.Importance
	}

	importance := 0.5

	if msg.Role == "tool" || msg.ToolCallID != "" {
		importance += 0.2
	}

	if strings.Contains(msg.Content, "```") {
		importance += 0.15
	}

	lowerContent := strings.ToLower(msg.Content)
	if strings.Contains(lowerContent, "error") ||
		strings.Contains(lowerContent, "failed") ||
		strings.Contains(lowerContent, "exception") {
		importance += 0.1
	}

	if len(msg.Content) > 500 {
		importance += 0.05
	}

	if importance > 1.0 {
		importance = 1.0
	}

	return importance
}

// ImportanceOf exposes evaluateImportance for callers that need to rank
// messages before deciding whether to prune or summarize them.
func (p *Pruner) ImportanceOf(msg Message) float64 {
	return p.evaluateImportance(msg)
}

// EstimateTokens estimates the total token count of messages.
func (p *Pruner) EstimateTokens(messages []Message) int {
	return p.calculateTotalTokens(messages)
}

// NeedsPruning reports whether messages have crossed the soft threshold.
func (p *Pruner) NeedsPruning(messages []Message) bool {
	totalTokens := p.calculateTotalTokens(messages)
	softThreshold := int(float64(p.config.MaxTokens) * p.config.SoftTrimRatio)
	return totalTokens >= softThreshold
}
