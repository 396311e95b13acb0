// Package streaming implements the Stream Multiplexer: it normalizes
// provider-specific streaming formats (SSE-delimited JSON lines for the
// OpenAI-compatible family and Anthropic, concatenated JSON objects for
// Gemini) into one NormalizedChunk event stream, then layers a common
// pipeline on top — character-level re-chunking, incremental tool-call
// JSON detection, retry policy, and usage/cost tracking.
//
// Grounded in the teacher's per-provider SSE readers
// (infrastructure/llm/{openai,anthropic,gemini}/sse.go) for the idle-
// timeout wrapper idiom, generalized here into provider-family parsers
// since the teacher's Gemini reader does not implement the balanced-
// brace scanning and cumulative-text de-duplication this spec requires.
package streaming

import (
	"regexp"
	"time"

	"github.com/writeflow/writeflow/internal/domain/entity"
)

// Usage carries per-stream token accounting, spec §3's StreamChunk.usage.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CacheHitTokens   int
	CacheMissTokens  int
}

// Total returns prompt + completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// NormalizedChunk is the Stream Multiplexer's unified output event,
// spec §3's StreamChunk.
type NormalizedChunk struct {
	StreamID       string
	ContentDelta   string
	ReasoningDelta string
	ToolCall       *entity.ToolCallInfo
	Done           bool
	Err            error
	Usage          *Usage
}

// RenderChunk is one sub-chunk produced by the character-level
// re-chunking pass, carrying a UI rendering hint.
type RenderChunk struct {
	Text     string
	TextType string // "content" or "reasoning"
	DelayMs  float64
	Priority int
}

// ModelProfile carries the per-token rates needed to price a
// finished stream (spec §4.5 "Usage tracking").
type ModelProfile struct {
	InRate  float64 // cost per input token
	OutRate float64 // cost per output token
}

// Cost computes inputTokens*InRate + outputTokens*OutRate.
func (p ModelProfile) Cost(u Usage) float64 {
	return float64(u.PromptTokens)*p.InRate + float64(u.CompletionTokens)*p.OutRate
}

// retryableErrPattern matches the transport-error substrings spec §4.5
// names as retryable.
var retryableErrPattern = regexp.MustCompile(`(?i)network|timeout|connection|econnreset|enotfound|econnrefused|502|503|504`)

// IsRetryableTransportError reports whether err's message matches the
// retryable transport-error pattern.
func IsRetryableTransportError(err error) bool {
	if err == nil {
		return false
	}
	return retryableErrPattern.MatchString(err.Error())
}

// RetryPolicy implements the exponential backoff named in spec §4.5:
// base × 2^(n-1), up to MaxRetries.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy returns maxRetries=3, base=1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
}

// DelayForAttempt returns the backoff delay before retry attempt n
// (1-indexed: the first retry is n=1).
func (p RetryPolicy) DelayForAttempt(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := 1 << uint(n-1)
	return p.BaseDelay * time.Duration(mult)
}
