package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// idleTimeout bounds how long a provider stream may go silent before
// the read is treated as stalled, mirroring the teacher's timedReader.
const idleTimeout = 60 * time.Second

type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

var errIdleTimeout = fmt.Errorf("stream read idle timeout")

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "stream read idle timeout")
}

// openAICompatChunk is the minimal generic shape shared by OpenAI,
// DeepSeek, Kimi, and Zhipu streaming responses.
type openAICompatChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens          int `json:"prompt_tokens"`
		CompletionTokens      int `json:"completion_tokens"`
		PromptCacheHitTokens  int `json:"prompt_cache_hit_tokens"`
		PromptCacheMissTokens int `json:"prompt_cache_miss_tokens"`
	} `json:"usage"`
}

// ParseSSEFamily implements spec §4.5's SSE-family parsing rule: split
// on line boundaries, ignore blank lines and comment lines (starting
// with ':'), terminate on "data: [DONE]", and parse "data: <json>"
// payloads shaped like openAICompatChunk. Emits one NormalizedChunk per
// recognized delta/finish/usage event on out; out is not closed by this
// function (the caller owns it, matching the provider-fan-in pattern).
func ParseSSEFamily(ctx context.Context, streamID string, reader io.Reader, out chan<- NormalizedChunk) error {
	tReader := &timedReader{r: reader, timeout: idleTimeout}
	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			out <- NormalizedChunk{StreamID: streamID, Done: true}
			return nil
		}

		var chunk openAICompatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			out <- NormalizedChunk{
				StreamID: streamID,
				Usage: &Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					CacheHitTokens:   chunk.Usage.PromptCacheHitTokens,
					CacheMissTokens:  chunk.Usage.PromptCacheMissTokens,
				},
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" || choice.Delta.ReasoningContent != "" {
			out <- NormalizedChunk{
				StreamID:       streamID,
				ContentDelta:   choice.Delta.Content,
				ReasoningDelta: choice.Delta.ReasoningContent,
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			out <- NormalizedChunk{StreamID: streamID, Done: true}
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			out <- NormalizedChunk{StreamID: streamID, Done: true, Err: err}
			return nil
		}
		return fmt.Errorf("SSE scan error: %w", err)
	}
	return nil
}

// anthropicEvent is the minimal event-typed SSE frame shape.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ParseAnthropicSSE implements spec §4.5's Anthropic rule: preserve
// event-typed SSE frames, mapping "content_block_delta" to a content
// delta and "message_stop" to done.
func ParseAnthropicSSE(ctx context.Context, streamID string, reader io.Reader, out chan<- NormalizedChunk) error {
	tReader := &timedReader{r: reader, timeout: idleTimeout}
	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pendingEventType string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "event: ") {
			pendingEventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var evt anthropicEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}
		eventType := evt.Type
		if eventType == "" {
			eventType = pendingEventType
		}

		switch eventType {
		case "content_block_delta":
			if evt.Delta.Text != "" {
				out <- NormalizedChunk{StreamID: streamID, ContentDelta: evt.Delta.Text}
			}
		case "message_delta":
			if evt.Usage != nil {
				out <- NormalizedChunk{StreamID: streamID, Usage: &Usage{
					PromptTokens:     evt.Usage.InputTokens,
					CompletionTokens: evt.Usage.OutputTokens,
				}}
			}
		case "message_stop":
			out <- NormalizedChunk{StreamID: streamID, Done: true}
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			out <- NormalizedChunk{StreamID: streamID, Done: true, Err: err}
			return nil
		}
		return fmt.Errorf("anthropic SSE scan error: %w", err)
	}
	return nil
}
