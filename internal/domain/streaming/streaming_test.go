package streaming

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseSSEFamily_ContentAndDone(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
		"data: [DONE]\n"
	out := make(chan NormalizedChunk, 10)
	if err := ParseSSEFamily(context.Background(), "s1", strings.NewReader(body), out); err != nil {
		t.Fatalf("ParseSSEFamily: %v", err)
	}
	close(out)

	var text strings.Builder
	sawDone := false
	for c := range out {
		text.WriteString(c.ContentDelta)
		if c.Done {
			sawDone = true
		}
	}
	if text.String() != "hello" {
		t.Fatalf("got %q, want %q", text.String(), "hello")
	}
	if !sawDone {
		t.Fatal("expected a Done chunk")
	}
}

func TestParseSSEFamily_IgnoresBlankAndCommentLines(t *testing.T) {
	body := ": comment\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n"
	out := make(chan NormalizedChunk, 10)
	if err := ParseSSEFamily(context.Background(), "s1", strings.NewReader(body), out); err != nil {
		t.Fatalf("ParseSSEFamily: %v", err)
	}
	close(out)
	var text strings.Builder
	for c := range out {
		text.WriteString(c.ContentDelta)
	}
	if text.String() != "ok" {
		t.Fatalf("got %q, want %q", text.String(), "ok")
	}
}

func TestParseSSEFamily_Usage(t *testing.T) {
	body := "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":7}}\n" +
		"data: [DONE]\n"
	out := make(chan NormalizedChunk, 10)
	_ = ParseSSEFamily(context.Background(), "s1", strings.NewReader(body), out)
	close(out)
	var usage *Usage
	for c := range out {
		if c.Usage != nil {
			usage = c.Usage
		}
	}
	if usage == nil || usage.PromptTokens != 5 || usage.CompletionTokens != 7 {
		t.Fatalf("expected usage 5/7, got %+v", usage)
	}
}

func TestParseAnthropicSSE_ContentBlockDeltaAndMessageStop(t *testing.T) {
	body := "event: content_block_delta\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n" +
		"event: message_stop\n" +
		"data: {\"type\":\"message_stop\"}\n"
	out := make(chan NormalizedChunk, 10)
	if err := ParseAnthropicSSE(context.Background(), "s1", strings.NewReader(body), out); err != nil {
		t.Fatalf("ParseAnthropicSSE: %v", err)
	}
	close(out)
	var text strings.Builder
	sawDone := false
	for c := range out {
		text.WriteString(c.ContentDelta)
		if c.Done {
			sawDone = true
		}
	}
	if text.String() != "hi" || !sawDone {
		t.Fatalf("got text=%q done=%v", text.String(), sawDone)
	}
}

func TestParseGeminiStream_BalancedBraceAndDedup(t *testing.T) {
	body := `{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}` +
		`{"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}` +
		`{"candidates":[{"content":{"parts":[{"text":"Hello world"}]},"finishReason":"STOP"}]}`
	out := make(chan NormalizedChunk, 10)
	if err := ParseGeminiStream(context.Background(), "s1", strings.NewReader(body), out); err != nil {
		t.Fatalf("ParseGeminiStream: %v", err)
	}
	close(out)

	var text strings.Builder
	sawDone := false
	for c := range out {
		text.WriteString(c.ContentDelta)
		if c.Done {
			sawDone = true
		}
	}
	if text.String() != "Hello world" {
		t.Fatalf("expected de-duplicated cumulative text 'Hello world', got %q", text.String())
	}
	if !sawDone {
		t.Fatal("expected Done on finishReason")
	}
}

func TestParseGeminiStream_BraceInsideStringIgnored(t *testing.T) {
	body := `{"candidates":[{"content":{"parts":[{"text":"a { b } c"}]},"finishReason":"STOP"}]}`
	out := make(chan NormalizedChunk, 10)
	if err := ParseGeminiStream(context.Background(), "s1", strings.NewReader(body), out); err != nil {
		t.Fatalf("ParseGeminiStream: %v", err)
	}
	close(out)
	var text strings.Builder
	for c := range out {
		text.WriteString(c.ContentDelta)
	}
	if text.String() != "a { b } c" {
		t.Fatalf("got %q", text.String())
	}
}

func TestRechunk_SpreadsWithinTenMs(t *testing.T) {
	chunks := Rechunk("hello world, this is a longer delta than usual for testing", "content", 1)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c.Text)
		if c.DelayMs < 0 || c.DelayMs > 10 {
			t.Fatalf("delay out of [0,10] range: %v", c.DelayMs)
		}
	}
	if joined.String() != "hello world, this is a longer delta than usual for testing" {
		t.Fatalf("rechunked text does not reassemble to original: %q", joined.String())
	}
}

func TestRechunk_ShortDeltaIsOneCharPerChunk(t *testing.T) {
	chunks := Rechunk("hi!", "content", 1)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 single-char chunks, got %d", len(chunks))
	}
}

func TestToolCallDetector_SeparatesEmbeddedToolCall(t *testing.T) {
	var d ToolCallDetector
	prose, calls := d.Feed(`here is a plan {"tool_name":"search","args":{"q":"go"}} and done`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 detected tool call, got %d", len(calls))
	}
	if calls[0].Fields["tool_name"] != "search" {
		t.Fatalf("unexpected fields: %+v", calls[0].Fields)
	}
	if !strings.Contains(prose, "here is a plan") || !strings.Contains(prose, "and done") {
		t.Fatalf("expected prose preserved around the tool call, got %q", prose)
	}
	if strings.Contains(prose, "tool_name") {
		t.Fatalf("expected tool-call JSON excised from prose, got %q", prose)
	}
}

func TestToolCallDetector_IncrementalFeed(t *testing.T) {
	var d ToolCallDetector
	_, calls1 := d.Feed(`{"todos":[`)
	if len(calls1) != 0 {
		t.Fatal("expected no completed call mid-object")
	}
	_, calls2 := d.Feed(`{"id":"1"}]}`)
	if len(calls2) != 1 {
		t.Fatalf("expected completed call once braces balance, got %d", len(calls2))
	}
}

func TestToolCallDetector_IgnoresIncidentalPlainJSON(t *testing.T) {
	var d ToolCallDetector
	_, calls := d.Feed(`some text {"unrelated":"value"} more text`)
	if len(calls) != 0 {
		t.Fatalf("expected no tool call detected for unrecognized shape, got %d", len(calls))
	}
}

func TestIsRetryableTransportError(t *testing.T) {
	if !IsRetryableTransportError(errors.New("dial tcp: connection refused")) {
		t.Fatal("expected connection-refused to be retryable")
	}
	if !IsRetryableTransportError(errors.New("received 503 from upstream")) {
		t.Fatal("expected 503 to be retryable")
	}
	if IsRetryableTransportError(errors.New("invalid api key")) {
		t.Fatal("expected auth error to be non-retryable")
	}
}

func TestRetryPolicy_ExponentialBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.DelayForAttempt(1) != time.Second {
		t.Fatalf("attempt 1: got %v, want 1s", p.DelayForAttempt(1))
	}
	if p.DelayForAttempt(2) != 2*time.Second {
		t.Fatalf("attempt 2: got %v, want 2s", p.DelayForAttempt(2))
	}
	if p.DelayForAttempt(3) != 4*time.Second {
		t.Fatalf("attempt 3: got %v, want 4s", p.DelayForAttempt(3))
	}
}

func TestModelProfile_Cost(t *testing.T) {
	profile := ModelProfile{InRate: 0.001, OutRate: 0.002}
	cost := profile.Cost(Usage{PromptTokens: 1000, CompletionTokens: 500})
	want := 1000*0.001 + 500*0.002
	if cost != want {
		t.Fatalf("got %v, want %v", cost, want)
	}
}
