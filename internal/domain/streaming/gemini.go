package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// geminiResponse is the minimal shape of one Gemini generateContent
// streamed object.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// ParseGeminiStream implements spec §4.5's Gemini rule: Gemini's wire
// format is a stream of concatenated JSON objects (not line-delimited
// SSE), so this scans character by character to delimit balanced `{…}`
// objects — string-escape aware, so a brace inside a quoted string
// never perturbs the depth count — across the raw byte stream. Each
// complete object yields a chunk. Gemini reports candidates[0].content
// as the *cumulative* text generated so far on every object, so this
// de-duplicates by emitting only the suffix beyond the previously
// accumulated text (property P10).
func ParseGeminiStream(ctx context.Context, streamID string, reader io.Reader, out chan<- NormalizedChunk) error {
	tReader := &timedReader{r: reader, timeout: idleTimeout}
	br := bufio.NewReaderSize(tReader, 64*1024)

	var accumulated strings.Builder
	var buf strings.Builder
	depth := 0
	inString := false
	escaped := false
	started := false

	flush := func(raw string) error {
		var resp geminiResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return nil // skip unparseable fragments, matching the teacher's tolerant idiom
		}
		if resp.UsageMetadata != nil {
			out <- NormalizedChunk{StreamID: streamID, Usage: &Usage{
				PromptTokens:     resp.UsageMetadata.PromptTokenCount,
				CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			}}
		}
		if len(resp.Candidates) == 0 {
			return nil
		}
		cand := resp.Candidates[0]
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			text.WriteString(p.Text)
		}
		cumulative := text.String()
		prev := accumulated.String()
		if len(cumulative) > len(prev) && strings.HasPrefix(cumulative, prev) {
			suffix := cumulative[len(prev):]
			if suffix != "" {
				out <- NormalizedChunk{StreamID: streamID, ContentDelta: suffix}
			}
			accumulated.Reset()
			accumulated.WriteString(cumulative)
		} else if cumulative != "" && cumulative != prev {
			// Non-prefix change (provider reset or non-cumulative chunk):
			// emit it verbatim rather than drop it.
			out <- NormalizedChunk{StreamID: streamID, ContentDelta: cumulative}
			accumulated.Reset()
			accumulated.WriteString(cumulative)
		}
		if cand.FinishReason != "" {
			out <- NormalizedChunk{StreamID: streamID, Done: true}
			return io.EOF // sentinel: caller stops on io.EOF from flush
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r, _, err := br.ReadRune()
		if err != nil {
			if err == io.EOF {
				break
			}
			if isIdleTimeoutErr(err) {
				out <- NormalizedChunk{StreamID: streamID, Done: true, Err: err}
				return nil
			}
			return fmt.Errorf("gemini stream read error: %w", err)
		}

		if !started {
			if r != '{' {
				continue // skip array brackets/commas/whitespace between objects
			}
			started = true
		}

		buf.WriteRune(r)

		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}

		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				raw := buf.String()
				buf.Reset()
				started = false
				if ferr := flush(raw); ferr == io.EOF {
					return nil
				}
			}
		}
	}

	return nil
}
