package streaming

// Rechunk implements spec §4.5's character-level re-chunking for UI
// fluidity: a raw network delta is split into sub-chunks of 1-8
// characters (chosen by delta length) and spread over at most 10ms of
// synthetic per-chunk delay.
func Rechunk(delta string, textType string, priority int) []RenderChunk {
	runes := []rune(delta)
	if len(runes) == 0 {
		return nil
	}

	size := subChunkSize(len(runes))
	var chunks []RenderChunk
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, RenderChunk{
			Text:     string(runes[i:end]),
			TextType: textType,
			Priority: priority,
		})
	}

	const spreadMs = 10.0
	n := len(chunks)
	for i := range chunks {
		chunks[i].DelayMs = spreadMs * float64(i) / float64(n)
	}
	return chunks
}

// subChunkSize picks a sub-chunk size in [1,8] proportional to delta
// length: short deltas render character-by-character; long ones render
// in larger strides so the spread stays bounded.
func subChunkSize(deltaLen int) int {
	switch {
	case deltaLen <= 8:
		return 1
	case deltaLen <= 32:
		return 2
	case deltaLen <= 64:
		return 4
	default:
		return 8
	}
}
