package context

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// EstimateTokens implements the token-estimation heuristic used
// everywhere tokens are reported: CJK glyphs count as 1.5 tokens each,
// ASCII words as 0.75 tokens each, and every other non-whitespace
// character counts for 1/4 token (whitespace counts for nothing). This
// intentionally differs from SimpleTokenizer (pruner.go),
// which backs the teacher's adaptive/hard-clear pruning strategies.
func EstimateTokens(s string) float64 {
	var words, cjk, other float64
	var wordLen int
	flush := func() {
		if wordLen > 0 {
			words++
			wordLen = 0
		}
	}
	for _, r := range s {
		switch {
		case isCJK(r):
			flush()
			cjk++
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			wordLen++
		default:
			flush()
			if !unicode.IsSpace(r) {
				other++
			}
		}
	}
	flush()
	return words*0.75 + cjk*1.5 + other/4.0
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// ResearchItem is one entry of ArticleContext.researchMaterial.
type ResearchItem struct {
	ID             string
	Body           string
	KeySentences   []string
	CreatedAt      time.Time
	ReferenceCount int
	RelevanceScore float64
}

// DialogueMessage is one entry of ArticleContext.dialogueHistory.
type DialogueMessage struct {
	ID             string
	Content        string
	IsSlashCommand bool
	Timestamp      time.Time
}

// Reference is one entry of ArticleContext.referenceArticles.
type Reference struct {
	ID             string
	Body           string
	KeyPoints      []string
	RelevanceScore float64
}

// ToolUsage is one entry of ArticleContext.toolUsageHistory.
type ToolUsage struct {
	ToolName  string
	Timestamp time.Time
	Success   bool
	Body      string // full payload before compression; cleared to Summary after
	Summary   string
}

// ArticleContext is the compressible workspace (spec §3). The first
// four fields are the frozen core and are never pruned.
type ArticleContext struct {
	CurrentArticle   string
	ActiveOutline    string
	WritingGoals     string
	UserPreferences  string

	ResearchMaterial  []ResearchItem
	DialogueHistory   []DialogueMessage
	ReferenceArticles []Reference
	ToolUsageHistory  []ToolUsage

	TokenCount       float64
	CompressionLevel int
	LastUpdated      time.Time
}

// CompressionEvent records one compression pass, per spec §4.6 step 6.
type CompressionEvent struct {
	OriginalTokens   float64
	CompressedTokens float64
	Ratio            float64
	ItemsRemoved     int
	DurationMs       int64
}

// CompressorConfig carries the defaults named in spec §4.6.
type CompressorConfig struct {
	TriggerThreshold   float64 // default 0.92
	MaxContextTokens   float64 // default 128000
	PreserveRatio      float64 // default 0.3, for ResearchMaterial
	MaxResearchItems   int     // default 20
	MaxDialogueHistory int     // default 50
	MaxReferenceArticles int   // default 10
	MaxToolUsageHistory  int   // default 20
}

// DefaultCompressorConfig returns spec's literal defaults.
func DefaultCompressorConfig() CompressorConfig {
	return CompressorConfig{
		TriggerThreshold:     0.92,
		MaxContextTokens:     128000,
		PreserveRatio:        0.3,
		MaxResearchItems:     20,
		MaxDialogueHistory:   50,
		MaxReferenceArticles: 10,
		MaxToolUsageHistory:  20,
	}
}

var dialogueKeywords = []string{"大纲", "outline", "写作", "研究", "发布"}

// ShouldCompress reports whether ctx's estimated token count meets the
// trigger threshold, per spec §4.2 step 5 / §4.6 opening line.
func ShouldCompress(ctx *ArticleContext, cfg CompressorConfig) bool {
	return ctx.TokenCount >= cfg.TriggerThreshold*cfg.MaxContextTokens
}

// Compressor implements spec §4.6's deterministic, single-pass
// compression algorithm. Unlike the teacher's LLM-based
// compaction (compaction.go) and generic adaptive/hard-clear pruner
// (pruner.go) — kept as a supplemental path for free-text history —
// this operates on ArticleContext's typed arrays with literal scoring
// formulas and no model call.
type Compressor struct {
	cfg CompressorConfig
}

// NewCompressor creates a Compressor. A zero CompressorConfig is
// replaced with DefaultCompressorConfig.
func NewCompressor(cfg CompressorConfig) *Compressor {
	if cfg.MaxContextTokens == 0 {
		cfg = DefaultCompressorConfig()
	}
	return &Compressor{cfg: cfg}
}

// Compress mutates ctx in place, pruning the four compressible arrays,
// and returns the resulting CompressionEvent.
func (c *Compressor) Compress(ctx *ArticleContext) CompressionEvent {
	start := time.Now()
	originalTokens := ctx.TokenCount
	itemsRemoved := 0

	itemsRemoved += c.compressResearchMaterial(ctx)
	itemsRemoved += c.compressDialogueHistory(ctx)
	itemsRemoved += c.compressReferenceArticles(ctx)
	itemsRemoved += c.compressToolUsageHistory(ctx)

	ctx.TokenCount = recomputeTokenCount(ctx)
	ctx.CompressionLevel++
	ctx.LastUpdated = start

	ratio := 0.0
	if originalTokens > 0 {
		ratio = ctx.TokenCount / originalTokens
	}
	return CompressionEvent{
		OriginalTokens:   originalTokens,
		CompressedTokens: ctx.TokenCount,
		Ratio:            ratio,
		ItemsRemoved:     itemsRemoved,
		DurationMs:       time.Since(start).Milliseconds(),
	}
}

// compressResearchMaterial implements step 2.
func (c *Compressor) compressResearchMaterial(ctx *ArticleContext) int {
	items := ctx.ResearchMaterial
	n := len(items)
	if n == 0 {
		return 0
	}

	maxRefCount, maxLen := 0, 0
	for _, it := range items {
		if it.ReferenceCount > maxRefCount {
			maxRefCount = it.ReferenceCount
		}
		if l := len(it.Body); l > maxLen {
			maxLen = l
		}
	}

	now := time.Now()
	type scored struct {
		item  ResearchItem
		score float64
	}
	scoredItems := make([]scored, n)
	for i, it := range items {
		days := now.Sub(it.CreatedAt).Hours() / 24
		recency := math.Max(0, 1-days/30)
		normRefCount := 0.0
		if maxRefCount > 0 {
			normRefCount = float64(it.ReferenceCount) / float64(maxRefCount)
		}
		normLen := 0.0
		if maxLen > 0 {
			normLen = float64(len(it.Body)) / float64(maxLen)
		}
		score := 0.3*recency + 0.3*normRefCount + 0.2*normLen + 0.2*it.RelevanceScore
		scoredItems[i] = scored{item: it, score: score}
	}
	sort.SliceStable(scoredItems, func(i, j int) bool { return scoredItems[i].score > scoredItems[j].score })

	keepCount := int(math.Ceil(float64(n) * c.cfg.PreserveRatio))
	if keepCount > c.cfg.MaxResearchItems {
		keepCount = c.cfg.MaxResearchItems
	}
	if keepCount > n {
		keepCount = n
	}

	kept := make([]ResearchItem, keepCount)
	for i := 0; i < keepCount; i++ {
		it := scoredItems[i].item
		it.Body = summarizeHeadTail(it.Body, 200)
		it.KeySentences = extractKeySentences(scoredItems[i].item.Body, 3)
		kept[i] = it
	}
	ctx.ResearchMaterial = kept
	return n - keepCount
}

// compressDialogueHistory implements step 3.
func (c *Compressor) compressDialogueHistory(ctx *ArticleContext) int {
	msgs := ctx.DialogueHistory
	n := len(msgs)
	if n == 0 {
		return 0
	}

	type scored struct {
		msg   DialogueMessage
		score float64
	}
	scoredMsgs := make([]scored, n)
	for i, m := range msgs {
		score := 1.0
		if m.IsSlashCommand {
			score += 2
		}
		if len(m.Content) > 500 {
			score += 1
		}
		if containsAnyKeyword(m.Content, dialogueKeywords) {
			score += 0.5
		}
		scoredMsgs[i] = scored{msg: m, score: score}
	}
	sort.SliceStable(scoredMsgs, func(i, j int) bool {
		if scoredMsgs[i].score != scoredMsgs[j].score {
			return scoredMsgs[i].score > scoredMsgs[j].score
		}
		return scoredMsgs[i].msg.Timestamp.After(scoredMsgs[j].msg.Timestamp)
	})

	keepCount := c.cfg.MaxDialogueHistory
	if keepCount > n {
		keepCount = n
	}
	kept := make([]DialogueMessage, keepCount)
	for i := 0; i < keepCount; i++ {
		kept[i] = scoredMsgs[i].msg
	}
	ctx.DialogueHistory = kept
	return n - keepCount
}

// compressReferenceArticles implements step 4.
func (c *Compressor) compressReferenceArticles(ctx *ArticleContext) int {
	refs := ctx.ReferenceArticles
	n := len(refs)
	if n == 0 {
		return 0
	}

	sorted := make([]Reference, n)
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RelevanceScore > sorted[j].RelevanceScore })

	keepCount := c.cfg.MaxReferenceArticles
	if keepCount > n {
		keepCount = n
	}
	kept := make([]Reference, keepCount)
	for i := 0; i < keepCount; i++ {
		r := sorted[i]
		if len(r.Body) > 500 {
			r.Body = r.Body[:500]
		}
		if len(r.KeyPoints) > 5 {
			r.KeyPoints = r.KeyPoints[:5]
		}
		kept[i] = r
	}
	ctx.ReferenceArticles = kept
	return n - keepCount
}

// compressToolUsageHistory implements step 5.
func (c *Compressor) compressToolUsageHistory(ctx *ArticleContext) int {
	usages := ctx.ToolUsageHistory
	n := len(usages)
	if n == 0 {
		return 0
	}

	sorted := make([]ToolUsage, n)
	copy(sorted, usages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })

	keepCount := c.cfg.MaxToolUsageHistory
	if keepCount > n {
		keepCount = n
	}
	kept := make([]ToolUsage, keepCount)
	for i := 0; i < keepCount; i++ {
		u := sorted[i]
		if u.Summary == "" {
			u.Summary = summarizeHeadTail(u.Body, 120)
		}
		u.Body = ""
		kept[i] = u
	}
	ctx.ToolUsageHistory = kept
	return n - keepCount
}

// summarizeHeadTail implements the "head 70% + tail 30%" elision
// summary: if body already fits within limit, it passes through
// unchanged.
func summarizeHeadTail(body string, limit int) string {
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	const marker = "…"
	markerLen := len([]rune(marker))
	budget := limit - markerLen
	if budget < 2 {
		return string(runes[:limit])
	}
	headLen := int(math.Round(float64(budget) * 0.7))
	tailLen := budget - headLen
	head := string(runes[:headLen])
	tail := string(runes[len(runes)-tailLen:])
	return head + marker + tail
}

// extractKeySentences splits body on CJK/Latin sentence terminators and
// returns up to max non-empty sentences, trimmed.
func extractKeySentences(body string, max int) []string {
	isTerminator := func(r rune) bool {
		switch r {
		case '。', '！', '？', '.', '!', '?':
			return true
		}
		return false
	}
	var sentences []string
	var cur strings.Builder
	for _, r := range body {
		cur.WriteRune(r)
		if isTerminator(r) {
			s := strings.TrimSpace(cur.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			cur.Reset()
			if len(sentences) >= max {
				break
			}
		}
	}
	if len(sentences) < max {
		if rest := strings.TrimSpace(cur.String()); rest != "" {
			sentences = append(sentences, rest)
		}
	}
	if len(sentences) > max {
		sentences = sentences[:max]
	}
	return sentences
}

func containsAnyKeyword(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(s, kw) || strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// recomputeTokenCount re-estimates the live token count across the
// frozen core plus all remaining compressible content, per the token
// estimation heuristic (invariant I4: the core's own token contribution
// is unchanged by compression, only the arrays shrink).
func recomputeTokenCount(ctx *ArticleContext) float64 {
	total := EstimateTokens(ctx.CurrentArticle) + EstimateTokens(ctx.ActiveOutline) +
		EstimateTokens(ctx.WritingGoals) + EstimateTokens(ctx.UserPreferences)
	for _, it := range ctx.ResearchMaterial {
		total += EstimateTokens(it.Body)
		for _, s := range it.KeySentences {
			total += EstimateTokens(s)
		}
	}
	for _, m := range ctx.DialogueHistory {
		total += EstimateTokens(m.Content)
	}
	for _, r := range ctx.ReferenceArticles {
		total += EstimateTokens(r.Body)
	}
	for _, u := range ctx.ToolUsageHistory {
		total += EstimateTokens(u.Summary)
	}
	return total
}
