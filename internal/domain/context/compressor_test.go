package context

import (
	"strings"
	"testing"
	"time"
)

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want float64
	}{
		{"two ascii words", "hello world", 1.5},
		{"three cjk glyphs", "你好吗", 4.5},
		{"punctuation only", "!!!!", 1.0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := EstimateTokens(c.in)
			if got != c.want {
				t.Fatalf("EstimateTokens(%q) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestShouldCompress(t *testing.T) {
	cfg := DefaultCompressorConfig()
	ctx := &ArticleContext{TokenCount: cfg.TriggerThreshold*cfg.MaxContextTokens - 1}
	if ShouldCompress(ctx, cfg) {
		t.Fatal("expected below-threshold context to not trigger compression")
	}
	ctx.TokenCount = cfg.TriggerThreshold * cfg.MaxContextTokens
	if !ShouldCompress(ctx, cfg) {
		t.Fatal("expected at-threshold context to trigger compression")
	}
}

func TestCompress_FreezesCoreFields(t *testing.T) {
	ctx := &ArticleContext{
		CurrentArticle:  "article",
		ActiveOutline:   "outline",
		WritingGoals:    "goals",
		UserPreferences: "prefs",
	}
	c := NewCompressor(DefaultCompressorConfig())
	c.Compress(ctx)

	if ctx.CurrentArticle != "article" || ctx.ActiveOutline != "outline" ||
		ctx.WritingGoals != "goals" || ctx.UserPreferences != "prefs" {
		t.Fatal("core fields must pass through unchanged")
	}
	if ctx.CompressionLevel != 1 {
		t.Fatalf("expected CompressionLevel incremented to 1, got %d", ctx.CompressionLevel)
	}
}

func TestCompress_ResearchMaterialKeepsTopByScoreAndSummarizes(t *testing.T) {
	now := time.Now()
	ctx := &ArticleContext{}
	for i := 0; i < 10; i++ {
		body := strings.Repeat("x", 300)
		ctx.ResearchMaterial = append(ctx.ResearchMaterial, ResearchItem{
			ID:             string(rune('a' + i)),
			Body:           body,
			CreatedAt:      now.Add(-time.Duration(i) * 24 * time.Hour),
			ReferenceCount: 10 - i,
			RelevanceScore: float64(10-i) / 10.0,
		})
	}
	cfg := DefaultCompressorConfig()
	cfg.PreserveRatio = 0.3
	c := NewCompressor(cfg)
	c.Compress(ctx)

	wantKept := 3 // ceil(10*0.3)
	if len(ctx.ResearchMaterial) != wantKept {
		t.Fatalf("expected %d kept research items, got %d", wantKept, len(ctx.ResearchMaterial))
	}
	if ctx.ResearchMaterial[0].ID != "a" {
		t.Fatalf("expected most recent/relevant item 'a' kept first, got %q", ctx.ResearchMaterial[0].ID)
	}
	for _, it := range ctx.ResearchMaterial {
		if len([]rune(it.Body)) > 200 {
			t.Fatalf("expected body summarized to <=200 runes, got %d", len([]rune(it.Body)))
		}
	}
}

func TestCompress_DialogueHistoryScoringAndCap(t *testing.T) {
	now := time.Now()
	ctx := &ArticleContext{}
	for i := 0; i < 60; i++ {
		ctx.DialogueHistory = append(ctx.DialogueHistory, DialogueMessage{
			ID:        string(rune(i)),
			Content:   "short",
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	ctx.DialogueHistory = append(ctx.DialogueHistory, DialogueMessage{
		ID:             "important",
		Content:        "outline",
		IsSlashCommand: true,
		Timestamp:      now.Add(-time.Hour * 100),
	})

	c := NewCompressor(DefaultCompressorConfig())
	c.Compress(ctx)

	if len(ctx.DialogueHistory) != 50 {
		t.Fatalf("expected 50 kept dialogue messages, got %d", len(ctx.DialogueHistory))
	}
	if ctx.DialogueHistory[0].ID != "important" {
		t.Fatalf("expected highest-scored slash-command message kept first, got %q", ctx.DialogueHistory[0].ID)
	}
}

func TestCompress_ReferenceArticlesTruncatedAndClipped(t *testing.T) {
	ctx := &ArticleContext{}
	for i := 0; i < 15; i++ {
		ctx.ReferenceArticles = append(ctx.ReferenceArticles, Reference{
			ID:             string(rune('a' + i)),
			Body:           strings.Repeat("y", 1000),
			KeyPoints:      []string{"1", "2", "3", "4", "5", "6", "7"},
			RelevanceScore: float64(i),
		})
	}
	c := NewCompressor(DefaultCompressorConfig())
	c.Compress(ctx)

	if len(ctx.ReferenceArticles) != 10 {
		t.Fatalf("expected 10 kept references, got %d", len(ctx.ReferenceArticles))
	}
	if ctx.ReferenceArticles[0].RelevanceScore != 14 {
		t.Fatalf("expected highest-relevance reference first, got %v", ctx.ReferenceArticles[0].RelevanceScore)
	}
	for _, r := range ctx.ReferenceArticles {
		if len(r.Body) > 500 {
			t.Fatalf("expected body truncated to 500 chars, got %d", len(r.Body))
		}
		if len(r.KeyPoints) > 5 {
			t.Fatalf("expected key points clipped to 5, got %d", len(r.KeyPoints))
		}
	}
}

func TestCompress_ToolUsageHistoryKeepsRecent20AndStripsBody(t *testing.T) {
	now := time.Now()
	ctx := &ArticleContext{}
	for i := 0; i < 30; i++ {
		ctx.ToolUsageHistory = append(ctx.ToolUsageHistory, ToolUsage{
			ToolName:  "tool",
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
			Success:   true,
			Body:      strings.Repeat("z", 1000),
		})
	}
	c := NewCompressor(DefaultCompressorConfig())
	c.Compress(ctx)

	if len(ctx.ToolUsageHistory) != 20 {
		t.Fatalf("expected 20 kept tool usages, got %d", len(ctx.ToolUsageHistory))
	}
	for _, u := range ctx.ToolUsageHistory {
		if u.Body != "" {
			t.Fatal("expected body cleared after compression")
		}
		if u.Summary == "" {
			t.Fatal("expected summary populated after compression")
		}
	}
}

func TestSummarizeHeadTail_PassesThroughShortBody(t *testing.T) {
	short := "a short body"
	if got := summarizeHeadTail(short, 200); got != short {
		t.Fatalf("expected unchanged short body, got %q", got)
	}
}

func TestExtractKeySentences_SplitsOnTerminators(t *testing.T) {
	body := "First sentence. Second sentence! 第三句。第四句？Fifth sentence."
	sentences := extractKeySentences(body, 3)
	if len(sentences) != 3 {
		t.Fatalf("expected 3 sentences, got %d: %v", len(sentences), sentences)
	}
}
