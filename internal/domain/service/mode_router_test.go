package service

import "testing"

func TestParseInput_SlashCommand(t *testing.T) {
	p := ParseInput("/outline  the future of tea ")
	if p.Command != "outline" {
		t.Fatalf("expected command outline, got %q", p.Command)
	}
	if len(p.Args) != 4 || p.Args[0] != "the" {
		t.Fatalf("unexpected args: %v", p.Args)
	}
}

func TestParseInput_PlainText(t *testing.T) {
	p := ParseInput("what's the weather like")
	if p.Command != "" {
		t.Fatalf("expected empty command for plain text, got %q", p.Command)
	}
}

func TestModeRouter_OutlineForcesPlan(t *testing.T) {
	pm := NewPermissionManager(nil)
	r := NewModeRouter(pm)

	req := r.Route("/outline robots and tea ceremonies", nil)

	if req.Mode != ModePlan {
		t.Fatalf("expected Plan mode, got %v", req.Mode)
	}
	if req.Type != RequestArticle {
		t.Fatalf("expected RequestArticle, got %v", req.Type)
	}
	if pm.Mode() != ModePlan {
		t.Fatalf("expected PermissionManager mode to also be Plan, got %v", pm.Mode())
	}
	if len(req.PlanSteps) == 0 {
		t.Fatal("expected non-empty plan steps")
	}
	last := req.AllowedTools[len(req.AllowedTools)-1]
	if last != "exit_plan_mode" {
		t.Fatalf("expected exit_plan_mode appended last, got %q", last)
	}
}

func TestModeRouter_RewriteDoesNotForcePlan(t *testing.T) {
	pm := NewPermissionManager(nil)
	r := NewModeRouter(pm)

	req := r.Route("/rewrite formal this draft needs polish", nil)

	if req.Mode != ModeDefault {
		t.Fatalf("expected Default mode for rewrite, got %v", req.Mode)
	}
	if req.Type != RequestEdit {
		t.Fatalf("expected RequestEdit, got %v", req.Type)
	}
	if len(req.PlanSteps) != 0 {
		t.Fatalf("expected no plan steps outside Plan mode, got %v", req.PlanSteps)
	}
}

func TestModeRouter_PlainTextIsGeneralQuery(t *testing.T) {
	pm := NewPermissionManager(nil)
	r := NewModeRouter(pm)

	req := r.Route("summarize the last chapter", nil)

	if req.Type != RequestGeneralQuery {
		t.Fatalf("expected RequestGeneralQuery, got %v", req.Type)
	}
	if req.Mode != ModeDefault {
		t.Fatalf("expected inherited Default mode, got %v", req.Mode)
	}
}

func TestModeRouter_UnknownSlashCommandIsSlashCommand(t *testing.T) {
	pm := NewPermissionManager(nil)
	r := NewModeRouter(pm)

	req := r.Route("/model gpt-4", nil)

	if req.Type != RequestSlashCommand {
		t.Fatalf("expected RequestSlashCommand, got %v", req.Type)
	}
}

func TestModeRouter_ResearchInheritsPlanOnceSet(t *testing.T) {
	pm := NewPermissionManager(nil)
	r := NewModeRouter(pm)

	// Entering Plan via /research should persist until something else
	// changes the mode — a subsequent plain-text message inherits it.
	r.Route("/research distributed consensus", nil)
	req := r.Route("what else should I read", nil)

	if req.Mode != ModePlan {
		t.Fatalf("expected Plan mode to persist across messages, got %v", req.Mode)
	}
	if req.Type != RequestGeneralQuery {
		t.Fatalf("expected RequestGeneralQuery, got %v", req.Type)
	}
}
