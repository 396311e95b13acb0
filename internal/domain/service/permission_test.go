package service

import (
	"context"
	"testing"

	"github.com/writeflow/writeflow/internal/domain/tool"
)

type fakeTool struct{ name string }

func (f fakeTool) Name() string        { return f.name }
func (f fakeTool) Description() string { return "fake" }
func (f fakeTool) Kind() tool.Kind     { return tool.KindEdit }
func (f fakeTool) Schema() map[string]interface{} { return nil }
func (f fakeTool) Execute(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
	return &tool.Result{Success: true}, nil
}

func TestCheckToolPermission_ModeGateDenies(t *testing.T) {
	pm := NewPermissionManager([]PermissionPolicy{
		{ToolName: "shell", Level: LevelDangerous, GrantType: GrantSessionGrant},
	})
	res := pm.CheckToolPermission(fakeTool{"shell"}, LevelDangerous, CheckContext{})
	if res.Decision != DecisionDenied {
		t.Fatalf("expected denied in Default mode for Dangerous level, got %v", res.Decision)
	}
}

func TestCheckToolPermission_AlwaysDeny(t *testing.T) {
	pm := NewPermissionManager([]PermissionPolicy{
		{ToolName: "rm", Level: LevelSafeWrite, GrantType: GrantAlwaysDeny},
	})
	res := pm.CheckToolPermission(fakeTool{"rm"}, LevelSafeWrite, CheckContext{})
	if res.Decision != DecisionDenied {
		t.Fatalf("expected denied, got %v", res.Decision)
	}
}

func TestCheckToolPermission_AlwaysAllow(t *testing.T) {
	pm := NewPermissionManager([]PermissionPolicy{
		{ToolName: "read_file", Level: LevelReadOnly, GrantType: GrantAlwaysAllow},
	})
	res := pm.CheckToolPermission(fakeTool{"read_file"}, LevelReadOnly, CheckContext{})
	if res.Decision != DecisionAllowed {
		t.Fatalf("expected allowed, got %v", res.Decision)
	}
}

func TestCheckToolPermission_MaxPerSessionExceeded(t *testing.T) {
	pm := NewPermissionManager([]PermissionPolicy{
		{ToolName: "web_search", Level: LevelNetworkAccess, GrantType: GrantSessionGrant, MaxPerSession: 1},
	})
	pm.GrantSession("web_search")

	first := pm.CheckToolPermission(fakeTool{"web_search"}, LevelNetworkAccess, CheckContext{})
	if first.Decision != DecisionAllowed {
		t.Fatalf("expected first call allowed, got %v", first.Decision)
	}
	second := pm.CheckToolPermission(fakeTool{"web_search"}, LevelNetworkAccess, CheckContext{})
	if second.Decision != DecisionDenied {
		t.Fatalf("expected second call denied (limit exceeded), got %v", second.Decision)
	}
}

func TestCheckToolPermission_OneTimeGrantConsumedThenAsk(t *testing.T) {
	pm := NewPermissionManager([]PermissionPolicy{
		{ToolName: "edit_file", Level: LevelSafeWrite, GrantType: GrantOneTimeGrant},
	})
	pm.GrantOneTime("edit_file")

	first := pm.CheckToolPermission(fakeTool{"edit_file"}, LevelSafeWrite, CheckContext{})
	if first.Decision != DecisionAllowed {
		t.Fatalf("expected first call allowed via one-time grant, got %v", first.Decision)
	}
	second := pm.CheckToolPermission(fakeTool{"edit_file"}, LevelSafeWrite, CheckContext{})
	if second.Decision != DecisionAsk {
		t.Fatalf("expected second call to ask once grant consumed, got %v", second.Decision)
	}
}

func TestCheckToolPermission_OneTimeGrantAutoApprove(t *testing.T) {
	pm := NewPermissionManager([]PermissionPolicy{
		{ToolName: "edit_file", Level: LevelSafeWrite, GrantType: GrantOneTimeGrant},
	})
	res := pm.CheckToolPermission(fakeTool{"edit_file"}, LevelSafeWrite, CheckContext{AutoApprove: true})
	if res.Decision != DecisionAllowed {
		t.Fatalf("expected allowed under autoApprove, got %v", res.Decision)
	}
}

func TestCheckToolPermission_SessionGrantWorkingDirectoryTrust(t *testing.T) {
	pm := NewPermissionManager([]PermissionPolicy{
		{ToolName: "write_file", Level: LevelSafeWrite, GrantType: GrantSessionGrant},
	})
	res := pm.CheckToolPermission(fakeTool{"write_file"}, LevelSafeWrite, CheckContext{
		WorkingDir: "/home/user/project",
		InputPath:  "notes/draft.md",
		IsWrite:    true,
	})
	if res.Decision != DecisionAllowed {
		t.Fatalf("expected allowed via working-directory trust, got %v", res.Decision)
	}

	outside := pm.CheckToolPermission(fakeTool{"write_file"}, LevelSafeWrite, CheckContext{
		WorkingDir: "/home/user/project",
		InputPath:  "/etc/passwd",
		IsWrite:    true,
	})
	_ = outside // already session-granted from the prior call; still allowed
	if outside.Decision != DecisionAllowed {
		t.Fatalf("expected session grant to persist once acquired, got %v", outside.Decision)
	}
}

func TestCheckToolPermission_SessionGrantAsksOutsideWorkingDirWithoutPriorGrant(t *testing.T) {
	pm := NewPermissionManager([]PermissionPolicy{
		{ToolName: "write_file", Level: LevelSafeWrite, GrantType: GrantSessionGrant},
	})
	res := pm.CheckToolPermission(fakeTool{"write_file"}, LevelSafeWrite, CheckContext{
		WorkingDir: "/home/user/project",
		InputPath:  "/etc/passwd",
		IsWrite:    true,
	})
	if res.Decision != DecisionAsk {
		t.Fatalf("expected ask for out-of-tree write with no grant, got %v", res.Decision)
	}
}

func TestCheckToolPermission_AcceptEditsAutoGrantsSafeWrite(t *testing.T) {
	pm := NewPermissionManager([]PermissionPolicy{
		{ToolName: "edit_file", Level: LevelSafeWrite, GrantType: GrantSessionGrant},
	})
	pm.SetMode(ModeAcceptEdits)

	res := pm.CheckToolPermission(fakeTool{"edit_file"}, LevelSafeWrite, CheckContext{})
	if res.Decision != DecisionAllowed {
		t.Fatalf("expected AcceptEdits to auto-grant SafeWrite, got %v", res.Decision)
	}
}

func TestCheckToolPermission_BypassPermissionsAllowsDangerous(t *testing.T) {
	pm := NewPermissionManager([]PermissionPolicy{
		{ToolName: "shell", Level: LevelDangerous, GrantType: GrantSessionGrant},
	})
	pm.SetMode(ModeBypassPermissions)

	res := pm.CheckToolPermission(fakeTool{"shell"}, LevelDangerous, CheckContext{})
	if res.Decision != DecisionAllowed {
		t.Fatalf("expected BypassPermissions to allow Dangerous level, got %v", res.Decision)
	}
}

func TestSetMode_EnteringPlanClearsSessionGrants(t *testing.T) {
	pm := NewPermissionManager(nil)
	pm.GrantSession("edit_file")
	pm.GrantOneTime("other_tool")

	pm.SetMode(ModePlan)

	pm.mu.Lock()
	_, sessionStillGranted := pm.sessionGrants["edit_file"]
	_, oneTimeStillGranted := pm.oneTimeGrants["other_tool"]
	pm.mu.Unlock()

	if sessionStillGranted {
		t.Fatal("expected session grants cleared on entering Plan")
	}
	if oneTimeStillGranted {
		t.Fatal("expected one-time grants cleared on any mode transition")
	}
}

func TestSetMode_EnteringNonPlanPreservesSessionGrants(t *testing.T) {
	pm := NewPermissionManager(nil)
	pm.GrantSession("edit_file")

	pm.SetMode(ModeAcceptEdits)

	pm.mu.Lock()
	_, stillGranted := pm.sessionGrants["edit_file"]
	pm.mu.Unlock()

	if !stillGranted {
		t.Fatal("expected session grants preserved entering a non-Plan mode")
	}
}

func TestPreviousModeTracksPriorMode(t *testing.T) {
	pm := NewPermissionManager(nil)
	pm.SetMode(ModePlan)
	pm.SetMode(ModeDefault)
	if pm.PreviousMode() != ModePlan {
		t.Fatalf("expected previous mode Plan, got %v", pm.PreviousMode())
	}
}
