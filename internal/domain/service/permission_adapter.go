package service

import "github.com/writeflow/writeflow/internal/domain/tool"

// toolKindLevels maps each tool.Kind to the PermissionLevel the
// Mode & Permission Manager gates on, for tools that do not declare a
// level explicitly via ToolLevelProvider.
var toolKindLevels = map[tool.Kind]PermissionLevel{
	tool.KindRead:        LevelReadOnly,
	tool.KindSearch:      LevelReadOnly,
	tool.KindThink:       LevelReadOnly,
	tool.KindCommunicate: LevelSafeWrite,
	tool.KindEdit:        LevelSafeWrite,
	tool.KindFetch:       LevelNetworkAccess,
	tool.KindExecute:     LevelSystemModify,
	tool.KindDelete:      LevelDangerous,
}

// ToolLevelProvider lets a tool declare its own PermissionLevel,
// overriding the Kind-based default above.
type ToolLevelProvider interface {
	PermissionLevel() PermissionLevel
}

func levelFor(t tool.Tool) PermissionLevel {
	if p, ok := t.(ToolLevelProvider); ok {
		return p.PermissionLevel()
	}
	if lvl, ok := toolKindLevels[t.Kind()]; ok {
		return lvl
	}
	return LevelReadOnly
}

// PermissionCheckerAdapter implements tool.PermissionChecker over a
// PermissionManager, bridging the Tool Orchestrator (which cannot import
// this package without a cycle) to the Mode & Permission Manager.
type PermissionCheckerAdapter struct {
	Manager    *PermissionManager
	WorkingDir string
}

// Check implements tool.PermissionChecker.
func (a *PermissionCheckerAdapter) Check(t tool.Tool, args map[string]interface{}) (bool, string) {
	level := levelFor(t)
	cc := CheckContext{WorkingDir: a.WorkingDir}
	if tool.MutatorKinds[t.Kind()] {
		cc.IsWrite = true
		if p, ok := args["path"].(string); ok {
			cc.InputPath = p
		} else if p, ok := args["file_path"].(string); ok {
			cc.InputPath = p
		}
	}
	res := a.Manager.CheckToolPermission(t, level, cc)
	switch res.Decision {
	case DecisionAllowed:
		return true, ""
	case DecisionAsk:
		return false, "confirmation required"
	default:
		return false, res.Reason
	}
}
