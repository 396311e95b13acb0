package service

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/writeflow/writeflow/internal/domain/tool"
	rterr "github.com/writeflow/writeflow/pkg/errors"
)

// PermissionLevel classifies the blast radius of a tool invocation.
// Distinct from tool.Kind (which drives the teacher's coarser
// SafeKinds/MutatorKinds split): PermissionLevel is the finer-grained
// axis the Mode & Permission Manager gates on.
type PermissionLevel string

const (
	LevelReadOnly      PermissionLevel = "ReadOnly"
	LevelSafeWrite      PermissionLevel = "SafeWrite"
	LevelSystemModify   PermissionLevel = "SystemModify"
	LevelNetworkAccess  PermissionLevel = "NetworkAccess"
	LevelDangerous      PermissionLevel = "Dangerous"
)

// GrantType is the authorization attached to a tool's PermissionPolicy.
type GrantType string

const (
	GrantAlwaysAllow  GrantType = "AlwaysAllow"
	GrantSessionGrant GrantType = "SessionGrant"
	GrantOneTimeGrant GrantType = "OneTimeGrant"
	GrantAlwaysDeny   GrantType = "AlwaysDeny"
)

// Mode is the session's global execution posture.
type Mode string

const (
	ModeDefault          Mode = "Default"
	ModePlan             Mode = "Plan"
	ModeAcceptEdits      Mode = "AcceptEdits"
	ModeBypassPermissions Mode = "BypassPermissions"
)

// modeAllowedLevels gates which permission levels a mode will even
// consider; a level outside this set is denied before any grant logic runs.
var modeAllowedLevels = map[Mode]map[PermissionLevel]bool{
	ModeDefault: {
		LevelReadOnly: true, LevelSafeWrite: true, LevelSystemModify: true, LevelNetworkAccess: true,
	},
	ModePlan: {
		LevelReadOnly: true,
	},
	ModeAcceptEdits: {
		LevelReadOnly: true, LevelSafeWrite: true, LevelSystemModify: true, LevelNetworkAccess: true,
	},
	ModeBypassPermissions: {
		LevelReadOnly: true, LevelSafeWrite: true, LevelSystemModify: true, LevelNetworkAccess: true, LevelDangerous: true,
	},
}

// PermissionPolicy is the static per-tool policy record.
type PermissionPolicy struct {
	ToolName            string
	Level               PermissionLevel
	GrantType           GrantType
	MaxPerSession       int // 0 = unlimited
	RequireConfirmation bool
}

// Decision is the outcome of checkToolPermission.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
	DecisionAsk     Decision = "ask"
)

// CheckResult carries the decision plus the reason for a denial.
type CheckResult struct {
	Decision Decision
	Reason   string
}

func allowed() CheckResult { return CheckResult{Decision: DecisionAllowed} }
func denied(reason string) CheckResult {
	return CheckResult{Decision: DecisionDenied, Reason: reason}
}
func ask() CheckResult { return CheckResult{Decision: DecisionAsk} }

// CheckContext carries the per-call input the permission check needs
// beyond the static policy: the tool's declared kind/path-sensitivity
// and caller hints.
type CheckContext struct {
	WorkingDir  string
	InputPath   string // resolved path the tool would touch, if any
	IsWrite     bool
	AutoApprove bool
}

// PermissionManager tracks the current mode and the three grant sets
// named in spec §4.3: alwaysAllow (implied by policy.GrantType), session
// grants, and one-time grants, plus per-policy usage counters.
type PermissionManager struct {
	mu            sync.Mutex
	mode          Mode
	previousMode  Mode
	policies      map[string]*PermissionPolicy
	sessionGrants map[string]bool
	oneTimeGrants map[string]bool
	sessionUsage  map[string]int
	deniedCount   map[string]int
}

// NewPermissionManager creates a manager starting in Default mode with
// the given static policies (indexed by ToolName).
func NewPermissionManager(policies []PermissionPolicy) *PermissionManager {
	m := &PermissionManager{
		mode:          ModeDefault,
		policies:      make(map[string]*PermissionPolicy, len(policies)),
		sessionGrants: make(map[string]bool),
		oneTimeGrants: make(map[string]bool),
		sessionUsage:  make(map[string]int),
		deniedCount:   make(map[string]int),
	}
	for i := range policies {
		p := policies[i]
		m.policies[p.ToolName] = &p
	}
	return m
}

// Mode returns the current mode.
func (m *PermissionManager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetMode transitions to newMode. Entering any mode clears one-time
// grants; entering Plan additionally clears session grants.
func (m *PermissionManager) SetMode(newMode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previousMode = m.mode
	m.mode = newMode
	m.oneTimeGrants = make(map[string]bool)
	if newMode == ModePlan {
		m.sessionGrants = make(map[string]bool)
	}
}

// PreviousMode returns the mode active immediately before the last
// SetMode call. Nothing in the tree calls it outside tests.
func (m *PermissionManager) PreviousMode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previousMode
}

// GrantOneTime records a single-use grant for tool, consumed by the
// next checkToolPermission call that matches.
func (m *PermissionManager) GrantOneTime(toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oneTimeGrants[toolName] = true
}

// GrantSession records a session-scoped grant for tool, valid until the
// next mode transition that clears session grants.
func (m *PermissionManager) GrantSession(toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionGrants[toolName] = true
}

// DeniedCount returns how many times toolName has been denied this session.
func (m *PermissionManager) DeniedCount(toolName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deniedCount[toolName]
}

// policyFor returns the policy for toolName, or a permissive default
// (ReadOnly, AlwaysAllow) if none was registered.
func (m *PermissionManager) policyFor(toolName string) PermissionPolicy {
	if p, ok := m.policies[toolName]; ok {
		return *p
	}
	return PermissionPolicy{ToolName: toolName, Level: LevelReadOnly, GrantType: GrantAlwaysAllow}
}

// isPathWithinWorkingDir reports whether path resolves inside dir with
// no ".." escape, mirroring the File Reference Resolver's containment rule.
func isPathWithinWorkingDir(dir, path string) bool {
	if dir == "" || path == "" {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	var target string
	if filepath.IsAbs(path) {
		target = filepath.Clean(path)
	} else {
		target = filepath.Join(absDir, path)
	}
	rel, err := filepath.Rel(absDir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CheckToolPermission implements spec §4.3's checkToolPermission
// algorithm: mode-level gate, explicit deny/allow, session-usage cap,
// one-time grant consumption, session grant (with working-directory
// trust and AcceptEdits auto-grant for SafeWrite tools), default allow.
func (m *PermissionManager) CheckToolPermission(t tool.Tool, level PermissionLevel, cc CheckContext) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	toolName := t.Name()
	policy := m.policyFor(toolName)

	if !modeAllowedLevels[m.mode][level] {
		m.deniedCount[toolName]++
		return denied("mode " + string(m.mode) + " does not permit level " + string(level))
	}

	if policy.GrantType == GrantAlwaysDeny {
		m.deniedCount[toolName]++
		return denied("policy denies " + toolName)
	}

	if policy.GrantType == GrantAlwaysAllow {
		return allowed()
	}

	if policy.MaxPerSession > 0 && m.sessionUsage[toolName] >= policy.MaxPerSession {
		m.deniedCount[toolName]++
		return denied("session usage limit exceeded for " + toolName)
	}

	if m.mode == ModeBypassPermissions {
		m.sessionUsage[toolName]++
		return allowed()
	}

	switch policy.GrantType {
	case GrantOneTimeGrant:
		if m.oneTimeGrants[toolName] {
			delete(m.oneTimeGrants, toolName)
			m.sessionUsage[toolName]++
			return allowed()
		}
		if cc.AutoApprove {
			m.sessionUsage[toolName]++
			return allowed()
		}
		return ask()
	case GrantSessionGrant:
		if m.sessionGrants[toolName] {
			m.sessionUsage[toolName]++
			return allowed()
		}
		if m.mode == ModeAcceptEdits && level == LevelSafeWrite {
			m.sessionUsage[toolName]++
			return allowed()
		}
		if cc.IsWrite && isPathWithinWorkingDir(cc.WorkingDir, cc.InputPath) {
			m.sessionGrants[toolName] = true
			m.sessionUsage[toolName]++
			return allowed()
		}
		if cc.AutoApprove {
			m.sessionUsage[toolName]++
			return allowed()
		}
		return ask()
	default:
		m.sessionUsage[toolName]++
		return allowed()
	}
}

// ToRuntimeError maps a denial's reason into a classified RuntimeError
// for the Tool Orchestrator's Failed(PermissionDenied) record.
func (r CheckResult) ToRuntimeError() error {
	if r.Decision != DecisionDenied {
		return nil
	}
	return rterr.New(rterr.KindPermissionDenied, r.Reason)
}
