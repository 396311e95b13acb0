package service

import (
	"fmt"
	"strings"
)

// RequestType is the handler classification from spec §4.2 step 2:
// "Route by (type, mode) to a handler."
type RequestType string

const (
	RequestSlashCommand RequestType = "SlashCommand"
	RequestArticle      RequestType = "ArticleRequest"
	RequestEdit         RequestType = "EditRequest"
	RequestResearch     RequestType = "ResearchRequest"
	RequestGeneralQuery RequestType = "GeneralQuery"
	RequestTodo         RequestType = "TodoRequest"
)

// planForcingCommands are the slash commands that force Plan mode per
// §4.2 step 1, regardless of the session's current mode.
var planForcingCommands = map[string]bool{
	"outline":  true,
	"research": true,
	"publish":  true,
}

// ParsedInput is a slash-command-aware view of one raw user message.
type ParsedInput struct {
	Command string // lowercase, no leading "/"; empty for plain text
	Args    []string
	Raw     string
}

// ParseInput splits raw input into a slash command name + args, leaving
// Command empty for plain text.
func ParseInput(raw string) ParsedInput {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "/") {
		return ParsedInput{Raw: raw}
	}
	fields := strings.Fields(trimmed)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return ParsedInput{Command: name, Args: fields[1:], Raw: raw}
}

// RoutedRequest is the outcome of §4.2 steps 1-2: the resolved mode and
// the handler this message dispatches to, plus whatever the handler
// needs to prime the Agent Loop call (prompt suffix, and — in Plan
// mode — the constructed prompt plan and augmented tool list).
type RoutedRequest struct {
	Type         RequestType
	Mode         Mode
	Command      string
	Args         []string
	PromptSuffix string   // appended to the system prompt for this handler
	PlanSteps    []string // populated only when Mode == ModePlan
	AllowedTools []string // populated only when Mode == ModePlan: base tools + exit_plan_mode
}

// ModeRouter implements the Agent Loop's §4.2 steps 1-2: resolve the
// effective mode for a message, then route by (type, mode) to a handler.
// Mode state is owned by the shared PermissionManager (§4.3) so that a
// Plan-forcing slash command here is visible to checkToolPermission too.
type ModeRouter struct {
	perms *PermissionManager
}

// NewModeRouter creates a router bound to the session's permission manager.
func NewModeRouter(perms *PermissionManager) *ModeRouter {
	return &ModeRouter{perms: perms}
}

// Route resolves the effective mode for raw, classifies it into a
// handler, and — for Plan-mode handlers — builds the prompt plan and
// augmented tool list.
func (r *ModeRouter) Route(raw string, baseTools []string) RoutedRequest {
	parsed := ParseInput(raw)

	// Step 1: mode resolution. Slash commands {outline, research, publish}
	// force Plan; otherwise the message inherits the session's mode.
	mode := r.perms.Mode()
	if planForcingCommands[parsed.Command] {
		r.perms.SetMode(ModePlan)
		mode = ModePlan
	}

	req := RoutedRequest{Mode: mode, Command: parsed.Command, Args: parsed.Args}

	// Step 2: route by (type, mode) to a handler.
	switch parsed.Command {
	case "outline":
		req.Type = RequestArticle
		req.PromptSuffix = articlePromptSuffix(parsed.Args)
	case "publish":
		req.Type = RequestArticle
		req.PromptSuffix = publishPromptSuffix(parsed.Args)
	case "research":
		req.Type = RequestResearch
		req.PromptSuffix = researchPromptSuffix(parsed.Args)
	case "rewrite":
		req.Type = RequestEdit
		req.PromptSuffix = editPromptSuffix(parsed.Args)
	case "":
		req.Type = RequestGeneralQuery
	default:
		req.Type = RequestSlashCommand
	}

	if mode == ModePlan {
		req.PlanSteps = buildPlanSteps(req.Type, parsed)
		req.AllowedTools = append(append([]string{}, baseTools...), "exit_plan_mode")
	}

	return req
}

// buildPlanSteps derives the step list the Plan-mode handler emits as a
// `prompt` event, per §4.2: "constructs a prompt plan (step list derived
// from the command)".
func buildPlanSteps(t RequestType, parsed ParsedInput) []string {
	topic := strings.Join(parsed.Args, " ")
	switch t {
	case RequestArticle:
		if parsed.Command == "publish" {
			return []string{
				fmt.Sprintf("Review %q against writing goals and style guide", topic),
				"Resolve any open TODOs or unresolved research gaps",
				"Finalize formatting and emit the publish-ready draft",
			}
		}
		return []string{
			fmt.Sprintf("Draft a structural outline for %q", topic),
			"Identify section headings and supporting points",
			"Review the outline against writing goals before drafting prose",
		}
	case RequestResearch:
		return []string{
			fmt.Sprintf("Gather reference material on %q", topic),
			"Score and rank sources by relevance and recency",
			"Summarize findings into ResearchMaterial entries",
		}
	default:
		return []string{"Plan the requested change before acting"}
	}
}

func articlePromptSuffix(args []string) string {
	return fmt.Sprintf("\n\nThe user requested an outline for: %s\nProduce a structured outline, not prose.", strings.Join(args, " "))
}

func publishPromptSuffix(args []string) string {
	return fmt.Sprintf("\n\nThe user requested the article be finalized for publication: %s", strings.Join(args, " "))
}

func researchPromptSuffix(args []string) string {
	return fmt.Sprintf("\n\nThe user requested research on: %s\nGather and summarize reference material; do not draft the article itself.", strings.Join(args, " "))
}

func editPromptSuffix(args []string) string {
	if len(args) == 0 {
		return ""
	}
	style := args[0]
	content := strings.Join(args[1:], " ")
	return fmt.Sprintf("\n\nRewrite the following content in a %q style:\n%s", style, content)
}
