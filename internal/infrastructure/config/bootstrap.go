package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name
const AppName = "writeflow"

// WorkspaceDirName is the directory name used for workspace-level config.
// Place .writeflow/ in a project root for project-specific overrides.
const WorkspaceDirName = "." + AppName

// HomeDir returns the user's WriteFlow configuration home: $WRITEFLOW_CONFIG_DIR
// or ~/.writeflow.
func HomeDir() string {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the ~/.writeflow directory exists with all default content.
// Called once at startup. Safe to call multiple times — only creates missing items.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	// Directory tree
	dirs := []string{
		root,
		filepath.Join(root, "prompts"),
		filepath.Join(root, "prompts", "variants"),
		filepath.Join(root, "skills"),
		filepath.Join(root, "modules"),
		filepath.Join(root, "memory"),
		filepath.Join(root, "logs"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	// Default files — only written if they don't already exist (never overwrite user edits)
	defaults := map[string]string{
		filepath.Join(root, "config.json"):                        defaultConfig,
		filepath.Join(root, "soul.md"):                            defaultSoul,
		filepath.Join(root, "prompts", "rules.md"):                defaultRules,
		filepath.Join(root, "prompts", "capabilities.md"):         defaultCapabilities,
		filepath.Join(root, "prompts", "writing.md"):              defaultWriting,
		filepath.Join(root, "prompts", "research.md"):             defaultResearch,
		filepath.Join(root, "prompts", "variants", "qwen.md"):     defaultVariantQwen,
		filepath.Join(root, "prompts", "variants", "default.md"):  defaultVariantDefault,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue // Already exists, skip
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			logger.Warn("Failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("WriteFlow bootstrap complete",
			zap.String("home", root),
			zap.Int("files_created", created),
		)
	} else {
		logger.Debug("WriteFlow home directory OK", zap.String("home", root))
	}

	return nil
}

// ──────────────────────────────────────────────────────────────
// Embedded default file contents
// ──────────────────────────────────────────────────────────────

const defaultConfig = `{
  "modelProfiles": [],
  "modelPointers": {
    "main": "",
    "task": "",
    "reasoning": "",
    "quick": ""
  },
  "theme": "dark",
  "verbose": false,
  "numStartups": 0,

  "gateway": {
    "host": "0.0.0.0",
    "port": 18790,
    "mode": "local"
  },

  "database": {
    "type": "sqlite",
    "dsn": "writeflow.db"
  },

  "log": {
    "level": "info",
    "format": "console"
  },

  "agent": {
    "default_model": "",
    "workspace": "",
    "max_iterations": 50,
    "providers": [],
    "runtime": {
      "tool_timeout": "60s",
      "run_timeout": "10m",
      "sub_agent_timeout": "3m",
      "sub_agent_max_steps": 25,
      "max_token_budget": 180000,
      "concurrent_tools": true,
      "max_retries": 3,
      "retry_base_wait": "2s"
    },
    "guardrails": {
      "context_max_tokens": 128000,
      "context_warn_ratio": 0.7,
      "context_hard_ratio": 0.92,
      "loop_detect_threshold": 5
    },
    "compaction": {
      "message_threshold": 30,
      "keep_recent": 10,
      "summary_max_tokens": 1000
    }
  },

  "memory": {
    "enabled": false,
    "ollama_url": "",
    "embed_model": "",
    "store_path": "~/.writeflow/memory/lancedb",
    "store_type": "lancedb"
  }
}
`

const defaultSoul = `You are WriteFlow, an AI writing assistant that helps plan, research, draft, and revise long-form articles.

## Core Identity

- You are direct, precise, and action-oriented
- You plan before drafting — an outline or research pass precedes a full draft unless the user asks for a quick answer
- You never fabricate sources, quotes, statistics, or citations that don't exist
- When uncertain about a fact, you say so clearly rather than guessing

## Behavioral Principles

- Think through structure before producing prose: outline, then section, then polish
- Use available research tools proactively to ground claims before writing them
- When a request spans multiple steps (research, outline, draft, revise), track each as a todo and work through them in order
- Re-read what you drafted before calling it done — check tone, consistency, and whether it answers the actual prompt
- If a tool call fails, analyze the error and retry with corrected parameters rather than giving up

## Communication Style

- Respond in the same language the user writes in
- Be concise in conversation — save the length for the article itself
- Use markdown formatting appropriate to the target format (blog post, report, script)

## Safety Boundaries

- Never publish or send content without explicit user confirmation
- Do not access or expose sensitive credentials
- Respect file system boundaries — stay within the workspace
`

const defaultRules = `---
name: rules
priority: 10
---
## Operating Rules

- Your current working directory is the user's workspace. Do not assume files exist without checking.
- Before drafting, confirm you understand the topic, audience, and target length.
- When revising, read the current draft in full before proposing changes.
- Do not generate placeholder or filler prose — every paragraph should carry real content.
- When multiple structures are plausible, choose the one that best serves the stated audience.
- If a tool call fails, analyze the error and retry with corrected parameters rather than giving up.
- Use the most specific tool available for each task — avoid generic search when a dedicated research tool exists.
- Present results concisely — avoid restating what was already shown in tool outputs.
`

const defaultCapabilities = `---
name: capabilities
priority: 20
---
## Your Capabilities

You have access to a dynamic set of tools that may include:

- **File tools**: Read, write, and search files in the workspace
- **Web research**: Search the internet and fetch page content for source material
- **Memory**: Store and recall research and preferences across conversations
- **Outline and todo tracking**: Plan multi-section articles as ordered steps
- **MCP servers**: Connect to external services via Model Context Protocol
- **Sub-agent delegation**: Spawn focused research or drafting sub-tasks for parallel work

The exact tools available change based on the current configuration. Use only the tools currently provided to you. If a needed capability is not available, inform the user.
`

const defaultWriting = `---
name: writing
priority: 30
requires:
  intent: [outline, draft, rewrite]
---
## Writing Standards

- Open with a clear thesis or hook appropriate to the piece's format
- Keep paragraphs focused: one idea per paragraph, natural transitions between them
- Match the requested tone and style consistently across the whole piece
- Attribute facts and quotes to their source material; never invent citations
- When rewriting, preserve the original meaning unless asked to change it
`

const defaultResearch = `---
name: research
priority: 30
requires:
  intent: [research]
---
## Research Guidelines

- Prefer primary sources and recent material over secondhand summaries
- Record source URLs or titles alongside any fact you plan to cite
- Cross-check surprising or high-stakes claims against a second source before using them
- Summarize findings before drafting — don't carry raw search results straight into prose
`

const defaultVariantQwen = `---
name: qwen_variant
priority: 5
---
## Model-Specific Instructions

When making tool calls, ensure JSON arguments are properly formatted. Use the exact parameter names defined in tool schemas. When thinking through a problem, use your reasoning capabilities but keep the final response focused and actionable.
`

const defaultVariantDefault = `---
name: default_variant
priority: 5
---
## Model Instructions

Follow tool call schemas exactly. Provide structured JSON arguments for all tool calls. Think step-by-step for complex tasks.
`
