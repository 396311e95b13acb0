package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ModelProfile is one entry in config.json's modelProfiles array: a
// named, fully-specified route to a provider/model pair.
type ModelProfile struct {
	Name          string `mapstructure:"name" json:"name"`
	Provider      string `mapstructure:"provider" json:"provider"`
	ModelName     string `mapstructure:"modelName" json:"modelName"`
	BaseURL       string `mapstructure:"baseURL" json:"baseURL,omitempty"`
	APIKey        string `mapstructure:"apiKey" json:"apiKey"`
	MaxTokens     int    `mapstructure:"maxTokens" json:"maxTokens"`
	ContextLength int    `mapstructure:"contextLength" json:"contextLength"`
}

// ModelPointers names which profile backs each of the four routing
// roles the Agent Loop and its sub-agents dispatch against.
type ModelPointers struct {
	Main      string `mapstructure:"main" json:"main"`
	Task      string `mapstructure:"task" json:"task"`
	Reasoning string `mapstructure:"reasoning" json:"reasoning"`
	Quick     string `mapstructure:"quick" json:"quick"`
}

// Config is the full WriteFlow configuration, rooted in config.json per
// spec §6. modelProfiles/modelPointers/theme/verbose/numStartups are the
// spec's own model-routing surface; Gateway/Database/Heartbeat carry the
// gateway's external-interface surface forward for the interfaces that
// still use them (HTTP API, gRPC server).
type Config struct {
	ModelProfiles []ModelProfile `mapstructure:"modelProfiles" json:"modelProfiles"`
	ModelPointers ModelPointers  `mapstructure:"modelPointers" json:"modelPointers"`
	Theme         string         `mapstructure:"theme" json:"theme"`
	Verbose       bool           `mapstructure:"verbose" json:"verbose"`
	NumStartups   int            `mapstructure:"numStartups" json:"numStartups"`

	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	PythonEnv string          `mapstructure:"python_env"`

	Agent AgentConfig `mapstructure:"agent"`

	Log        LogConfig        `mapstructure:"log"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Security   SecurityConfig   `mapstructure:"security"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	MCP        MCPConfig        `mapstructure:"mcp"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	GRPCPort   int              `mapstructure:"grpc_port"`
}

// GatewayConfig configures the HTTP API surface.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// DatabaseConfig configures the persistence backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// HeartbeatConfig configures the periodic status-check job.
type HeartbeatConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	FilePath string `mapstructure:"file_path"`
	Interval int    `mapstructure:"interval"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// ModelConfig describes one entry in the legacy model catalog surfaced
// to interfaces like the CLI's /model picker.
type ModelConfig struct {
	ID          string `mapstructure:"id"`
	Alias       string `mapstructure:"alias"`
	Provider    string `mapstructure:"provider"`
	Description string `mapstructure:"description"`
}

// LLMProviderConfig configures a Go-native LLM provider used by the
// provider router independent of the spec's named model profiles.
type LLMProviderConfig struct {
	Name     string   `mapstructure:"name"`
	BaseURL  string   `mapstructure:"base_url"`
	APIKey   string   `mapstructure:"api_key"`
	Models   []string `mapstructure:"models"`
	Priority int      `mapstructure:"priority"`
}

// ModelPolicyConfig holds per-model-family policy overrides (matched by
// substring against model ID, e.g. "qwen3", "claude").
type ModelPolicyConfig struct {
	RepairToolPairing   *bool   `mapstructure:"repair_tool_pairing"`
	EnforceTurnOrdering *bool   `mapstructure:"enforce_turn_ordering"`
	ReasoningFormat     *string `mapstructure:"reasoning_format"`
	ProgressInterval    *int    `mapstructure:"progress_interval"`
	ProgressEscalation  *bool   `mapstructure:"progress_escalation"`
	PromptStyle         *string `mapstructure:"prompt_style"`
	SystemRoleSupport   *bool   `mapstructure:"system_role_support"`
	ThinkingTagHint     *bool   `mapstructure:"thinking_tag_hint"`
}

// AgentConfig holds the Agent Loop's legacy single-model wiring
// (DefaultModel/Providers/Models), kept alongside the spec's
// ModelProfiles/ModelPointers for interfaces that address a model
// directly rather than through a named profile.
type AgentConfig struct {
	DefaultModel    string                       `mapstructure:"default_model"`
	DefaultProvider string                       `mapstructure:"default_provider"`
	Workspace       string                       `mapstructure:"workspace"`
	MaxIterations   int                          `mapstructure:"max_iterations"`
	AskMode         bool                         `mapstructure:"ask_mode"`
	Models          []ModelConfig                `mapstructure:"models"`
	FallbackModels  []string                     `mapstructure:"fallback_models"`
	Providers       []LLMProviderConfig          `mapstructure:"providers"`
	ModelPolicies   map[string]ModelPolicyConfig `mapstructure:"model_policies"`
	Runtime         RuntimeConfig                `mapstructure:"runtime"`
	Guardrails      GuardrailsConfig             `mapstructure:"guardrails"`
	Security        SecurityConfig               `mapstructure:"security"`
	Compaction      CompactionConfig             `mapstructure:"compaction"`
	GRPCPort        int                          `mapstructure:"grpc_port"`
}

// LogConfig controls the zap logger's level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RuntimeConfig holds the Agent Loop's timing and budget knobs.
type RuntimeConfig struct {
	ToolTimeout      time.Duration `mapstructure:"tool_timeout"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
	SubAgentTimeout  time.Duration `mapstructure:"sub_agent_timeout"`
	SubAgentMaxSteps int           `mapstructure:"sub_agent_max_steps"`
	MaxTokenBudget   int64         `mapstructure:"max_token_budget"`
	ConcurrentTools  bool          `mapstructure:"concurrent_tools"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBaseWait    time.Duration `mapstructure:"retry_base_wait"`
}

// GuardrailsConfig parameterizes the context-compression trigger and
// loop/cost guardrails.
type GuardrailsConfig struct {
	ContextMaxTokens    int     `mapstructure:"context_max_tokens"`
	ContextWarnRatio    float64 `mapstructure:"context_warn_ratio"`
	ContextHardRatio    float64 `mapstructure:"context_hard_ratio"`
	LoopDetectWindow    int     `mapstructure:"loop_detect_window"`
	LoopDetectThreshold int     `mapstructure:"loop_detect_threshold"`
	LoopNameThreshold   int     `mapstructure:"loop_name_threshold"`
	CostGuardEnabled    bool    `mapstructure:"cost_guard_enabled"`
}

// SecurityConfig seeds the Permission Manager's default policy set.
type SecurityConfig struct {
	ApprovalMode    string        `mapstructure:"approval_mode"` // auto | ask_dangerous | ask_all
	DangerousTools  []string      `mapstructure:"dangerous_tools"`
	TrustedTools    []string      `mapstructure:"trusted_tools"`
	TrustedCommands []string      `mapstructure:"trusted_commands"`
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
}

// ToolsConfig lists the tool registry's backend bindings.
type ToolsConfig struct {
	Registry []ToolRegConfig `mapstructure:"registry"`
}

// ToolRegConfig configures one registered tool's execution backend.
type ToolRegConfig struct {
	Name         string              `mapstructure:"name"`
	Backend      string              `mapstructure:"backend"` // go | python | command | grpc
	Command      string              `mapstructure:"command"`
	ArgsFormat   string              `mapstructure:"args_format"`
	Handler      string              `mapstructure:"handler"`
	GRPCMethod   string              `mapstructure:"grpc_method"`
	GRPCEndpoint string              `mapstructure:"grpc_endpoint"`
	Enabled      bool                `mapstructure:"enabled"`
	Timeout      time.Duration       `mapstructure:"timeout"`
	Aliases      map[string][]string `mapstructure:"aliases"`
}

// CompactionConfig parameterizes the LLM-summarization compaction path
// (distinct from the deterministic Context Compressor's own config).
type CompactionConfig struct {
	MessageThreshold int  `mapstructure:"message_threshold"`
	TokenThreshold   int  `mapstructure:"token_threshold"`
	KeepRecent       int  `mapstructure:"keep_recent"`
	SummaryMaxTokens int  `mapstructure:"summary_max_tokens"`
	PreFlushToMemory bool `mapstructure:"pre_flush_to_memory"`
}

// MCPConfig lists external MCP tool servers.
type MCPConfig struct {
	Servers []MCPServerConfig `mapstructure:"servers"`
}

// MCPServerConfig is one MCP server endpoint.
type MCPServerConfig struct {
	Name     string `mapstructure:"name"`
	Endpoint string `mapstructure:"endpoint"`
	Enabled  bool   `mapstructure:"enabled"`
}

// MemoryConfig configures the vector-backed long-term memory store.
type MemoryConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	OllamaURL  string `mapstructure:"ollama_url"`
	EmbedModel string `mapstructure:"embed_model"`
	StorePath  string `mapstructure:"store_path"`
	StoreType  string `mapstructure:"store_type"` // lancedb | memory
}

// ConfigDirEnv names the environment variable that overrides the
// default config directory, per spec §6.
const ConfigDirEnv = "WRITEFLOW_CONFIG_DIR"

// ConfigDir resolves the active config directory: WRITEFLOW_CONFIG_DIR
// if set, else $HOME/.writeflow.
func ConfigDir() string {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir
	}
	return filepath.Join(os.Getenv("HOME"), ".writeflow")
}

// Load reads config.json (and any project-local overlay) using viper's
// layered precedence idiom: defaults → global → project-local → env.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("json")

	globalDir := ConfigDir()
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.json")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("WRITEFLOW")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("theme", "dark")
	v.SetDefault("verbose", false)
	v.SetDefault("numStartups", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("runtime.tool_timeout", "30s")
	v.SetDefault("runtime.run_timeout", "5m")
	v.SetDefault("runtime.sub_agent_timeout", "2m")
	v.SetDefault("runtime.max_token_budget", 128000)
	v.SetDefault("runtime.concurrent_tools", true)
	v.SetDefault("runtime.max_retries", 3)
	v.SetDefault("runtime.retry_base_wait", "1s")

	v.SetDefault("guardrails.context_max_tokens", 128000)
	v.SetDefault("guardrails.context_warn_ratio", 0.7)
	v.SetDefault("guardrails.context_hard_ratio", 0.92)
	v.SetDefault("guardrails.loop_detect_window", 10)
	v.SetDefault("guardrails.loop_detect_threshold", 5)
	v.SetDefault("guardrails.cost_guard_enabled", true)

	v.SetDefault("compaction.message_threshold", 30)
	v.SetDefault("compaction.token_threshold", 30000)
	v.SetDefault("compaction.keep_recent", 10)
	v.SetDefault("compaction.summary_max_tokens", 1000)
	v.SetDefault("compaction.pre_flush_to_memory", true)

	v.SetDefault("security.approval_mode", "ask_dangerous")
	v.SetDefault("security.dangerous_tools", []string{"shell_exec", "write_file", "delete_file"})
	v.SetDefault("security.trusted_tools", []string{"read_file", "list_files", "web_search", "think"})
	v.SetDefault("security.trusted_commands", []string{"ls", "cat", "head", "tail", "grep", "find", "wc", "echo", "pwd"})
	v.SetDefault("security.approval_timeout", "5m")

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18789)
	v.SetDefault("gateway.mode", "local")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "writeflow.db")

	v.SetDefault("agent.runtime.tool_timeout", "30s")
	v.SetDefault("agent.runtime.run_timeout", "5m")
	v.SetDefault("agent.runtime.sub_agent_timeout", "2m")
	v.SetDefault("agent.runtime.max_token_budget", 100000)
	v.SetDefault("agent.runtime.concurrent_tools", true)
	v.SetDefault("agent.runtime.max_retries", 3)
	v.SetDefault("agent.runtime.retry_base_wait", "2s")

	v.SetDefault("agent.guardrails.context_max_tokens", 128000)
	v.SetDefault("agent.guardrails.context_warn_ratio", 0.7)
	v.SetDefault("agent.guardrails.context_hard_ratio", 0.85)
	v.SetDefault("agent.guardrails.loop_detect_window", 10)
	v.SetDefault("agent.guardrails.loop_detect_threshold", 5)
	v.SetDefault("agent.guardrails.loop_name_threshold", 8)
	v.SetDefault("agent.guardrails.cost_guard_enabled", true)

	v.SetDefault("agent.compaction.message_threshold", 30)
	v.SetDefault("agent.compaction.token_threshold", 30000)
	v.SetDefault("agent.compaction.keep_recent", 10)
	v.SetDefault("agent.compaction.summary_max_tokens", 1000)
	v.SetDefault("agent.compaction.pre_flush_to_memory", true)

	v.SetDefault("agent.security.approval_mode", "ask_dangerous")
	v.SetDefault("agent.security.dangerous_tools", []string{"shell_exec", "write_file", "delete_file", "python_exec"})
	v.SetDefault("agent.security.trusted_tools", []string{"read_file", "list_files", "web_search", "think"})
	v.SetDefault("agent.security.trusted_commands", []string{"ls", "cat", "head", "tail", "grep", "find", "wc", "echo", "pwd", "which", "file", "stat"})
	v.SetDefault("agent.security.approval_timeout", "5m")
}

// Save writes cfg to $configDir/config.json atomically (write-to-temp +
// rename), matching the persisted-state contract in spec §6.
func Save(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	target := filepath.Join(dir, "config.json")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to rename temp config: %w", err)
	}
	return nil
}

// Watcher hot-reloads config.json via fsnotify, the same watcher idiom
// the plugin loader uses for hot-loading plugin directories.
type Watcher struct {
	mu      sync.RWMutex
	cfg     Config
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	stopCh  chan struct{}
}

// NewWatcher loads the current config and starts watching its directory
// for changes.
func NewWatcher(logger *zap.Logger) (*Watcher, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}

	w := &Watcher{
		cfg:     *cfg,
		watcher: fw,
		logger:  logger.With(zap.String("component", "config-watcher")),
		stopCh:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != "config.json" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load()
			if err != nil {
				w.logger.Warn("config reload failed", zap.Error(err))
				continue
			}
			w.mu.Lock()
			w.cfg = *cfg
			w.mu.Unlock()
			w.logger.Info("config reloaded")
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Config returns the latest loaded configuration.
func (w *Watcher) Config() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()
}
