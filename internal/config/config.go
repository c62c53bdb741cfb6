// Package config holds the ambient runtime configuration. File-based
// parsing is handled by the embedding process; this struct is populated by
// callers (tests, the cmd/agentruntimed CLI) and read concurrently by
// every other component.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, coercing
// numbers to their string form.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the agent runtime.
type Config struct {
	Gateway    GatewayConfig    `json:"gateway"`
	Database   DatabaseConfig   `json:"database"`
	Providers  ProvidersConfig  `json:"providers"`
	Tools      ToolsConfig      `json:"tools"`
	Guardrails GuardrailsConfig `json:"guardrails"`
	Hooks      HooksConfig      `json:"hooks"`

	mu sync.RWMutex
}

// GatewayConfig configures the WebSocket RPC transport.
type GatewayConfig struct {
	ListenAddr         string   `json:"listenAddr"`
	MaxConcurrentRuns  int      `json:"maxConcurrentRuns"`
	AllowedOrigins     []string `json:"allowedOrigins,omitempty"`
	RPCRateLimitPerSec float64  `json:"rpcRateLimitPerSec"`
	RPCRateLimitBurst  int      `json:"rpcRateLimitBurst"`
}

// DatabaseConfig configures the SQLite event store. Migrations are
// embedded in the binary and applied on open.
type DatabaseConfig struct {
	Path      string `json:"path"`
	VectorDim int    `json:"vectorDim"`
}

// ProvidersConfig holds provider-independent HTTP client settings.
// Per-provider credentials live in the auth store (internal/auth), not
// here; they are resolved per call from the auth store.
type ProvidersConfig struct {
	HTTPTimeout      time.Duration `json:"httpTimeout"`
	SSEIdleTimeout   time.Duration `json:"sseIdleTimeout"`
	DefaultBaseDelay time.Duration `json:"defaultBaseDelay"`
}

// ToolsConfig configures tool execution limits.
type ToolsConfig struct {
	BashDefaultTimeout time.Duration       `json:"bashDefaultTimeout"`
	BashMaxTimeout     time.Duration       `json:"bashMaxTimeout"`
	WebSearchAPIKey    string              `json:"-"`
	EnabledTools       FlexibleStringSlice `json:"enabledTools,omitempty"`
}

// GuardrailsConfig toggles non-core rule tiers. Core rules are always
// active and ignore DisabledRuleIDs.
type GuardrailsConfig struct {
	StandardEnabled bool                `json:"standardEnabled"`
	DisabledRuleIDs FlexibleStringSlice `json:"disabledRuleIds,omitempty"`
}

// HooksConfig configures hook discovery and execution bounds.
type HooksConfig struct {
	ExtraDirs            FlexibleStringSlice `json:"extraDirs,omitempty"`
	BlockingTimeout      time.Duration       `json:"blockingTimeout"`
	BackgroundConcurrency int                `json:"backgroundConcurrency"`
	CircuitThreshold     int                 `json:"circuitThreshold"`
	CircuitCooldown      time.Duration       `json:"circuitCooldown"`
}

// Default returns the configuration used when no overrides are
// supplied.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ListenAddr:         ":7890",
			MaxConcurrentRuns:  8,
			RPCRateLimitPerSec: 20,
			RPCRateLimitBurst:  40,
		},
		Database: DatabaseConfig{
			Path:      "agentruntime.db",
			VectorDim: 1536,
		},
		Providers: ProvidersConfig{
			HTTPTimeout:      5 * time.Minute,
			SSEIdleTimeout:   90 * time.Second,
			DefaultBaseDelay: time.Second,
		},
		Tools: ToolsConfig{
			BashDefaultTimeout: 2 * time.Minute,
			BashMaxTimeout:     10 * time.Minute,
		},
		Guardrails: GuardrailsConfig{
			StandardEnabled: true,
		},
		Hooks: HooksConfig{
			BlockingTimeout:       30 * time.Second,
			BackgroundConcurrency: 32,
			CircuitThreshold:      3,
			CircuitCooldown:       60 * time.Second,
		},
	}
}

// EnvOverride applies environment-variable overrides for secrets and
// operator-tunable values that must never be persisted to disk.
func (c *Config) EnvOverride() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v := os.Getenv("AGENTRUNTIME_WEB_SEARCH_API_KEY"); v != "" {
		c.Tools.WebSearchAPIKey = v
	}
	if v := os.Getenv("AGENTRUNTIME_LISTEN_ADDR"); v != "" {
		c.Gateway.ListenAddr = v
	}
	if v := os.Getenv("AGENTRUNTIME_DB_PATH"); v != "" {
		c.Database.Path = v
	}
}

// Snapshot returns a copy safe to read without holding the lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	return cp
}
