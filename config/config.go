// Package config loads the runtime/environment knobs enumerated in spec
// §6.4 once at process start into an immutable Config value. Configuration
// is never re-read mid-process; the Supervisor, Session Manager, and Routing
// Cache all receive their tunables by value at construction.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every environment knob from spec §6.4 plus the budgets and
// limits from spec §4.1.
type Config struct {
	// ReasonerArtifact is the path to the pre-compiled reasoner bundle.
	// Empty makes the Reasoner façade use fallback heuristics exclusively.
	ReasonerArtifact string `env:"REASONER_ARTIFACT"`

	MaxRounds           int `env:"MAX_ROUNDS" envDefault:"15"`
	MaxParallelAgents   int `env:"MAX_PARALLEL_AGENTS" envDefault:"4"`
	MaxRefinementRounds int `env:"MAX_REFINEMENT_ROUNDS" envDefault:"1"`
	MaxDiscussionRounds int `env:"MAX_DISCUSSION_ROUNDS" envDefault:"1"`

	RoutingCacheTTL        time.Duration `env:"ROUTING_CACHE_TTL_MS" envDefault:"300000ms"`
	RoutingCacheMaxEntries int           `env:"ROUTING_CACHE_MAX_ENTRIES" envDefault:"1000"`

	// DefaultAgent names the fast-path and synthesis agent.
	DefaultAgent string `env:"DEFAULT_AGENT" envDefault:"writer"`

	// AllowedOrigins lists permitted WebSocket origins.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// EnableSensitiveData, when false (the default), redacts task text from
	// cache telemetry and audit traces.
	EnableSensitiveData bool `env:"ENABLE_SENSITIVE_DATA" envDefault:"false"`

	// DevMode permits localhost WebSocket origins regardless of
	// AllowedOrigins.
	DevMode bool `env:"DEV_MODE" envDefault:"false"`

	MaxTaskLength int           `env:"MAX_TASK_LENGTH" envDefault:"10000"`
	AgentTimeout  time.Duration `env:"AGENT_TIMEOUT_MS" envDefault:"60000ms"`
	RunTimeout    time.Duration `env:"RUN_TIMEOUT_MS" envDefault:"600000ms"`

	// RecentYearThreshold is the 4-digit year at or above which a task is
	// considered time-sensitive by the fallback heuristic (spec §4.3).
	RecentYearThreshold int `env:"RECENT_YEAR_THRESHOLD" envDefault:"2024"`

	// EnableRefinement gates the Progress→Execution refinement loop. Off by
	// default per spec §9 Open Question: "refinement default".
	EnableRefinement bool `env:"QUALITY_ENABLE_REFINEMENT" envDefault:"false"`

	// ConversationHistoryLimit bounds how many prior messages are loaded for
	// conversation memory injection (spec §4.7).
	ConversationHistoryLimit int `env:"CONVERSATION_HISTORY_LIMIT" envDefault:"10"`

	CheckpointDir string `env:"CHECKPOINT_DIR" envDefault:"./checkpoints"`

	RedisAddr    string `env:"REDIS_ADDR"`
	PostgresDSN  string `env:"POSTGRES_DSN"`
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":8080"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
}

// Load reads an optional .env file (ignored if absent) then parses process
// environment variables into a Config. Called once at startup.
func Load() (Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsAllowedOrigin reports whether origin is permitted to open a WebSocket
// connection, honoring DevMode's localhost allowance (spec §6.1).
func (c Config) IsAllowedOrigin(origin string) bool {
	if c.DevMode && isLocalhost(origin) {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

func isLocalhost(origin string) bool {
	for _, host := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, host) {
			return true
		}
	}
	return false
}
