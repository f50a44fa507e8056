package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
)

// DefaultFastTrackPrompt asks the model to classify whether the latest user
// message can be answered without tools or planning.
const DefaultFastTrackPrompt = `You decide whether the user's latest message can be answered directly.
Answer "yes" when it is small talk, a greeting, or a question you can answer from general knowledge without tools.
Answer "no" when it needs tools, fresh information, several steps, or actions on the user's behalf.
Reply with a single word: yes or no.`

// Config holds all configuration for the Hearth assistant backend.
type Config struct {
	Port      int    `validate:"min=1,max=65535"`
	Version   string `validate:"required"`
	LogLevel  string `validate:"oneof=trace debug info warn error"`
	Telemetry TelemetryConfig
	Langfuse  LangfuseConfig
	Model     ModelConfig
	Providers ProvidersConfig
	Store     StoreConfig
	State     StateConfig
	Guards    GuardrailsConfig
	Tools     ToolsConfig
	Profile   ProfileConfig
	Auth      AuthConfig
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	// Insecure dials the collector without TLS.
	Insecure bool
	// SampleRatio is the fraction of root traces kept; 1 keeps all.
	SampleRatio float64 `validate:"gte=0,lte=1"`
}

// LangfuseConfig enables trace export when both keys are set.
type LangfuseConfig struct {
	BaseURL       string `validate:"omitempty,url"`
	PublicKey     string
	SecretKey     string
	FlushInterval time.Duration
	BatchSize     int `validate:"min=1"`
}

// Enabled reports whether credentials are present.
func (l LangfuseConfig) Enabled() bool {
	return l.PublicKey != "" && l.SecretKey != ""
}

// ModelConfig carries reasoning policy: which model drives the loop, the
// fallback used on rate limits, and the step budget.
type ModelConfig struct {
	Default           string  `validate:"required"`
	Fallback          string  `validate:"required"`
	DefaultProvider   string  `validate:"oneof=openai anthropic"`
	MaxTokens         int     `validate:"min=1"`
	Temperature       float64 `validate:"min=0,max=2"`
	RequestsPerSecond float64 `validate:"min=0"`
	StepBudget        int     `validate:"min=1"`
	FastTrack         bool
	FastTrackPrompt   string `validate:"required"`
	HistoryLimit      int    `validate:"min=0"`
}

type ProvidersConfig struct {
	OpenAIKey     string
	OpenAIBaseURL string `validate:"omitempty,url"`
	AnthropicKey  string
}

type StoreConfig struct {
	Driver     string `validate:"oneof=memory sqlite"`
	SQLitePath string
	DataDir    string
}

// StateConfig bounds how long idle conversation states stay in memory.
type StateConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// GuardrailsConfig controls screening of user messages. Only the length
// limit rejects a message; other findings are recorded on the trace.
type GuardrailsConfig struct {
	MaxMessageChars int    `validate:"min=0"`
	DetectPII       bool
	DetectInjection bool
	Sensitivity     string `validate:"omitempty,oneof=medium high"`
}

// ToolsConfig holds the credentials tool capabilities are probed against.
type ToolsConfig struct {
	WebEnabled          bool
	SearXNGURL          string `validate:"omitempty,url"`
	HTTPTimeout         time.Duration
	SpotifyClientID     string
	SpotifyClientSecret string
}

type ProfileConfig struct {
	AssistantName string
	UserName      string
}

type AuthConfig struct {
	// Empty disables API key checks.
	APIKeys []string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:     envInt("HEARTH_PORT", 8080),
		Version:  envStr("HEARTH_VERSION", "0.1.0"),
		LogLevel: envStr("HEARTH_LOG_LEVEL", "info"),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "hearth"),
			Insecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Langfuse: LangfuseConfig{
			BaseURL:       envStr("LANGFUSE_BASE_URL", "https://cloud.langfuse.com"),
			PublicKey:     envStr("LANGFUSE_PUBLIC_KEY", ""),
			SecretKey:     envStr("LANGFUSE_SECRET_KEY", ""),
			FlushInterval: envDuration("LANGFUSE_FLUSH_INTERVAL", 5*time.Second),
			BatchSize:     envInt("LANGFUSE_BATCH_SIZE", 50),
		},
		Model: ModelConfig{
			Default:           envStr("HEARTH_MODEL", "gpt-4o-mini"),
			Fallback:          envStr("HEARTH_ALT_MODEL", "gpt-4o"),
			DefaultProvider:   envStr("HEARTH_DEFAULT_PROVIDER", "openai"),
			MaxTokens:         envInt("HEARTH_MAX_TOKENS", 2048),
			Temperature:       envFloat("HEARTH_TEMPERATURE", 0.3),
			RequestsPerSecond: envFloat("HEARTH_MODEL_RPS", 0),
			StepBudget:        envInt("HEARTH_STEP_BUDGET", 6),
			FastTrack:         envBool("HEARTH_FAST_TRACK", true),
			FastTrackPrompt:   envStr("HEARTH_FAST_TRACK_PROMPT", DefaultFastTrackPrompt),
			HistoryLimit:      envInt("HEARTH_HISTORY_LIMIT", 20),
		},
		Providers: ProvidersConfig{
			OpenAIKey:     envStr("OPENAI_API_KEY", ""),
			OpenAIBaseURL: envStr("OPENAI_BASE_URL", ""),
			AnthropicKey:  envStr("ANTHROPIC_API_KEY", ""),
		},
		Store: StoreConfig{
			Driver:     envStr("HEARTH_STORE", "sqlite"),
			SQLitePath: envStr("HEARTH_SQLITE_PATH", ""),
			DataDir:    envStr("HEARTH_DATA_DIR", filepath.Join(xdg.StateHome, "hearth")),
		},
		State: StateConfig{
			TTL:           envDuration("HEARTH_STATE_TTL", time.Hour),
			SweepInterval: envDuration("HEARTH_STATE_SWEEP", 10*time.Minute),
		},
		Guards: GuardrailsConfig{
			MaxMessageChars: envInt("HEARTH_MAX_MESSAGE_CHARS", 16000),
			DetectPII:       envBool("HEARTH_DETECT_PII", true),
			DetectInjection: envBool("HEARTH_DETECT_INJECTION", true),
			Sensitivity:     envStr("HEARTH_GUARD_SENSITIVITY", "medium"),
		},
		Tools: ToolsConfig{
			WebEnabled:          envBool("HEARTH_WEB_ENABLED", true),
			SearXNGURL:          envStr("HEARTH_SEARXNG_URL", ""),
			HTTPTimeout:         envDuration("HEARTH_TOOL_TIMEOUT", 20*time.Second),
			SpotifyClientID:     envStr("SPOTIFY_CLIENT_ID", ""),
			SpotifyClientSecret: envStr("SPOTIFY_CLIENT_SECRET", ""),
		},
		Profile: ProfileConfig{
			AssistantName: envStr("HEARTH_ASSISTANT_NAME", "Hearth"),
			UserName:      envStr("HEARTH_USER_NAME", ""),
		},
		Auth: AuthConfig{
			APIKeys: envList("HEARTH_API_KEYS"),
		},
	}
}

// Validate checks field constraints after Load or manual construction.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SQLiteFile returns the database path, defaulting into DataDir.
func (c StoreConfig) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "hearth.db")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
