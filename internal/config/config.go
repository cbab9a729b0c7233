// Package config provides voicegate's configuration schema, environment
// loader, immutable-snapshot store, patch validation, and STT provider
// registry.
package config

import "github.com/glyphgate/voicegate/pkg/ids"

// maskedSecret is the fixed literal every secret field is replaced with in a
// SafeConfig view. It never leaks the underlying value to any caller.
const maskedSecret = "********"

// GatewayConfig is the root, immutable configuration snapshot. A new
// GatewayConfig value is produced by environment parsing at startup and by
// every subsequent validated patch merge; existing snapshots are never
// mutated in place.
type GatewayConfig struct {
	AgentGatewayURL   string         `yaml:"agent_gateway_url"`
	AgentGatewayToken string         `yaml:"agent_gateway_token"`
	AgentSessionKey   ids.SessionKey `yaml:"agent_session_key"`
	STTProvider       ids.ProviderId `yaml:"stt_provider"`
	WhisperX          WhisperXConfig `yaml:"whisperx"`
	OpenAI            OpenAIConfig   `yaml:"openai"`
	Custom            CustomConfig   `yaml:"custom"`
	Server            ServerConfig   `yaml:"server"`
}

// WhisperXConfig holds connection settings for the whisperx STT provider.
type WhisperXConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	TimeoutMs      int    `yaml:"timeout_ms"`
}

// OpenAIConfig holds connection settings for the openai STT provider.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// CustomConfig holds connection settings for a generic HTTP STT provider.
type CustomConfig struct {
	URL        string `yaml:"url"`
	AuthHeader string `yaml:"auth_header"`
	Model      string `yaml:"model"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// ServerConfig holds network and operational limits for the HTTP surface.
type ServerConfig struct {
	Port               int      `yaml:"port"`
	Host               string   `yaml:"host"`
	CORSOrigins        []string `yaml:"cors_origins"`
	MaxAudioBytes      int64    `yaml:"max_audio_bytes"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
}

// SafeConfig is a GatewayConfig view with every secret replaced by a fixed
// masked literal, safe for GET /api/settings and for logging.
type SafeConfig struct {
	AgentGatewayURL   string         `json:"agentGatewayUrl"`
	AgentGatewayToken string         `json:"agentGatewayToken"`
	AgentSessionKey   ids.SessionKey `json:"agentSessionKey"`
	STTProvider       ids.ProviderId `json:"sttProvider"`
	WhisperX          WhisperXConfig `json:"whisperx"`
	OpenAI            openAISafe     `json:"openai"`
	Custom            customSafe     `json:"custom"`
	Server            ServerConfig   `json:"server"`
}

type openAISafe struct {
	BaseURL   string `json:"baseUrl"`
	APIKey    string `json:"apiKey"`
	Model     string `json:"model"`
	TimeoutMs int    `json:"timeoutMs"`
}

type customSafe struct {
	URL        string `json:"url"`
	AuthHeader string `json:"authHeader"`
	Model      string `json:"model"`
	TimeoutMs  int    `json:"timeoutMs"`
}

// ToSafe masks every secret field of cfg for external exposure.
func (cfg GatewayConfig) ToSafe() SafeConfig {
	return SafeConfig{
		AgentGatewayURL:   cfg.AgentGatewayURL,
		AgentGatewayToken: maskedSecret,
		AgentSessionKey:   cfg.AgentSessionKey,
		STTProvider:       cfg.STTProvider,
		WhisperX:          cfg.WhisperX,
		OpenAI: openAISafe{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKey:    maskedSecret,
			Model:     cfg.OpenAI.Model,
			TimeoutMs: cfg.OpenAI.TimeoutMs,
		},
		Custom: customSafe{
			URL:        cfg.Custom.URL,
			AuthHeader: maskedSecret,
			Model:      cfg.Custom.Model,
			TimeoutMs:  cfg.Custom.TimeoutMs,
		},
		Server: cfg.Server,
	}
}

// clone returns a deep copy of cfg so that update() can merge into a fresh
// value without ever mutating the snapshot readers may still hold.
func (cfg GatewayConfig) clone() GatewayConfig {
	out := cfg
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	return out
}
