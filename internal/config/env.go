package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/glyphgate/voicegate/pkg/gwerr"
	"github.com/glyphgate/voicegate/pkg/ids"
)

// LoadFromEnv populates the initial GatewayConfig from environment
// variables. Parsing is strict: a non-numeric value for a numeric field
// fails startup with INVALID_CONFIG (per spec §6, "Environment /
// configuration"). No value is persisted; this is the only place a
// GatewayConfig is ever constructed from outside the store.
func LoadFromEnv(getenv func(string) string) (GatewayConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var cfg GatewayConfig
	var errs []error

	cfg.AgentGatewayURL = str(getenv, "VOICEGATE_AGENT_GATEWAY_URL", "")
	cfg.AgentGatewayToken = str(getenv, "VOICEGATE_AGENT_GATEWAY_TOKEN", "")

	sessionKey := str(getenv, "VOICEGATE_AGENT_SESSION_KEY", "default")
	sk, err := ids.NewSessionKey(sessionKey)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.AgentSessionKey = sk

	providerRaw := str(getenv, "VOICEGATE_STT_PROVIDER", string(ids.ProviderWhisperX))
	pid, err := ids.NewProviderId(providerRaw)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.STTProvider = pid

	cfg.WhisperX = WhisperXConfig{
		BaseURL:  str(getenv, "VOICEGATE_WHISPERX_BASE_URL", ""),
		Model:    str(getenv, "VOICEGATE_WHISPERX_MODEL", ""),
		Language: str(getenv, "VOICEGATE_WHISPERX_LANGUAGE", "en"),
	}
	cfg.WhisperX.PollIntervalMs, err = intEnv(getenv, "VOICEGATE_WHISPERX_POLL_INTERVAL_MS", 250)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.WhisperX.TimeoutMs, err = intEnv(getenv, "VOICEGATE_WHISPERX_TIMEOUT_MS", 10_000)
	if err != nil {
		errs = append(errs, err)
	}

	cfg.OpenAI = OpenAIConfig{
		BaseURL: str(getenv, "VOICEGATE_OPENAI_BASE_URL", ""),
		APIKey:  str(getenv, "VOICEGATE_OPENAI_API_KEY", ""),
		Model:   str(getenv, "VOICEGATE_OPENAI_MODEL", "whisper-1"),
	}
	cfg.OpenAI.TimeoutMs, err = intEnv(getenv, "VOICEGATE_OPENAI_TIMEOUT_MS", 15_000)
	if err != nil {
		errs = append(errs, err)
	}

	cfg.Custom = CustomConfig{
		URL:        str(getenv, "VOICEGATE_CUSTOM_URL", ""),
		AuthHeader: str(getenv, "VOICEGATE_CUSTOM_AUTH_HEADER", ""),
		Model:      str(getenv, "VOICEGATE_CUSTOM_MODEL", ""),
	}
	cfg.Custom.TimeoutMs, err = intEnv(getenv, "VOICEGATE_CUSTOM_TIMEOUT_MS", 15_000)
	if err != nil {
		errs = append(errs, err)
	}

	cfg.Server.Host = str(getenv, "VOICEGATE_HOST", "0.0.0.0")
	cfg.Server.Port, err = intEnv(getenv, "VOICEGATE_PORT", 8080)
	if err != nil {
		errs = append(errs, err)
	}
	maxAudio, err := intEnv(getenv, "VOICEGATE_MAX_AUDIO_BYTES", 10_000_000)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Server.MaxAudioBytes = int64(maxAudio)
	cfg.Server.RateLimitPerMinute, err = intEnv(getenv, "VOICEGATE_RATE_LIMIT_PER_MINUTE", 60)
	if err != nil {
		errs = append(errs, err)
	}
	if origins := str(getenv, "VOICEGATE_CORS_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.CORSOrigins = append(cfg.Server.CORSOrigins, o)
			}
		}
	}

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return GatewayConfig{}, gwerr.InvalidConfig(fmt.Sprintf("environment config: %s", strings.Join(msgs, "; ")))
	}
	return cfg, nil
}

func str(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(getenv func(string) string, key string, fallback int) (int, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a valid integer", key, v)
	}
	return n, nil
}
