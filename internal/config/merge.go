package config

import "github.com/glyphgate/voicegate/pkg/ids"

// applyPatch deep-merges a validated patch (as produced by
// validateSettingsPatch) into a clone of cfg and returns the new, fully
// merged snapshot. Unknown keys are already absent from patch by the time
// this runs; top-level non-grouped fields replace outright, the four
// grouped fields merge key-by-key.
func applyPatch(cfg GatewayConfig, patch map[string]any) GatewayConfig {
	next := cfg.clone()

	if v, ok := patch["agentGatewayUrl"].(string); ok {
		next.AgentGatewayURL = v
	}
	if v, ok := patch["agentGatewayToken"].(string); ok {
		next.AgentGatewayToken = v
	}
	if v, ok := patch["agentSessionKey"].(string); ok {
		next.AgentSessionKey = ids.SessionKey(v)
	}
	if v, ok := patch["sttProvider"].(string); ok {
		next.STTProvider = ids.ProviderId(v)
	}

	if group, ok := patch["whisperx"].(map[string]any); ok {
		if v, ok := group["baseUrl"].(string); ok {
			next.WhisperX.BaseURL = v
		}
		if v, ok := group["model"].(string); ok {
			next.WhisperX.Model = v
		}
		if v, ok := group["language"].(string); ok {
			next.WhisperX.Language = v
		}
		if v, ok := group["pollIntervalMs"].(int); ok {
			next.WhisperX.PollIntervalMs = v
		}
		if v, ok := group["timeoutMs"].(int); ok {
			next.WhisperX.TimeoutMs = v
		}
	}

	if group, ok := patch["openai"].(map[string]any); ok {
		if v, ok := group["baseUrl"].(string); ok {
			next.OpenAI.BaseURL = v
		}
		if v, ok := group["apiKey"].(string); ok {
			next.OpenAI.APIKey = v
		}
		if v, ok := group["model"].(string); ok {
			next.OpenAI.Model = v
		}
		if v, ok := group["timeoutMs"].(int); ok {
			next.OpenAI.TimeoutMs = v
		}
	}

	if group, ok := patch["custom"].(map[string]any); ok {
		if v, ok := group["url"].(string); ok {
			next.Custom.URL = v
		}
		if v, ok := group["authHeader"].(string); ok {
			next.Custom.AuthHeader = v
		}
		if v, ok := group["model"].(string); ok {
			next.Custom.Model = v
		}
		if v, ok := group["timeoutMs"].(int); ok {
			next.Custom.TimeoutMs = v
		}
	}

	if group, ok := patch["server"].(map[string]any); ok {
		if v, ok := group["rateLimitPerMinute"].(int); ok {
			next.Server.RateLimitPerMinute = v
		}
		if v, ok := group["maxAudioBytes"].(int); ok {
			next.Server.MaxAudioBytes = int64(v)
		}
		if v, ok := group["port"].(int); ok {
			next.Server.Port = v
		}
		if v, ok := group["host"].(string); ok {
			next.Server.Host = v
		}
		if v, ok := group["corsOrigins"].([]string); ok {
			next.Server.CORSOrigins = v
		}
	}

	return next
}

// groupChanged reports whether patch touches the named top-level group. The
// rebuilders in internal/rebuild do the same lookup on the patch map
// themselves and do not call this function.
func groupChanged(patch map[string]any, key string) bool {
	_, ok := patch[key]
	return ok
}
