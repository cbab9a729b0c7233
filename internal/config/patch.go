package config

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/glyphgate/voicegate/pkg/gwerr"
	"github.com/glyphgate/voicegate/pkg/ids"
)

// nestedGroups is the set of top-level keys that deep-merge into the
// existing nested object rather than replacing it wholesale (spec §4.1:
// "the merge is deep only for the documented nested objects").
var nestedGroups = map[string]bool{
	"whisperx": true,
	"openai":   true,
	"custom":   true,
	"server":   true,
}

// validateSettingsPatch validates an arbitrary, untyped patch map against
// the contract table in spec §4.1. Unknown top-level keys are silently
// dropped. The returned map contains only recognized, validated keys and is
// ready for applyPatch into a GatewayConfig.
func validateSettingsPatch(patch map[string]any) (map[string]any, error) {
	if patch == nil {
		return nil, gwerr.InvalidConfig("settings patch must be a JSON object")
	}

	out := make(map[string]any, len(patch))

	if v, ok := patch["agentGatewayUrl"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, gwerr.InvalidConfig("agentGatewayUrl must be a string")
		}
		if _, err := url.Parse(s); err != nil {
			return nil, gwerr.InvalidConfig("agentGatewayUrl does not parse as a URL")
		}
		out["agentGatewayUrl"] = s
	}

	if v, ok := patch["agentGatewayToken"]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, gwerr.InvalidConfig("agentGatewayToken must be a non-empty string")
		}
		out["agentGatewayToken"] = s
	}

	if v, ok := patch["agentSessionKey"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, gwerr.InvalidConfig("agentSessionKey must be a string")
		}
		if _, err := ids.NewSessionKey(s); err != nil {
			return nil, gwerr.InvalidConfig("agentSessionKey must be non-empty")
		}
		out["agentSessionKey"] = s
	}

	if v, ok := patch["sttProvider"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, gwerr.InvalidConfig("sttProvider must be a string")
		}
		if _, err := ids.NewProviderId(s); err != nil {
			return nil, gwerr.InvalidConfig(fmt.Sprintf("sttProvider %q is not a recognized provider", s))
		}
		out["sttProvider"] = s
	}

	if v, ok := patch["whisperx"]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, gwerr.InvalidConfig("whisperx must be an object")
		}
		validated, err := validateWhisperXGroup(m)
		if err != nil {
			return nil, err
		}
		out["whisperx"] = validated
	}

	if v, ok := patch["openai"]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, gwerr.InvalidConfig("openai must be an object")
		}
		validated, err := validateURLStringGroup(m, "openai", []string{"baseUrl", "apiKey"}, []string{"model"})
		if err != nil {
			return nil, err
		}
		out["openai"] = validated
	}

	if v, ok := patch["custom"]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, gwerr.InvalidConfig("custom must be an object")
		}
		validated, err := validateURLStringGroup(m, "custom", []string{"url", "authHeader"}, []string{"model"})
		if err != nil {
			return nil, err
		}
		out["custom"] = validated
	}

	if v, ok := patch["server"]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, gwerr.InvalidConfig("server must be an object")
		}
		validated, err := validateServerGroup(m)
		if err != nil {
			return nil, err
		}
		out["server"] = validated
	}

	return out, nil
}

func validateWhisperXGroup(m map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if v, ok := m["baseUrl"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, gwerr.InvalidConfig("whisperx.baseUrl must be a string")
		}
		if _, err := url.Parse(s); err != nil {
			return nil, gwerr.InvalidConfig("whisperx.baseUrl does not parse as a URL")
		}
		out["baseUrl"] = s
	}
	if v, ok := m["model"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, gwerr.InvalidConfig("whisperx.model must be a string")
		}
		out["model"] = s
	}
	if v, ok := m["language"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, gwerr.InvalidConfig("whisperx.language must be a string")
		}
		out["language"] = s
	}
	if v, ok := m["pollIntervalMs"]; ok {
		n, err := positiveInt(v, "whisperx.pollIntervalMs")
		if err != nil {
			return nil, err
		}
		out["pollIntervalMs"] = n
	}
	if v, ok := m["timeoutMs"]; ok {
		n, err := positiveInt(v, "whisperx.timeoutMs")
		if err != nil {
			return nil, err
		}
		out["timeoutMs"] = n
	}
	return out, nil
}

// validateURLStringGroup validates a shared shape used by openai/custom: a
// set of keys that must be non-empty strings (of those, baseUrl and url are
// also validated with url.Parse, since openai.baseUrl and custom.url are
// URLs) plus a set of plain string keys.
func validateURLStringGroup(m map[string]any, group string, urlKeys, plainKeys []string) (map[string]any, error) {
	out := map[string]any{}
	for _, k := range urlKeys {
		v, ok := m[k]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, gwerr.InvalidConfig(fmt.Sprintf("%s.%s must be a non-empty string", group, k))
		}
		if k == "baseUrl" || k == "url" {
			if _, err := url.Parse(s); err != nil {
				return nil, gwerr.InvalidConfig(fmt.Sprintf("%s.%s does not parse as a URL", group, k))
			}
		}
		out[k] = s
	}
	for _, k := range plainKeys {
		v, ok := m[k]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, gwerr.InvalidConfig(fmt.Sprintf("%s.%s must be a string", group, k))
		}
		out[k] = s
	}
	if v, ok := m["timeoutMs"]; ok {
		n, err := positiveInt(v, group+".timeoutMs")
		if err != nil {
			return nil, err
		}
		out["timeoutMs"] = n
	}
	return out, nil
}

func validateServerGroup(m map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if v, ok := m["rateLimitPerMinute"]; ok {
		n, err := positiveInt(v, "server.rateLimitPerMinute")
		if err != nil {
			return nil, err
		}
		out["rateLimitPerMinute"] = n
	}
	if v, ok := m["maxAudioBytes"]; ok {
		n, err := positiveInt(v, "server.maxAudioBytes")
		if err != nil {
			return nil, err
		}
		out["maxAudioBytes"] = n
	}
	if v, ok := m["port"]; ok {
		n, err := nonNegativeInt(v, "server.port")
		if err != nil {
			return nil, err
		}
		out["port"] = n
	}
	if v, ok := m["host"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, gwerr.InvalidConfig("server.host must be a string")
		}
		out["host"] = s
	}
	if v, ok := m["corsOrigins"]; ok {
		raw, ok := v.([]any)
		if !ok {
			return nil, gwerr.InvalidConfig("server.corsOrigins must be an array of strings")
		}
		origins := make([]string, 0, len(raw))
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				return nil, gwerr.InvalidConfig("server.corsOrigins must be an array of strings")
			}
			origins = append(origins, s)
		}
		out["corsOrigins"] = origins
	}
	return out, nil
}

func positiveInt(v any, field string) (int, error) {
	n, err := asInt(v)
	if err != nil || n <= 0 {
		return 0, gwerr.InvalidConfig(fmt.Sprintf("%s must be a strictly positive integer", field))
	}
	return n, nil
}

// nonNegativeInt allows 0, used for server.port so tests can bind an
// ephemeral port (spec §4.1: "port allows 0 for tests").
func nonNegativeInt(v any, field string) (int, error) {
	n, err := asInt(v)
	if err != nil || n < 0 {
		return 0, gwerr.InvalidConfig(fmt.Sprintf("%s must be a non-negative integer", field))
	}
	return n, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer")
		}
		return int(n), nil
	case int:
		return n, nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("not a number")
	}
}
