package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDefaults reads an on-disk YAML file of default values and applies it
// over the env-derived GatewayConfig: every value present in the file
// replaces the env-derived value, and fields the file omits keep their env
// (or built-in default) values. A defaults file lets operators check in
// tuning (model names, timeouts) without exporting a long list of
// environment variables. A missing path is not an error: it simply means no
// defaults file is in use.
func LoadDefaults(path string, base GatewayConfig) (GatewayConfig, error) {
	if path == "" {
		return base, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return GatewayConfig{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return LoadDefaultsFromReader(f, base)
}

// LoadDefaultsFromReader decodes YAML defaults from r and deep-merges them
// over base using the same validated-patch path as a runtime POST
// /api/settings request, so defaults-file values obey the identical
// validation contract and override the matching fields of base.
func LoadDefaultsFromReader(r io.Reader, base GatewayConfig) (GatewayConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return base, nil
		}
		return GatewayConfig{}, fmt.Errorf("config: decode yaml defaults: %w", err)
	}

	patch, err := validateSettingsPatch(raw)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("config: invalid defaults file: %w", err)
	}
	return applyPatch(base, patch), nil
}
