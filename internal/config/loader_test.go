package config

import (
	"reflect"
	"strings"
	"testing"
)

func TestLoadDefaultsFromReader_MergesOverBase(t *testing.T) {
	base := testConfig()
	yamlDoc := `
sttProvider: openai
server:
  rateLimitPerMinute: 42
`
	next, err := LoadDefaultsFromReader(strings.NewReader(yamlDoc), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.STTProvider != "openai" {
		t.Errorf("STTProvider = %q", next.STTProvider)
	}
	if next.Server.RateLimitPerMinute != 42 {
		t.Errorf("RateLimitPerMinute = %d", next.Server.RateLimitPerMinute)
	}
}

func TestLoadDefaultsFromReader_EmptyDocumentIsNoop(t *testing.T) {
	base := testConfig()
	next, err := LoadDefaultsFromReader(strings.NewReader(""), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(next, base) {
		t.Error("expected unchanged config for empty document")
	}
}

func TestLoadDefaults_MissingPathIsNotAnError(t *testing.T) {
	base := testConfig()
	next, err := LoadDefaults("/nonexistent/path/defaults.yaml", base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(next, base) {
		t.Error("expected unchanged config for missing file")
	}
}
