package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/glyphgate/voicegate/internal/app"
	"github.com/glyphgate/voicegate/internal/config"
	"github.com/glyphgate/voicegate/internal/providerset"
	"github.com/glyphgate/voicegate/pkg/ids"
	"github.com/glyphgate/voicegate/pkg/stt"
)

// fakeProvider is a minimal stt.Provider double, injected via
// app.WithProviderSet so tests never depend on network STT backends.
type fakeProvider struct {
	id      ids.ProviderId
	result  stt.SttResult
	healthy bool
}

func (f *fakeProvider) ProviderId() ids.ProviderId { return f.id }
func (f *fakeProvider) Name() string               { return string(f.id) }
func (f *fakeProvider) Transcribe(ctx context.Context, audio stt.AudioPayload, tctx stt.Context) (stt.SttResult, error) {
	return f.result, nil
}
func (f *fakeProvider) HealthCheck(ctx context.Context) (stt.HealthStatus, error) {
	return stt.HealthStatus{Healthy: f.healthy}, nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startAgentServer(t *testing.T, finalText string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := context.Background()
		_, connectData, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var connectReq map[string]any
		json.Unmarshal(connectData, &connectReq)
		helloOk, _ := json.Marshal(map[string]any{"type": "res", "id": connectReq["id"], "ok": true, "result": map[string]any{}})
		conn.Write(ctx, websocket.MessageText, helloOk)

		_, chatData, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var chatReq map[string]any
		json.Unmarshal(chatData, &chatReq)

		final, _ := json.Marshal(map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{"runId": "run-1", "sessionKey": "sess-1", "state": "final",
				"message": map[string]any{"content": []map[string]any{{"type": "text", "text": finalText}}}},
		})
		conn.Write(ctx, websocket.MessageText, final)

		<-conn.CloseRead(context.Background()).Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(agentURL string) config.GatewayConfig {
	return config.GatewayConfig{
		AgentGatewayURL:   agentURL,
		AgentGatewayToken: "tok",
		AgentSessionKey:   "sess-1",
		STTProvider:       ids.ProviderWhisperX,
		Server: config.ServerConfig{
			Port:               0,
			Host:               "127.0.0.1",
			MaxAudioBytes:      1 << 20,
			RateLimitPerMinute: 1000,
		},
	}
}

func TestNew_WithInjectedProviderSetKeepsStoreConfig(t *testing.T) {
	t.Parallel()

	agentSrv := startAgentServer(t, "hi")
	providers := providerset.New()
	providers.Set(ids.ProviderWhisperX, &fakeProvider{
		id:      ids.ProviderWhisperX,
		result:  stt.SttResult{Text: "hello", ProviderId: ids.ProviderWhisperX},
		healthy: true,
	})

	a, err := app.New(testConfig(wsURL(agentSrv)), app.WithProviderSet(providers))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})

	if a.Store().Get().AgentSessionKey != "sess-1" {
		t.Errorf("Store().Get().AgentSessionKey = %q, want sess-1", a.Store().Get().AgentSessionKey)
	}
}

func TestNew_FailsWhenInitialProviderCannotBeBuilt(t *testing.T) {
	t.Parallel()

	cfg := testConfig("ws://unused")
	cfg.STTProvider = ids.ProviderOpenAI // openai requires a non-empty apiKey; cfg leaves it empty

	if _, err := app.New(cfg); err == nil {
		t.Fatal("expected New to fail when the configured provider cannot be constructed")
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	t.Parallel()

	agentSrv := startAgentServer(t, "hi")
	providers := providerset.New()
	providers.Set(ids.ProviderWhisperX, &fakeProvider{id: ids.ProviderWhisperX, healthy: true})

	a, err := app.New(testConfig(wsURL(agentSrv)), app.WithProviderSet(providers))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown should be a no-op, got: %v", err)
	}
}
