package orchestrator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/glyphgate/voicegate/internal/agentclient"
	"github.com/glyphgate/voicegate/internal/config"
	"github.com/glyphgate/voicegate/internal/orchestrator"
	"github.com/glyphgate/voicegate/internal/providerset"
	"github.com/glyphgate/voicegate/pkg/gwerr"
	"github.com/glyphgate/voicegate/pkg/ids"
	"github.com/glyphgate/voicegate/pkg/stt"
)

// ── Fake STT provider ───────────────────────────────────────────────────────

type fakeProvider struct {
	id     ids.ProviderId
	result stt.SttResult
	err    error
}

func (f *fakeProvider) ProviderId() ids.ProviderId { return f.id }
func (f *fakeProvider) Name() string               { return string(f.id) }
func (f *fakeProvider) Transcribe(ctx context.Context, audio stt.AudioPayload, tctx stt.Context) (stt.SttResult, error) {
	if err := ctx.Err(); err != nil {
		return stt.SttResult{}, err
	}
	if f.err != nil {
		return stt.SttResult{}, f.err
	}
	return f.result, nil
}
func (f *fakeProvider) HealthCheck(ctx context.Context) (stt.HealthStatus, error) {
	return stt.HealthStatus{Healthy: true}, nil
}

// ── Fake agent-runtime server ───────────────────────────────────────────────

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

		delta, _ := json.Marshal(map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{"runId": "run-1", "sessionKey": "sess-1", "state": "delta",
				"message": map[string]any{"content": []map[string]any{{"type": "text", "text": "ignored delta"}}}},
		})
		conn.Write(ctx, websocket.MessageText, delta)

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

func testConfig(sessionKey ids.SessionKey, providerID ids.ProviderId, maxAudioBytes int64) config.GatewayConfig {
	return config.GatewayConfig{
		AgentSessionKey: sessionKey,
		STTProvider:     providerID,
		Server: config.ServerConfig{
			MaxAudioBytes:      maxAudioBytes,
			RateLimitPerMinute: 60,
		},
	}
}

func strPtr(s string) *string { return &s }

// ── Tests ────────────────────────────────────────────────────────────────────

// TestHandleTurn_HappyPath covers spec.md §8 scenario 1.
func TestHandleTurn_HappyPath(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, "Hi there.")
	store := config.NewStore(testConfig("sess-1", ids.ProviderWhisperX, 1<<20))
	providers := providerset.New()
	providers.Set(ids.ProviderWhisperX, &fakeProvider{
		id: ids.ProviderWhisperX,
		result: stt.SttResult{
			Text:       "Hello from the voice note",
			Language:   "en",
			ProviderId: ids.ProviderWhisperX,
			Model:      strPtr("medium"),
		},
	})
	holder := agentclient.NewHolder(agentclient.New(wsURL(srv), "tok"))

	orch := orchestrator.New(providers, holder, store)

	audio := stt.AudioPayload{Bytes: make([]byte, 10*1024), ContentType: "audio/ogg"}
	reply, err := orch.HandleTurn(context.Background(), audio, "en")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	if reply.Assistant.FullText != "Hi there." {
		t.Errorf("FullText = %q, want %q", reply.Assistant.FullText, "Hi there.")
	}
	if len(reply.Assistant.Segments) != 1 || reply.Assistant.Segments[0].Index != 0 ||
		reply.Assistant.Segments[0].Text != "Hi there." || reply.Assistant.Segments[0].Continuation {
		t.Errorf("Segments = %+v, want single non-continuation segment 'Hi there.'", reply.Assistant.Segments)
	}
	if reply.Meta.Provider != ids.ProviderWhisperX {
		t.Errorf("Meta.Provider = %q, want whisperx", reply.Meta.Provider)
	}
	if reply.Meta.Model == nil || *reply.Meta.Model != "medium" {
		t.Errorf("Meta.Model = %v, want medium", reply.Meta.Model)
	}
	if reply.TurnId == "" {
		t.Error("expected a non-empty TurnId")
	}
}

func TestHandleTurn_RejectsUnknownContentType(t *testing.T) {
	t.Parallel()

	store := config.NewStore(testConfig("sess-1", ids.ProviderWhisperX, 1<<20))
	providers := providerset.New()
	holder := agentclient.NewHolder(agentclient.New("ws://unused", "tok"))
	orch := orchestrator.New(providers, holder, store)

	_, err := orch.HandleTurn(context.Background(), stt.AudioPayload{Bytes: []byte("x"), ContentType: "audio/flac"}, "")
	gerr, ok := err.(*gwerr.Error)
	if !ok || gerr.Code != gwerr.CodeInvalidContentType {
		t.Fatalf("err = %v, want INVALID_CONTENT_TYPE", err)
	}
}

func TestHandleTurn_RejectsOversizedAudio(t *testing.T) {
	t.Parallel()

	store := config.NewStore(testConfig("sess-1", ids.ProviderWhisperX, 10))
	providers := providerset.New()
	holder := agentclient.NewHolder(agentclient.New("ws://unused", "tok"))
	orch := orchestrator.New(providers, holder, store)

	_, err := orch.HandleTurn(context.Background(), stt.AudioPayload{Bytes: make([]byte, 20), ContentType: "audio/ogg"}, "")
	gerr, ok := err.(*gwerr.Error)
	if !ok || gerr.Code != gwerr.CodeAudioTooLarge {
		t.Fatalf("err = %v, want AUDIO_TOO_LARGE", err)
	}
}

func TestHandleTurn_MissingProviderYieldsMissingConfig(t *testing.T) {
	t.Parallel()

	store := config.NewStore(testConfig("sess-1", ids.ProviderOpenAI, 1<<20))
	providers := providerset.New() // nothing registered
	holder := agentclient.NewHolder(agentclient.New("ws://unused", "tok"))
	orch := orchestrator.New(providers, holder, store)

	_, err := orch.HandleTurn(context.Background(), stt.AudioPayload{Bytes: []byte("x"), ContentType: "audio/wav"}, "")
	gerr, ok := err.(*gwerr.Error)
	if !ok || gerr.Code != gwerr.CodeMissingConfig {
		t.Fatalf("err = %v, want MISSING_CONFIG", err)
	}
}

// TestHandleTurn_STTEmptyText covers spec.md §8 scenario 3: the provider
// itself raises STT_TRANSCRIPTION_FAILED for empty text, and the
// orchestrator must propagate it unchanged rather than reclassify it.
func TestHandleTurn_STTEmptyText(t *testing.T) {
	t.Parallel()

	store := config.NewStore(testConfig("sess-1", ids.ProviderWhisperX, 1<<20))
	providers := providerset.New()
	providers.Set(ids.ProviderWhisperX, &fakeProvider{
		id:  ids.ProviderWhisperX,
		err: gwerr.NewWithKind(gwerr.User, gwerr.CodeSTTTranscriptionFailed, "empty transcript"),
	})
	holder := agentclient.NewHolder(agentclient.New("ws://unused", "tok"))
	orch := orchestrator.New(providers, holder, store)

	_, err := orch.HandleTurn(context.Background(), stt.AudioPayload{Bytes: []byte("x"), ContentType: "audio/ogg"}, "")
	gerr, ok := err.(*gwerr.Error)
	if !ok || gerr.Code != gwerr.CodeSTTTranscriptionFailed {
		t.Fatalf("err = %v, want STT_TRANSCRIPTION_FAILED", err)
	}
	if gerr.Kind != gwerr.User {
		t.Errorf("Kind = %v, want User", gerr.Kind)
	}
}

func TestHandleTurn_PropagatesCallerCancellation(t *testing.T) {
	t.Parallel()

	store := config.NewStore(testConfig("sess-1", ids.ProviderWhisperX, 1<<20))
	providers := providerset.New()
	providers.Set(ids.ProviderWhisperX, &fakeProvider{id: ids.ProviderWhisperX, result: stt.SttResult{Text: "hi", ProviderId: ids.ProviderWhisperX}})
	holder := agentclient.NewHolder(agentclient.New("ws://unused", "tok"))
	orch := orchestrator.New(providers, holder, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.HandleTurn(ctx, stt.AudioPayload{Bytes: []byte("x"), ContentType: "audio/ogg"}, "")
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// TestHandleTurn_AgentHotReload covers spec.md §8 scenario 5's read-through
// half: the orchestrator must always dispatch via holder.Current(), so
// swapping the holder mid-flight changes what the very next turn uses.
func TestHandleTurn_AgentHotReload(t *testing.T) {
	t.Parallel()

	srvA := startAgentServer(t, "A")
	srvB := startAgentServer(t, "B")

	store := config.NewStore(testConfig("sess-1", ids.ProviderWhisperX, 1<<20))
	providers := providerset.New()
	providers.Set(ids.ProviderWhisperX, &fakeProvider{id: ids.ProviderWhisperX, result: stt.SttResult{Text: "hi", ProviderId: ids.ProviderWhisperX}})
	holder := agentclient.NewHolder(agentclient.New(wsURL(srvA), "tok"))
	orch := orchestrator.New(providers, holder, store)

	audio := stt.AudioPayload{Bytes: []byte("x"), ContentType: "audio/ogg"}

	replyA, err := orch.HandleTurn(context.Background(), audio, "")
	if err != nil {
		t.Fatalf("HandleTurn (A): %v", err)
	}
	if replyA.Assistant.FullText != "A" {
		t.Fatalf("FullText = %q, want A", replyA.Assistant.FullText)
	}

	holder.Swap(agentclient.New(wsURL(srvB), "tok"))

	replyB, err := orch.HandleTurn(context.Background(), audio, "")
	if err != nil {
		t.Fatalf("HandleTurn (B): %v", err)
	}
	if replyB.Assistant.FullText != "B" {
		t.Fatalf("FullText = %q, want B", replyB.Assistant.FullText)
	}
}

func TestHandleTurn_TimingIsPopulated(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, "ok")
	store := config.NewStore(testConfig("sess-1", ids.ProviderWhisperX, 1<<20))
	providers := providerset.New()
	providers.Set(ids.ProviderWhisperX, &fakeProvider{id: ids.ProviderWhisperX, result: stt.SttResult{Text: "hi", ProviderId: ids.ProviderWhisperX}})
	holder := agentclient.NewHolder(agentclient.New(wsURL(srv), "tok"))
	orch := orchestrator.New(providers, holder, store)

	reply, err := orch.HandleTurn(context.Background(), stt.AudioPayload{Bytes: []byte("x"), ContentType: "audio/ogg"}, "")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if reply.Timing.TotalMs < reply.Timing.SttMs+reply.Timing.AgentMs {
		t.Errorf("TotalMs %d should be >= SttMs+AgentMs (%d+%d)", reply.Timing.TotalMs, reply.Timing.SttMs, reply.Timing.AgentMs)
	}
}
