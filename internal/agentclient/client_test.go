package agentclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/glyphgate/voicegate/internal/agentclient"
	"github.com/glyphgate/voicegate/pkg/gwerr"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return v
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("write frame: %v (may be expected on close)", err)
	}
}

// acceptHandshake drains the connect request and replies with hello-ok,
// optionally preceded by a connect.challenge event carrying nonce.
func acceptHandshake(t *testing.T, conn *websocket.Conn, nonce string, onConnectFrame func(map[string]any)) {
	t.Helper()
	if nonce != "" {
		writeFrame(t, conn, map[string]any{
			"type":    "event",
			"event":   "connect.challenge",
			"payload": map[string]any{"nonce": nonce},
		})
	}
	req := readFrame(t, conn)
	if onConnectFrame != nil {
		onConnectFrame(req)
	}
	writeFrame(t, conn, map[string]any{
		"type":   "res",
		"id":     req["id"],
		"ok":     true,
		"result": map[string]any{},
	})
}

// ── Handshake ─────────────────────────────────────────────────────────────────

func TestSend_HandshakeEchoesChallengeNonce(t *testing.T) {
	t.Parallel()

	var gotNonce string
	srv := startServer(t, func(conn *websocket.Conn) {
		acceptHandshake(t, conn, "abc", func(req map[string]any) {
			params, _ := req["params"].(map[string]any)
			gotNonce, _ = params["nonce"].(string)
		})

		chatReq := readFrame(t, conn)
		writeChatFinal(t, conn, chatReq, "sess-1", "Hi there.")
		<-conn.CloseRead(context.Background()).Done()
	})

	c := agentclient.New(wsURL(srv), "tok")
	text, err := c.Send(context.Background(), "sess-1", "hello", 2000)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if text != "Hi there." {
		t.Errorf("text = %q, want %q", text, "Hi there.")
	}
	if gotNonce != "abc" {
		t.Errorf("server received nonce = %q, want %q", gotNonce, "abc")
	}
}

// TestSend_NoChallengeFallsBackAfterDelay verifies that the handshake
// proceeds without a nonce when the server never sends connect.challenge.
func TestSend_NoChallengeFallsBackAfterDelay(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		req := readFrame(t, conn)
		params, _ := req["params"].(map[string]any)
		if _, has := params["nonce"]; has {
			t.Error("expected no nonce field when no challenge was sent")
		}
		writeFrame(t, conn, map[string]any{"type": "res", "id": req["id"], "ok": true, "result": map[string]any{}})

		chatReq := readFrame(t, conn)
		writeChatFinal(t, conn, chatReq, "sess-1", "ok")
		<-conn.CloseRead(context.Background()).Done()
	})

	c := agentclient.New(wsURL(srv), "tok")
	if _, err := c.Send(context.Background(), "sess-1", "hi", 2000); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

// writeChatFinal sends a single chat event in the "final" state for the
// given chat.send request, concatenating to one message.content text item.
func writeChatFinal(t *testing.T, conn *websocket.Conn, chatReq map[string]any, sessionKey, text string) {
	t.Helper()
	params, _ := chatReq["params"].(map[string]any)
	_ = params
	writeFrame(t, conn, map[string]any{
		"type":  "event",
		"event": "chat",
		"payload": map[string]any{
			"runId":      "run-1",
			"sessionKey": sessionKey,
			"state":      "final",
			"message": map[string]any{
				"content": []map[string]any{{"type": "text", "text": text}},
			},
		},
	})
}

// ── Event correlation ───────────────────────────────────────────────────────

func TestSend_AccumulatesDeltasBeforeFinal(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		acceptHandshake(t, conn, "", nil)
		readFrame(t, conn) // chat.send

		writeFrame(t, conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{"runId": "r1", "sessionKey": "s1", "state": "delta",
				"message": map[string]any{"content": []map[string]any{{"type": "text", "text": "Hello "}}}},
		})
		writeFrame(t, conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{"runId": "r1", "sessionKey": "s1", "state": "delta",
				"message": map[string]any{"content": []map[string]any{{"type": "text", "text": "there."}}}},
		})
		writeFrame(t, conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{"runId": "r1", "sessionKey": "s1", "state": "final"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := agentclient.New(wsURL(srv), "tok")
	text, err := c.Send(context.Background(), "s1", "hi", 2000)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if text != "Hello there." {
		t.Errorf("text = %q, want %q", text, "Hello there.")
	}
}

func TestSend_ErrorEventFailsWithSessionError(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		acceptHandshake(t, conn, "", nil)
		readFrame(t, conn)
		writeFrame(t, conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{"runId": "r1", "sessionKey": "s1", "state": "error",
				"error": map[string]any{"message": "backend exploded"}},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := agentclient.New(wsURL(srv), "tok")
	_, err := c.Send(context.Background(), "s1", "hi", 2000)
	if err == nil {
		t.Fatal("expected error")
	}
	gerr, ok := err.(*gwerr.Error)
	if !ok {
		t.Fatalf("err type = %T, want *gwerr.Error", err)
	}
	if gerr.Code != gwerr.CodeOpenclawSessionError {
		t.Errorf("code = %q, want %q", gerr.Code, gwerr.CodeOpenclawSessionError)
	}
}

func TestSend_AbortedEventFailsWithSessionError(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		acceptHandshake(t, conn, "", nil)
		readFrame(t, conn)
		writeFrame(t, conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{"runId": "r1", "sessionKey": "s1", "state": "aborted"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := agentclient.New(wsURL(srv), "tok")
	_, err := c.Send(context.Background(), "s1", "hi", 2000)
	gerr, ok := err.(*gwerr.Error)
	if !ok {
		t.Fatalf("err type = %T, want *gwerr.Error", err)
	}
	if gerr.Code != gwerr.CodeOpenclawSessionError {
		t.Errorf("code = %q, want %q", gerr.Code, gwerr.CodeOpenclawSessionError)
	}
	if gerr.Detail != "aborted" {
		t.Errorf("detail = %q, want aborted", gerr.Detail)
	}
}

func TestSend_NoEventWithinTimeoutFailsWithOpenclawTimeout(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		acceptHandshake(t, conn, "", nil)
		readFrame(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := agentclient.New(wsURL(srv), "tok")
	_, err := c.Send(context.Background(), "s1", "hi", 200)
	gerr, ok := err.(*gwerr.Error)
	if !ok {
		t.Fatalf("err type = %T, want *gwerr.Error", err)
	}
	if gerr.Code != gwerr.CodeOpenclawTimeout {
		t.Errorf("code = %q, want %q", gerr.Code, gwerr.CodeOpenclawTimeout)
	}
}

// ── Concurrent sends ────────────────────────────────────────────────────────

func TestSend_ConcurrentSendsHaveIndependentAccumulators(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		acceptHandshake(t, conn, "", nil)

		req1 := readFrame(t, conn)
		req2 := readFrame(t, conn)
		id1, _ := req1["id"].(string)
		id2, _ := req2["id"].(string)
		// The two Sends race, so bind r1 to sess-a's request whichever arrived first.
		if p, _ := req1["params"].(map[string]any); p["sessionKey"] == "sess-b" {
			id1, id2 = id2, id1
		}

		writeFrame(t, conn, map[string]any{"type": "res", "id": id1, "ok": true, "result": map[string]any{"runId": "r1"}})
		writeFrame(t, conn, map[string]any{"type": "res", "id": id2, "ok": true, "result": map[string]any{"runId": "r2"}})

		writeFrame(t, conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{"runId": "r1", "sessionKey": "sess-a", "state": "final",
				"message": map[string]any{"content": []map[string]any{{"type": "text", "text": "A"}}}},
		})
		writeFrame(t, conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{"runId": "r2", "sessionKey": "sess-b", "state": "final",
				"message": map[string]any{"content": []map[string]any{{"type": "text", "text": "B"}}}},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := agentclient.New(wsURL(srv), "tok")

	type result struct {
		text string
		err  error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)

	go func() {
		text, err := c.Send(context.Background(), "sess-a", "a", 3000)
		resA <- result{text, err}
	}()
	go func() {
		text, err := c.Send(context.Background(), "sess-b", "b", 3000)
		resB <- result{text, err}
	}()

	a := <-resA
	b := <-resB
	if a.err != nil || a.text != "A" {
		t.Errorf("sess-a result = %+v, want text A", a)
	}
	if b.err != nil || b.text != "B" {
		t.Errorf("sess-b result = %+v, want text B", b)
	}
}

// ── Disconnect / close-code handling ───────────────────────────────────────

func TestDisconnect_FailsPendingSends(t *testing.T) {
	t.Parallel()

	ready := make(chan struct{})
	srv := startServer(t, func(conn *websocket.Conn) {
		acceptHandshake(t, conn, "", nil)
		readFrame(t, conn) // chat.send, never answered
		close(ready)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := agentclient.New(wsURL(srv), "tok")

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "s1", "hi", 5000)
		done <- err
	}()

	<-ready
	time.Sleep(50 * time.Millisecond)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case err := <-done:
		gerr, ok := err.(*gwerr.Error)
		if !ok || gerr.Code != gwerr.CodeOpenclawUnavailable {
			t.Errorf("err = %v, want OPENCLAW_UNAVAILABLE", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for pending send to fail")
	}
}

func TestState_StartsDisconnected(t *testing.T) {
	t.Parallel()
	c := agentclient.New("ws://unused", "tok")
	if c.State() != agentclient.Disconnected {
		t.Errorf("initial state = %v, want Disconnected", c.State())
	}
}
