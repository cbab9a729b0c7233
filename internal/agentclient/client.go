package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/glyphgate/voicegate/pkg/gwerr"
)

// State is a node in the agent-runtime client's connection state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingChallenge
	AwaitingHelloOk
	Ready
	Draining
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingChallenge:
		return "awaiting_challenge"
	case AwaitingHelloOk:
		return "awaiting_hello_ok"
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	challengeFallback    = 500 * time.Millisecond
	handshakeTimeout     = 5 * time.Second
	reconnectBaseDelay   = 250 * time.Millisecond
	reconnectMaxDelay    = 5 * time.Second
	reconnectMaxAttempts = 5
	protocolVersion      = 3
	closeCodeProtoMisuse = websocket.StatusCode(1008)
)

// pendingChat tracks one outstanding chat.send request awaiting its terminal
// chat event. sessionKey and runID both serve as correlation keys: runID is
// learned from the first event tied to this send (see bindRunID).
type pendingChat struct {
	id         string
	sessionKey string
	runID      string
	resultCh   chan chatResult

	mu          sync.Mutex
	accumulator strings.Builder
	done        bool
}

type chatResult struct {
	text string
	err  error
}

// Client is a long-lived framed-WebSocket client speaking the agent-runtime
// protocol. It is safe for concurrent use: many goroutines may call Send
// concurrently, each tracked independently.
type Client struct {
	url   string
	token string

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex // serializes frame writes to the socket, per spec §5

	challengeCh chan string // delivers the nonce from connect.challenge; buffered, recreated per handshake

	connectMu sync.Mutex // serializes handshake establishment across concurrent Send callers

	pendingMu           sync.Mutex
	pendingByID         map[string]*pendingChat
	pendingByRunID      map[string]*pendingChat
	pendingBySessionKey map[string][]*pendingChat
	pendingHandshake    map[string]chan *responseFrame
}

// New constructs a Client for the given agent-runtime WebSocket URL and auth
// token. The connection is established lazily on the first Send.
func New(url, token string) *Client {
	return &Client{
		url:                 url,
		token:               token,
		state:               Disconnected,
		pendingByID:         make(map[string]*pendingChat),
		pendingByRunID:      make(map[string]*pendingChat),
		pendingBySessionKey: make(map[string][]*pendingChat),
		pendingHandshake:    make(map[string]chan *responseFrame),
	}
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Send delivers text over sessionKey and blocks until the agent-runtime's
// terminal chat event resolves, timeoutMs elapses, or ctx is cancelled.
func (c *Client) Send(ctx context.Context, sessionKey, text string, timeoutMs int) (string, error) {
	if err := c.ensureReady(ctx); err != nil {
		return "", err
	}

	id := uuid.NewString()
	idempotencyKey := uuid.NewString()

	pc := &pendingChat{
		id:         id,
		sessionKey: sessionKey,
		resultCh:   make(chan chatResult, 1),
	}
	c.registerPending(pc)
	defer c.removePending(pc)

	frame := requestFrame{
		Type:   frameTypeRequest,
		ID:     id,
		Method: "chat.send",
		Params: chatSendParams{
			SessionKey:     sessionKey,
			Message:        text,
			IdempotencyKey: idempotencyKey,
			TimeoutMs:      timeoutMs,
		},
	}
	if err := c.writeFrame(ctx, frame); err != nil {
		return "", gwerr.New(gwerr.CodeOpenclawUnavailable, "agentclient: send chat.send").WithCause(err)
	}

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pc.resultCh:
		return res.text, res.err
	case <-timer.C:
		return "", gwerr.New(gwerr.CodeOpenclawTimeout, "agentclient: chat.send timed out")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Disconnect moves the client to Draining: further sends are rejected, the
// socket is closed, and all pending sends fail with OPENCLAW_UNAVAILABLE.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.state = Draining
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.failAllPending(gwerr.New(gwerr.CodeOpenclawUnavailable, "agentclient: client disconnected"))

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}

	return err
}

// ensureReady lazily performs the handshake if the client is not already
// Ready, using bounded exponential backoff across up to reconnectMaxAttempts
// dial+handshake attempts.
func (c *Client) ensureReady(ctx context.Context) error {
	if c.State() == Ready {
		return nil
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	// Re-check now that we hold the handshake lock: another goroutine may
	// have just finished connecting while we waited.
	state := c.State()
	if state == Ready {
		return nil
	}
	if state == Draining {
		return gwerr.New(gwerr.CodeOpenclawUnavailable, "agentclient: client is draining")
	}

	delay := reconnectBaseDelay
	var lastErr error
	for attempt := 0; attempt < reconnectMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
		}
		if err := c.connect(ctx); err != nil {
			lastErr = err
			slog.Warn("agentclient: connect attempt failed", "attempt", attempt+1, "err", err)
			continue
		}
		return nil
	}
	c.setState(Failed)
	return gwerr.New(gwerr.CodeOpenclawUnavailable, "agentclient: handshake failed after retries").WithCause(lastErr)
}

// connect performs a single dial-and-handshake attempt: open the socket,
// await (or time out waiting for) connect.challenge, send the connect
// request, and await hello-ok.
func (c *Client) connect(ctx context.Context) error {
	c.setState(Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPHeader: http.Header{},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.challengeCh = make(chan string, 1)
	c.mu.Unlock()

	go c.receiveLoop(conn)

	c.setState(AwaitingChallenge)
	nonce := c.awaitChallenge(dialCtx)

	c.setState(AwaitingHelloOk)
	id := uuid.NewString()
	respCh := make(chan *responseFrame, 1)
	c.pendingMu.Lock()
	c.pendingHandshake[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pendingHandshake, id)
		c.pendingMu.Unlock()
	}()

	frame := requestFrame{
		Type:   frameTypeRequest,
		ID:     id,
		Method: "connect",
		Params: connectParams{
			MinProtocol: protocolVersion,
			MaxProtocol: protocolVersion,
			Nonce:       nonce,
			Client:      connectClient{ID: "gateway-client", Mode: "backend"},
			Caps:        []string{},
			Role:        "operator",
			Scopes:      []string{},
			Auth:        connectAuth{Token: c.token},
		},
	}
	if err := c.writeFrame(dialCtx, frame); err != nil {
		conn.Close(websocket.StatusInternalError, "connect frame failed")
		return fmt.Errorf("write connect: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp == nil || !resp.OK {
			conn.Close(websocket.StatusInternalError, "connect rejected")
			return errors.New("connect: rejected by server")
		}
		c.setState(Ready)
		return nil
	case <-dialCtx.Done():
		conn.Close(websocket.StatusInternalError, "connect timed out")
		return fmt.Errorf("connect: %w", dialCtx.Err())
	}
}

// awaitChallenge waits up to challengeFallback for a connect.challenge event.
// If none arrives, the handshake proceeds without a nonce.
func (c *Client) awaitChallenge(ctx context.Context) string {
	c.mu.Lock()
	ch := c.challengeCh
	c.mu.Unlock()

	timer := time.NewTimer(challengeFallback)
	defer timer.Stop()
	select {
	case nonce := <-ch:
		return nonce
	case <-timer.C:
		return ""
	case <-ctx.Done():
		return ""
	}
}

func (c *Client) writeFrame(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("agentclient: no active connection")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads frames off the socket until it closes or errors, then
// fails every outstanding pending request and resets to Disconnected (a
// draining client stays Draining) so the next Send triggers a fresh
// handshake.
func (c *Client) receiveLoop(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		switch envelopeType(data) {
		case frameTypeEvent:
			var ev eventFrame
			if json.Unmarshal(data, &ev) == nil {
				c.handleEvent(&ev)
			}
		case frameTypeResponse:
			var resp responseFrame
			if json.Unmarshal(data, &resp) == nil {
				c.handleResponse(&resp)
			}
		}
	}
}

func (c *Client) handleEvent(ev *eventFrame) {
	switch ev.Event {
	case "connect.challenge":
		nonce := gjson.GetBytes(ev.Payload, "nonce").String()
		c.mu.Lock()
		ch := c.challengeCh
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- nonce:
			default:
			}
		}
	case "chat":
		c.handleChatEvent(ev.Payload)
	}
}

func (c *Client) handleChatEvent(payload []byte) {
	runID := gjson.GetBytes(payload, "runId").String()
	sessionKey := gjson.GetBytes(payload, "sessionKey").String()
	state := gjson.GetBytes(payload, "state").String()

	pc := c.resolvePending(runID, sessionKey)
	if pc == nil {
		return
	}

	switch state {
	case "delta":
		text := extractContentText(payload)
		pc.mu.Lock()
		pc.accumulator.WriteString(text)
		pc.mu.Unlock()
	case "final":
		text := extractContentText(payload)
		pc.mu.Lock()
		if text == "" {
			text = pc.accumulator.String()
		}
		pc.mu.Unlock()
		c.resolveChat(pc, chatResult{text: text})
	case "error":
		msg := gjson.GetBytes(payload, "error.message").String()
		if msg == "" {
			msg = "agent-runtime session error"
		}
		c.resolveChat(pc, chatResult{err: gwerr.New(gwerr.CodeOpenclawSessionError, "agentclient: chat session error").WithDetail(msg)})
	case "aborted":
		c.resolveChat(pc, chatResult{err: gwerr.New(gwerr.CodeOpenclawSessionError, "agentclient: chat session error").WithDetail("aborted")})
	}
}

// extractContentText concatenates message.content[] entries whose type field
// equals "text", per the wire-protocol note in spec §6.
func extractContentText(payload []byte) string {
	var b strings.Builder
	for _, item := range gjson.GetBytes(payload, "message.content").Array() {
		if item.Get("type").String() == "text" {
			b.WriteString(item.Get("text").String())
		}
	}
	return b.String()
}

func (c *Client) handleResponse(resp *responseFrame) {
	c.pendingMu.Lock()
	ch, ok := c.pendingHandshake[resp.ID]
	c.pendingMu.Unlock()
	if ok {
		select {
		case ch <- resp:
		default:
		}
		return
	}

	// A response acknowledging a chat.send that carries a runId in its
	// result lets us bind the pending record before any chat event arrives.
	c.pendingMu.Lock()
	pc, ok := c.pendingByID[resp.ID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	if !resp.OK {
		msg := "chat.send rejected"
		if resp.Error != nil && resp.Error.Message != "" {
			msg = resp.Error.Message
		}
		c.resolveChat(pc, chatResult{err: gwerr.New(gwerr.CodeOpenclawSessionError, "agentclient: chat.send rejected").WithDetail(msg)})
		return
	}
	if runID := gjson.GetBytes(resp.Result, "runId").String(); runID != "" {
		c.bindRunID(pc, runID)
	}
}

// handleDisconnect is invoked when the receive loop's read fails. A 1008
// close is protocol misuse per spec §4.3; any other failure is a generic
// disconnect. Both fail every pending request and reset to Disconnected,
// unless the client is Draining, which it stays.
func (c *Client) handleDisconnect(err error) {
	detail := "connection closed"
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == closeCodeProtoMisuse {
		detail = "invalid request frame"
	}
	slog.Warn("agentclient: connection closed", "err", err, "detail", detail)

	c.mu.Lock()
	if c.state != Draining {
		c.state = Disconnected
	}
	c.conn = nil
	c.mu.Unlock()

	c.failAllPending(gwerr.New(gwerr.CodeOpenclawUnavailable, "agentclient: "+detail).WithCause(err))
	c.failAllHandshakes()
}

func (c *Client) failAllHandshakes() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pendingHandshake {
		select {
		case ch <- nil:
		default:
		}
		delete(c.pendingHandshake, id)
	}
}

func (c *Client) registerPending(pc *pendingChat) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pendingByID[pc.id] = pc
	c.pendingBySessionKey[pc.sessionKey] = append(c.pendingBySessionKey[pc.sessionKey], pc)
}

func (c *Client) removePending(pc *pendingChat) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pendingByID, pc.id)
	if pc.runID != "" {
		delete(c.pendingByRunID, pc.runID)
	}
	list := c.pendingBySessionKey[pc.sessionKey]
	for i, p := range list {
		if p == pc {
			c.pendingBySessionKey[pc.sessionKey] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// bindRunID associates a runId with a pending record once it is learned,
// either from a chat.send acknowledgement or from the first correlated
// chat event.
func (c *Client) bindRunID(pc *pendingChat, runID string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if pc.runID != "" {
		return
	}
	pc.runID = runID
	c.pendingByRunID[runID] = pc
}

// resolvePending finds the pending record for an incoming chat event, first
// by runId, falling back to the oldest unbound record for sessionKey.
func (c *Client) resolvePending(runID, sessionKey string) *pendingChat {
	c.pendingMu.Lock()
	if runID != "" {
		if pc, ok := c.pendingByRunID[runID]; ok {
			c.pendingMu.Unlock()
			return pc
		}
	}
	var found *pendingChat
	for _, pc := range c.pendingBySessionKey[sessionKey] {
		if pc.runID == "" || pc.runID == runID {
			found = pc
			break
		}
	}
	c.pendingMu.Unlock()

	if found != nil && runID != "" {
		c.bindRunID(found, runID)
	}
	return found
}

func (c *Client) resolveChat(pc *pendingChat, result chatResult) {
	pc.mu.Lock()
	if pc.done {
		pc.mu.Unlock()
		return
	}
	pc.done = true
	pc.mu.Unlock()

	select {
	case pc.resultCh <- result:
	default:
	}
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	pending := make([]*pendingChat, 0, len(c.pendingByID))
	for _, pc := range c.pendingByID {
		pending = append(pending, pc)
	}
	c.pendingMu.Unlock()

	for _, pc := range pending {
		c.resolveChat(pc, chatResult{err: err})
	}
}
