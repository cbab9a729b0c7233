// Package agentclient implements the framed-WebSocket client that speaks the
// agent-runtime protocol: a long-lived connection carrying request, response,
// and event frames multiplexed over a single socket.
package agentclient

import "encoding/json"

// Frame type discriminators. Every frame on the wire is a JSON object with a
// "type" field set to exactly one of these literals.
const (
	frameTypeRequest  = "req"
	frameTypeResponse = "res"
	frameTypeEvent    = "event"
)

// requestFrame is an outbound {type:"req", ...} frame.
type requestFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// responseFrame is an inbound {type:"res", ...} frame, correlated to a
// requestFrame by ID.
type responseFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// eventFrame is an inbound {type:"event", ...} frame. Payload is left as raw
// JSON: the two events this client understands (connect.challenge and chat)
// have different, loosely-specified payload shapes, so fields are pulled out
// with gjson rather than two parallel typed structs.
type eventFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// envelopeType peeks at the "type" discriminator without fully decoding the
// frame, so the receive loop can dispatch to the right concrete type.
func envelopeType(data []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.Type
}

// connectParams is the params object of the "connect" request, per spec §4.3
// and §6: minProtocol/maxProtocol are wire-format constants, nonce is echoed
// from connect.challenge when one arrived.
type connectParams struct {
	MinProtocol int           `json:"minProtocol"`
	MaxProtocol int           `json:"maxProtocol"`
	Nonce       string        `json:"nonce,omitempty"`
	Client      connectClient `json:"client"`
	Caps        []string      `json:"caps"`
	Role        string        `json:"role"`
	Scopes      []string      `json:"scopes"`
	Auth        connectAuth   `json:"auth"`
}

type connectClient struct {
	ID   string `json:"id"`
	Mode string `json:"mode"`
}

type connectAuth struct {
	Token string `json:"token"`
}

// chatSendParams is the params object of the "chat.send" request.
type chatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
	TimeoutMs      int    `json:"timeoutMs,omitempty"`
}
