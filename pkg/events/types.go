// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-instance distribution.
//
// Every command has exactly one event channel, response:{command_id}.
// A client that opens a WebSocket against a command subscribes to that
// single channel for the lifetime of the connection — there is no
// generic subscribe/unsubscribe protocol, because nothing in this
// system multiplexes more than one channel per socket.
//
// Three event kinds are published on that channel:
//
//	response  one response chunk was recorded for the command
//	status    the command transitioned to in_progress/completed/failed
//	error     the command failed, whether or not any response was recorded
//
// All three are persisted to the events table and delivered via
// pg_notify in the same transaction (persistAndNotify) — so a client
// that connects after some events fired can always catch up from the
// table, and a client connected throughout never misses one.
package events

// Event kinds delivered on a command's channel.
const (
	EventTypeResponse = "response"
	EventTypeStatus   = "status"
	EventTypeError    = "error"
)

// ResponseChannel returns the channel name for a command's events.
// Format: "response:{command_id}"
func ResponseChannel(commandID string) string {
	return "response:" + commandID
}

// ClientMessage is the JSON structure for client → server WebSocket
// messages. The only action this socket recognizes is "ping" — there
// is no subscribe/unsubscribe, since the channel is fixed at handshake
// time by the URL path.
type ClientMessage struct {
	Action string `json:"action"`
}
