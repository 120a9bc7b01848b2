// Package agent runs cold calls for HTTP and websocket clients.
package agent

import (
	"errors"

	"github.com/ashureev/coldcall/internal/coldcall"
)

// ErrNoActiveCall is returned when a caller sends an utterance before starting a call.
var ErrNoActiveCall = errors.New("no active call")

// CallKey identifies a live call: one per caller and client session.
type CallKey struct {
	CallerID  string
	SessionID string
}

func (k CallKey) String() string {
	return k.CallerID + ":" + k.SessionID
}

// NextRequest is the body of POST /next.
type NextRequest struct {
	Text string `json:"text"`
}

// TurnResponse is returned by POST /start and POST /next. Reply is set while
// the call continues; Final once it is over.
type TurnResponse struct {
	End       bool   `json:"end"`
	Reply     string `json:"reply,omitempty"`
	Final     string `json:"final,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

// StartResult is the outcome of starting a call.
type StartResult struct {
	CallID string
	Reply  string
}

// TurnResult is the outcome of one utterance.
type TurnResult struct {
	CallID string
	coldcall.Result
}

// Response converts the result to its wire form.
func (r TurnResult) Response(sessionID string) TurnResponse {
	resp := TurnResponse{SessionID: sessionID, CallID: r.CallID}
	if r.Ended() {
		resp.End = true
		resp.Final = r.Final()
		return resp
	}
	resp.Reply = r.Reply
	return resp
}

// ResponseType categorizes websocket frames sent to the client.
type ResponseType string

const (
	// ResponseTypeReply carries the next line of the call.
	ResponseTypeReply ResponseType = "reply"
	// ResponseTypeFinal carries the disposition or the inactive notice.
	ResponseTypeFinal ResponseType = "final"
	// ResponseTypePong answers a ping.
	ResponseTypePong ResponseType = "pong"
	// ResponseTypeError reports a protocol or server error.
	ResponseTypeError ResponseType = "error"
	// ResponseTypeHungUp acknowledges a hangup.
	ResponseTypeHungUp ResponseType = "hung_up"
)

// Config holds call agent configuration.
type Config struct {
	MaxTurns      int
	GeneratorName string
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		MaxTurns:      coldcall.DefaultMaxTurns,
		GeneratorName: "unknown",
	}
}
