package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol tag carried on every wire message.
const Version = "2.0"

// Well-known methods exposed by a tool-hosting peer.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
)

// Request is a single outbound wire message. Requests carry an Id and expect
// exactly one Response with the same Id; notifications omit the Id and expect
// no reply at all.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	Id      *int64         `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// NewRequest creates a request expecting a correlated response.
func NewRequest(id int64, method string, params map[string]any) *Request {
	return &Request{JSONRPC: Version, Id: &id, Method: method, Params: params}
}

// NewNotification creates a fire-and-forget message with no Id.
func NewNotification(method string, params map[string]any) *Request {
	return &Request{JSONRPC: Version, Method: method, Params: params}
}

// IsNotification reports whether the message expects no response.
func (r *Request) IsNotification() bool {
	return r.Id == nil
}

// Response is a single inbound wire message. Exactly one of Result or Error
// is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Id      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a structured failure reported by the peer inside a Response.
// It is an ordinary error value so callers can decide whether to surface it
// or fold it into a readable result.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("peer error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("peer error: %s", e.Message)
}

// Standard peer error codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)
