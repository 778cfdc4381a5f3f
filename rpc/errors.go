package rpc

import "fmt"

// FaultKind classifies transport-level failures. Peer-reported operation
// errors are NOT faults; they arrive as *Error values and stay readable.
type FaultKind int

const (
	// FaultPeerUnavailable means the tool-hosting process is not running.
	FaultPeerUnavailable FaultKind = iota
	// FaultPeerClosed means the stream ended before a full response arrived.
	FaultPeerClosed
	// FaultProtocolViolation means the peer sent bytes that do not parse as
	// the expected envelope. Raw preserves the offending line.
	FaultProtocolViolation
)

// Fault is a transport-level failure. It is fatal to the current call and
// never retried automatically; the caller decides whether to restart the
// bridge and try again.
type Fault struct {
	Kind    FaultKind
	Message string
	Raw     []byte
	Err     error
}

func (f *Fault) Error() string {
	switch f.Kind {
	case FaultPeerUnavailable:
		return fmt.Sprintf("peer unavailable: %s", f.Message)
	case FaultPeerClosed:
		return fmt.Sprintf("peer closed stream: %s", f.Message)
	case FaultProtocolViolation:
		return fmt.Sprintf("protocol violation: %s", f.Message)
	default:
		return fmt.Sprintf("transport fault: %s", f.Message)
	}
}

func (f *Fault) Unwrap() error { return f.Err }

// PeerUnavailable builds a FaultPeerUnavailable fault.
func PeerUnavailable(msg string) *Fault {
	return &Fault{Kind: FaultPeerUnavailable, Message: msg}
}

// PeerClosed builds a FaultPeerClosed fault.
func PeerClosed(msg string, cause error) *Fault {
	return &Fault{Kind: FaultPeerClosed, Message: msg, Err: cause}
}

// ProtocolViolation builds a FaultProtocolViolation fault carrying the raw
// bytes for diagnostics.
func ProtocolViolation(msg string, raw []byte) *Fault {
	return &Fault{Kind: FaultProtocolViolation, Message: msg, Raw: raw}
}
