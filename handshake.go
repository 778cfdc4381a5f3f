package toolbridge

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/machinefabric/toolbridge-go/rpc"
)

// ClientName and ClientVersion identify this bridge to peers that negotiate
// capabilities.
const (
	ClientName    = "toolbridge"
	ClientVersion = "0.1.0"

	// NegotiatedProtocolVersion is the capability-handshake revision this
	// bridge declares support for.
	NegotiatedProtocolVersion = "2024-11-05"
)

// HandshakeState is the capability-negotiation state machine. Ready and
// LegacyMode are both usable states for ordinary invocations; they differ
// only in whether the readiness acknowledgment was sent.
type HandshakeState int

const (
	// StateUnattempted means negotiation has not been tried yet.
	StateUnattempted HandshakeState = iota
	// StateNegotiating means the negotiation request is in flight.
	StateNegotiating
	// StateReady means the peer accepted negotiation and the acknowledgment
	// notification was sent.
	StateReady
	// StateLegacyMode means the peer predates the handshake. Terminal for
	// the process lifetime; never escalated to the caller.
	StateLegacyMode
)

func (s HandshakeState) String() string {
	switch s {
	case StateUnattempted:
		return "unattempted"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateLegacyMode:
		return "legacy"
	default:
		return "unknown"
	}
}

// Handshake drives optional capability negotiation over a Transport.
type Handshake struct {
	transport *Transport
	state     HandshakeState
	log       zerolog.Logger
}

// NewHandshake creates a handshake controller in StateUnattempted.
func NewHandshake(t *Transport, log zerolog.Logger) *Handshake {
	return &Handshake{transport: t, state: StateUnattempted, log: log}
}

// State returns the current negotiation state.
func (h *Handshake) State() HandshakeState { return h.state }

// Ensure performs the negotiation once and returns the resulting state.
// Any peer error, unparseable response or closed stream downgrades to
// LegacyMode: that is a normal operating mode, not a failure, so the bridge
// keeps working and skips the handshake on later calls.
func (h *Handshake) Ensure(ctx context.Context) HandshakeState {
	if h.state == StateReady || h.state == StateLegacyMode {
		return h.state
	}

	h.state = StateNegotiating
	result, err := h.transport.Send(ctx, rpc.MethodInitialize, map[string]any{
		"protocolVersion": NegotiatedProtocolVersion,
		"clientInfo": map[string]any{
			"name":    ClientName,
			"version": ClientVersion,
		},
		// Empty capability objects are a valid minimal declaration.
		"capabilities": map[string]any{
			"roots":     map[string]any{},
			"prompts":   map[string]any{},
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
	})
	if err != nil || result == nil {
		h.state = StateLegacyMode
		h.log.Info().Err(err).Msg("handshake declined, continuing in legacy mode")
		return h.state
	}

	if err := h.transport.Notify(ctx, rpc.MethodInitialized, nil); err != nil {
		h.state = StateLegacyMode
		h.log.Info().Err(err).Msg("readiness notification failed, continuing in legacy mode")
		return h.state
	}

	h.state = StateReady
	h.log.Debug().Msg("handshake complete")
	return h.state
}
