package toolbridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/machinefabric/toolbridge-go/rpc"
)

// Bridge is the session object tying one peer connection together: the
// transport with its request-id counter, the handshake state machine, and
// the capability invoker. Construct one per connection and pass it by
// reference; there are no package-level singletons.
type Bridge struct {
	transport *Transport
	handshake *Handshake
	log       zerolog.Logger
}

// NewBridge wraps an existing transport.
func NewBridge(t *Transport, opts ...BridgeOption) *Bridge {
	b := &Bridge{transport: t, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	b.handshake = NewHandshake(t, b.log)
	return b
}

// SpawnBridge starts the peer process and wraps it in a Bridge.
func SpawnBridge(command string, opts ...BridgeOption) (*Bridge, error) {
	b := &Bridge{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	t, err := Spawn(command, WithLogger(b.log))
	if err != nil {
		return nil, err
	}
	b.transport = t
	b.handshake = NewHandshake(t, b.log)
	return b, nil
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger attaches a logger for bridge lifecycle events.
func WithBridgeLogger(log zerolog.Logger) BridgeOption {
	return func(b *Bridge) { b.log = log }
}

// Transport exposes the underlying transport, mainly for Close.
func (b *Bridge) Transport() *Transport { return b.transport }

// HandshakeState reports the negotiation state of this connection.
func (b *Bridge) HandshakeState() HandshakeState { return b.handshake.State() }

// Close shuts down the peer connection.
func (b *Bridge) Close() error { return b.transport.Close() }

// ListOperations invokes the well-known listing operation and decodes the
// returned descriptors. A response without the listing field is a protocol
// violation.
func (b *Bridge) ListOperations(ctx context.Context) ([]OperationDescriptor, error) {
	b.handshake.Ensure(ctx)

	raw, err := b.transport.Send(ctx, rpc.MethodListTools, nil)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Tools []OperationDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, rpc.ProtocolViolation("listing result is not decodable", raw)
	}
	if listing.Tools == nil {
		return nil, rpc.ProtocolViolation("listing result lacks tools field", raw)
	}
	return listing.Tools, nil
}

// Invoke calls the named operation with args and normalizes the reply into
// a uniform Result. Operation-level failures reported by the peer become
// readable error results so an upstream decision-maker can inspect and react
// to them; only transport faults surface as errors.
func (b *Bridge) Invoke(ctx context.Context, op string, args map[string]any) (rpc.Result, error) {
	b.handshake.Ensure(ctx)

	if args == nil {
		args = map[string]any{}
	}
	raw, err := b.transport.Send(ctx, rpc.MethodCallTool, map[string]any{
		"name":      op,
		"arguments": args,
	})
	if err != nil {
		var peerErr *rpc.Error
		if errors.As(err, &peerErr) {
			b.log.Debug().Str("op", op).Str("error", peerErr.Message).Msg("operation reported failure")
			return rpc.ErrorResult(peerErr.Error()), nil
		}
		return rpc.Result{}, err
	}
	return rpc.NormalizeResult(raw), nil
}

var _ rpc.Invoker = (*Bridge)(nil)
