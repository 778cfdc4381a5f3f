package toolbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/toolbridge-go/rpc"
)

// closeReply tells the scripted peer to drop the connection instead of
// answering.
const closeReply = "<close>"

// scriptedPeer records every envelope the client writes and answers each
// one with whatever the handler returns. An empty reply sends nothing,
// which is how notifications are consumed.
type scriptedPeer struct {
	mu       sync.Mutex
	received []map[string]any
}

func (p *scriptedPeer) record(req map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, req)
}

func (p *scriptedPeer) requests() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.received...)
}

func scripted(t *testing.T, handle func(req map[string]any) string) (*Transport, *scriptedPeer, func()) {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	peer := &scriptedPeer{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer respW.Close()
		scanner := bufio.NewScanner(reqR)
		for scanner.Scan() {
			var req map[string]any
			if json.Unmarshal(scanner.Bytes(), &req) != nil {
				continue
			}
			peer.record(req)
			switch reply := handle(req); reply {
			case "":
			case closeReply:
				return
			default:
				fmt.Fprintln(respW, reply)
			}
		}
	}()

	tr := NewTransport(reqW, respR)
	cleanup := func() {
		_ = reqW.Close()
		<-done
	}
	return tr, peer, cleanup
}

// reqId extracts the numeric id a scripted peer saw.
func reqId(req map[string]any) int64 {
	id, _ := req["id"].(float64)
	return int64(id)
}

func echoOk(req map[string]any) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"ok":true}}`, reqId(req))
}

func TestSendRoundtrip(t *testing.T) {
	tr, peer, cleanup := scripted(t, echoOk)
	defer cleanup()

	raw, err := tr.Send(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	reqs := peer.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "2.0", reqs[0]["jsonrpc"])
	assert.Equal(t, "tools/list", reqs[0]["method"])
}

func TestSendIdsIncrease(t *testing.T) {
	tr, peer, cleanup := scripted(t, echoOk)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := tr.Send(ctx, "tools/list", nil)
		require.NoError(t, err)
	}

	reqs := peer.requests()
	require.Len(t, reqs, 3)
	for i := 1; i < len(reqs); i++ {
		assert.Greater(t, reqId(reqs[i]), reqId(reqs[i-1]))
	}
}

func TestSendPeerError(t *testing.T) {
	tr, _, cleanup := scripted(t, func(req map[string]any) string {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, reqId(req))
	})
	defer cleanup()

	_, err := tr.Send(context.Background(), "resources/list", nil)
	var peerErr *rpc.Error
	require.ErrorAs(t, err, &peerErr)
	assert.Equal(t, rpc.CodeMethodNotFound, peerErr.Code)
	assert.Contains(t, peerErr.Message, "method not found")
}

func TestSendIdMismatchIsProtocolViolation(t *testing.T) {
	tr, _, cleanup := scripted(t, func(req map[string]any) string {
		return `{"jsonrpc":"2.0","id":9999,"result":{}}`
	})
	defer cleanup()

	_, err := tr.Send(context.Background(), "tools/list", nil)
	var fault *rpc.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, rpc.FaultProtocolViolation, fault.Kind)
	assert.NotEmpty(t, fault.Raw)
}

func TestSendGarbageResponseKeepsRawBytes(t *testing.T) {
	tr, _, cleanup := scripted(t, func(req map[string]any) string {
		return `{"jsonrpc":"2.0",`
	})
	defer cleanup()

	_, err := tr.Send(context.Background(), "tools/list", nil)
	var fault *rpc.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, rpc.FaultProtocolViolation, fault.Kind)
	assert.Equal(t, `{"jsonrpc":"2.0",`, string(fault.Raw))
}

func TestSendPeerClosed(t *testing.T) {
	tr, _, cleanup := scripted(t, func(req map[string]any) string {
		return closeReply
	})
	defer cleanup()

	_, err := tr.Send(context.Background(), "tools/list", nil)
	var fault *rpc.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, rpc.FaultPeerClosed, fault.Kind)
}

func TestSendAfterCloseIsPeerUnavailable(t *testing.T) {
	tr, _, cleanup := scripted(t, echoOk)
	defer cleanup()

	require.NoError(t, tr.Close())
	_, err := tr.Send(context.Background(), "tools/list", nil)
	var fault *rpc.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, rpc.FaultPeerUnavailable, fault.Kind)
}

func TestSendCancelledContext(t *testing.T) {
	tr, _, cleanup := scripted(t, echoOk)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Send(ctx, "tools/list", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNotifyHasNoId(t *testing.T) {
	tr, peer, cleanup := scripted(t, func(req map[string]any) string { return "" })
	defer cleanup()

	require.NoError(t, tr.Notify(context.Background(), "notifications/initialized", nil))
	// Drain the peer before inspecting what it saw.
	cleanup()

	reqs := peer.requests()
	require.Len(t, reqs, 1)
	_, hasId := reqs[0]["id"]
	assert.False(t, hasId)
	assert.Equal(t, "notifications/initialized", reqs[0]["method"])
}

func TestSplitCommand(t *testing.T) {
	assert.Equal(t, []string{"toolbridge", "serve"}, splitCommand("toolbridge serve"))
	assert.Equal(t, []string{"run", "a b", "c"}, splitCommand(`run "a b" c`))
	assert.Equal(t, []string{"run", "a b"}, splitCommand(`run 'a b'`))
	assert.Equal(t, []string{"run", ""}, splitCommand(`run ""`))
	assert.Empty(t, splitCommand("   "))
}
