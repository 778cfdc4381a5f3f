// Package toolbridge connects a decision-making caller to a tool-hosting
// peer process over a newline-delimited JSON request/response protocol, and
// layers capability discovery, workflow execution, change detection and
// threshold alerting on top of that bridge.
package toolbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/machinefabric/toolbridge-go/rpc"
)

// Transport frames requests to a tool-hosting peer over a shared ordered
// byte stream. All exchanges are strictly request-then-response, never
// pipelined; a second request before the first response would desynchronize
// framing, so every roundtrip holds a single mutex.
type Transport struct {
	writer *rpc.LineWriter
	reader *rpc.LineReader

	cmd   *exec.Cmd
	stdin io.Closer

	mu     sync.Mutex
	nextId int64
	closed bool

	log zerolog.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithLogger attaches a logger for protocol lifecycle events.
func WithLogger(log zerolog.Logger) TransportOption {
	return func(t *Transport) { t.log = log }
}

// NewTransport wraps an already-connected stream pair. Request identifiers
// are unique per connection, monotonically increasing, never reused.
func NewTransport(in io.Writer, out io.Reader, opts ...TransportOption) *Transport {
	t := &Transport{
		writer: rpc.NewLineWriter(in),
		reader: rpc.NewLineReader(out),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Spawn starts the tool-hosting process described by command (a shell-style
// command line, e.g. "toolbridge serve") and connects a Transport to its
// stdin/stdout. Stderr passes through so the peer's diagnostics stay visible
// without polluting the protocol stream.
func Spawn(command string, opts ...TransportOption) (*Transport, error) {
	argv := splitCommand(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty server command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start peer %q: %w", argv[0], err)
	}

	t := NewTransport(stdin, stdout, opts...)
	t.cmd = cmd
	t.stdin = stdin
	t.log.Debug().Str("command", command).Int("pid", cmd.Process.Pid).Msg("peer started")
	return t, nil
}

// Send writes exactly one framed request and blocks reading exactly one
// framed response. A peer-reported error comes back as *rpc.Error; transport
// failures come back as *rpc.Fault. There is no built-in retry.
func (t *Transport) Send(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkAlive(ctx); err != nil {
		return nil, err
	}

	t.nextId++
	id := t.nextId
	if err := t.writer.WriteMessage(rpc.NewRequest(id, method, params)); err != nil {
		return nil, rpc.PeerClosed(fmt.Sprintf("write %s request: %v", method, err), err)
	}

	resp, err := t.reader.ReadResponse()
	if err != nil {
		t.log.Debug().Err(err).Str("method", method).Msg("exchange failed")
		return nil, err
	}
	if resp.Id == nil || *resp.Id != id {
		raw, _ := json.Marshal(resp)
		return nil, rpc.ProtocolViolation(
			fmt.Sprintf("response id does not match request id %d", id), raw)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Notify writes a fire-and-forget message and expects no response.
func (t *Transport) Notify(ctx context.Context, method string, params map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkAlive(ctx); err != nil {
		return err
	}
	if err := t.writer.WriteMessage(rpc.NewNotification(method, params)); err != nil {
		return rpc.PeerClosed(fmt.Sprintf("write %s notification: %v", method, err), err)
	}
	return nil
}

// checkAlive fails fast when the peer process is known to be gone or the
// call was already abandoned. Caller holds the mutex.
func (t *Transport) checkAlive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed {
		return rpc.PeerUnavailable("transport is closed")
	}
	if t.cmd != nil && t.cmd.ProcessState != nil {
		return rpc.PeerUnavailable("peer process has exited")
	}
	return nil
}

// Close shuts the peer's stdin and reaps the process if one was spawned.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.cmd != nil {
		err := t.cmd.Wait()
		t.log.Debug().Err(err).Msg("peer stopped")
		return err
	}
	return nil
}

// splitCommand splits a shell-style command line honoring single and double
// quotes. Escapes and substitution are out of scope.
func splitCommand(command string) []string {
	var argv []string
	var cur strings.Builder
	var quote rune
	pending := false

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			pending = true
		case r == ' ' || r == '\t':
			if pending || cur.Len() > 0 {
				argv = append(argv, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteRune(r)
		}
	}
	if pending || cur.Len() > 0 {
		argv = append(argv, cur.String())
	}
	return argv
}
