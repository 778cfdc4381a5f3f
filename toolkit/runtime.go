package toolkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	toolbridge "github.com/machinefabric/toolbridge-go"
	"github.com/machinefabric/toolbridge-go/rpc"
)

// ServerName and ServerVersion identify this runtime in the handshake reply.
const (
	ServerName    = "toolbridge"
	ServerVersion = "0.1.0"
)

// Runtime serves a registry over a line-delimited request/response stream,
// one request at a time.
type Runtime struct {
	registry *Registry
	reader   *rpc.LineReader
	writer   *rpc.LineWriter
	log      zerolog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeLogger installs a logger on the runtime.
func WithRuntimeLogger(log zerolog.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.log = log }
}

// NewRuntime builds a runtime reading requests from in and writing
// responses to out.
func NewRuntime(registry *Registry, in io.Reader, out io.Writer, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		registry: registry,
		reader:   rpc.NewLineReader(in),
		writer:   rpc.NewLineWriter(out),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Serve processes requests until the input stream closes or ctx is
// cancelled. Notifications are consumed without a reply.
func (rt *Runtime) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, raw, err := rt.reader.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			var fault *rpc.Fault
			if errors.As(err, &fault) && fault.Kind == rpc.FaultPeerClosed {
				return nil
			}
			if raw == nil {
				return err
			}
			// Parse failure on one line. Reply when an id is recoverable,
			// otherwise skip the line.
			if id := recoverId(raw); id != nil {
				rt.reply(rpc.Response{
					JSONRPC: rpc.Version,
					Id:      id,
					Error:   &rpc.Error{Code: rpc.CodeParseError, Message: err.Error()},
				})
			} else {
				rt.log.Warn().Err(err).Msg("skipping malformed request line")
			}
			continue
		}
		if req.IsNotification() {
			rt.log.Debug().Str("method", req.Method).Msg("notification received")
			continue
		}
		rt.reply(rt.dispatch(ctx, req))
	}
}

func (rt *Runtime) dispatch(ctx context.Context, req *rpc.Request) rpc.Response {
	switch req.Method {
	case rpc.MethodInitialize:
		return rt.resultResponse(req.Id, map[string]any{
			"protocolVersion": toolbridge.NegotiatedProtocolVersion,
			"serverInfo": map[string]any{
				"name":    ServerName,
				"version": ServerVersion,
			},
			"capabilities": map[string]any{"tools": map[string]any{}},
		})
	case rpc.MethodListTools:
		return rt.resultResponse(req.Id, map[string]any{
			"tools": rt.registry.Descriptors(),
		})
	case rpc.MethodCallTool:
		return rt.callTool(ctx, req)
	default:
		return rpc.Response{
			JSONRPC: rpc.Version,
			Id:      req.Id,
			Error: &rpc.Error{
				Code:    rpc.CodeMethodNotFound,
				Message: fmt.Sprintf("method not found: %s", req.Method),
			},
		}
	}
}

func (rt *Runtime) callTool(ctx context.Context, req *rpc.Request) rpc.Response {
	name, _ := req.Params["name"].(string)
	if name == "" {
		return rpc.Response{
			JSONRPC: rpc.Version,
			Id:      req.Id,
			Error:   &rpc.Error{Code: rpc.CodeInvalidParams, Message: "tools/call requires a name"},
		}
	}
	args, _ := req.Params["arguments"].(map[string]any)

	res, err := rt.registry.Invoke(ctx, name, args)
	if err != nil {
		return rpc.Response{
			JSONRPC: rpc.Version,
			Id:      req.Id,
			Error:   &rpc.Error{Code: rpc.CodeInternalError, Message: err.Error()},
		}
	}
	if res.IsError() {
		return rpc.Response{
			JSONRPC: rpc.Version,
			Id:      req.Id,
			Error:   &rpc.Error{Code: rpc.CodeInternalError, Message: res.Text},
		}
	}

	return rt.resultResponse(req.Id, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": res.String()},
		},
	})
}

func (rt *Runtime) resultResponse(id *int64, result map[string]any) rpc.Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return rpc.Response{
			JSONRPC: rpc.Version,
			Id:      id,
			Error:   &rpc.Error{Code: rpc.CodeInternalError, Message: err.Error()},
		}
	}
	return rpc.Response{JSONRPC: rpc.Version, Id: id, Result: raw}
}

func (rt *Runtime) reply(resp rpc.Response) {
	if err := rt.writer.WriteMessage(resp); err != nil {
		rt.log.Error().Err(err).Msg("failed to write response")
	}
}

// recoverId pulls the request id out of a line that otherwise failed to
// parse as an envelope.
func recoverId(raw []byte) *int64 {
	var probe struct {
		Id *int64 `json:"id"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return nil
	}
	return probe.Id
}
