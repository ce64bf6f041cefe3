// Package mcp implements a line-delimited stdio JSON-RPC 2.0 server for the
// Model Context Protocol: initialize handshake, tool listing and tool calls.
// Transport errors become JSON-RPC errors; tool failures become isError text
// results so the agent always gets parseable output.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// maxLineBytes bounds one incoming request line.
const maxLineBytes = 10 * 1024 * 1024

// Server serves MCP over a line-delimited reader/writer pair, usually
// stdin/stdout. One response line per request line; notifications are
// consumed without a reply.
type Server struct {
	info     ServerInfo
	registry *Registry
	log      *zap.Logger

	writeMu sync.Mutex
	out     io.Writer
}

// NewServer builds a server over the given transport.
func NewServer(info ServerInfo, registry *Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		info:     info,
		registry: registry,
		log:      log.Named("mcp"),
	}
}

// Serve reads request lines until EOF or context cancellation. Stdout
// stays reserved for protocol frames; all diagnostics go to the logger.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	s.log.Info("serving", zap.String("server", s.info.Name), zap.String("version", s.info.Version))
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.handleLine(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn("stdin closed with error", zap.Error(err))
		return err
	}
	s.log.Info("stdin closed, shutting down")
	return nil
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	req, err := UnmarshalRequest(line)
	if err != nil {
		rpcErr := err.(*RPCError)
		s.reply(NewErrorResponse(nil, rpcErr.Code, rpcErr.Message, rpcErr.Data))
		return
	}
	if req.IsNotification() {
		s.log.Debug("notification", zap.String("method", req.Method))
		return
	}
	s.reply(s.dispatch(ctx, req))
}

// dispatch routes one request. Panics in handlers are recovered into
// internal errors so a bad tool cannot take the transport down.
func (s *Server) dispatch(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", zap.String("method", req.Method), zap.Any("panic", r))
			resp = NewErrorResponse(req.ID, InternalError, "Internal error", fmt.Sprint(r))
		}
	}()

	switch req.Method {
	case "initialize":
		return NewResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    Capabilities{Tools: ToolsCapability{}},
			ServerInfo:      s.info,
		})
	case "ping":
		return NewResponse(req.ID, map[string]any{})
	case "tools/list":
		return NewResponse(req.ID, ListToolsResult{Tools: s.registry.Descriptors()})
	case "tools/call":
		return s.handleToolCall(ctx, req)
	default:
		return NewErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}
}

func (s *Server) handleToolCall(ctx context.Context, req *Request) *Response {
	name, _ := req.Params["name"].(string)
	if name == "" {
		return NewErrorResponse(req.ID, InvalidParams, "tools/call requires a tool name", nil)
	}
	tool, ok := s.registry.Lookup(name)
	if !ok {
		return NewErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("Unknown tool: %s", name), nil)
	}
	args, _ := req.Params["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	s.log.Info("tool call", zap.String("tool", name))
	payload, err := tool.Run(ctx, args)
	if err != nil {
		s.log.Warn("tool failed", zap.String("tool", name), zap.Error(err))
		return NewResponse(req.ID, ErrorResult(err.Error()))
	}
	return NewResponse(req.ID, TextResult(payload, false))
}

// reply writes one response line. The mutex keeps concurrent writers from
// interleaving frames.
func (s *Server) reply(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal response", zap.Error(err))
		data, _ = json.Marshal(NewErrorResponse(resp.ID, InternalError, "Internal error", nil))
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.log.Error("write response", zap.Error(err))
	}
}
