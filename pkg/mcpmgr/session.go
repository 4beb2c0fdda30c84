package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session is an established connection to one tool server. A Session is
// owned by exactly one connection record once handed to the manager.
type Session interface {
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	ListResources(ctx context.Context) ([]*mcp.Resource, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	Close() error
}

// NewSDKDialer returns a Dialer that launches stdio servers (or dials
// Streamable HTTP endpoints) through the go-sdk client and performs the
// initialize handshake.
func NewSDKDialer(opts *Options) Dialer {
	options := opts.withDefaults()
	return func(ctx context.Context, spec ServerSpec) (Session, error) {
		transport, err := buildTransport(spec)
		if err != nil {
			return nil, err
		}
		if options.LogJSONRPC {
			transport = &loggingTransport{serverID: spec.Name, delegate: transport, logger: options.Logger}
		}
		client := mcp.NewClient(&mcp.Implementation{
			Name:    options.ClientName,
			Version: options.ClientVersion,
		}, nil)
		cs, err := client.Connect(ctx, transport, nil)
		if err != nil {
			return nil, err
		}
		return &sdkSession{cs: cs}, nil
	}
}

func buildTransport(spec ServerSpec) (mcp.Transport, error) {
	switch TransportOf(spec) {
	case TransportStdio:
		return buildStdioTransport(spec), nil
	case TransportHTTP:
		return &mcp.StreamableClientTransport{Endpoint: spec.Endpoint, HTTPClient: http.DefaultClient}, nil
	default:
		return nil, fmt.Errorf("mcpmgr: command missing for %q", spec.Name)
	}
}

func buildStdioTransport(spec ServerSpec) *mcp.CommandTransport {
	cmd := exec.Command(spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		env := os.Environ()
		for k, v := range spec.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}
}

type sdkSession struct {
	cs *mcp.ClientSession
}

func (s *sdkSession) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := s.cs.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (s *sdkSession) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	var resources []*mcp.Resource
	params := &mcp.ListResourcesParams{}
	for {
		res, err := s.cs.ListResources(ctx, params)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res.Resources...)
		if res.NextCursor == "" {
			return resources, nil
		}
		params = &mcp.ListResourcesParams{Cursor: res.NextCursor}
	}
}

func (s *sdkSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	return s.cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

func (s *sdkSession) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return s.cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
}

func (s *sdkSession) Close() error { return s.cs.Close() }

type loggingTransport struct {
	serverID string
	delegate mcp.Transport
	logger   *slog.Logger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   *slog.Logger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger.Debug("jsonrpc", "server", c.serverID, "direction", string(direction), "message", string(encoded))
}

// schemaMap normalizes whatever the SDK decoded for an input schema into a
// plain JSON object.
func schemaMap(schema any) map[string]any {
	switch v := schema.(type) {
	case nil:
		return map[string]any{"type": "object", "properties": map[string]any{}}
	case map[string]any:
		return v
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out
}

func isMethodUnavailableError(err error, method string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "method not found") || strings.Contains(lower, "-32601") {
		return true
	}
	if !strings.Contains(lower, strings.ToLower(method)) {
		return false
	}
	return strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support")
}
