package mcpmgr

import (
	"context"
	"log/slog"
	"time"
)

// ServerSpec is the immutable launch descriptor for one tool server. Specs
// are supplied by the configuration layer and never mutated by the manager.
type ServerSpec struct {
	// Name is the unique key for the server.
	Name string
	// Command is the executable launched for stdio servers.
	Command string
	Args    []string
	// Env is merged over the parent process environment.
	Env     map[string]string
	Enabled bool
	// Description is informational only.
	Description string
	// Endpoint selects the Streamable HTTP transport instead of stdio when
	// Command is empty.
	Endpoint string
	// Timeout bounds the connect handshake. Zero falls back to
	// Options.ConnectTimeout.
	Timeout time.Duration
}

// ProgressFunc receives every connection state transition. It is fire and
// forget: panics are recovered and never reach the manager.
type ProgressFunc func(server string, status Status, message string)

// Dialer establishes a session for a spec. Tests inject fakes; the default
// dialer speaks MCP through the go-sdk client.
type Dialer func(ctx context.Context, spec ServerSpec) (Session, error)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// Options configures a Manager instance.
type Options struct {
	// PrefixTools exposes tools as "<server>_<tool>". When false, tools keep
	// their original names and a later server shadows an earlier one on
	// collision.
	PrefixTools bool
	// Progress observes state transitions.
	Progress ProgressFunc
	// Dialer overrides how sessions are created.
	Dialer Dialer
	// ConnectTimeout is applied whenever a spec omits an explicit timeout.
	ConnectTimeout time.Duration
	// ClientName is advertised during the MCP handshake.
	ClientName string
	// ClientVersion is the semantic version reported to servers.
	ClientVersion string
	// LogJSONRPC logs every JSON-RPC message at debug level.
	LogJSONRPC bool
	// Logger receives structured diagnostics.
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcp-agent"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
