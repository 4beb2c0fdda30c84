// Package mcpmgr manages a fleet of Model Context Protocol (MCP) tool servers
// from a single Go process. It layers a per-server connection state machine,
// concurrent connect and reconnect, and a merged tool namespace on top of the
// modelcontextprotocol/go-sdk client so callers can route tool calls by name
// instead of tracking sessions themselves.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, call Initialize once, then use ListTools and CallTool.
//     Reconnect and Disconnect act on a single server; Close tears everything
//     down best-effort.
//   - ServerSpec declares how each server is launched (Command/Args/Env for
//     stdio) or contacted (Endpoint for Streamable HTTP).
//   - Options toggle tool-name prefixing, connect timeouts, the progress
//     callback, JSON-RPC debug logging and the Dialer used to open sessions.
//
// With PrefixTools disabled, tools keep their server-native names and a later
// server silently shadows an earlier one that exposes the same name (a warning
// is logged). Enable prefixing to expose every tool as "<server>_<tool>".
//
// Connection failures never surface as errors from Initialize or ConnectAll;
// they are recorded on the connection and visible through Servers. CallTool
// returns *ToolNotFoundError, *ServerNotConnectedError or *ToolExecutionError
// so callers can turn them into text for the model.
package mcpmgr
