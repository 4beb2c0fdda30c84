package mcpmgr

import "fmt"

// ToolNotFoundError is returned when a tool name resolves to no server.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("mcpmgr: tool %q not found", e.Tool)
}

// ServerNotConnectedError is returned when a tool resolves to a server that
// is not currently connected.
type ServerNotConnectedError struct {
	Server string
	Status Status
}

func (e *ServerNotConnectedError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("mcpmgr: server %q is not configured", e.Server)
	}
	return fmt.Sprintf("mcpmgr: server %q not connected (%s)", e.Server, e.Status)
}

// ToolExecutionError wraps a transport or server failure raised while a
// resolved tool was running.
type ToolExecutionError struct {
	Server string
	Tool   string
	Cause  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("mcpmgr: tool %q on %q failed: %v", e.Tool, e.Server, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }
