package mcpmgr

// Status represents the lifecycle of a managed connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ToolDescriptor describes one tool as advertised by its server.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	Server      string
}

// ResourceDescriptor describes one readable resource.
type ResourceDescriptor struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
	Server      string
}

// ToolEntry is a catalog entry under its public (possibly prefixed) name.
type ToolEntry struct {
	Name         string
	Server       string
	OriginalName string
	Description  string
	InputSchema  map[string]any
}

// ServerInfo is a point-in-time view of one connection.
type ServerInfo struct {
	Name        string
	Status      Status
	Connected   bool
	Tools       int
	Resources   int
	Error       string
	Description string
	RetryCount  int
}

// serverConnection is the mutable runtime record for one server. All fields
// are guarded by Manager.mu; I/O happens outside the lock.
type serverConnection struct {
	name string
	spec ServerSpec

	status    Status
	session   Session
	tools     []ToolDescriptor
	resources []ResourceDescriptor
	errMsg    string
	retries   int

	connecting bool
	connectCh  chan struct{}
	// epoch advances whenever the record is torn down so an attempt that
	// finishes afterwards knows its session is orphaned.
	epoch uint64
}

func newServerConnection(spec ServerSpec) *serverConnection {
	return &serverConnection{name: spec.Name, spec: spec, status: StatusDisconnected}
}

// reset drops the session reference and discovered lists without touching
// the retry counter.
func (c *serverConnection) reset() {
	c.status = StatusDisconnected
	c.session = nil
	c.tools = nil
	c.resources = nil
}

func (c *serverConnection) info() ServerInfo {
	info := ServerInfo{
		Name:        c.name,
		Status:      c.status,
		Connected:   c.status == StatusConnected,
		Tools:       len(c.tools),
		Resources:   len(c.resources),
		Description: c.spec.Description,
		RetryCount:  c.retries,
	}
	if c.status == StatusError {
		info.Error = c.errMsg
	}
	return info
}
