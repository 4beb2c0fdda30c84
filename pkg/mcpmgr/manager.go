package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Manager orchestrates the MCP sessions of every configured tool server and
// exposes their tools as one merged catalog.
type Manager struct {
	mu sync.RWMutex

	options Options
	logger  *slog.Logger
	dial    Dialer

	specs       []ServerSpec
	conns       map[string]*serverConnection
	order       []string
	index       *toolIndex
	initialized bool
}

// NewManager constructs a Manager over the given specs. Nothing is dialed
// until Initialize, ConnectAll or Reconnect is called. Callers can provide nil
// options to fall back to sensible defaults.
func NewManager(specs []ServerSpec, opts *Options) *Manager {
	options := opts.withDefaults()
	dial := options.Dialer
	if dial == nil {
		dial = NewSDKDialer(&options)
	}
	return &Manager{
		options: options,
		logger:  options.Logger,
		dial:    dial,
		specs:   append([]ServerSpec(nil), specs...),
		conns:   make(map[string]*serverConnection),
		index:   emptyIndex,
	}
}

// Initialize tracks every enabled spec and connects them concurrently. A
// second call returns the current snapshot without dialing anything.
func (m *Manager) Initialize(ctx context.Context) map[string]bool {
	m.mu.Lock()
	if m.initialized {
		snapshot := m.statusMapLocked()
		m.mu.Unlock()
		return snapshot
	}
	m.initialized = true
	for _, spec := range EnabledSpecs(m.specs) {
		if _, ok := m.conns[spec.Name]; !ok {
			m.conns[spec.Name] = newServerConnection(spec)
		}
	}
	m.reorderLocked()
	m.mu.Unlock()
	return m.ConnectAll(ctx)
}

// ConnectAll connects the named servers, or every tracked server that is not
// connected when names is empty, one goroutine per server. A failure is
// recorded on its connection and reported as false; it never cancels the
// sibling attempts. Unknown names are ignored.
func (m *Manager) ConnectAll(ctx context.Context, names ...string) map[string]bool {
	m.mu.RLock()
	var targets []string
	results := make(map[string]bool)
	if len(names) == 0 {
		for _, name := range m.order {
			if m.conns[name].status == StatusConnected {
				results[name] = true
				continue
			}
			targets = append(targets, name)
		}
	} else {
		for _, name := range names {
			if _, ok := m.conns[name]; ok {
				targets = append(targets, name)
			}
		}
	}
	m.mu.RUnlock()

	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
	)
	for _, name := range targets {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			ok := m.connectOne(ctx, name)
			resMu.Lock()
			results[name] = ok
			resMu.Unlock()
		}(name)
	}
	wg.Wait()

	m.mu.Lock()
	m.rebuildLocked()
	m.mu.Unlock()
	return results
}

// connectOne drives DISCONNECTED/ERROR -> CONNECTING -> CONNECTED|ERROR for
// one server. Concurrent callers for the same server share the in-flight
// attempt.
func (m *Manager) connectOne(ctx context.Context, name string) bool {
	m.mu.Lock()
	conn, ok := m.conns[name]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if conn.status == StatusConnected {
		m.mu.Unlock()
		return true
	}
	if conn.connecting {
		ch := conn.connectCh
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return false
		case <-ch:
		}
		m.mu.RLock()
		defer m.mu.RUnlock()
		return conn.status == StatusConnected
	}
	conn.connecting = true
	conn.connectCh = make(chan struct{})
	conn.status = StatusConnecting
	conn.errMsg = ""
	spec := conn.spec
	epoch := conn.epoch
	m.mu.Unlock()
	m.progress(name, StatusConnecting, "connecting")

	session, err := m.establish(ctx, spec)

	m.mu.Lock()
	if conn.epoch != epoch {
		// Torn down while dialing; the fresh session belongs to nobody.
		m.finishAttemptLocked(conn)
		m.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		return false
	}
	if err != nil {
		conn.status = StatusError
		conn.errMsg = err.Error()
		conn.session = nil
		m.finishAttemptLocked(conn)
		m.mu.Unlock()
		m.logger.Warn("server connection failed", "server", name, "error", err)
		m.progress(name, StatusError, err.Error())
		return false
	}
	conn.status = StatusConnected
	conn.session = session
	m.mu.Unlock()
	m.progress(name, StatusConnected, "connected")

	tools := m.discoverTools(ctx, spec, session)
	resources := m.discoverResources(ctx, spec, session)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishAttemptLocked(conn)
	if conn.epoch != epoch {
		// Disconnected during discovery; whoever bumped the epoch owns the
		// session teardown.
		return false
	}
	conn.tools = tools
	conn.resources = resources
	m.logger.Info("server connected", "server", name, "tools", len(tools), "resources", len(resources))
	return true
}

// finishAttemptLocked releases callers waiting on the in-flight attempt.
func (m *Manager) finishAttemptLocked(conn *serverConnection) {
	conn.connecting = false
	close(conn.connectCh)
}

func (m *Manager) establish(ctx context.Context, spec ServerSpec) (session Session, err error) {
	if TransportOf(spec) == "" {
		return nil, fmt.Errorf("mcpmgr: server %q has no command or endpoint", spec.Name)
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = m.options.ConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			session = nil
			err = fmt.Errorf("mcpmgr: dialing %q panicked: %v", spec.Name, r)
		}
	}()
	session, err = m.dial(dialCtx, spec)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("mcpmgr: connecting to %q timed out after %s: %w", spec.Name, timeout, err)
		}
		return nil, fmt.Errorf("mcpmgr: connecting to %q: %w", spec.Name, err)
	}
	if session == nil {
		return nil, fmt.Errorf("mcpmgr: dialer returned no session for %q", spec.Name)
	}
	return session, nil
}

func (m *Manager) discoveryContext(ctx context.Context, spec ServerSpec) (context.Context, context.CancelFunc) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = m.options.ConnectTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *Manager) discoverTools(ctx context.Context, spec ServerSpec, session Session) []ToolDescriptor {
	ctx, cancel := m.discoveryContext(ctx, spec)
	defer cancel()
	raw, err := listSafely(func() ([]*mcp.Tool, error) { return session.ListTools(ctx) })
	if err != nil {
		if !isMethodUnavailableError(err, "tools/list") {
			m.logger.Warn("listing tools failed", "server", spec.Name, "error", err)
		}
		return nil
	}
	out := make([]ToolDescriptor, 0, len(raw))
	for _, t := range raw {
		if t == nil {
			continue
		}
		out = append(out, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaMap(t.InputSchema),
			Server:      spec.Name,
		})
	}
	return out
}

func (m *Manager) discoverResources(ctx context.Context, spec ServerSpec, session Session) []ResourceDescriptor {
	ctx, cancel := m.discoveryContext(ctx, spec)
	defer cancel()
	raw, err := listSafely(func() ([]*mcp.Resource, error) { return session.ListResources(ctx) })
	if err != nil {
		if !isMethodUnavailableError(err, "resources/list") {
			m.logger.Warn("listing resources failed", "server", spec.Name, "error", err)
		}
		return nil
	}
	out := make([]ResourceDescriptor, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		out = append(out, ResourceDescriptor{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MIMEType,
			Server:      spec.Name,
		})
	}
	return out
}

// listSafely runs a discovery call, turning a panic into an error so one
// misbehaving server cannot take down the fan-out.
func listSafely[T any](list func() ([]T, error)) (out []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("mcpmgr: discovery panicked: %v", r)
		}
	}()
	return list()
}

// Reconnect tears down any existing session for name and connects it again.
// Names that were never tracked are looked up in the configured specs; a name
// found in neither yields false.
func (m *Manager) Reconnect(ctx context.Context, name string) bool {
	m.mu.Lock()
	conn, ok := m.conns[name]
	if !ok {
		spec, found := FindSpec(m.specs, name)
		if !found {
			m.mu.Unlock()
			m.logger.Error("reconnect of unknown server", "server", name)
			return false
		}
		conn = newServerConnection(spec)
		m.conns[name] = conn
		m.reorderLocked()
	}
	for conn.connecting {
		ch := conn.connectCh
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return false
		case <-ch:
		}
		m.mu.Lock()
	}
	stale := conn.session
	prev := conn.status
	conn.reset()
	conn.epoch++
	conn.retries++
	m.rebuildLocked()
	m.mu.Unlock()

	if stale != nil {
		if err := stale.Close(); err != nil {
			m.logger.Debug("closing stale session failed", "server", name, "error", err)
		}
	}
	if prev != StatusDisconnected {
		m.progress(name, StatusDisconnected, "reconnecting")
	}

	connected := m.connectOne(ctx, name)
	m.mu.Lock()
	m.rebuildLocked()
	m.mu.Unlock()
	return connected
}

// Disconnect closes the session of one tracked server and removes its tools
// from the catalog.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	m.mu.Lock()
	conn, ok := m.conns[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mcpmgr: unknown server %q", name)
	}
	session := conn.session
	prev := conn.status
	conn.reset()
	conn.errMsg = ""
	conn.epoch++
	m.rebuildLocked()
	m.mu.Unlock()

	if prev != StatusDisconnected {
		m.progress(name, StatusDisconnected, "disconnected")
	}
	if session == nil {
		return nil
	}
	if err := closeWithContext(ctx, session); err != nil {
		return fmt.Errorf("mcpmgr: closing %q: %w", name, err)
	}
	return nil
}

// ListTools returns the merged catalog of connected servers in config order.
func (m *Manager) ListTools() []ToolEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ToolEntry(nil), m.index.entries...)
}

// ListResources returns every resource advertised by connected servers.
func (m *Manager) ListResources() []ResourceDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ResourceDescriptor
	for _, name := range m.order {
		conn := m.conns[name]
		if conn.status == StatusConnected {
			out = append(out, conn.resources...)
		}
	}
	return out
}

// ReadResource reads uri from server, or when server is empty from the
// connected server advertising uri (falling back to the first connected one).
func (m *Manager) ReadResource(ctx context.Context, uri, server string) (*mcp.ReadResourceResult, error) {
	m.mu.RLock()
	target := server
	if target == "" {
		target = m.resourceOwnerLocked(uri)
	}
	if target == "" {
		m.mu.RUnlock()
		return nil, errors.New("mcpmgr: no connected server to read resource from")
	}
	conn, ok := m.conns[target]
	if !ok {
		m.mu.RUnlock()
		return nil, &ServerNotConnectedError{Server: target}
	}
	if conn.status != StatusConnected {
		status := conn.status
		m.mu.RUnlock()
		return nil, &ServerNotConnectedError{Server: target, Status: status}
	}
	session := conn.session
	m.mu.RUnlock()

	res, err := session.ReadResource(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: reading %q from %q: %w", uri, target, err)
	}
	return res, nil
}

func (m *Manager) resourceOwnerLocked(uri string) string {
	first := ""
	for _, name := range m.order {
		conn := m.conns[name]
		if conn.status != StatusConnected {
			continue
		}
		if first == "" {
			first = name
		}
		for _, r := range conn.resources {
			if r.URI == uri {
				return name
			}
		}
	}
	return first
}

// ToolServer reports which server currently provides the public tool name.
func (m *Manager) ToolServer(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.index.lookup(name); ok {
		return t.Server, true
	}
	if server, ok := m.scanLocked(name); ok {
		return server, true
	}
	return "", false
}

// CallTool resolves name to a server and invokes the tool there. Resolution
// order: explicit server hint, the merged catalog, "<server>_<tool>" parsed
// against tracked server names in config order, then a scan of every
// connected server's own tool names.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any, server string) (*mcp.CallToolResult, error) {
	m.mu.RLock()
	target, native, found := m.resolveLocked(name, server)
	if !found {
		m.mu.RUnlock()
		return nil, &ToolNotFoundError{Tool: name}
	}
	conn, ok := m.conns[target]
	if !ok {
		m.mu.RUnlock()
		return nil, &ServerNotConnectedError{Server: target}
	}
	if conn.status != StatusConnected || conn.session == nil {
		status := conn.status
		m.mu.RUnlock()
		return nil, &ServerNotConnectedError{Server: target, Status: status}
	}
	session := conn.session
	m.mu.RUnlock()

	m.logger.Debug("calling tool", "server", target, "tool", native)
	res, err := session.CallTool(ctx, native, args)
	if err != nil {
		return nil, &ToolExecutionError{Server: target, Tool: native, Cause: err}
	}
	return res, nil
}

func (m *Manager) resolveLocked(name, hint string) (server, native string, ok bool) {
	if hint != "" {
		if t, found := m.index.lookup(name); found && t.Server == hint {
			return hint, t.NativeName, true
		}
		return hint, name, true
	}
	if t, found := m.index.lookup(name); found {
		return t.Server, t.NativeName, true
	}
	if s, tool, found := splitPrefixed(name, m.order); found {
		return s, tool, true
	}
	if s, found := m.scanLocked(name); found {
		return s, name, true
	}
	return "", "", false
}

func (m *Manager) scanLocked(native string) (string, bool) {
	for _, name := range m.order {
		conn := m.conns[name]
		if conn.status != StatusConnected {
			continue
		}
		for _, t := range conn.tools {
			if t.Name == native {
				return name, true
			}
		}
	}
	return "", false
}

// Close tears down every open session, resets all connections to
// DISCONNECTED and clears the catalog. Failures closing individual sessions
// are joined; they never stop the others from being closed.
func (m *Manager) Close(ctx context.Context) error {
	type open struct {
		name    string
		session Session
	}
	var (
		sessions []open
		changed  []string
	)
	m.mu.Lock()
	for _, name := range m.order {
		conn := m.conns[name]
		if conn.session != nil {
			sessions = append(sessions, open{name: name, session: conn.session})
		}
		if conn.status != StatusDisconnected {
			changed = append(changed, name)
		}
		conn.reset()
		conn.errMsg = ""
		conn.epoch++
	}
	m.index = emptyIndex
	m.initialized = false
	m.mu.Unlock()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, o := range sessions {
		wg.Add(1)
		go func(o open) {
			defer wg.Done()
			if err := closeWithContext(ctx, o.session); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("mcpmgr: closing %q: %w", o.name, err))
				errMu.Unlock()
			}
		}(o)
	}
	wg.Wait()

	for _, name := range changed {
		m.progress(name, StatusDisconnected, "closed")
	}
	return errors.Join(errs...)
}

// closeWithContext closes s but stops waiting once ctx is done.
func closeWithContext(ctx context.Context, s Session) (err error) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("close panicked: %v", r)
			}
		}()
		done <- s.Close()
	}()
	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Servers returns a snapshot of every tracked connection in config order.
func (m *Manager) Servers() []ServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerInfo, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.conns[name].info())
	}
	return out
}

// Server returns the snapshot of one tracked connection.
func (m *Manager) Server(name string) (ServerInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[name]
	if !ok {
		return ServerInfo{}, false
	}
	return conn.info(), true
}

// ConnectedCount reports how many servers are currently connected.
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conn := range m.conns {
		if conn.status == StatusConnected {
			n++
		}
	}
	return n
}

// ToolCount reports the size of the merged catalog.
func (m *Manager) ToolCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index.entries)
}

func (m *Manager) statusMapLocked() map[string]bool {
	out := make(map[string]bool, len(m.conns))
	for name, conn := range m.conns {
		out[name] = conn.status == StatusConnected
	}
	return out
}

// reorderLocked keeps m.order aligned with the configured spec order.
func (m *Manager) reorderLocked() {
	order := make([]string, 0, len(m.conns))
	seen := make(map[string]bool, len(m.conns))
	for _, spec := range m.specs {
		if _, ok := m.conns[spec.Name]; ok && !seen[spec.Name] {
			seen[spec.Name] = true
			order = append(order, spec.Name)
		}
	}
	m.order = order
}

func (m *Manager) rebuildLocked() {
	m.index = buildToolIndex(m.order, m.conns, m.options.PrefixTools, m.logger)
}

func (m *Manager) progress(server string, status Status, message string) {
	if m.options.Progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Debug("progress callback panicked", "server", server, "panic", r)
		}
	}()
	m.options.Progress(server, status, message)
}
