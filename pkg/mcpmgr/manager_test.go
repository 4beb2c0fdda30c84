package mcpmgr

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakeSession struct {
	mu        sync.Mutex
	server    string
	tools     []*mcp.Tool
	resources []*mcp.Resource
	toolsErr  error
	resErr    error
	callErr   error
	closeErr  error
	calls     []string
	closed    int
	// listPanic makes ListTools panic with this value.
	listPanic any
	onList    func(method string)
}

func newFakeSession(server string, tools ...string) *fakeSession {
	s := &fakeSession{server: server}
	for _, name := range tools {
		s.tools = append(s.tools, &mcp.Tool{Name: name, Description: name + " on " + server})
	}
	return s
}

func (s *fakeSession) ListTools(context.Context) ([]*mcp.Tool, error) {
	if s.onList != nil {
		s.onList("tools/list")
	}
	if s.listPanic != nil {
		panic(s.listPanic)
	}
	if s.toolsErr != nil {
		return nil, s.toolsErr
	}
	return append([]*mcp.Tool(nil), s.tools...), nil
}

func (s *fakeSession) ListResources(context.Context) ([]*mcp.Resource, error) {
	if s.onList != nil {
		s.onList("resources/list")
	}
	if s.resErr != nil {
		return nil, s.resErr
	}
	return append([]*mcp.Resource(nil), s.resources...), nil
}

func (s *fakeSession) CallTool(_ context.Context, name string, _ map[string]any) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	if s.callErr != nil {
		return nil, s.callErr
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s.server + ":" + name}}}, nil
}

func (s *fakeSession) ReadResource(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: uri, Text: s.server}}}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

func (s *fakeSession) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fakeServer struct {
	session *fakeSession
	err     error
	delay   time.Duration
	hang    bool
	panics  bool
}

type fakeFleet struct {
	mu       sync.Mutex
	servers  map[string]*fakeServer
	attempts map[string]int
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{servers: map[string]*fakeServer{}, attempts: map[string]int{}}
}

func (f *fakeFleet) add(name string, srv *fakeServer) *fakeFleet {
	f.servers[name] = srv
	return f
}

func (f *fakeFleet) dial(ctx context.Context, spec ServerSpec) (Session, error) {
	f.mu.Lock()
	f.attempts[spec.Name]++
	srv := f.servers[spec.Name]
	f.mu.Unlock()
	if srv == nil {
		return nil, errors.New("no such server")
	}
	if srv.panics {
		panic("dialer exploded")
	}
	if srv.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if srv.delay > 0 {
		select {
		case <-time.After(srv.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if srv.err != nil {
		return nil, srv.err
	}
	return srv.session, nil
}

func (f *fakeFleet) attemptsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[name]
}

type progressEvent struct {
	server string
	status Status
}

type progressLog struct {
	mu     sync.Mutex
	events []progressEvent
}

func (p *progressLog) record(server string, status Status, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, progressEvent{server, status})
}

func (p *progressLog) statuses(server string) []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Status
	for _, e := range p.events {
		if e.server == server {
			out = append(out, e.status)
		}
	}
	return out
}

func stdioSpec(name string) ServerSpec {
	return ServerSpec{Name: name, Command: "server-" + name, Enabled: true}
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestConnectAllHangingServerDoesNotDelayOthers(t *testing.T) {
	t.Parallel()

	fleet := newFakeFleet().
		add("fast", &fakeServer{session: newFakeSession("fast", "a")}).
		add("slow", &fakeServer{session: newFakeSession("slow", "b"), delay: 300 * time.Millisecond}).
		add("broken", &fakeServer{err: errors.New("exit status 1")}).
		add("hung", &fakeServer{hang: true})

	hung := stdioSpec("hung")
	hung.Timeout = 300 * time.Millisecond
	specs := []ServerSpec{stdioSpec("fast"), stdioSpec("slow"), stdioSpec("broken"), hung}

	var buf bytes.Buffer
	manager := NewManager(specs, &Options{Dialer: fleet.dial, Logger: testLogger(&buf)})

	start := time.Now()
	results := manager.Initialize(context.Background())
	elapsed := time.Since(start)

	if len(results) != len(specs) {
		t.Fatalf("expected %d results, got %v", len(specs), results)
	}
	want := map[string]bool{"fast": true, "slow": true, "broken": false, "hung": false}
	if !reflect.DeepEqual(results, want) {
		t.Fatalf("results = %v, want %v", results, want)
	}
	if elapsed > 550*time.Millisecond {
		t.Fatalf("connects ran sequentially: %s", elapsed)
	}

	info, ok := manager.Server("hung")
	if !ok || info.Status != StatusError || !strings.Contains(info.Error, "timed out") {
		t.Fatalf("hung server info = %#v", info)
	}
	info, _ = manager.Server("broken")
	if info.Status != StatusError || !strings.Contains(info.Error, "exit status 1") {
		t.Fatalf("broken server info = %#v", info)
	}
	if manager.ConnectedCount() != 2 || manager.ToolCount() != 2 {
		t.Fatalf("connected=%d tools=%d", manager.ConnectedCount(), manager.ToolCount())
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	t.Parallel()

	fleet := newFakeFleet().
		add("one", &fakeServer{session: newFakeSession("one", "x")}).
		add("two", &fakeServer{err: errors.New("refused")})
	specs := []ServerSpec{stdioSpec("one"), stdioSpec("two"), {Name: "off", Command: "off"}}
	manager := NewManager(specs, &Options{Dialer: fleet.dial})

	first := manager.Initialize(context.Background())
	second := manager.Initialize(context.Background())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("status maps differ: %v vs %v", first, second)
	}
	if fleet.attemptsFor("one") != 1 || fleet.attemptsFor("two") != 1 {
		t.Fatalf("unexpected dial attempts: %v", fleet.attempts)
	}
	if _, tracked := manager.Server("off"); tracked {
		t.Fatalf("disabled spec should not be tracked")
	}
}

func TestCollisionWithoutPrefixLastServerWins(t *testing.T) {
	t.Parallel()

	alpha := newFakeSession("alpha", "search", "fetch")
	beta := newFakeSession("beta", "search")
	fleet := newFakeFleet().
		add("alpha", &fakeServer{session: alpha}).
		add("beta", &fakeServer{session: beta})

	var buf bytes.Buffer
	manager := NewManager([]ServerSpec{stdioSpec("alpha"), stdioSpec("beta")}, &Options{
		Dialer: fleet.dial,
		Logger: testLogger(&buf),
	})
	manager.Initialize(context.Background())

	tools := manager.ListTools()
	count := 0
	for _, entry := range tools {
		if entry.Name == "search" {
			count++
			if entry.Server != "beta" {
				t.Fatalf("search should resolve to beta, got %s", entry.Server)
			}
		}
	}
	if count != 1 || len(tools) != 2 {
		t.Fatalf("expected one search entry among two tools, got %#v", tools)
	}
	if !strings.Contains(buf.String(), "collision") {
		t.Fatalf("expected collision warning, logs:\n%s", buf.String())
	}

	if _, err := manager.CallTool(context.Background(), "search", nil, ""); err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if got := beta.callLog(); !reflect.DeepEqual(got, []string{"search"}) {
		t.Fatalf("beta calls = %v", got)
	}

	// An explicit hint still reaches the shadowed server.
	if _, err := manager.CallTool(context.Background(), "search", nil, "alpha"); err != nil {
		t.Fatalf("CallTool with hint error: %v", err)
	}
	if got := alpha.callLog(); !reflect.DeepEqual(got, []string{"search"}) {
		t.Fatalf("alpha calls = %v", got)
	}
	if server, ok := manager.ToolServer("fetch"); !ok || server != "alpha" {
		t.Fatalf("ToolServer(fetch) = %q, %v", server, ok)
	}
}

func TestPrefixedNamesDispatchNativeName(t *testing.T) {
	t.Parallel()

	alpha := newFakeSession("alpha", "search")
	beta := newFakeSession("beta", "search")
	fleet := newFakeFleet().
		add("alpha", &fakeServer{session: alpha}).
		add("beta", &fakeServer{session: beta})
	manager := NewManager([]ServerSpec{stdioSpec("alpha"), stdioSpec("beta")}, &Options{
		Dialer:      fleet.dial,
		PrefixTools: true,
	})
	manager.Initialize(context.Background())

	var names []string
	for _, entry := range manager.ListTools() {
		names = append(names, entry.Name)
	}
	if !reflect.DeepEqual(names, []string{"alpha_search", "beta_search"}) {
		t.Fatalf("tool names = %v", names)
	}

	res, err := manager.CallTool(context.Background(), "beta_search", map[string]any{"q": "go"}, "")
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if text != "beta:search" {
		t.Fatalf("dispatched to wrong server: %s", text)
	}

	// Unprefixed names fall back to scanning connected servers in order.
	if _, err := manager.CallTool(context.Background(), "search", nil, ""); err != nil {
		t.Fatalf("scan fallback error: %v", err)
	}
	if got := alpha.callLog(); !reflect.DeepEqual(got, []string{"search"}) {
		t.Fatalf("alpha calls = %v", got)
	}
}

func TestResolutionAfterDisconnect(t *testing.T) {
	t.Parallel()

	fleet := newFakeFleet().
		add("alpha", &fakeServer{session: newFakeSession("alpha", "search")}).
		add("beta", &fakeServer{session: newFakeSession("beta", "lookup")})

	prefixed := NewManager([]ServerSpec{stdioSpec("alpha"), stdioSpec("beta")}, &Options{
		Dialer:      fleet.dial,
		PrefixTools: true,
	})
	prefixed.Initialize(context.Background())
	for _, entry := range prefixed.ListTools() {
		info, _ := prefixed.Server(entry.Server)
		if !info.Connected {
			t.Fatalf("catalog entry %s points at %s which is %s", entry.Name, entry.Server, info.Status)
		}
	}
	if err := prefixed.Disconnect(context.Background(), "beta"); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	_, err := prefixed.CallTool(context.Background(), "beta_lookup", nil, "")
	var notConnected *ServerNotConnectedError
	if !errors.As(err, &notConnected) || notConnected.Server != "beta" {
		t.Fatalf("expected ServerNotConnectedError, got %v", err)
	}

	plain := NewManager([]ServerSpec{stdioSpec("alpha"), stdioSpec("beta")}, &Options{Dialer: fleet.dial})
	plain.Initialize(context.Background())
	if err := plain.Disconnect(context.Background(), "beta"); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	_, err = plain.CallTool(context.Background(), "lookup", nil, "")
	var notFound *ToolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ToolNotFoundError, got %v", err)
	}

	_, err = plain.CallTool(context.Background(), "search", nil, "ghost")
	if !errors.As(err, &notConnected) || notConnected.Status != "" {
		t.Fatalf("unknown hint should report unconfigured server, got %v", err)
	}
	if err := plain.Disconnect(context.Background(), "ghost"); err == nil {
		t.Fatalf("Disconnect of unknown server should fail")
	}
}

func TestCallToolWrapsExecutionFailures(t *testing.T) {
	t.Parallel()

	session := newFakeSession("alpha", "explode")
	session.callErr = errors.New("connection reset")
	fleet := newFakeFleet().add("alpha", &fakeServer{session: session})
	manager := NewManager([]ServerSpec{stdioSpec("alpha")}, &Options{Dialer: fleet.dial})
	manager.Initialize(context.Background())

	_, err := manager.CallTool(context.Background(), "explode", nil, "")
	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ToolExecutionError, got %v", err)
	}
	if execErr.Server != "alpha" || execErr.Tool != "explode" || !errors.Is(err, session.callErr) {
		t.Fatalf("execution error fields wrong: %#v", execErr)
	}
}

func TestDiscoveryFailureKeepsServerConnected(t *testing.T) {
	t.Parallel()

	session := newFakeSession("alpha")
	session.toolsErr = errors.New("tools exploded")
	session.resErr = errors.New("Method not found: resources/list")
	fleet := newFakeFleet().add("alpha", &fakeServer{session: session})

	var buf bytes.Buffer
	manager := NewManager([]ServerSpec{stdioSpec("alpha")}, &Options{Dialer: fleet.dial, Logger: testLogger(&buf)})
	results := manager.Initialize(context.Background())
	if !results["alpha"] {
		t.Fatalf("discovery failure must not fail the connect")
	}
	info, _ := manager.Server("alpha")
	if info.Status != StatusConnected || info.Tools != 0 || info.Resources != 0 {
		t.Fatalf("info = %#v", info)
	}
	logs := buf.String()
	if !strings.Contains(logs, "listing tools failed") {
		t.Fatalf("expected tools warning, logs:\n%s", logs)
	}
	if strings.Contains(logs, "listing resources failed") {
		t.Fatalf("method-not-found on resources should be silent, logs:\n%s", logs)
	}
}

func TestReconnectSpecOnlyAndUnknown(t *testing.T) {
	t.Parallel()

	fleet := newFakeFleet().
		add("main", &fakeServer{session: newFakeSession("main", "a")}).
		add("x", &fakeServer{session: newFakeSession("x", "extra")})
	specs := []ServerSpec{stdioSpec("main"), {Name: "x", Command: "server-x"}}

	var buf bytes.Buffer
	manager := NewManager(specs, &Options{Dialer: fleet.dial, Logger: testLogger(&buf)})
	manager.Initialize(context.Background())
	if _, tracked := manager.Server("x"); tracked {
		t.Fatalf("disabled spec tracked before reconnect")
	}

	if !manager.Reconnect(context.Background(), "x") {
		t.Fatalf("Reconnect(x) should succeed from the spec set")
	}
	info, ok := manager.Server("x")
	if !ok || !info.Connected || info.RetryCount != 1 {
		t.Fatalf("x info = %#v", info)
	}
	if server, ok := manager.ToolServer("extra"); !ok || server != "x" {
		t.Fatalf("namespace not rebuilt after reconnect: %q %v", server, ok)
	}
	var order []string
	for _, s := range manager.Servers() {
		order = append(order, s.Name)
	}
	if !reflect.DeepEqual(order, []string{"main", "x"}) {
		t.Fatalf("server order = %v", order)
	}

	if manager.Reconnect(context.Background(), "unknown") {
		t.Fatalf("Reconnect(unknown) should report false")
	}
	if !strings.Contains(buf.String(), "unknown") {
		t.Fatalf("expected error log for unknown server")
	}
}

func TestReconnectClosesStaleSessionAndReportsTransitions(t *testing.T) {
	t.Parallel()

	session := newFakeSession("alpha", "a")
	fleet := newFakeFleet().add("alpha", &fakeServer{session: session})
	progress := &progressLog{}
	manager := NewManager([]ServerSpec{stdioSpec("alpha")}, &Options{
		Dialer:   fleet.dial,
		Progress: progress.record,
	})
	manager.Initialize(context.Background())

	if !manager.Reconnect(context.Background(), "alpha") {
		t.Fatalf("Reconnect failed")
	}
	if session.closed != 1 {
		t.Fatalf("stale session closed %d times", session.closed)
	}
	want := []Status{StatusConnecting, StatusConnected, StatusDisconnected, StatusConnecting, StatusConnected}
	if got := progress.statuses("alpha"); !reflect.DeepEqual(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
}

func TestProgressPanicIsContained(t *testing.T) {
	t.Parallel()

	fleet := newFakeFleet().add("alpha", &fakeServer{session: newFakeSession("alpha", "a")})
	manager := NewManager([]ServerSpec{stdioSpec("alpha")}, &Options{
		Dialer:   fleet.dial,
		Progress: func(string, Status, string) { panic("ui crashed") },
	})
	if results := manager.Initialize(context.Background()); !results["alpha"] {
		t.Fatalf("progress panic broke the connect: %v", results)
	}
}

func TestConnectFailuresAreRecorded(t *testing.T) {
	t.Parallel()

	fleet := newFakeFleet().add("boom", &fakeServer{panics: true})
	progress := &progressLog{}
	manager := NewManager([]ServerSpec{stdioSpec("boom"), {Name: "nocmd", Enabled: true}}, &Options{
		Dialer:   fleet.dial,
		Progress: progress.record,
	})
	results := manager.Initialize(context.Background())
	if results["boom"] || results["nocmd"] {
		t.Fatalf("results = %v", results)
	}
	if fleet.attemptsFor("nocmd") != 0 {
		t.Fatalf("spec without command must not be dialed")
	}
	info, _ := manager.Server("boom")
	if info.Status != StatusError || !strings.Contains(info.Error, "panicked") {
		t.Fatalf("boom info = %#v", info)
	}
	if got := progress.statuses("nocmd"); !reflect.DeepEqual(got, []Status{StatusConnecting, StatusError}) {
		t.Fatalf("nocmd transitions = %v", got)
	}
}

func TestDiscoveryPanicIsContained(t *testing.T) {
	t.Parallel()

	broken := newFakeSession("broken", "a")
	broken.listPanic = "tools/list exploded"
	fleet := newFakeFleet().
		add("broken", &fakeServer{session: broken}).
		add("healthy", &fakeServer{session: newFakeSession("healthy", "b")})

	var buf bytes.Buffer
	manager := NewManager([]ServerSpec{stdioSpec("broken"), stdioSpec("healthy")}, &Options{
		Dialer: fleet.dial,
		Logger: testLogger(&buf),
	})
	results := manager.Initialize(context.Background())
	if !results["broken"] || !results["healthy"] {
		t.Fatalf("results = %v", results)
	}
	info, _ := manager.Server("broken")
	if info.Status != StatusConnected || info.Tools != 0 {
		t.Fatalf("broken info = %#v", info)
	}
	if server, ok := manager.ToolServer("healthy_b"); !ok || server != "healthy" {
		t.Fatalf("sibling tools missing: %q %v", server, ok)
	}
	if !strings.Contains(buf.String(), "panicked") {
		t.Fatalf("expected discovery warning, logs:\n%s", buf.String())
	}
	// The attempt must have been released.
	if !manager.Reconnect(context.Background(), "broken") {
		t.Fatalf("reconnect after contained panic failed")
	}
}

func TestDiscoveryRunsAfterConnectedTransition(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		order []string
	)
	note := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	session := newFakeSession("alpha", "a")
	var manager *Manager
	session.onList = func(method string) {
		note(method)
		if method == "tools/list" {
			if info, _ := manager.Server("alpha"); info.Status != StatusConnected {
				t.Errorf("status during discovery = %s", info.Status)
			}
		}
	}
	fleet := newFakeFleet().add("alpha", &fakeServer{session: session})
	manager = NewManager([]ServerSpec{stdioSpec("alpha")}, &Options{
		Dialer:   fleet.dial,
		Progress: func(_ string, status Status, _ string) { note("progress:" + string(status)) },
	})
	manager.Initialize(context.Background())

	want := []string{"progress:connecting", "progress:connected", "tools/list", "resources/list"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if info, _ := manager.Server("alpha"); info.Tools != 1 {
		t.Fatalf("tools not published: %#v", info)
	}
}

func TestDisconnectDuringDiscoveryDropsLists(t *testing.T) {
	t.Parallel()

	session := newFakeSession("alpha", "a")
	var manager *Manager
	session.onList = func(method string) {
		if method == "tools/list" {
			if err := manager.Disconnect(context.Background(), "alpha"); err != nil {
				t.Errorf("Disconnect: %v", err)
			}
		}
	}
	fleet := newFakeFleet().add("alpha", &fakeServer{session: session})
	manager = NewManager([]ServerSpec{stdioSpec("alpha")}, &Options{Dialer: fleet.dial})
	results := manager.Initialize(context.Background())
	if results["alpha"] {
		t.Fatalf("attempt torn down mid-discovery should report false")
	}
	info, _ := manager.Server("alpha")
	if info.Status != StatusDisconnected || info.Tools != 0 {
		t.Fatalf("info = %#v", info)
	}
	if session.closed != 1 {
		t.Fatalf("session closed %d times", session.closed)
	}
}

func TestReconnectWaitsOutBackToBackAttempts(t *testing.T) {
	t.Parallel()

	fleet := newFakeFleet().add("alpha", &fakeServer{session: newFakeSession("alpha", "a"), delay: 30 * time.Millisecond})
	manager := NewManager([]ServerSpec{stdioSpec("alpha")}, &Options{Dialer: fleet.dial})

	// Hold a fake in-flight attempt, then chain a second one onto it as soon
	// as the first is released so Reconnect wakes up into another attempt.
	manager.mu.Lock()
	conn := newServerConnection(stdioSpec("alpha"))
	manager.conns["alpha"] = conn
	manager.reorderLocked()
	conn.connecting = true
	first := make(chan struct{})
	conn.connectCh = first
	manager.mu.Unlock()

	done := make(chan bool, 1)
	go func() { done <- manager.Reconnect(context.Background(), "alpha") }()

	time.Sleep(20 * time.Millisecond)
	manager.mu.Lock()
	second := make(chan struct{})
	conn.connectCh = second
	close(first)
	manager.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("Reconnect returned while an attempt was still in flight")
	default:
	}
	manager.mu.Lock()
	conn.connecting = false
	close(second)
	manager.mu.Unlock()

	if !<-done {
		t.Fatalf("Reconnect should succeed once in-flight attempts finish")
	}
	if fleet.attemptsFor("alpha") != 1 {
		t.Fatalf("attempts = %d", fleet.attemptsFor("alpha"))
	}
}

func TestConcurrentConnectsShareOneAttempt(t *testing.T) {
	t.Parallel()

	fleet := newFakeFleet().add("alpha", &fakeServer{session: newFakeSession("alpha", "a"), delay: 50 * time.Millisecond})
	manager := NewManager([]ServerSpec{stdioSpec("alpha")}, &Options{Dialer: fleet.dial})
	manager.mu.Lock()
	manager.conns["alpha"] = newServerConnection(stdioSpec("alpha"))
	manager.reorderLocked()
	manager.mu.Unlock()

	results := manager.ConnectAll(context.Background(), "alpha", "alpha", "ghost")
	if !results["alpha"] {
		t.Fatalf("results = %v", results)
	}
	if _, ok := results["ghost"]; ok {
		t.Fatalf("unknown names should be ignored")
	}
	if fleet.attemptsFor("alpha") != 1 {
		t.Fatalf("expected a single dial, got %d", fleet.attemptsFor("alpha"))
	}
}

func TestCloseResetsEverything(t *testing.T) {
	t.Parallel()

	alpha := newFakeSession("alpha", "a")
	beta := newFakeSession("beta", "b")
	beta.closeErr = errors.New("broken pipe")
	fleet := newFakeFleet().
		add("alpha", &fakeServer{session: alpha}).
		add("beta", &fakeServer{session: beta})
	manager := NewManager([]ServerSpec{stdioSpec("alpha"), stdioSpec("beta")}, &Options{Dialer: fleet.dial})
	manager.Initialize(context.Background())

	err := manager.Close(context.Background())
	if err == nil || !errors.Is(err, beta.closeErr) {
		t.Fatalf("expected joined close error, got %v", err)
	}
	if alpha.closed != 1 || beta.closed != 1 {
		t.Fatalf("sessions not closed: alpha=%d beta=%d", alpha.closed, beta.closed)
	}
	for _, info := range manager.Servers() {
		if info.Status != StatusDisconnected || info.Tools != 0 {
			t.Fatalf("server not reset: %#v", info)
		}
	}
	if len(manager.ListTools()) != 0 {
		t.Fatalf("catalog not cleared")
	}

	manager.Initialize(context.Background())
	if fleet.attemptsFor("alpha") != 2 {
		t.Fatalf("Initialize after Close should dial again")
	}
}

func TestReadResourceRoutesByURI(t *testing.T) {
	t.Parallel()

	alpha := newFakeSession("alpha")
	beta := newFakeSession("beta")
	beta.resources = []*mcp.Resource{{URI: "file:///notes.md", Name: "notes", MIMEType: "text/markdown"}}
	fleet := newFakeFleet().
		add("alpha", &fakeServer{session: alpha}).
		add("beta", &fakeServer{session: beta})
	manager := NewManager([]ServerSpec{stdioSpec("alpha"), stdioSpec("beta")}, &Options{Dialer: fleet.dial})
	manager.Initialize(context.Background())

	resources := manager.ListResources()
	if len(resources) != 1 || resources[0].Server != "beta" {
		t.Fatalf("resources = %#v", resources)
	}
	res, err := manager.ReadResource(context.Background(), "file:///notes.md", "")
	if err != nil {
		t.Fatalf("ReadResource error: %v", err)
	}
	if res.Contents[0].Text != "beta" {
		t.Fatalf("read from wrong server: %#v", res.Contents[0])
	}
	res, err = manager.ReadResource(context.Background(), "file:///other", "")
	if err != nil || res.Contents[0].Text != "alpha" {
		t.Fatalf("fallback read = %#v, %v", res, err)
	}
}

func TestSplitPrefixedFirstMatchWins(t *testing.T) {
	t.Parallel()

	server, tool, ok := splitPrefixed("a_b_x", []string{"a", "a_b"})
	if !ok || server != "a" || tool != "b_x" {
		t.Fatalf("got %q %q %v", server, tool, ok)
	}
	server, tool, ok = splitPrefixed("a_b_x", []string{"a_b", "a"})
	if !ok || server != "a_b" || tool != "x" {
		t.Fatalf("got %q %q %v", server, tool, ok)
	}
	if _, _, ok := splitPrefixed("a_", []string{"a"}); ok {
		t.Fatalf("empty tool name should not parse")
	}
}
