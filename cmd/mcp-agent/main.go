package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-agent-go/pkg/agent"
	"github.com/vikashloomba/mcp-agent-go/pkg/config"
	"github.com/vikashloomba/mcp-agent-go/pkg/llm"
	"github.com/vikashloomba/mcp-agent-go/pkg/mcpmgr"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type runtime struct {
	cfg     *config.Config
	manager *mcpmgr.Manager
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		quiet      bool
	)
	root := &cobra.Command{
		Use:           "mcp-agent",
		Short:         "Chat with an LLM that can use tools from MCP servers",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "hide connection progress")

	setup := func(ctx context.Context, out io.Writer) (*runtime, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger := cfg.NewLogger(os.Stderr)
		opts := cfg.ManagerOptions(logger)
		if !quiet {
			opts.Progress = func(server string, status mcpmgr.Status, message string) {
				fmt.Fprintf(out, "  [%s] %s: %s\n", server, status, message)
			}
		}
		manager := mcpmgr.NewManager(cfg.ServerSpecs(), opts)
		manager.Initialize(ctx)
		return &runtime{cfg: cfg, manager: manager}, nil
	}

	root.AddCommand(
		newServersCommand(setup),
		newToolsCommand(setup),
		newCallCommand(setup),
		newChatCommand(setup),
	)
	return root
}

type setupFunc func(ctx context.Context, out io.Writer) (*runtime, error)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func closeManager(cmd *cobra.Command, m *mcpmgr.Manager) {
	if err := m.Close(context.Background()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", err)
	}
}

func newServersCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Connect to every configured server and report its status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			rt, err := setup(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeManager(cmd, rt.manager)
			printServers(cmd.OutOrStdout(), rt.manager.Servers())
			return nil
		},
	}
}

func newToolsCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the merged tool catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			rt, err := setup(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeManager(cmd, rt.manager)
			printTools(cmd.OutOrStdout(), rt.manager.ListTools())
			return nil
		},
	}
}

func newCallCommand(setup setupFunc) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Invoke one tool directly",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs := map[string]any{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()
			rt, err := setup(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeManager(cmd, rt.manager)
			res, err := rt.manager.CallTool(ctx, args[0], toolArgs, server)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), agent.RenderResult(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server that owns the tool")
	return cmd
}

func newChatCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			out := cmd.OutOrStdout()
			rt, err := setup(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeManager(cmd, rt.manager)

			provider, err := rt.cfg.NewProvider()
			if err != nil {
				return err
			}
			logger := rt.cfg.NewLogger(cmd.ErrOrStderr())
			opts := rt.cfg.AgentOptions(logger)
			opts.Observer = &printObserver{out: out}
			loop := agent.New(rt.manager, provider, opts)

			fmt.Fprintf(out, "%d/%d servers connected, %d tools. Type /help for commands.\n",
				rt.manager.ConnectedCount(), len(rt.manager.Servers()), rt.manager.ToolCount())
			return chat(ctx, cmd.InOrStdin(), out, rt.manager, loop)
		},
	}
}

func chat(ctx context.Context, in io.Reader, out io.Writer, manager *mcpmgr.Manager, loop *agent.Agent) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := command(ctx, out, line, manager, loop); done {
				return nil
			}
			continue
		}
		answer, err := loop.RunTurn(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %s\n", llm.UserMessage(err))
			continue
		}
		fmt.Fprintln(out, answer)
	}
}

func command(ctx context.Context, out io.Writer, line string, manager *mcpmgr.Manager, loop *agent.Agent) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true
	case "/clear":
		loop.ClearHistory()
		fmt.Fprintln(out, "history cleared")
	case "/servers":
		printServers(out, manager.Servers())
	case "/tools":
		printTools(out, manager.ListTools())
	case "/reconnect":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: /reconnect <server>")
			break
		}
		if manager.Reconnect(ctx, fields[1]) {
			fmt.Fprintf(out, "%s reconnected\n", fields[1])
		} else {
			fmt.Fprintf(out, "%s failed to reconnect\n", fields[1])
		}
	case "/stats":
		s := loop.Stats()
		fmt.Fprintf(out, "turns=%d messages=%d tool_calls=%d tokens(last)=%d tokens(total)=%d\n",
			s.Turns, s.Messages, s.ToolCalls, s.LastUsage.Total(), s.TotalUsage.Total())
	default:
		fmt.Fprintln(out, "commands: /servers /tools /reconnect <server> /clear /stats /exit")
	}
	return false
}

func printServers(w io.Writer, servers []mcpmgr.ServerInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tTOOLS\tRESOURCES\tDETAIL")
	for _, s := range servers {
		detail := s.Description
		if s.Error != "" {
			detail = s.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.Name, s.Status, s.Tools, s.Resources, detail)
	}
	_ = tw.Flush()
}

func printTools(w io.Writer, tools []mcpmgr.ToolEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tSERVER\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Server, firstLine(t.Description))
	}
	_ = tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

type printObserver struct {
	out io.Writer
}

func (p *printObserver) ToolCall(server string, call llm.ToolCall) {
	args, _ := json.Marshal(call.Arguments)
	if server == "" {
		server = "?"
	}
	fmt.Fprintf(p.out, "  -> %s (%s) %s\n", call.Name, server, args)
}

func (p *printObserver) ToolResult(outcome agent.ToolOutcome) {
	preview := truncate(outcome.Content, 200)
	mark := "ok"
	if outcome.IsError {
		mark = "failed"
	}
	fmt.Fprintf(p.out, "  <- %s %s: %s\n", outcome.Name, mark, firstLine(preview))
}
