package mcpmgr

import (
	"log/slog"
	"strings"
)

// toolTarget identifies the server-native tool behind a public name.
type toolTarget struct {
	PublicName string
	Server     string
	NativeName string
}

// toolIndex is an immutable snapshot of the merged tool namespace. A new
// index is built after every batch of connection changes and swapped in
// whole, so readers never observe a half-built mapping.
type toolIndex struct {
	targets map[string]toolTarget
	entries []ToolEntry
}

var emptyIndex = &toolIndex{targets: map[string]toolTarget{}}

func publicToolName(prefix bool, server, tool string) string {
	if prefix {
		return server + "_" + tool
	}
	return tool
}

// buildToolIndex merges the tool lists of connected servers in config order.
// Without prefixing a later server shadows an earlier one on name collision.
func buildToolIndex(order []string, conns map[string]*serverConnection, prefix bool, logger *slog.Logger) *toolIndex {
	idx := &toolIndex{targets: make(map[string]toolTarget)}
	positions := make(map[string]int)
	for _, name := range order {
		conn, ok := conns[name]
		if !ok || conn.status != StatusConnected {
			continue
		}
		for _, tool := range conn.tools {
			public := publicToolName(prefix, name, tool.Name)
			entry := ToolEntry{
				Name:         public,
				Server:       name,
				OriginalName: tool.Name,
				Description:  tool.Description,
				InputSchema:  tool.InputSchema,
			}
			if prev, dup := idx.targets[public]; dup {
				logger.Warn("tool name collision; later server wins",
					"tool", public, "previous", prev.Server, "server", name)
				idx.entries[positions[public]] = entry
			} else {
				positions[public] = len(idx.entries)
				idx.entries = append(idx.entries, entry)
			}
			idx.targets[public] = toolTarget{PublicName: public, Server: name, NativeName: tool.Name}
		}
	}
	return idx
}

func (idx *toolIndex) lookup(name string) (toolTarget, bool) {
	t, ok := idx.targets[name]
	return t, ok
}

// splitPrefixed parses "<server>_<tool>" against the tracked server names in
// config order. The first server whose name (plus separator) prefixes the
// input wins, even if a later, longer server name would also match.
func splitPrefixed(name string, order []string) (server, tool string, ok bool) {
	for _, s := range order {
		p := s + "_"
		if len(name) > len(p) && strings.HasPrefix(name, p) {
			return s, name[len(p):], true
		}
	}
	return "", "", false
}
