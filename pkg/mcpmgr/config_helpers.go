package mcpmgr

// Helpers for inspecting ServerSpec values without repeating the transport
// and lookup rules at every call site.

// SpecTransport identifies the transport family a ServerSpec resolves to.
type SpecTransport string

const (
	TransportStdio SpecTransport = "stdio"
	TransportHTTP  SpecTransport = "http"
)

// TransportOf returns the transport kind for a spec. Command wins over
// Endpoint; an empty string means the spec cannot be launched.
func TransportOf(spec ServerSpec) SpecTransport {
	switch {
	case spec.Command != "":
		return TransportStdio
	case spec.Endpoint != "":
		return TransportHTTP
	default:
		return ""
	}
}

// IsStdio reports whether spec launches a local process.
func IsStdio(spec ServerSpec) bool { return TransportOf(spec) == TransportStdio }

// IsHTTP reports whether spec dials a remote endpoint.
func IsHTTP(spec ServerSpec) bool { return TransportOf(spec) == TransportHTTP }

// EnabledSpecs returns the enabled specs in their original order.
func EnabledSpecs(specs []ServerSpec) []ServerSpec {
	out := make([]ServerSpec, 0, len(specs))
	for _, s := range specs {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// FindSpec returns the first spec named name.
func FindSpec(specs []ServerSpec, name string) (ServerSpec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return ServerSpec{}, false
}
