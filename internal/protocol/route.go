// Package protocol holds wire-adjacent types shared by the router and the
// dispatcher: the parsed route identifier and (in the pb subpackage) the
// envelope encodings that carry it on the transport.
package protocol

import (
	"fmt"
	"strings"
)

// Route is the parsed form of a dotted route string: kind.service.method.
// The core never synthesizes a Route; it only parses one out of an inbound
// envelope or builds one from caller-supplied segments for an outbound send.
type Route struct {
	Kind    string
	Service string
	Method  string
}

// ParseRoute parses "kind.service.method". It fails unless the string has
// exactly two '.' separators and all three segments are non-empty.
func ParseRoute(s string) (Route, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Route{}, fmt.Errorf("protocol: malformed route %q: want 3 dot-separated segments, got %d", s, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Route{}, fmt.Errorf("protocol: malformed route %q: empty segment", s)
		}
	}
	return Route{Kind: parts[0], Service: parts[1], Method: parts[2]}, nil
}

// String renders the route back to its dotted form. Round-trips with
// ParseRoute for any Route it produced.
func (r Route) String() string {
	return r.Kind + "." + r.Service + "." + r.Method
}
