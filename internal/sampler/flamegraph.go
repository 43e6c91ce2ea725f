package sampler

import (
	"fmt"
	"strings"
)

// RenderFlamegraph produces the collapsed-stack text format (one
// `frame;frame;... count` line per root-to-leaf path with exclusive
// samples, outermost frame first) that standard
// flamegraph tooling (e.g. Brendan Gregg's flamegraph.pl) consumes
// directly; it is the body served by the /flamegraph call endpoint.
func RenderFlamegraph(t *tree) []byte {
	var b strings.Builder
	var walk func(n *node, prefix string)
	walk = func(n *node, prefix string) {
		if n.exclusive > 0 {
			fmt.Fprintf(&b, "%s %d\n", prefix, n.exclusive)
		}
		for name, child := range n.children {
			path := name
			if prefix != "" {
				path = prefix + ";" + name
			}
			walk(child, path)
		}
	}
	for name, child := range t.root.children {
		walk(child, name)
	}
	return []byte(b.String())
}
