// Package sampler implements the timer-driven stack-sampling profiler:
// a ticker captures a stack from one thread at a fixed interval,
// samples aggregate into a prefix tree keyed by frame path, and the
// tree is exposed both as a query-engine table and as a
// flamegraph-compatible rendering.
package sampler

import "sort"

// node is one prefix-tree entry: one stack frame at one depth, shared
// by every sample whose stack agrees up to that depth.
type node struct {
	name      string
	exclusive int // samples where this frame was the leaf
	inclusive int // samples where this frame appeared anywhere on the stack
	children  map[string]*node
}

func newNode(name string) *node {
	return &node{name: name, children: make(map[string]*node)}
}

// tree is the root of the sampler's prefix-tree aggregation. Frames
// are recorded root-first (outermost call first), matching the order
// a flamegraph renders top-down.
type tree struct {
	root *node
}

func newTree() *tree {
	return &tree{root: newNode("root")}
}

// Add records one sample: frames ordered outermost-first. Every
// ancestor's inclusive count is bumped; only the deepest frame's
// exclusive count is bumped.
func (t *tree) Add(frames []string) {
	cur := t.root
	cur.inclusive++
	for i, f := range frames {
		child, ok := cur.children[f]
		if !ok {
			child = newNode(f)
			cur.children[f] = child
		}
		child.inclusive++
		if i == len(frames)-1 {
			child.exclusive++
		}
		cur = child
	}
}

// FrameRow is one flattened row of the prefix tree: a `;`-joined frame
// path plus its exclusive/inclusive sample counts, the shape the
// sampler.frames table serves.
type FrameRow struct {
	Path      string
	Exclusive int
	Inclusive int
}

// Flatten walks the tree and returns one FrameRow per node (excluding
// the synthetic root), sorted by path for deterministic output.
func (t *tree) Flatten() []FrameRow {
	var out []FrameRow
	var walk func(n *node, prefix string)
	walk = func(n *node, prefix string) {
		for name, child := range n.children {
			path := name
			if prefix != "" {
				path = prefix + ";" + name
			}
			out = append(out, FrameRow{Path: path, Exclusive: child.exclusive, Inclusive: child.inclusive})
			walk(child, path)
		}
	}
	walk(t.root, "")
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// TotalSamples returns the number of Add calls recorded.
func (t *tree) TotalSamples() int { return t.root.inclusive }
