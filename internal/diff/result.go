package diff

import (
	"sort"
)

// Frame is the structural skeleton of a diff: labels, identities and
// nesting, tagged with the side(s) holding each relationship.
type Frame struct {
	Side     Side     `json:"side"`
	Label    string   `json:"model"`
	Identity string   `json:"id"`
	Children []*Frame `json:"children"`
}

// NodeDiff is the property payload of one node. Left and Right hold only
// the properties that differ; Both holds the rest.
type NodeDiff struct {
	Label    string         `json:"model"`
	Identity string         `json:"id"`
	Left     map[string]any `json:"left"`
	Both     map[string]any `json:"both"`
	Right    map[string]any `json:"right"`
}

// Result is a computed diff.
type Result struct {
	Frame     *Frame                    `json:"frame"`
	Nodes     []NodeDiff                `json:"nodes"`
	Index     map[string]map[string]int `json:"nodemap"`
	NodeCount int                       `json:"nodecount"`
}

// Page returns up to limit nodes starting at offset.
func (r *Result) Page(offset, limit int) []NodeDiff {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(r.Nodes) || limit <= 0 {
		return []NodeDiff{}
	}
	end := min(offset+limit, len(r.Nodes))
	return r.Nodes[offset:end]
}

// Node returns the node with the given label and identity.
func (r *Result) Node(label, identity string) (NodeDiff, bool) {
	i, ok := r.Index[label][identity]
	if !ok {
		return NodeDiff{}, false
	}
	return r.Nodes[i], true
}

// Identities returns "label:identity" for every node, in node order.
func (r *Result) Identities() []string {
	out := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		out[i] = n.Label + ":" + n.Identity
	}
	return out
}

func (d *differ) result() *Result {
	res := &Result{Nodes: []NodeDiff{}, Index: map[string]map[string]int{}}
	root, ok := d.nodes[key{label: d.root.Label, identity: d.identity}]
	if !ok {
		return res
	}

	var build func(n *node, side Side) *Frame
	build = func(n *node, side Side) *Frame {
		if _, seen := res.Index[n.label][n.identity]; !seen {
			if res.Index[n.label] == nil {
				res.Index[n.label] = map[string]int{}
			}
			res.Index[n.label][n.identity] = len(res.Nodes)
			res.Nodes = append(res.Nodes, NodeDiff{
				Label:    n.label,
				Identity: n.identity,
				Left:     n.left,
				Both:     n.both,
				Right:    n.right,
			})
		}

		f := &Frame{Side: side, Label: n.label, Identity: n.identity, Children: []*Frame{}}
		keys := make([]key, 0, len(n.children))
		for k := range n.children {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].label != keys[j].label {
				return keys[i].label < keys[j].label
			}
			return keys[i].identity < keys[j].identity
		})
		for _, k := range keys {
			m := n.children[k]
			f.Children = append(f.Children, build(m.node, m.side))
		}
		return f
	}

	res.Frame = build(root, root.seen)
	res.NodeCount = len(res.Nodes)
	return res
}
