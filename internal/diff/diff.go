// Package diff compares one subgraph at two instants.
//
// Compute feeds every path below the root entity, queried at
// the left and the right instant, into an in-memory graph keyed by
// (label, identity). Each node collects a left and a right property bag
// and remembers, per child, which sides reached it. Then:
//
//   - clean: properties equal on both sides move to the both bag; a child
//     reached from one side only marks the parent's relationships changed
//   - dirty: a node with leftover left/right properties or changed
//     relationships is dirty
//   - propagate: every ancestor of a dirty node is marked changed
//   - prune: unchanged nodes are detached from parents that hold them on
//     both sides; a node detached from every parent is dropped
//
// The result is computed once and can then be paged through or looked up
// by key without re-running the comparison.
package diff

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/propval"
	"github.com/roach88/snitch/internal/query"
	"github.com/roach88/snitch/internal/schema"
)

// DefaultPageSize is the number of rows fetched per query page.
const DefaultPageSize = 1000

// Side tells which instants hold a node or a relationship.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
	Both  Side = "both"
)

// Options tunes Compute.
type Options struct {
	PageSize int
	Logger   *slog.Logger
}

type key struct {
	label    string
	identity string
}

type membership struct {
	side Side
	node *node
}

type node struct {
	key
	left, both, right map[string]any
	seen              Side

	parents     []*node
	parentSet   map[*node]bool
	children    map[key]*membership
	relsChanged bool
	changed     bool
}

func newNode(k key) *node {
	return &node{
		key:       k,
		left:      map[string]any{},
		both:      map[string]any{},
		right:     map[string]any{},
		parentSet: map[*node]bool{},
		children:  map[key]*membership{},
	}
}

func merge(a, b Side) Side {
	if a == "" || a == b {
		return b
	}
	return Both
}

func (n *node) update(props map[string]any, side Side) {
	bag := n.left
	if side == Right {
		bag = n.right
	}
	for k, v := range props {
		bag[k] = v
	}
	n.seen = merge(n.seen, side)
}

func (n *node) addChild(child *node, side Side) {
	m, ok := n.children[child.key]
	if !ok {
		n.children[child.key] = &membership{side: side, node: child}
	} else {
		m.side = merge(m.side, side)
	}
	if !child.parentSet[n] {
		child.parentSet[n] = true
		child.parents = append(child.parents, n)
	}
}

// removeChild detaches an unchanged child held on both sides.
func (n *node) removeChild(k key) bool {
	m, ok := n.children[k]
	if !ok || m.side != Both {
		return false
	}
	delete(n.children, k)
	return true
}

func (n *node) clean() {
	for k, lv := range n.left {
		if rv, ok := n.right[k]; ok && propval.Equal(lv, rv) {
			n.both[k] = lv
			delete(n.left, k)
			delete(n.right, k)
		}
	}
	for _, m := range n.children {
		if m.side != Both {
			n.relsChanged = true
		}
	}
}

func (n *node) dirty() bool {
	return len(n.left) > 0 || len(n.right) > 0 || n.relsChanged
}

type differ struct {
	reg      *schema.Registry
	reader   graph.Reader
	root     *schema.EntityType
	identity string
	pageSize int
	logger   *slog.Logger

	nodes map[key]*node
	order []key
}

// Compute diffs the subgraph below root(identity) between left and right.
func Compute(ctx context.Context, reg *schema.Registry, reader graph.Reader, root, identity string, left, right int64, opts Options) (*Result, error) {
	rootType, ok := reg.Type(root)
	if !ok {
		return nil, schema.NewUnknownType(root)
	}
	d := &differ{
		reg:      reg,
		reader:   reader,
		root:     rootType,
		identity: identity,
		pageSize: opts.PageSize,
		logger:   opts.Logger,
		nodes:    map[key]*node{},
	}
	if d.pageSize <= 0 {
		d.pageSize = DefaultPageSize
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	for _, side := range []struct {
		at   int64
		side Side
	}{{left, Left}, {right, Right}} {
		if err := d.feed(ctx, side.at, side.side); err != nil {
			return nil, err
		}
	}
	d.clean()
	d.prune()

	res := d.result()
	d.logger.Debug("diff computed",
		"root", root, "identity", identity, "left", left, "right", right,
		"visited", len(d.order), "nodes", res.NodeCount)
	return res, nil
}

// paths returns every path from the root, each prefix of a root-to-leaf
// path included once. Querying only leaf paths would miss nodes that have
// no children at either instant.
func (d *differ) paths() [][]string {
	var paths [][]string
	seen := map[string]bool{}
	for _, p := range d.reg.PathsFrom(d.root.Label) {
		for i := 1; i <= len(p); i++ {
			k := strings.Join(p[:i], ">")
			if !seen[k] {
				seen[k] = true
				paths = append(paths, p[:i])
			}
		}
	}
	return paths
}

func (d *differ) feed(ctx context.Context, at int64, side Side) error {
	for _, path := range d.paths() {
		if err := d.feedPath(ctx, path, at, side); err != nil {
			return err
		}
	}
	return nil
}

func (d *differ) feedPath(ctx context.Context, path []string, at int64, side Side) error {
	q, err := query.New(d.reg, d.reader, path[len(path)-1])
	if err != nil {
		return err
	}
	if err := q.Filter(d.root.Identity, "=", d.identity, d.root.Label); err != nil {
		return err
	}
	q.Time(at)

	for page := 1; ; page++ {
		rows, err := q.Page(page, d.pageSize).Fetch(ctx)
		if err != nil {
			return fmt.Errorf("diff %s at %d: %w", path[len(path)-1], at, err)
		}
		for _, row := range rows {
			if err := d.feedRow(path, row, side); err != nil {
				return err
			}
		}
		if len(rows) < d.pageSize {
			return nil
		}
	}
}

func (d *differ) feedRow(path []string, row query.Row, side Side) error {
	var parent *node
	for _, label := range path {
		t, _ := d.reg.Type(label)
		props, ok := row[label]
		if !ok {
			return fmt.Errorf("diff: row has no %s", label)
		}
		n := d.node(key{label: label, identity: propval.String(props[t.Identity])})
		n.update(props, side)
		if parent != nil {
			parent.addChild(n, side)
		}
		parent = n
	}
	return nil
}

func (d *differ) node(k key) *node {
	n, ok := d.nodes[k]
	if !ok {
		n = newNode(k)
		d.nodes[k] = n
		d.order = append(d.order, k)
	}
	return n
}

func (d *differ) clean() {
	for _, k := range d.order {
		n := d.nodes[k]
		n.clean()
		if !n.dirty() {
			continue
		}
		stack := []*node{n}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if cur.changed {
				continue
			}
			cur.changed = true
			stack = append(stack, cur.parents...)
		}
	}
}

func (d *differ) prune() {
	rootKey := key{label: d.root.Label, identity: d.identity}
	kept := d.order[:0]
	for _, k := range d.order {
		n := d.nodes[k]
		if n.changed || k == rootKey {
			kept = append(kept, k)
			continue
		}
		removedAll := true
		for _, p := range n.parents {
			if !p.removeChild(k) {
				removedAll = false
			}
		}
		if removedAll {
			delete(d.nodes, k)
			continue
		}
		kept = append(kept, k)
	}
	d.order = kept
}
