package nodestate

import (
	"fmt"
	"strings"

	"github.com/fclairamb/treemount/internal/apperrors"
)

// MemoryBuilder is a copy-on-write Builder. Nodes are copied from the base
// state only along the paths that are modified; NodeState shares every
// untouched subtree with the base.
//
// A MemoryBuilder is not safe for concurrent use.
type MemoryBuilder struct {
	root *builderRoot
	path []string
}

type builderRoot struct {
	base NodeState
	head *mutableNode // nil until the first change
}

type mutableNode struct {
	base     NodeState
	dirty    bool
	props    map[string]PropertyState
	children map[string]*childEntry
}

// childEntry holds either an untouched state or its materialized copy.
type childEntry struct {
	state NodeState
	node  *mutableNode
}

// NewBuilder creates a root builder based on base.
func NewBuilder(base NodeState) *MemoryBuilder {
	if base == nil {
		base = MissingNode
	}
	return &MemoryBuilder{root: &builderRoot{base: base}}
}

func newMutableNode(base NodeState) *mutableNode {
	n := &mutableNode{
		base:     base,
		props:    make(map[string]PropertyState, base.PropertyCount()),
		children: make(map[string]*childEntry, base.ChildNodeCount()),
	}
	for _, p := range base.Properties() {
		n.props[p.Name()] = p
	}
	for _, name := range base.ChildNodeNames() {
		n.children[name] = &childEntry{state: base.ChildNode(name)}
	}
	return n
}

// snapshot returns the node's current state and whether it differs from base.
func (n *mutableNode) snapshot() (NodeState, bool) {
	changed := n.dirty
	children := make(map[string]NodeState, len(n.children))
	for name, e := range n.children {
		if e.node == nil {
			children[name] = e.state
			continue
		}
		s, ch := e.node.snapshot()
		changed = changed || ch
		children[name] = s
	}
	if !changed && n.base.Exists() {
		return n.base, false
	}
	props := make([]PropertyState, 0, len(n.props))
	for _, p := range n.props {
		props = append(props, p)
	}
	return NewNodeState(props, children), true
}

// lookup resolves the builder's path, returning the materialized node if the
// path has been copied, or the untouched state otherwise.
func (b *MemoryBuilder) lookup() (*mutableNode, NodeState) {
	if b.root.head == nil {
		return nil, Navigate(b.root.base, b.path...)
	}
	n := b.root.head
	for i, name := range b.path {
		e, ok := n.children[name]
		if !ok {
			return nil, MissingNode
		}
		if e.node == nil {
			return nil, Navigate(e.state, b.path[i+1:]...)
		}
		n = e.node
	}
	return n, nil
}

func (b *MemoryBuilder) materialize() (*mutableNode, error) {
	if b.root.head == nil {
		b.root.head = newMutableNode(b.root.base)
	}
	n := b.root.head
	for i, name := range b.path {
		e, ok := n.children[name]
		if !ok {
			return nil, fmt.Errorf("%w: /%s", apperrors.ErrNodeNotFound, strings.Join(b.path[:i+1], "/"))
		}
		if e.node == nil {
			e.node = newMutableNode(e.state)
		}
		n = e.node
	}
	return n, nil
}

// Exists reports whether the node exists in the current state.
func (b *MemoryBuilder) Exists() bool {
	n, s := b.lookup()
	return n != nil || s.Exists()
}

// IsNew reports whether the node was created by this builder.
func (b *MemoryBuilder) IsNew() bool {
	return b.Exists() && !b.BaseState().Exists()
}

// IsModified reports whether the subtree differs from the base state.
func (b *MemoryBuilder) IsModified() bool {
	return !Equal(b.NodeState(), b.BaseState())
}

// NodeState returns an immutable snapshot of the current state.
func (b *MemoryBuilder) NodeState() NodeState {
	n, s := b.lookup()
	if n == nil {
		return s
	}
	state, _ := n.snapshot()
	return state
}

// BaseState returns the base state at the builder's path.
func (b *MemoryBuilder) BaseState() NodeState {
	return Navigate(b.root.base, b.path...)
}

// ChildNode returns a builder for the named child, whether or not it exists.
func (b *MemoryBuilder) ChildNode(name string) Builder {
	path := make([]string, len(b.path), len(b.path)+1)
	copy(path, b.path)
	return &MemoryBuilder{root: b.root, path: append(path, name)}
}

// HasChildNode reports whether the named child exists.
func (b *MemoryBuilder) HasChildNode(name string) bool {
	n, s := b.lookup()
	if n == nil {
		return s.HasChildNode(name)
	}
	_, ok := n.children[name]
	return ok
}

// ChildNodeNames returns the sorted child names.
func (b *MemoryBuilder) ChildNodeNames() []string {
	n, s := b.lookup()
	if n == nil {
		return s.ChildNodeNames()
	}
	return sortedKeys(n.children)
}

// AddChildNode creates an empty child, or returns the existing one.
func (b *MemoryBuilder) AddChildNode(name string) (Builder, error) {
	if b.HasChildNode(name) {
		return b.ChildNode(name), nil
	}
	return b.SetChildNode(name, EmptyNode)
}

// SetChildNode replaces the named child with state.
func (b *MemoryBuilder) SetChildNode(name string, state NodeState) (Builder, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if state == nil || !state.Exists() {
		return nil, fmt.Errorf("set child %s: %w", name, apperrors.ErrNodeNotFound)
	}
	n, err := b.materialize()
	if err != nil {
		return nil, fmt.Errorf("set child %s: %w", name, err)
	}
	n.children[name] = &childEntry{state: state}
	n.dirty = true
	return b.ChildNode(name), nil
}

// Remove deletes the node. The root cannot be removed.
func (b *MemoryBuilder) Remove() (bool, error) {
	if len(b.path) == 0 {
		return false, nil
	}
	parent := &MemoryBuilder{root: b.root, path: b.path[:len(b.path)-1]}
	name := b.path[len(b.path)-1]
	if !parent.HasChildNode(name) {
		return false, nil
	}
	pn, err := parent.materialize()
	if err != nil {
		return false, err
	}
	delete(pn.children, name)
	pn.dirty = true
	return true, nil
}

// Property returns the named property.
func (b *MemoryBuilder) Property(name string) (PropertyState, bool) {
	n, s := b.lookup()
	if n == nil {
		return s.Property(name)
	}
	p, ok := n.props[name]
	return p, ok
}

// HasProperty reports whether the named property exists.
func (b *MemoryBuilder) HasProperty(name string) bool {
	_, ok := b.Property(name)
	return ok
}

// Properties returns all properties sorted by name.
func (b *MemoryBuilder) Properties() []PropertyState {
	n, s := b.lookup()
	if n == nil {
		return s.Properties()
	}
	out := make([]PropertyState, 0, len(n.props))
	for _, name := range sortedKeys(n.props) {
		out = append(out, n.props[name])
	}
	return out
}

// SetProperty sets or replaces a property.
func (b *MemoryBuilder) SetProperty(p PropertyState) error {
	if err := ValidateName(p.Name()); err != nil {
		return err
	}
	if !b.Exists() {
		return fmt.Errorf("set property %s on /%s: %w", p.Name(), strings.Join(b.path, "/"), apperrors.ErrNodeNotFound)
	}
	n, err := b.materialize()
	if err != nil {
		return err
	}
	n.props[p.Name()] = p
	n.dirty = true
	return nil
}

// RemoveProperty deletes the named property.
func (b *MemoryBuilder) RemoveProperty(name string) (bool, error) {
	if !b.HasProperty(name) {
		return false, nil
	}
	n, err := b.materialize()
	if err != nil {
		return false, err
	}
	delete(n.props, name)
	n.dirty = true
	return true, nil
}

// Reset discards all changes and rebases the builder onto base.
func (b *MemoryBuilder) Reset(base NodeState) error {
	if len(b.path) != 0 {
		return apperrors.ErrNotRootBuilder
	}
	if base == nil {
		base = MissingNode
	}
	b.root.base = base
	b.root.head = nil
	return nil
}

// Path returns the builder's path relative to its root, e.g. "/a/b".
func (b *MemoryBuilder) Path() string {
	return "/" + strings.Join(b.path, "/")
}
