package composite

import (
	"fmt"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/mount"
	"github.com/fclairamb/treemount/internal/nodestate"
)

// builderSet holds the per-store root builders of one write view. A store's
// builder is created from the base the first time it is needed.
type builderSet struct {
	ctx      *Context
	base     *NodeState
	builders map[*MountedStore]nodestate.Builder
}

func newBuilderSet(c *Context, base *NodeState) *builderSet {
	return &builderSet{ctx: c, base: base, builders: make(map[*MountedStore]nodestate.Builder)}
}

func (s *builderSet) get(ms *MountedStore) nodestate.Builder {
	b, ok := s.builders[ms]
	if !ok {
		b = nodestate.NewBuilder(s.base.StoreState(ms))
		s.builders[ms] = b
	}
	return b
}

// state returns ms's current root state without creating a builder.
func (s *builderSet) state(ms *MountedStore) nodestate.NodeState {
	if b, ok := s.builders[ms]; ok {
		return b.NodeState()
	}
	return s.base.StoreState(ms)
}

func (s *builderSet) nodeState() *NodeState {
	roots := make(map[*MountedStore]nodestate.NodeState, len(s.ctx.byMount))
	for _, ms := range s.ctx.AllStores() {
		roots[ms] = s.state(ms)
	}
	return newNodeState(s.ctx, mount.Root, roots)
}

// Builder is a write view of one node of the composite tree. Every operation
// is routed to the builder of the store owning the affected path.
//
// Builders obtained through ChildNode share their root's store builders. A
// Builder is not safe for concurrent use.
type Builder struct {
	set  *builderSet
	path string
}

var _ nodestate.Builder = (*Builder)(nil)

// Path returns the node's path.
func (b *Builder) Path() string { return b.path }

// at returns ms's builder navigated to path.
func (b *Builder) at(ms *MountedStore, path string) nodestate.Builder {
	return nodestate.NavigateBuilder(b.set.get(ms), mount.Elements(path)...)
}

func (b *Builder) owner() *MountedStore {
	return b.set.ctx.OwningStore(b.path)
}

func (b *Builder) ownerBuilder() nodestate.Builder {
	return b.at(b.owner(), b.path)
}

// ensureAncestors creates the nodes leading to path in ms's tree. Only used
// for mount roots, whose parents belong to another store.
func (b *Builder) ensureAncestors(ms *MountedStore, path string) (nodestate.Builder, error) {
	nb := b.set.get(ms)
	for _, name := range mount.Elements(path) {
		child, err := nb.AddChildNode(name)
		if err != nil {
			return nil, fmt.Errorf("create %s in %s: %w", path, ms.Name(), err)
		}
		nb = child
	}
	return nb, nil
}

// parentFor returns the builder of the store owning path/name, navigated to
// path, creating the ancestors of a mount root as needed.
func (b *Builder) parentFor(name string) (*MountedStore, nodestate.Builder, error) {
	child := mount.Concat(b.path, name)
	ms, err := b.set.ctx.route(child)
	if err != nil {
		return nil, nil, err
	}
	if ms == b.owner() {
		return ms, b.at(ms, b.path), nil
	}
	nb, err := b.ensureAncestors(ms, b.path)
	return ms, nb, err
}

func (b *Builder) notFound() error {
	return fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, b.path)
}

// Exists reports whether the node and each of its ancestors exist in the
// store owning them.
func (b *Builder) Exists() bool {
	for path := b.path; ; path = mount.Parent(path) {
		if !b.at(b.set.ctx.OwningStore(path), path).Exists() {
			return false
		}
		if path == mount.Root {
			return true
		}
	}
}

// IsNew reports whether the node was created through this view.
func (b *Builder) IsNew() bool { return b.ownerBuilder().IsNew() }

// IsModified reports whether any store reachable from the node changed it.
func (b *Builder) IsModified() bool {
	for _, ms := range b.set.ctx.ContributingStores(b.path) {
		if _, touched := b.set.builders[ms]; touched && b.at(ms, b.path).IsModified() {
			return true
		}
	}
	return false
}

// IsStoreModified reports whether ms's slice of the tree changed.
func (b *Builder) IsStoreModified(ms *MountedStore) bool {
	rb, ok := b.set.builders[ms]
	return ok && rb.IsModified()
}

// StoreBuilder returns ms's root builder, creating it from the base if
// needed.
func (b *Builder) StoreBuilder(ms *MountedStore) nodestate.Builder {
	return b.set.get(ms)
}

// StoreBuilders returns the root builder of every store of the context.
func (b *Builder) StoreBuilders() map[*MountedStore]nodestate.Builder {
	out := make(map[*MountedStore]nodestate.Builder, len(b.set.ctx.byMount))
	for _, ms := range b.set.ctx.AllStores() {
		out[ms] = b.set.get(ms)
	}
	return out
}

// NodeState composes the current state of every store and returns this
// node's view of it.
func (b *Builder) NodeState() nodestate.NodeState {
	root := b.set.nodeState()
	if b.path == mount.Root {
		return root
	}
	return nodestate.Navigate(root, mount.Elements(b.path)...)
}

// RootState composes the current root state.
func (b *Builder) RootState() *NodeState {
	return b.set.nodeState()
}

// BaseState returns this node's view of the base the write view started from.
func (b *Builder) BaseState() nodestate.NodeState {
	return nodestate.Navigate(b.set.base, mount.Elements(b.path)...)
}

// ChildNode returns a handle on the named child.
func (b *Builder) ChildNode(name string) nodestate.Builder {
	return &Builder{set: b.set, path: mount.Concat(b.path, name)}
}

// HasChildNode reports whether the named child exists.
func (b *Builder) HasChildNode(name string) bool {
	if !b.Exists() {
		return false
	}
	ms := b.set.ctx.OwningStore(mount.Concat(b.path, name))
	return b.at(ms, b.path).HasChildNode(name)
}

// ChildNodeNames lists the children using the read view's rules.
func (b *Builder) ChildNodeNames() []string {
	if !b.Exists() {
		return nil
	}
	return childNames(b.set.ctx, b.path, b.owner(), func(ms *MountedStore) nodestate.Builder {
		return b.at(ms, b.path)
	})
}

// AddChildNode creates the named child in the store owning its path.
func (b *Builder) AddChildNode(name string) (nodestate.Builder, error) {
	if err := nodestate.ValidateName(name); err != nil {
		return nil, err
	}
	if !b.Exists() {
		return nil, b.notFound()
	}
	_, parent, err := b.parentFor(name)
	if err != nil {
		return nil, err
	}
	if _, err := parent.AddChildNode(name); err != nil {
		return nil, err
	}
	return b.ChildNode(name), nil
}

// SetChildNode replaces the named child with state. The part of state below
// each mount root is handed to that mount's store; the rest goes to the
// store owning the child's path.
func (b *Builder) SetChildNode(name string, state nodestate.NodeState) (nodestate.Builder, error) {
	if err := nodestate.ValidateName(name); err != nil {
		return nil, err
	}
	if !b.Exists() {
		return nil, b.notFound()
	}
	path := mount.Concat(b.path, name)

	_, parent, err := b.parentFor(name)
	if err != nil {
		return nil, err
	}
	owned, err := parent.SetChildNode(name, flatten(state))
	if err != nil {
		return nil, err
	}

	for _, m := range b.set.ctx.registry.MountsUnder(path) {
		ms := b.set.ctx.byMount[m]
		for _, prefix := range m.Paths() {
			if !mount.IsAncestor(path, prefix) {
				continue
			}
			rel := mount.Relative(path, prefix)
			if _, err := nodestate.NavigateBuilder(owned, rel...).Remove(); err != nil {
				return nil, err
			}
			if err := b.replaceMountRoot(ms, prefix, nodestate.Navigate(state, rel...)); err != nil {
				return nil, err
			}
		}
	}
	return b.ChildNode(name), nil
}

// replaceMountRoot sets or removes the mount root at prefix in ms's tree.
func (b *Builder) replaceMountRoot(ms *MountedStore, prefix string, state nodestate.NodeState) error {
	if !state.Exists() {
		_, err := b.at(ms, prefix).Remove()
		return err
	}
	parent, err := b.ensureAncestors(ms, mount.Parent(prefix))
	if err != nil {
		return err
	}
	_, err = parent.SetChildNode(mount.Name(prefix), flatten(state))
	return err
}

// flatten turns a composite node into a state that can be stored in a single
// store. A node reaching only its owner is unwrapped; one spanning several
// stores is copied, taking each part from the store owning it.
func flatten(state nodestate.NodeState) nodestate.NodeState {
	cs, ok := state.(*NodeState)
	if !ok {
		return state
	}
	if len(cs.states) == 1 || !cs.Exists() {
		return cs.ownerState()
	}
	children := make(map[string]nodestate.NodeState, cs.ChildNodeCount())
	for _, name := range cs.ChildNodeNames() {
		children[name] = flatten(cs.ChildNode(name))
	}
	return nodestate.NewNodeState(cs.Properties(), children)
}

// Remove deletes the node and every mount root below it.
func (b *Builder) Remove() (bool, error) {
	if b.path == mount.Root {
		return false, nil
	}
	removed, err := b.ownerBuilder().Remove()
	if err != nil {
		return false, err
	}
	for _, m := range b.set.ctx.registry.MountsUnder(b.path) {
		ms := b.set.ctx.byMount[m]
		for _, prefix := range m.Paths() {
			if !mount.IsAncestor(b.path, prefix) {
				continue
			}
			if _, err := b.at(ms, prefix).Remove(); err != nil {
				return false, err
			}
		}
	}
	return removed, nil
}

// Property returns the named property from the owning store.
func (b *Builder) Property(name string) (nodestate.PropertyState, bool) {
	return b.ownerBuilder().Property(name)
}

// HasProperty reports whether the owning store has the property.
func (b *Builder) HasProperty(name string) bool { return b.ownerBuilder().HasProperty(name) }

// Properties returns the owning store's properties.
func (b *Builder) Properties() []nodestate.PropertyState { return b.ownerBuilder().Properties() }

// SetProperty sets a property in the owning store.
func (b *Builder) SetProperty(p nodestate.PropertyState) error {
	ms, err := b.set.ctx.route(b.path)
	if err != nil {
		return err
	}
	return b.at(ms, b.path).SetProperty(p)
}

// RemoveProperty removes a property from the owning store.
func (b *Builder) RemoveProperty(name string) (bool, error) {
	ms, err := b.set.ctx.route(b.path)
	if err != nil {
		return false, err
	}
	return b.at(ms, b.path).RemoveProperty(name)
}

// Reset discards every change and starts over from base, which must be a
// composite root of the same context.
func (b *Builder) Reset(base nodestate.NodeState) error {
	if b.path != mount.Root {
		return apperrors.ErrNotRootBuilder
	}
	root, ok := base.(*NodeState)
	if !ok || root.ctx != b.set.ctx || root.path != mount.Root {
		return fmt.Errorf("%w: reset with a foreign state %T", apperrors.ErrInvariantViolation, base)
	}
	b.set.base = root
	clear(b.set.builders)
	return nil
}
