package composite

import (
	"slices"

	"github.com/fclairamb/treemount/internal/mount"
	"github.com/fclairamb/treemount/internal/nodestate"
)

// NodeState is a read view of one node of the composite tree. It holds, for
// every store reachable from the node, that store's state at the node's path.
// Children are composed on demand; nothing is materialized eagerly.
type NodeState struct {
	ctx    *Context
	path   string
	owner  *MountedStore
	states map[*MountedStore]nodestate.NodeState
}

var _ nodestate.NodeState = (*NodeState)(nil)

func newNodeState(c *Context, path string, states map[*MountedStore]nodestate.NodeState) *NodeState {
	return &NodeState{ctx: c, path: path, owner: c.OwningStore(path), states: states}
}

// Path returns the node's path.
func (n *NodeState) Path() string { return n.path }

// Owner returns the store owning the node.
func (n *NodeState) Owner() *MountedStore { return n.owner }

// StoreState returns ms's state at the node's path, or a missing node if ms
// cannot reach it.
func (n *NodeState) StoreState(ms *MountedStore) nodestate.NodeState {
	if s, ok := n.states[ms]; ok {
		return s
	}
	return nodestate.MissingNode
}

func (n *NodeState) ownerState() nodestate.NodeState {
	return n.StoreState(n.owner)
}

// Exists reports whether the owning store has the node.
func (n *NodeState) Exists() bool { return n.ownerState().Exists() }

// Property returns the named property from the owning store.
func (n *NodeState) Property(name string) (nodestate.PropertyState, bool) {
	return n.ownerState().Property(name)
}

// HasProperty reports whether the owning store has the property.
func (n *NodeState) HasProperty(name string) bool { return n.ownerState().HasProperty(name) }

// Properties returns the owning store's properties.
func (n *NodeState) Properties() []nodestate.PropertyState { return n.ownerState().Properties() }

// PropertyCount returns the number of properties.
func (n *NodeState) PropertyCount() int { return n.ownerState().PropertyCount() }

// ChildNode returns the named child, taken entirely from the store owning
// the child's path.
func (n *NodeState) ChildNode(name string) nodestate.NodeState {
	if !n.Exists() {
		return nodestate.MissingNode
	}
	path := mount.Concat(n.path, name)
	contributing := n.ctx.ContributingStores(path)
	states := make(map[*MountedStore]nodestate.NodeState, len(contributing))
	for _, ms := range contributing {
		states[ms] = n.StoreState(ms).ChildNode(name)
	}
	child := newNodeState(n.ctx, path, states)
	if !child.Exists() {
		return nodestate.MissingNode
	}
	return child
}

// HasChildNode reports whether the named child exists.
func (n *NodeState) HasChildNode(name string) bool {
	if !n.Exists() {
		return false
	}
	ms := n.ctx.OwningStore(mount.Concat(n.path, name))
	return n.StoreState(ms).HasChildNode(name)
}

// ChildNodeNames lists the owner's children that it still owns plus the
// mount roots directly below the node that exist in their store.
func (n *NodeState) ChildNodeNames() []string {
	if !n.Exists() {
		return nil
	}
	return childNames(n.ctx, n.path, n.owner, func(ms *MountedStore) nodestate.NodeState {
		return n.StoreState(ms)
	})
}

// childNames implements the child listing rule shared by read and write
// views. at returns a store's view of the node at path.
func childNames[T interface {
	HasChildNode(string) bool
	ChildNodeNames() []string
}](c *Context, path string, owner *MountedStore, at func(*MountedStore) T) []string {
	var names []string
	for _, name := range at(owner).ChildNodeNames() {
		if c.OwningStore(mount.Concat(path, name)) == owner {
			names = append(names, name)
		}
	}
	for name, m := range c.registry.MountRootsBelow(path) {
		ms := c.byMount[m]
		if ms != owner && at(ms).HasChildNode(name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// ChildNodeCount returns the number of children.
func (n *NodeState) ChildNodeCount() int { return len(n.ChildNodeNames()) }

// Builder returns a composite write view for the root, or a memory builder
// layered over this node for any other path.
func (n *NodeState) Builder() nodestate.Builder {
	if n.path == mount.Root {
		return n.ctx.CreateBuilder(n)
	}
	return nodestate.NewBuilder(n)
}

// CompareAgainstBase reports the differences with base. Subtrees whose
// per-store states are identical are skipped.
func (n *NodeState) CompareAgainstBase(base nodestate.NodeState, diff nodestate.Diff) bool {
	return nodestate.Compare(n, base, diff)
}

// Identical reports whether other is a node of the same context and path
// whose per-store states are all identical to n's.
func (n *NodeState) Identical(other nodestate.NodeState) bool {
	o, ok := other.(*NodeState)
	if !ok || o.ctx != n.ctx || o.path != n.path {
		return false
	}
	if n == o {
		return true
	}
	for ms, s := range n.states {
		if !nodestate.Identical(s, o.StoreState(ms)) {
			return false
		}
	}
	return true
}

// Equal reports whether other wraps structurally equal per-store states.
func (n *NodeState) Equal(other *NodeState) bool {
	if other == nil || other.ctx != n.ctx || other.path != n.path {
		return false
	}
	for ms, s := range n.states {
		if !nodestate.Equal(s, other.StoreState(ms)) {
			return false
		}
	}
	return true
}

// String returns the node's path.
func (n *NodeState) String() string { return n.path }
