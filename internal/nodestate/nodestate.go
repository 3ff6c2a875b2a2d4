// Package nodestate provides the hierarchical content tree model: immutable node
// states, mutable builders layered over a base state, and structural diffs.
//
// Node states are snapshots. They are never modified after construction and can
// be shared freely between goroutines. A Builder records changes against a base
// state and produces new snapshots on demand, sharing every unmodified subtree
// with its base.
package nodestate

// NodeState is an immutable node of a content tree.
//
// ChildNode never returns nil: a missing child is reported as a node whose
// Exists method returns false.
type NodeState interface {
	Exists() bool

	Property(name string) (PropertyState, bool)
	HasProperty(name string) bool
	// Properties returns all properties sorted by name.
	Properties() []PropertyState
	PropertyCount() int

	ChildNode(name string) NodeState
	HasChildNode(name string) bool
	// ChildNodeNames returns the names of all children, sorted.
	ChildNodeNames() []string
	ChildNodeCount() int

	// Builder returns a new root builder based on this state.
	Builder() Builder

	// CompareAgainstBase reports every difference between this state and base
	// to diff. It returns false if diff aborted the comparison.
	CompareAgainstBase(base NodeState, diff Diff) bool
}

// Builder records changes against a base state.
//
// Builders obtained through ChildNode are handles on a path below their root
// builder: they observe and apply changes made through any other handle of the
// same root. Mutating a builder whose node does not exist fails with
// apperrors.ErrNodeNotFound.
//
//nolint:interfacebloat // mirrors the full node mutation surface
type Builder interface {
	Exists() bool
	// IsNew reports whether the node exists now but did not exist in the base state.
	IsNew() bool
	// IsModified reports whether the node's current state differs from its base state.
	IsModified() bool

	NodeState() NodeState
	BaseState() NodeState

	ChildNode(name string) Builder
	HasChildNode(name string) bool
	ChildNodeNames() []string
	// AddChildNode creates an empty child, or returns the existing one.
	AddChildNode(name string) (Builder, error)
	// SetChildNode replaces the child with the given state.
	SetChildNode(name string, state NodeState) (Builder, error)
	// Remove deletes this node. It returns false if the node did not exist.
	Remove() (bool, error)

	Property(name string) (PropertyState, bool)
	HasProperty(name string) bool
	Properties() []PropertyState
	SetProperty(p PropertyState) error
	// RemoveProperty deletes a property. It returns false if the property did not exist.
	RemoveProperty(name string) (bool, error)

	// Reset discards all changes and rebases the builder onto base. Only root
	// builders can be reset; child builders return apperrors.ErrNotRootBuilder.
	Reset(base NodeState) error
}

// Diff receives the differences found by a comparison. Returning false from any
// method aborts the comparison.
type Diff interface {
	PropertyAdded(after PropertyState) bool
	PropertyChanged(before, after PropertyState) bool
	PropertyDeleted(before PropertyState) bool
	ChildNodeAdded(name string, after NodeState) bool
	ChildNodeChanged(name string, before, after NodeState) bool
	ChildNodeDeleted(name string, before NodeState) bool
}

// MissingNode is the state of a node that does not exist.
var MissingNode NodeState = &missingNode{}

type missingNode struct{}

func (*missingNode) Exists() bool { return false }
func (*missingNode) Property(string) (PropertyState, bool) { return PropertyState{}, false }
func (*missingNode) HasProperty(string) bool { return false }
func (*missingNode) Properties() []PropertyState { return nil }
func (*missingNode) PropertyCount() int { return 0 }
func (*missingNode) ChildNode(string) NodeState { return MissingNode }
func (*missingNode) HasChildNode(string) bool { return false }
func (*missingNode) ChildNodeNames() []string { return nil }
func (*missingNode) ChildNodeCount() int { return 0 }
func (m *missingNode) Builder() Builder { return NewBuilder(m) }

func (m *missingNode) CompareAgainstBase(base NodeState, diff Diff) bool {
	return Compare(m, base, diff)
}

// Navigate returns the descendant of state at the given relative path elements.
func Navigate(state NodeState, elements ...string) NodeState {
	for _, name := range elements {
		if !state.Exists() {
			return MissingNode
		}
		state = state.ChildNode(name)
	}
	return state
}

// NavigateBuilder returns the descendant builder at the given relative path elements.
func NavigateBuilder(b Builder, elements ...string) Builder {
	for _, name := range elements {
		b = b.ChildNode(name)
	}
	return b
}
