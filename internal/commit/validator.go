package commit

import (
	"fmt"

	"github.com/fclairamb/treemount/internal/mount"
	"github.com/fclairamb/treemount/internal/nodestate"
)

// ChangeKind identifies what a Change did.
type ChangeKind int

const (
	// PropertyAdded reports a new property.
	PropertyAdded ChangeKind = iota + 1
	// PropertyChanged reports a property whose value changed.
	PropertyChanged
	// PropertyDeleted reports a removed property.
	PropertyDeleted
	// NodeAdded reports a new node. Descendants of an added node are reported too.
	NodeAdded
	// NodeDeleted reports a removed node and, implicitly, its subtree.
	NodeDeleted
)

// String returns a one-letter marker used in listings.
func (k ChangeKind) String() string {
	switch k {
	case PropertyAdded:
		return "+p"
	case PropertyChanged:
		return "~p"
	case PropertyDeleted:
		return "-p"
	case NodeAdded:
		return "+n"
	case NodeDeleted:
		return "-n"
	default:
		return fmt.Sprintf("?%d", int(k))
	}
}

// Change is one difference between two trees.
type Change struct {
	Kind ChangeKind
	// Path is the node path; for property changes the node holding the property.
	Path string
	// Property is the new property, or the removed one for PropertyDeleted.
	Property nodestate.PropertyState
}

// String formats the change, e.g. "~p /content/x value".
func (c Change) String() string {
	if c.Kind == NodeAdded || c.Kind == NodeDeleted {
		return c.Kind.String() + " " + c.Path
	}
	return c.Kind.String() + " " + c.Path + " " + c.Property.Name()
}

// Validator inspects one change and returns an error to reject the commit.
type Validator func(change Change) error

// ValidatorHook returns a hook that calls v for every change between the
// before and after trees. The first error rejects the commit.
func ValidatorHook(v Validator) Hook {
	return HookFunc(func(before, after nodestate.NodeState, _ *Info) (nodestate.NodeState, error) {
		if err := Walk(before, after, v); err != nil {
			return nil, err
		}
		return after, nil
	})
}

// Walk calls fn for every change between before and after, stopping at the
// first error.
func Walk(before, after nodestate.NodeState, fn Validator) error {
	w := &walker{path: mount.Root, fn: fn, err: new(error)}
	after.CompareAgainstBase(before, w)
	return *w.err
}

// Changes lists every change between before and after in traversal order.
func Changes(before, after nodestate.NodeState) []Change {
	var out []Change
	_ = Walk(before, after, func(c Change) error {
		out = append(out, c)
		return nil
	})
	return out
}

type walker struct {
	path string
	fn   Validator
	err  *error
}

func (w *walker) report(c Change) bool {
	if err := w.fn(c); err != nil {
		*w.err = err
		return false
	}
	return true
}

func (w *walker) child(name string) *walker {
	return &walker{path: mount.Concat(w.path, name), fn: w.fn, err: w.err}
}

func (w *walker) PropertyAdded(after nodestate.PropertyState) bool {
	return w.report(Change{Kind: PropertyAdded, Path: w.path, Property: after})
}

func (w *walker) PropertyChanged(_, after nodestate.PropertyState) bool {
	return w.report(Change{Kind: PropertyChanged, Path: w.path, Property: after})
}

func (w *walker) PropertyDeleted(before nodestate.PropertyState) bool {
	return w.report(Change{Kind: PropertyDeleted, Path: w.path, Property: before})
}

func (w *walker) ChildNodeAdded(name string, after nodestate.NodeState) bool {
	c := w.child(name)
	if !w.report(Change{Kind: NodeAdded, Path: c.path}) {
		return false
	}
	return after.CompareAgainstBase(nodestate.MissingNode, c)
}

func (w *walker) ChildNodeChanged(name string, before, after nodestate.NodeState) bool {
	return after.CompareAgainstBase(before, w.child(name))
}

func (w *walker) ChildNodeDeleted(name string, _ nodestate.NodeState) bool {
	return w.report(Change{Kind: NodeDeleted, Path: w.child(name).path})
}
