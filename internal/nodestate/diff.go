package nodestate

import (
	"fmt"
)

type identityChecker interface {
	Identical(other NodeState) bool
}

// Identical reports whether a and b are known to be structurally equal without
// walking them: the same instance, or implementations that can prove equality
// cheaply (equal fingerprints, identical per-store snapshots).
func Identical(a, b NodeState) bool {
	if a == b {
		return true
	}
	if ic, ok := a.(identityChecker); ok {
		return ic.Identical(b)
	}
	return false
}

// Compare reports every difference between after and before to diff. Subtrees
// that are Identical are skipped. A non-existing side is treated as an empty
// node. It returns false if diff aborted the comparison.
func Compare(after, before NodeState, diff Diff) bool {
	if Identical(after, before) {
		return true
	}
	if !comparePropertiesAgainstBase(after, before, diff) {
		return false
	}

	for _, name := range after.ChildNodeNames() {
		afterChild := after.ChildNode(name)
		if !before.HasChildNode(name) {
			if !diff.ChildNodeAdded(name, afterChild) {
				return false
			}
			continue
		}
		beforeChild := before.ChildNode(name)
		if Identical(afterChild, beforeChild) {
			continue
		}
		if !diff.ChildNodeChanged(name, beforeChild, afterChild) {
			return false
		}
	}
	for _, name := range before.ChildNodeNames() {
		if after.HasChildNode(name) {
			continue
		}
		if !diff.ChildNodeDeleted(name, before.ChildNode(name)) {
			return false
		}
	}
	return true
}

func comparePropertiesAgainstBase(after, before NodeState, diff Diff) bool {
	for _, p := range after.Properties() {
		bp, ok := before.Property(p.Name())
		switch {
		case !ok:
			if !diff.PropertyAdded(p) {
				return false
			}
		case !bp.Equal(p):
			if !diff.PropertyChanged(bp, p) {
				return false
			}
		}
	}
	for _, bp := range before.Properties() {
		if after.HasProperty(bp.Name()) {
			continue
		}
		if !diff.PropertyDeleted(bp) {
			return false
		}
	}
	return true
}

// Equal reports whether a and b are structurally equal: same existence, same
// properties and equal children, regardless of implementation.
func Equal(a, b NodeState) bool {
	if Identical(a, b) {
		return true
	}
	if a.Exists() != b.Exists() {
		return false
	}
	if a.PropertyCount() != b.PropertyCount() || a.ChildNodeCount() != b.ChildNodeCount() {
		return false
	}
	return a.CompareAgainstBase(b, equalityDiff{})
}

// equalityDiff aborts on the first real difference.
type equalityDiff struct{}

func (equalityDiff) PropertyAdded(PropertyState) bool { return false }
func (equalityDiff) PropertyChanged(_, _ PropertyState) bool { return false }
func (equalityDiff) PropertyDeleted(PropertyState) bool { return false }
func (equalityDiff) ChildNodeAdded(string, NodeState) bool { return false }
func (equalityDiff) ChildNodeDeleted(string, NodeState) bool { return false }
func (equalityDiff) ChildNodeChanged(_ string, before, after NodeState) bool { return Equal(after, before) }

// ApplyDiff replays every reported change onto a builder. The first failure
// aborts the comparison and is available from Err.
type ApplyDiff struct {
	builder Builder
	err     *error
}

// NewApplyDiff creates a diff that applies changes to b.
func NewApplyDiff(b Builder) *ApplyDiff {
	var err error
	return &ApplyDiff{builder: b, err: &err}
}

// Err returns the first error encountered while applying changes.
func (d *ApplyDiff) Err() error {
	return *d.err
}

func (d *ApplyDiff) fail(err error) bool {
	*d.err = err
	return false
}

// PropertyAdded sets the property.
func (d *ApplyDiff) PropertyAdded(after PropertyState) bool {
	if err := d.builder.SetProperty(after); err != nil {
		return d.fail(err)
	}
	return true
}

// PropertyChanged sets the new value.
func (d *ApplyDiff) PropertyChanged(_, after PropertyState) bool {
	return d.PropertyAdded(after)
}

// PropertyDeleted removes the property.
func (d *ApplyDiff) PropertyDeleted(before PropertyState) bool {
	if _, err := d.builder.RemoveProperty(before.Name()); err != nil {
		return d.fail(err)
	}
	return true
}

// ChildNodeAdded copies the added subtree.
func (d *ApplyDiff) ChildNodeAdded(name string, after NodeState) bool {
	if _, err := d.builder.SetChildNode(name, after); err != nil {
		return d.fail(err)
	}
	return true
}

// ChildNodeChanged recurses into the child.
func (d *ApplyDiff) ChildNodeChanged(name string, before, after NodeState) bool {
	child := &ApplyDiff{builder: d.builder.ChildNode(name), err: d.err}
	return after.CompareAgainstBase(before, child)
}

// ChildNodeDeleted removes the child.
func (d *ApplyDiff) ChildNodeDeleted(name string, _ NodeState) bool {
	if _, err := d.builder.ChildNode(name).Remove(); err != nil {
		return d.fail(err)
	}
	return true
}

// Apply replays the differences between after and before onto b.
func Apply(after, before NodeState, b Builder) error {
	d := NewApplyDiff(b)
	if !after.CompareAgainstBase(before, d) {
		if err := d.Err(); err != nil {
			return err
		}
		return fmt.Errorf("apply diff: comparison aborted")
	}
	return nil
}
