package store

import (
	"fmt"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/mount"
	"github.com/fclairamb/treemount/internal/nodestate"
)

// rebase replays the local changes of b (its state against its base) onto
// head, then resets b onto head with those changes applied. Changes already
// present in head are accepted as-is; changes that contradict head fail with
// apperrors.ErrConflict.
func rebase(b nodestate.Builder, head nodestate.NodeState) (nodestate.NodeState, error) {
	base := b.BaseState()
	if nodestate.Identical(base, head) {
		return b.NodeState(), nil
	}

	local := b.NodeState()
	merged := nodestate.NewBuilder(head)
	var err error
	d := &rebaseDiff{builder: merged, head: head, path: mount.Root, err: &err}
	if !local.CompareAgainstBase(base, d) {
		if err == nil {
			err = fmt.Errorf("rebase: comparison aborted")
		}
		return nil, err
	}

	state := merged.NodeState()
	if err := b.Reset(head); err != nil {
		return nil, fmt.Errorf("reset builder: %w", err)
	}
	if err := nodestate.Apply(state, head, b); err != nil {
		return nil, fmt.Errorf("apply rebased changes: %w", err)
	}
	return b.NodeState(), nil
}

// rebaseDiff applies local changes onto a builder based on head, checking
// each one against the node found at the same place in head.
type rebaseDiff struct {
	builder nodestate.Builder
	head    nodestate.NodeState
	path    string
	err     *error
}

func (d *rebaseDiff) conflict(kind, name string) bool {
	*d.err = fmt.Errorf("%w: %s at %s", apperrors.ErrConflict, kind, mount.Concat(d.path, name))
	return false
}

func (d *rebaseDiff) fail(err error) bool {
	*d.err = err
	return false
}

func (d *rebaseDiff) PropertyAdded(after nodestate.PropertyState) bool {
	if hp, ok := d.head.Property(after.Name()); ok {
		if hp.Equal(after) {
			return true
		}
		return d.conflict("add-add property", after.Name())
	}
	if err := d.builder.SetProperty(after); err != nil {
		return d.fail(err)
	}
	return true
}

func (d *rebaseDiff) PropertyChanged(before, after nodestate.PropertyState) bool {
	hp, ok := d.head.Property(after.Name())
	switch {
	case !ok:
		return d.conflict("change-deleted property", after.Name())
	case hp.Equal(after):
		return true
	case !hp.Equal(before):
		return d.conflict("change-changed property", after.Name())
	}
	if err := d.builder.SetProperty(after); err != nil {
		return d.fail(err)
	}
	return true
}

func (d *rebaseDiff) PropertyDeleted(before nodestate.PropertyState) bool {
	hp, ok := d.head.Property(before.Name())
	if !ok {
		return true
	}
	if !hp.Equal(before) {
		return d.conflict("delete-changed property", before.Name())
	}
	if _, err := d.builder.RemoveProperty(before.Name()); err != nil {
		return d.fail(err)
	}
	return true
}

func (d *rebaseDiff) ChildNodeAdded(name string, after nodestate.NodeState) bool {
	if d.head.HasChildNode(name) {
		if nodestate.Equal(d.head.ChildNode(name), after) {
			return true
		}
		return d.conflict("add-add node", name)
	}
	if _, err := d.builder.SetChildNode(name, after); err != nil {
		return d.fail(err)
	}
	return true
}

func (d *rebaseDiff) ChildNodeChanged(name string, before, after nodestate.NodeState) bool {
	if !d.head.HasChildNode(name) {
		if nodestate.Equal(before, after) {
			return true
		}
		return d.conflict("change-deleted node", name)
	}
	child := &rebaseDiff{
		builder: d.builder.ChildNode(name),
		head:    d.head.ChildNode(name),
		path:    mount.Concat(d.path, name),
		err:     d.err,
	}
	return after.CompareAgainstBase(before, child)
}

func (d *rebaseDiff) ChildNodeDeleted(name string, before nodestate.NodeState) bool {
	if !d.head.HasChildNode(name) {
		return true
	}
	if !nodestate.Equal(d.head.ChildNode(name), before) {
		return d.conflict("delete-changed node", name)
	}
	if _, err := d.builder.ChildNode(name).Remove(); err != nil {
		return d.fail(err)
	}
	return true
}
