package composite

import (
	"errors"
	"fmt"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/commit"
	"github.com/fclairamb/treemount/internal/nodestate"
)

// Phase is the progress of one HookAdapter invocation.
type Phase int

// Adapter phases, in order. PhaseFailed can follow any phase but PhaseDone.
const (
	PhaseCreated Phase = iota
	PhaseComposed
	PhaseDelegated
	PhaseDecomposed
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseComposed:
		return "composed"
	case PhaseDelegated:
		return "delegated"
	case PhaseDecomposed:
		return "decomposed"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// HookAdapter runs a store-agnostic commit hook over a commit spanning every
// store of a context. It is installed as the hook of the global store's
// merge: the global before/after states are its arguments, the mounted
// stores' states come from the builders it was created with.
//
// An adapter belongs to one commit attempt and is not safe for concurrent
// use. It caches nothing: every ProcessCommit call starts over.
type HookAdapter struct {
	hook     commit.Hook
	ctx      *Context
	builders map[*MountedStore]nodestate.Builder
	bases    map[*MountedStore]nodestate.NodeState

	phase   Phase
	updated *Builder
	// heads holds the head each mounted store was rebased onto.
	heads map[*MountedStore]nodestate.NodeState
}

var _ commit.Hook = (*HookAdapter)(nil)

// NewHookAdapter wraps hook. builders maps each mounted store to the builder
// holding its pending changes; the adapter takes ownership of the map. The
// base of every builder is captured now and used as that store's before
// state.
func NewHookAdapter(hook commit.Hook, c *Context, builders map[*MountedStore]nodestate.Builder) *HookAdapter {
	if hook == nil {
		hook = commit.EmptyHook
	}
	bases := make(map[*MountedStore]nodestate.NodeState, len(builders))
	for ms, b := range builders {
		bases[ms] = b.BaseState()
	}
	return &HookAdapter{hook: hook, ctx: c, builders: builders, bases: bases}
}

// Phase returns the phase reached by the last ProcessCommit call.
func (a *HookAdapter) Phase() Phase { return a.phase }

// UpdatedBuilder returns the write view holding the decomposed result of the
// last successful ProcessCommit call.
func (a *HookAdapter) UpdatedBuilder() (*Builder, bool) {
	return a.updated, a.updated != nil
}

func (a *HookAdapter) fail(err error) (nodestate.NodeState, error) {
	a.phase = PhaseFailed
	return nil, err
}

// ProcessCommit rebases the mounted stores, presents the whole tree to the
// wrapped hook and splits its result back per store. It returns the global
// store's part of the result.
func (a *HookAdapter) ProcessCommit(before, after nodestate.NodeState, info *commit.Info) (nodestate.NodeState, error) {
	a.phase = PhaseCreated
	a.updated = nil
	a.heads = nil

	global := a.ctx.GlobalStore()
	befores := map[*MountedStore]nodestate.NodeState{global: before}
	afters := map[*MountedStore]nodestate.NodeState{global: after}
	heads := make(map[*MountedStore]nodestate.NodeState, len(a.builders))
	for _, ms := range a.ctx.NonDefaultStores() {
		b, ok := a.builders[ms]
		if !ok {
			continue
		}
		rebased, err := ms.Store().Rebase(b)
		if err != nil {
			return a.fail(err)
		}
		befores[ms] = a.bases[ms]
		afters[ms] = rebased
		heads[ms] = b.BaseState()
	}

	compositeBefore, err := a.ctx.CreateRootNodeState(befores)
	if err != nil {
		return a.fail(err)
	}
	compositeAfter, err := a.ctx.CreateRootNodeState(afters)
	if err != nil {
		return a.fail(err)
	}
	a.phase = PhaseComposed

	result, err := a.hook.ProcessCommit(compositeBefore, compositeAfter, info)
	if err != nil {
		return a.fail(err)
	}
	if result == nil || !result.Exists() {
		return a.fail(fmt.Errorf("%w: hook returned a non-existing root", apperrors.ErrInvariantViolation))
	}
	a.phase = PhaseDelegated

	updated := a.ctx.CreateBuilder(compositeBefore)
	if err := nodestate.Apply(result, compositeBefore, updated); err != nil {
		if !errors.Is(err, apperrors.ErrInvariantViolation) {
			err = fmt.Errorf("%w: decompose: %w", apperrors.ErrInvariantViolation, err)
		}
		return a.fail(err)
	}
	a.phase = PhaseDecomposed

	a.updated = updated
	a.heads = heads
	a.phase = PhaseDone
	return updated.StoreBuilder(global).NodeState(), nil
}

// MountBuilder returns a new builder holding ms's part of the last successful
// ProcessCommit result. Its base is the head ms was rebased onto, so it only
// carries the changes of this commit and of the hook. ok is false when the
// result leaves ms as it was at that head.
func (a *HookAdapter) MountBuilder(ms *MountedStore) (b nodestate.Builder, ok bool, err error) {
	if a.updated == nil {
		return nil, false, fmt.Errorf("%w: commit hook produced no result", apperrors.ErrInvariantViolation)
	}
	head, found := a.heads[ms]
	if !found {
		return nil, false, nil
	}
	target := a.updated.StoreBuilder(ms).NodeState()
	if nodestate.Equal(target, head) {
		return nil, false, nil
	}
	mb := nodestate.NewBuilder(head)
	if err := nodestate.Apply(target, head, mb); err != nil {
		return nil, false, fmt.Errorf("%w: mount %s: %w", apperrors.ErrInvariantViolation, ms.Name(), err)
	}
	return mb, true, nil
}
