package composite

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/commit"
	"github.com/fclairamb/treemount/internal/nodestate"
)

// pendingCommit is a write view with "/content x" set to 1 and "/libs/foo"
// added, split the way the composite store hands it to an adapter.
type pendingCommit struct {
	builder  *Builder
	before   nodestate.NodeState
	after    nodestate.NodeState
	builders map[*MountedStore]nodestate.Builder
}

func newPendingCommit(t *testing.T, f *fixture) *pendingCommit {
	t.Helper()
	b := f.ctx.CreateBuilder(f.root(t))
	setLong(t, b.ChildNode("content"), "x", 1)
	addPath(t, b.ChildNode("libs"), "foo")

	builders := b.StoreBuilders()
	globalBuilder := builders[f.ctx.GlobalStore()]
	delete(builders, f.ctx.GlobalStore())
	return &pendingCommit{
		builder:  b,
		before:   globalBuilder.BaseState(),
		after:    globalBuilder.NodeState(),
		builders: builders,
	}
}

func TestHookAdapter_SplitsResultPerStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	c := newPendingCommit(t, f)

	adapter := NewHookAdapter(commit.EmptyHook, f.ctx, c.builders)
	assert.Equal(t, PhaseCreated, adapter.Phase())

	result, err := adapter.ProcessCommit(c.before, c.after, commit.NewInfo("test", nil))
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, adapter.Phase())

	assert.Equal(t, int64(1), longValue(t, result.ChildNode("content"), "x"))
	assert.False(t, nodestate.Navigate(result, "libs", "foo").Exists())

	updated, ok := adapter.UpdatedBuilder()
	require.True(t, ok)
	libs := updated.StoreBuilder(f.ms(t, "libs")).NodeState()
	assert.True(t, nodestate.Navigate(libs, "libs", "foo").Exists())
	assert.False(t, nodestate.Navigate(libs, "content").HasProperty("x"))

	assert.True(t, updated.IsStoreModified(f.ms(t, "libs")))
	assert.False(t, updated.IsStoreModified(f.ms(t, "apps")))
	assert.False(t, updated.IsStoreModified(f.ms(t, "tenant")))
}

func TestHookAdapter_RejectionLeavesNoResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	c := newPendingCommit(t, f)

	errContent := commit.NewFailedError(commit.TypeConstraint, 1, "content is frozen", nil)
	hook := commit.ValidatorHook(func(change commit.Change) error {
		if strings.HasPrefix(change.Path, "/content") {
			return errContent
		}
		return nil
	})

	adapter := NewHookAdapter(hook, f.ctx, c.builders)
	result, err := adapter.ProcessCommit(c.before, c.after, nil)
	require.ErrorIs(t, err, errContent)
	assert.Nil(t, result)
	assert.Equal(t, PhaseFailed, adapter.Phase())

	updated, ok := adapter.UpdatedBuilder()
	assert.False(t, ok)
	assert.Nil(t, updated)
}

func TestHookAdapter_IdentityPassThrough(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	c := newPendingCommit(t, f)

	adapter := NewHookAdapter(nil, f.ctx, c.builders)
	result, err := adapter.ProcessCommit(c.before, c.after, nil)
	require.NoError(t, err)
	assert.True(t, nodestate.Equal(c.after, result))

	updated, ok := adapter.UpdatedBuilder()
	require.True(t, ok)
	for ms, b := range c.builders {
		assert.True(t, nodestate.Equal(b.NodeState(), updated.StoreBuilder(ms).NodeState()),
			"store %s differs after decomposition", ms.Name())
	}
}

func TestHookAdapter_RecomputesOnEveryCall(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	c := newPendingCommit(t, f)

	// A deterministic hook stamping every commit.
	stamp := commit.HookFunc(func(_, after nodestate.NodeState, _ *commit.Info) (nodestate.NodeState, error) {
		b := after.Builder()
		if err := b.ChildNode("libs").SetProperty(nodestate.StringProperty("stamp", "v1")); err != nil {
			return nil, err
		}
		return b.NodeState(), nil
	})

	adapter := NewHookAdapter(stamp, f.ctx, c.builders)
	first, err := adapter.ProcessCommit(c.before, c.after, nil)
	require.NoError(t, err)
	firstBuilder, ok := adapter.UpdatedBuilder()
	require.True(t, ok)

	second, err := adapter.ProcessCommit(c.before, c.after, nil)
	require.NoError(t, err)
	secondBuilder, ok := adapter.UpdatedBuilder()
	require.True(t, ok)

	assert.True(t, nodestate.Equal(first, second))
	assert.NotSame(t, firstBuilder, secondBuilder)
	assert.True(t, firstBuilder.RootState().Equal(secondBuilder.RootState()))

	libs := secondBuilder.StoreBuilder(f.ms(t, "libs")).NodeState()
	assert.True(t, nodestate.Navigate(libs, "libs").HasProperty("stamp"))
}

func TestHookAdapter_FailureClearsPreviousResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	c := newPendingCommit(t, f)

	errSecond := errors.New("second call rejected")
	calls := 0
	hook := commit.HookFunc(func(_, after nodestate.NodeState, _ *commit.Info) (nodestate.NodeState, error) {
		calls++
		if calls > 1 {
			return nil, errSecond
		}
		return after, nil
	})

	adapter := NewHookAdapter(hook, f.ctx, c.builders)
	_, err := adapter.ProcessCommit(c.before, c.after, nil)
	require.NoError(t, err)
	_, ok := adapter.UpdatedBuilder()
	require.True(t, ok)

	_, err = adapter.ProcessCommit(c.before, c.after, nil)
	require.ErrorIs(t, err, errSecond)
	_, ok = adapter.UpdatedBuilder()
	assert.False(t, ok)
	assert.Equal(t, PhaseFailed, adapter.Phase())
}

func TestHookAdapter_RebaseFoldsConcurrentWrites(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	c := newPendingCommit(t, f)

	// Another writer commits to the libs store after the write view was opened.
	libs := f.stores["libs"]
	root, err := libs.Root(t.Context())
	require.NoError(t, err)
	lb := root.Builder()
	addPath(t, lb, "libs", "bar")
	_, err = libs.Merge(t.Context(), lb, nil, nil)
	require.NoError(t, err)

	var seen []string
	hook := commit.HookFunc(func(before, after nodestate.NodeState, _ *commit.Info) (nodestate.NodeState, error) {
		seen = after.ChildNode("libs").ChildNodeNames()
		assert.False(t, before.ChildNode("libs").HasChildNode("bar"))
		return after, nil
	})

	adapter := NewHookAdapter(hook, f.ctx, c.builders)
	_, err = adapter.ProcessCommit(c.before, c.after, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"bar", "foo"}, seen)
}

func TestHookAdapter_MissingBuilderIsInvariantViolation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	c := newPendingCommit(t, f)
	delete(c.builders, f.ms(t, "tenant"))

	adapter := NewHookAdapter(nil, f.ctx, c.builders)
	_, err := adapter.ProcessCommit(c.before, c.after, nil)
	require.ErrorIs(t, err, apperrors.ErrInvariantViolation)
	require.ErrorIs(t, err, apperrors.ErrMissingStore)
	assert.Equal(t, PhaseFailed, adapter.Phase())
}

func TestHookAdapter_RejectsMissingRoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	c := newPendingCommit(t, f)

	hook := commit.HookFunc(func(_, _ nodestate.NodeState, _ *commit.Info) (nodestate.NodeState, error) {
		return nodestate.MissingNode, nil
	})
	adapter := NewHookAdapter(hook, f.ctx, c.builders)
	_, err := adapter.ProcessCommit(c.before, c.after, nil)
	require.ErrorIs(t, err, apperrors.ErrInvariantViolation)
	assert.Equal(t, "failed", adapter.Phase().String())
}
