package composite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/mount"
	"github.com/fclairamb/treemount/internal/nodestate"
)

func TestBuilder_RoutesChangesToOwningStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	b := f.ctx.CreateBuilder(f.root(t))

	setLong(t, b.ChildNode("content"), "x", 1)
	foo := addPath(t, b.ChildNode("libs"), "foo")
	setLong(t, foo, "n", 7)

	global := b.StoreBuilder(f.ctx.GlobalStore()).NodeState()
	libs := b.StoreBuilder(f.ms(t, "libs")).NodeState()

	assert.Equal(t, int64(1), longValue(t, global.ChildNode("content"), "x"))
	assert.False(t, nodestate.Navigate(global, "libs", "foo").Exists())
	assert.True(t, nodestate.Navigate(libs, "libs", "foo").Exists())
	assert.False(t, libs.HasChildNode("content"))

	assert.True(t, b.IsStoreModified(f.ctx.GlobalStore()))
	assert.True(t, b.IsStoreModified(f.ms(t, "libs")))
	assert.False(t, b.IsStoreModified(f.ms(t, "apps")))
	assert.False(t, b.IsStoreModified(f.ms(t, "tenant")))

	assert.True(t, b.IsModified())
	assert.True(t, b.ChildNode("libs").IsModified())
	assert.False(t, b.ChildNode("apps").IsModified())
	assert.True(t, foo.IsNew())
	assert.Equal(t, "/libs/foo", foo.(*Builder).Path())

	composed := b.NodeState()
	assert.Equal(t, int64(7), longValue(t, nodestate.Navigate(composed, "libs", "foo"), "n"))
	assert.Equal(t, []string{"foo"}, b.ChildNode("libs").ChildNodeNames())
}

func TestBuilder_CreatesMountRootAncestors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	b := f.ctx.CreateBuilder(f.root(t))

	content := b.ChildNode("content")
	assert.False(t, content.HasChildNode("tenant"))
	tenant, err := content.AddChildNode("tenant")
	require.NoError(t, err)
	setLong(t, tenant, "id", 42)

	tenantRoot := b.StoreBuilder(f.ms(t, "tenant")).NodeState()
	assert.Equal(t, int64(42), longValue(t, nodestate.Navigate(tenantRoot, "content", "tenant"), "id"))
	assert.False(t, nodestate.Navigate(b.StoreBuilder(f.ctx.GlobalStore()).NodeState(), "content", "tenant").Exists())

	assert.True(t, content.HasChildNode("tenant"))
	assert.Equal(t, []string{"tenant"}, content.ChildNodeNames())
}

func TestBuilder_SetChildNodeSplitsSubtree(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	b := f.ctx.CreateBuilder(f.root(t))

	subtree := tree(t, func(nb nodestate.Builder) {
		setLong(t, nb, "x", 3)
		addPath(t, nb, "page")
		setLong(t, addPath(t, nb, "tenant"), "id", 9)
	})
	_, err := b.SetChildNode("content", subtree)
	require.NoError(t, err)

	global := b.StoreBuilder(f.ctx.GlobalStore()).NodeState()
	tenant := b.StoreBuilder(f.ms(t, "tenant")).NodeState()

	assert.Equal(t, []string{"page"}, global.ChildNode("content").ChildNodeNames())
	assert.Equal(t, int64(3), longValue(t, global.ChildNode("content"), "x"))
	assert.Equal(t, int64(9), longValue(t, nodestate.Navigate(tenant, "content", "tenant"), "id"))

	assert.True(t, nodestate.Equal(subtree, b.NodeState().ChildNode("content")))

	// Replacing the subtree with one lacking the mount root removes it.
	_, err = b.SetChildNode("content", tree(t, nil))
	require.NoError(t, err)
	tenant = b.StoreBuilder(f.ms(t, "tenant")).NodeState()
	assert.False(t, nodestate.Navigate(tenant, "content", "tenant").Exists())
}

func TestBuilder_SetChildNodeUnwrapsCompositeState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	root := f.root(t)
	b := f.ctx.CreateBuilder(root)

	_, err := b.SetChildNode("copy", root.ChildNode("content"))
	require.NoError(t, err)

	global := b.StoreBuilder(f.ctx.GlobalStore()).NodeState()
	copied := global.ChildNode("copy")
	_, isComposite := copied.(*NodeState)
	assert.False(t, isComposite)
	assert.Equal(t, int64(0), longValue(t, copied, "x"))

	// A node spanning several stores keeps the content of every store.
	setLong(t, addPath(t, b.ChildNode("content"), "tenant"), "id", 1)
	_, err = b.SetChildNode("copy", b.NodeState().ChildNode("content"))
	require.NoError(t, err)
	global = b.StoreBuilder(f.ctx.GlobalStore()).NodeState()
	assert.Equal(t, int64(1), longValue(t, nodestate.Navigate(global, "copy", "tenant"), "id"))
}

func TestBuilder_RemoveDropsMountRoots(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	b := f.ctx.CreateBuilder(f.root(t))

	addPath(t, b.ChildNode("content"), "tenant", "page")
	removed, err := b.ChildNode("content").Remove()
	require.NoError(t, err)
	assert.True(t, removed)

	assert.False(t, b.HasChildNode("content"))
	tenant := b.StoreBuilder(f.ms(t, "tenant")).NodeState()
	assert.False(t, nodestate.Navigate(tenant, "content", "tenant").Exists())

	removed, err = b.Remove()
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestBuilder_MissingParent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	b := f.ctx.CreateBuilder(f.root(t))

	missing := b.ChildNode("nowhere")
	assert.False(t, missing.Exists())
	_, err := missing.AddChildNode("x")
	require.ErrorIs(t, err, apperrors.ErrNodeNotFound)
	require.Error(t, missing.SetProperty(nodestate.LongProperty("n", 1)))

	_, err = b.AddChildNode("a/b")
	require.ErrorIs(t, err, apperrors.ErrInvalidName)
}

func TestBuilder_Properties(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	b := f.ctx.CreateBuilder(f.root(t))
	app := b.ChildNode("apps").ChildNode("app")

	assert.True(t, app.HasProperty("version"))
	assert.Len(t, app.Properties(), 1)
	removed, err := app.RemoveProperty("version")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, app.HasProperty("version"))
	assert.True(t, b.IsStoreModified(f.ms(t, "apps")))
}

func TestBuilder_Reset(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	root := f.root(t)
	b := f.ctx.CreateBuilder(root)

	addPath(t, b.ChildNode("libs"), "foo")
	require.True(t, b.IsModified())

	require.NoError(t, b.Reset(root))
	assert.False(t, b.IsModified())
	assert.False(t, b.ChildNode("libs").HasChildNode("foo"))

	require.ErrorIs(t, b.ChildNode("libs").Reset(root), apperrors.ErrNotRootBuilder)
	require.ErrorIs(t, b.Reset(nodestate.EmptyNode), apperrors.ErrInvariantViolation)

	other := newFixture(t, nil)
	require.ErrorIs(t, b.Reset(other.root(t)), apperrors.ErrInvariantViolation)
}

func TestNodeState_BuilderAtRootIsComposite(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	root := f.root(t)

	_, ok := root.Builder().(*Builder)
	assert.True(t, ok)

	content := root.ChildNode("content")
	_, ok = content.Builder().(*Builder)
	assert.False(t, ok)
	assert.Equal(t, mount.Root, f.ctx.CreateBuilder(root).Path())
}
