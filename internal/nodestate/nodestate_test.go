package nodestate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/treemount/internal/apperrors"
)

// recordingDiff collects change descriptions in visiting order.
type recordingDiff struct {
	prefix  string
	changes []string
}

func (d *recordingDiff) PropertyAdded(after PropertyState) bool {
	d.changes = append(d.changes, "+p "+d.prefix+after.Name())
	return true
}

func (d *recordingDiff) PropertyChanged(_, after PropertyState) bool {
	d.changes = append(d.changes, "~p "+d.prefix+after.Name())
	return true
}

func (d *recordingDiff) PropertyDeleted(before PropertyState) bool {
	d.changes = append(d.changes, "-p "+d.prefix+before.Name())
	return true
}

func (d *recordingDiff) ChildNodeAdded(name string, _ NodeState) bool {
	d.changes = append(d.changes, "+n "+d.prefix+name)
	return true
}

func (d *recordingDiff) ChildNodeChanged(name string, before, after NodeState) bool {
	child := &recordingDiff{prefix: d.prefix + name + "/"}
	ok := after.CompareAgainstBase(before, child)
	d.changes = append(d.changes, child.changes...)
	return ok
}

func (d *recordingDiff) ChildNodeDeleted(name string, _ NodeState) bool {
	d.changes = append(d.changes, "-n "+d.prefix+name)
	return true
}

func sampleTree(t *testing.T) NodeState {
	t.Helper()
	b := NewBuilder(EmptyNode)
	content, err := b.AddChildNode("content")
	require.NoError(t, err)
	x, err := content.AddChildNode("x")
	require.NoError(t, err)
	require.NoError(t, x.SetProperty(LongProperty("value", 0)))
	_, err = b.AddChildNode("libs")
	require.NoError(t, err)
	return b.NodeState()
}

func TestBuilder_SharesUntouchedSubtrees(t *testing.T) {
	t.Parallel()
	base := sampleTree(t)

	b := base.Builder()
	require.NoError(t, b.ChildNode("content").ChildNode("x").SetProperty(LongProperty("value", 1)))
	after := b.NodeState()

	assert.Same(t, base.ChildNode("libs"), after.ChildNode("libs"))
	assert.NotSame(t, base.ChildNode("content"), after.ChildNode("content"))

	p, ok := after.ChildNode("content").ChildNode("x").Property("value")
	require.True(t, ok)
	assert.Equal(t, int64(1), p.Value())

	// The base is untouched.
	p, _ = base.ChildNode("content").ChildNode("x").Property("value")
	assert.Equal(t, int64(0), p.Value())
}

func TestBuilder_UnchangedSnapshotIsBase(t *testing.T) {
	t.Parallel()
	base := sampleTree(t)

	b := base.Builder()
	assert.True(t, b.ChildNode("content").HasChildNode("x"))
	assert.Same(t, base, b.NodeState())
	assert.False(t, b.IsModified())
}

func TestBuilder_ChildHandlesShareRoot(t *testing.T) {
	t.Parallel()
	b := NewBuilder(EmptyNode)

	a, err := b.AddChildNode("a")
	require.NoError(t, err)
	require.NoError(t, b.ChildNode("a").SetProperty(StringProperty("title", "hello")))

	p, ok := a.Property("title")
	require.True(t, ok)
	assert.Equal(t, "hello", p.Value())
	assert.True(t, a.IsNew())
	assert.True(t, b.IsModified())
}

func TestBuilder_MutatingMissingNodeFails(t *testing.T) {
	t.Parallel()
	b := NewBuilder(EmptyNode)

	err := b.ChildNode("missing").SetProperty(StringProperty("p", "v"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNodeNotFound))

	_, err = b.ChildNode("missing").AddChildNode("child")
	assert.ErrorIs(t, err, apperrors.ErrNodeNotFound)
}

func TestBuilder_RemoveAndReset(t *testing.T) {
	t.Parallel()
	base := sampleTree(t)
	b := base.Builder()

	removed, err := b.ChildNode("libs").Remove()
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, b.HasChildNode("libs"))

	removed, err = b.ChildNode("libs").Remove()
	require.NoError(t, err)
	assert.False(t, removed)

	assert.ErrorIs(t, b.ChildNode("content").Reset(EmptyNode), apperrors.ErrNotRootBuilder)

	require.NoError(t, b.Reset(base))
	assert.True(t, b.HasChildNode("libs"))
	assert.Same(t, base, b.NodeState())
}

func TestBuilder_InvalidNames(t *testing.T) {
	t.Parallel()
	b := NewBuilder(EmptyNode)

	for _, name := range []string{"", ".", "..", "a/b"} {
		_, err := b.AddChildNode(name)
		assert.ErrorIs(t, err, apperrors.ErrInvalidName, "name %q", name)
	}
}

func TestCompare_ReportsAllChangeKinds(t *testing.T) {
	t.Parallel()
	base := sampleTree(t)

	b := base.Builder()
	content := b.ChildNode("content")
	require.NoError(t, content.ChildNode("x").SetProperty(LongProperty("value", 2)))
	require.NoError(t, content.SetProperty(StringProperty("title", "t")))
	_, err := content.AddChildNode("y")
	require.NoError(t, err)
	_, err = b.ChildNode("libs").Remove()
	require.NoError(t, err)

	d := &recordingDiff{}
	require.True(t, b.NodeState().CompareAgainstBase(base, d))
	assert.Equal(t, []string{
		"+p content/title",
		"~p content/x/value",
		"+n content/y",
		"-n libs",
	}, d.changes)
}

func TestApply_ReproducesAfterState(t *testing.T) {
	t.Parallel()
	base := sampleTree(t)

	b := base.Builder()
	require.NoError(t, b.ChildNode("content").ChildNode("x").SetProperty(StringsProperty("tags", "a", "b")))
	_, err := b.ChildNode("content").ChildNode("x").RemoveProperty("value")
	require.NoError(t, err)
	_, err = b.ChildNode("libs").AddChildNode("foo")
	require.NoError(t, err)
	after := b.NodeState()

	target := base.Builder()
	require.NoError(t, Apply(after, base, target))
	assert.True(t, Equal(after, target.NodeState()))
}

func TestEqual_StructuralNotIdentity(t *testing.T) {
	t.Parallel()
	a := sampleTree(t)
	b := sampleTree(t)

	assert.NotSame(t, a, b)
	assert.True(t, Equal(a, b))
	assert.True(t, Identical(a, b))

	changed := b.Builder()
	require.NoError(t, changed.SetProperty(BoolProperty("flag", true)))
	assert.False(t, Equal(a, changed.NodeState()))
	assert.True(t, Equal(MissingNode, MissingNode))
	assert.False(t, Equal(MissingNode, EmptyNode))
}

func TestFingerprint_DependsOnContent(t *testing.T) {
	t.Parallel()
	a := NewNodeState([]PropertyState{StringProperty("p", "v")}, nil)
	b := NewNodeState([]PropertyState{StringProperty("p", "v")}, nil)
	c := NewNodeState([]PropertyState{StringProperty("p", "w")}, nil)

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	fc, err := c.Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.NotEqual(t, fa, fc)
	assert.Len(t, fa.String(), 64)
}

func TestProperties_EncodeDecode(t *testing.T) {
	t.Parallel()
	when := time.Date(2024, 5, 1, 12, 30, 0, 42, time.UTC)
	props := []PropertyState{
		BinaryProperty("bin", []byte{1, 2, 3}),
		BoolProperty("bool", true),
		DateProperty("date", when),
		DoubleProperty("double", 1.5),
		LongProperty("long", -7),
		LongProperty("big", 1<<40),
		StringsProperty("multi", "a", "b"),
		StringsProperty("none"),
		StringProperty("str", "hello"),
	}

	data, err := EncodeProperties(props)
	require.NoError(t, err)
	decoded, err := DecodeProperties(data)
	require.NoError(t, err)

	require.Len(t, decoded, len(props))
	for i := range props {
		assert.True(t, props[i].Equal(decoded[i]), "property %s: got %s", props[i].Name(), decoded[i])
	}
}

func TestNewProperty_ChecksType(t *testing.T) {
	t.Parallel()

	_, err := NewProperty("p", TypeLong, "not a number")
	require.ErrorIs(t, err, apperrors.ErrInvalidPropertyValue)

	p, err := NewProperty("p", TypePath, "/content/x")
	require.NoError(t, err)
	assert.Equal(t, `p = "/content/x"`, p.String())

	_, err = NewMultiProperty("p", TypeBoolean, []any{true, 1})
	require.ErrorIs(t, err, apperrors.ErrInvalidPropertyValue)
}
