package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/treemount/internal/apperrors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	libs, err := New("libs", false, "/libs", "/apps")
	require.NoError(t, err)
	tenant, err := New("tenant", true, "/content/tenant-a")
	require.NoError(t, err)
	r, err := NewRegistry(libs, tenant)
	require.NoError(t, err)
	return r
}

func TestRegistry_MountByPath(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	tests := []struct {
		path     string
		expected string
	}{
		{"/", DefaultName},
		{"/content", DefaultName},
		{"/content/x", DefaultName},
		{"/content/tenant-a", "tenant"},
		{"/content/tenant-a/page", "tenant"},
		{"/content/tenant-ab", DefaultName},
		{"/libs", "libs"},
		{"/libs/foo/bar", "libs"},
		{"/libsx", DefaultName},
		{"/apps/a", "libs"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, r.MountByPath(tt.path).Name(), "path %s", tt.path)
	}
}

func TestRegistry_ResolutionIsStable(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	paths := []string{"/", "/libs/a", "/content/tenant-a/x", "/etc"}
	first := make(map[string]*Mount)
	for _, p := range paths {
		first[p] = r.MountByPath(p)
	}
	for range 100 {
		for _, p := range paths {
			assert.Same(t, first[p], r.MountByPath(p))
		}
	}
}

func TestRegistry_RejectsOverlaps(t *testing.T) {
	t.Parallel()

	a, err := New("a", false, "/libs")
	require.NoError(t, err)
	nested, err := New("nested", false, "/libs/inner")
	require.NoError(t, err)
	same, err := New("same", false, "/libs")
	require.NoError(t, err)
	parent, err := New("parent", false, "/")
	require.Error(t, err)
	assert.Nil(t, parent)

	_, err = NewRegistry(a, nested)
	assert.ErrorIs(t, err, apperrors.ErrOverlappingMounts)

	_, err = NewRegistry(nested, a)
	assert.ErrorIs(t, err, apperrors.ErrOverlappingMounts)

	_, err = NewRegistry(a, same)
	assert.ErrorIs(t, err, apperrors.ErrOverlappingMounts)

	dup, err := New("a", false, "/other")
	require.NoError(t, err)
	_, err = NewRegistry(a, dup)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateMount)
}

func TestNew_RejectsInvalidNames(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", DefaultName} {
		m, err := New(name, false, "/libs")
		require.ErrorIs(t, err, apperrors.ErrInvalidName, "name %q", name)
		assert.NotErrorIs(t, err, apperrors.ErrDuplicateMount)
		assert.Nil(t, m)
	}
}

func TestRegistry_MountsUnderAndRoots(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	assert.True(t, r.HasMountUnder("/"))
	assert.True(t, r.HasMountUnder("/content"))
	assert.False(t, r.HasMountUnder("/content/tenant-a"))
	assert.False(t, r.HasMountUnder("/libs"))

	under := r.MountsUnder("/content")
	require.Len(t, under, 1)
	assert.Equal(t, "tenant", under[0].Name())

	roots := r.MountRootsBelow("/")
	assert.Len(t, roots, 2)
	assert.Equal(t, "libs", roots["libs"].Name())
	assert.Equal(t, "libs", roots["apps"].Name())

	assert.True(t, r.HasNonDefaultMounts())
	empty, err := NewRegistry()
	require.NoError(t, err)
	assert.False(t, empty.HasNonDefaultMounts())
	assert.False(t, empty.HasMountUnder(Root))
}

func TestValidatePath(t *testing.T) {
	t.Parallel()

	valid := []string{"/", "/a", "/a/b", "/jcr:system"}
	invalid := []string{"", "a", "/a/", "//", "/a//b", "/a/./b", "/a/.."}

	for _, p := range valid {
		assert.NoError(t, ValidatePath(p), p)
	}
	for _, p := range invalid {
		assert.ErrorIs(t, ValidatePath(p), apperrors.ErrInvalidMountPath, p)
	}
}

func TestPathHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/a", Concat("/", "a"))
	assert.Equal(t, "/a/b", Concat("/a", "b"))
	assert.Equal(t, "/", Parent("/a"))
	assert.Equal(t, "/a", Parent("/a/b"))
	assert.Equal(t, "b", Name("/a/b"))
	assert.Equal(t, "", Name("/"))
	assert.Nil(t, Elements("/"))
	assert.Equal(t, []string{"a", "b"}, Elements("/a/b"))
	assert.True(t, IsAncestor("/", "/a"))
	assert.True(t, IsAncestor("/a", "/a/b"))
	assert.False(t, IsAncestor("/a", "/ab"))
	assert.False(t, IsAncestor("/a", "/a"))
	assert.True(t, IsAncestorOrSelf("/a", "/a"))
	assert.Equal(t, []string{"b", "c"}, Relative("/a", "/a/b/c"))
	assert.Equal(t, []string{"a"}, Relative("/", "/a"))
	assert.Nil(t, Relative("/a", "/a"))
}
