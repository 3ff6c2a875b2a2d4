// Package mount partitions the logical content tree between stores by path.
//
// A Mount owns a set of path prefixes. The default mount owns the root and
// every path that no other mount covers. A Registry resolves any path to
// exactly one mount and never changes after it has been built.
package mount

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fclairamb/treemount/internal/apperrors"
)

// DefaultName is the name of the default (global) mount.
const DefaultName = "global"

// Mount is a named set of path prefixes owned by one store.
type Mount struct {
	name      string
	paths     []string
	readOnly  bool
	isDefault bool
}

// New creates a mount owning the given path prefixes.
func New(name string, readOnly bool, paths ...string) (*Mount, error) {
	if name == "" || name == DefaultName {
		return nil, fmt.Errorf("%w: mount name %q is reserved or empty", apperrors.ErrInvalidName, name)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: mount %s has no paths", apperrors.ErrInvalidMountPath, name)
	}
	sorted := slices.Clone(paths)
	for _, p := range sorted {
		if err := ValidatePath(p); err != nil {
			return nil, fmt.Errorf("mount %s: %w", name, err)
		}
		if p == Root {
			return nil, fmt.Errorf("%w: mount %s cannot own the root", apperrors.ErrInvalidMountPath, name)
		}
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return &Mount{name: name, paths: sorted, readOnly: readOnly}, nil
}

func newDefault() *Mount {
	return &Mount{name: DefaultName, paths: []string{Root}, isDefault: true}
}

// Name returns the mount name.
func (m *Mount) Name() string { return m.name }

// Paths returns the sorted path prefixes owned by the mount.
func (m *Mount) Paths() []string { return slices.Clone(m.paths) }

// IsReadOnly reports whether commits may change content owned by the mount.
func (m *Mount) IsReadOnly() bool { return m.readOnly }

// IsDefault reports whether this is the default mount.
func (m *Mount) IsDefault() bool { return m.isDefault }

// IsUnder reports whether one of the mount's prefixes is a strict descendant of path.
func (m *Mount) IsUnder(path string) bool {
	for _, p := range m.paths {
		if IsAncestor(path, p) {
			return true
		}
	}
	return false
}

// String returns a compact description, e.g. "libs[/apps,/libs] (ro)".
func (m *Mount) String() string {
	s := m.name + "[" + strings.Join(m.paths, ",") + "]"
	if m.readOnly {
		s += " (ro)"
	}
	return s
}

// covers reports whether the prefix p is an ancestor-or-self of path.
func covers(p, path string) bool {
	return IsAncestorOrSelf(p, path)
}
