package mount

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fclairamb/treemount/internal/apperrors"
)

type prefix struct {
	path  string
	mount *Mount
}

// Registry maps paths to mounts. It is immutable and safe for concurrent use.
type Registry struct {
	def      *Mount
	mounts   []*Mount
	byName   map[string]*Mount
	prefixes []prefix // longest first
}

// NewRegistry validates the mounts and builds a registry. Prefixes of distinct
// mounts must not be equal, ancestors or descendants of each other.
func NewRegistry(mounts ...*Mount) (*Registry, error) {
	r := &Registry{
		def:    newDefault(),
		byName: map[string]*Mount{DefaultName: nil},
	}
	for _, m := range mounts {
		if _, dup := r.byName[m.name]; dup {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrDuplicateMount, m.name)
		}
		r.byName[m.name] = m
		r.mounts = append(r.mounts, m)
		for _, p := range m.paths {
			r.prefixes = append(r.prefixes, prefix{path: p, mount: m})
		}
	}
	r.byName[DefaultName] = r.def

	for i, a := range r.prefixes {
		for _, b := range r.prefixes[i+1:] {
			if a.mount == b.mount {
				continue
			}
			if IsAncestorOrSelf(a.path, b.path) || IsAncestor(b.path, a.path) {
				return nil, fmt.Errorf("%w: %s (%s) and %s (%s)",
					apperrors.ErrOverlappingMounts, a.path, a.mount.name, b.path, b.mount.name)
			}
		}
	}

	slices.SortFunc(r.mounts, func(a, b *Mount) int { return strings.Compare(a.name, b.name) })
	slices.SortStableFunc(r.prefixes, func(a, b prefix) int {
		if n := len(b.path) - len(a.path); n != 0 {
			return n
		}
		return strings.Compare(a.path, b.path)
	})
	return r, nil
}

// MountByPath resolves the mount owning path: the mount with the longest
// prefix that is an ancestor-or-self of path, or the default mount.
func (r *Registry) MountByPath(path string) *Mount {
	for _, p := range r.prefixes {
		if covers(p.path, path) {
			return p.mount
		}
	}
	return r.def
}

// DefaultMount returns the default (global) mount.
func (r *Registry) DefaultMount() *Mount { return r.def }

// NonDefaultMounts returns every configured mount sorted by name.
func (r *Registry) NonDefaultMounts() []*Mount { return slices.Clone(r.mounts) }

// HasNonDefaultMounts reports whether any mount besides the default is configured.
func (r *Registry) HasNonDefaultMounts() bool { return len(r.mounts) > 0 }

// MountByName returns the named mount, including the default one.
func (r *Registry) MountByName(name string) (*Mount, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// MountsUnder returns the mounts with a prefix strictly below path.
func (r *Registry) MountsUnder(path string) []*Mount {
	var out []*Mount
	for _, m := range r.mounts {
		if m.IsUnder(path) {
			out = append(out, m)
		}
	}
	return out
}

// HasMountUnder reports whether any mount has a prefix strictly below path.
func (r *Registry) HasMountUnder(path string) bool {
	for _, p := range r.prefixes {
		if IsAncestor(path, p.path) {
			return true
		}
	}
	return false
}

// MountRootsBelow returns the names of the children of path that are the root
// of some mount, mapped to that mount.
func (r *Registry) MountRootsBelow(path string) map[string]*Mount {
	out := make(map[string]*Mount)
	for _, p := range r.prefixes {
		if p.path != Root && Parent(p.path) == path {
			out[Name(p.path)] = p.mount
		}
	}
	return out
}
