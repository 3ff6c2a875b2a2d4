// Package composite presents several node stores as one content tree.
//
// Every path is owned by exactly one store: the mount with the longest prefix
// covering it, or the global store. Read views (NodeState) and write views
// (Builder) are composed lazily from the per-store trees, and HookAdapter lets
// a store-agnostic commit hook validate a commit spanning several stores.
package composite

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/mount"
	"github.com/fclairamb/treemount/internal/nodestate"
	"github.com/fclairamb/treemount/internal/store"
)

// MountedStore pairs a mount with the store holding its content.
type MountedStore struct {
	mount *mount.Mount
	store store.NodeStore
}

// Mount returns the mount.
func (ms *MountedStore) Mount() *mount.Mount { return ms.mount }

// Store returns the physical store.
func (ms *MountedStore) Store() store.NodeStore { return ms.store }

// Name returns the mount name.
func (ms *MountedStore) Name() string { return ms.mount.Name() }

func (ms *MountedStore) String() string { return ms.mount.String() }

// Context resolves paths to mounted stores and composes per-store trees into
// composite views. It is immutable and safe for concurrent use.
type Context struct {
	registry *mount.Registry
	global   *MountedStore
	mounted  []*MountedStore // sorted by name
	byMount  map[*mount.Mount]*MountedStore
}

// NewContext binds the global store and one store per non-default mount of
// registry. stores is keyed by mount name and must cover every mount.
func NewContext(registry *mount.Registry, global store.NodeStore, stores map[string]store.NodeStore) (*Context, error) {
	if registry == nil || global == nil {
		return nil, fmt.Errorf("%w: registry and global store are required", apperrors.ErrMissingStore)
	}

	c := &Context{
		registry: registry,
		global:   &MountedStore{mount: registry.DefaultMount(), store: global},
		byMount:  make(map[*mount.Mount]*MountedStore),
	}
	c.byMount[c.global.mount] = c.global

	for _, m := range registry.NonDefaultMounts() {
		s, ok := stores[m.Name()]
		if !ok || s == nil {
			return nil, fmt.Errorf("%w: mount %s", apperrors.ErrMissingStore, m.Name())
		}
		ms := &MountedStore{mount: m, store: s}
		c.mounted = append(c.mounted, ms)
		c.byMount[m] = ms
	}
	for name := range stores {
		if _, ok := registry.MountByName(name); !ok || name == mount.DefaultName {
			return nil, fmt.Errorf("%w: store for unknown mount %s", apperrors.ErrInvariantViolation, name)
		}
	}
	return c, nil
}

// Registry returns the mount registry.
func (c *Context) Registry() *mount.Registry { return c.registry }

// GlobalStore returns the store owning every path not covered by a mount.
func (c *Context) GlobalStore() *MountedStore { return c.global }

// NonDefaultStores returns the mounted stores sorted by mount name.
func (c *Context) NonDefaultStores() []*MountedStore { return slices.Clone(c.mounted) }

// AllStores returns the global store followed by the mounted stores.
func (c *Context) AllStores() []*MountedStore {
	return append([]*MountedStore{c.global}, c.mounted...)
}

// StoreByName returns the mounted store with the given mount name.
func (c *Context) StoreByName(name string) (*MountedStore, bool) {
	m, ok := c.registry.MountByName(name)
	if !ok {
		return nil, false
	}
	ms, ok := c.byMount[m]
	return ms, ok
}

// OwningStore returns the store owning path.
func (c *Context) OwningStore(path string) *MountedStore {
	return c.byMount[c.registry.MountByPath(path)]
}

// route is OwningStore for mutations: a path resolving to a mount without a
// store breaks the context's invariants.
func (c *Context) route(path string) (*MountedStore, error) {
	ms := c.OwningStore(path)
	if ms == nil {
		return nil, fmt.Errorf("%w: %w: %s", apperrors.ErrInvariantViolation, apperrors.ErrUnroutableChange, path)
	}
	return ms, nil
}

// ContributingStores returns the owner of path followed by every store whose
// mount has a prefix strictly below path.
func (c *Context) ContributingStores(path string) []*MountedStore {
	out := []*MountedStore{c.OwningStore(path)}
	if !c.registry.HasMountUnder(path) {
		return out
	}
	for _, m := range c.registry.MountsUnder(path) {
		if ms := c.byMount[m]; ms != out[0] {
			out = append(out, ms)
		}
	}
	return out
}

// CreateRootNodeState composes the root of the tree from one root state per
// store. Every store of the context must have an entry.
func (c *Context) CreateRootNodeState(states map[*MountedStore]nodestate.NodeState) (*NodeState, error) {
	roots := make(map[*MountedStore]nodestate.NodeState, len(c.byMount))
	var missing []string
	for _, ms := range c.AllStores() {
		s, ok := states[ms]
		if !ok || s == nil {
			missing = append(missing, ms.Name())
			continue
		}
		roots[ms] = s
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %w: %s",
			apperrors.ErrInvariantViolation, apperrors.ErrMissingStore, strings.Join(missing, ", "))
	}
	return newNodeState(c, mount.Root, roots), nil
}

// CreateBuilder returns a write view over root. Store builders are created
// the first time a mutation reaches their store.
func (c *Context) CreateBuilder(root *NodeState) *Builder {
	return &Builder{set: newBuilderSet(c, root), path: mount.Root}
}
