package composite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/commit"
	"github.com/fclairamb/treemount/internal/mount"
	"github.com/fclairamb/treemount/internal/nodestate"
)

const (
	defaultMaxRetries    = 5
	defaultRetryInterval = 50 * time.Millisecond

	// codeReadOnlyMount identifies commits touching a read-only mount.
	codeReadOnlyMount = 1
)

// Store commits composite write views: one logical commit is validated as a
// whole by a HookAdapter, then written store by store.
type Store struct {
	ctx        *Context
	logger     *slog.Logger
	maxRetries int
	interval   time.Duration
	limiter    *rate.Limiter
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMaxRetries sets how many times a conflicting commit is retried.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		s.maxRetries = n
	}
}

// WithRetryInterval sets the minimum delay between two retries.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Store) {
		s.interval = d
	}
}

// NewStore creates a composite store over c.
func NewStore(c *Context, opts ...Option) *Store {
	s := &Store{
		ctx:        c,
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
		interval:   defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = rate.NewLimiter(rate.Every(s.interval), 1)
	return s
}

// Context returns the composition context.
func (s *Store) Context() *Context { return s.ctx }

// Root composes the current head of every store.
func (s *Store) Root(ctx context.Context) (*NodeState, error) {
	roots := make(map[*MountedStore]nodestate.NodeState)
	for _, ms := range s.ctx.AllStores() {
		root, err := ms.Store().Root(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s root: %w", ms.Name(), err)
		}
		roots[ms] = root
	}
	return s.ctx.CreateRootNodeState(roots)
}

// Builder returns a write view over the current root.
func (s *Store) Builder(ctx context.Context) (*Builder, error) {
	root, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}
	return s.ctx.CreateBuilder(root), nil
}

// Reset discards b's changes and moves it onto the current root.
func (s *Store) Reset(ctx context.Context, b *Builder) (*NodeState, error) {
	root, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.Reset(root); err != nil {
		return nil, err
	}
	return root, nil
}

// PartialCommitError reports a commit that was written to some stores but
// not to all of them. The stores listed in Committed keep the new content.
type PartialCommitError struct {
	Committed []string
	Failed    string
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit: committed %s, %s failed: %v",
		strings.Join(e.Committed, ", "), e.Failed, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }

// Merge commits b. hook sees the whole tree and its result is split back
// per store. The global store is committed first with the hook, then every
// modified mount in name order.
//
// A conflict on the global store retries the whole attempt with a fresh
// rebase of every mount. A mount is committed with the changes of this commit
// and of the hook only, taken against the head that mount was rebased onto,
// so writes other writers made to it in the meantime are kept. When the mount
// head moves again before the commit lands, those changes are rebased onto
// the new head and retried. A change contradicting another writer's fails
// with apperrors.ErrConflict once retries are exhausted.
//
// Stores are not committed atomically: if a mount fails after the global
// store was written, the stores committed so far are not rolled back and a
// *PartialCommitError is returned.
//
// On success b is reset onto the new root.
func (s *Store) Merge(ctx context.Context, b *Builder, hook commit.Hook, info *commit.Info) (*NodeState, error) {
	if b.path != mount.Root {
		return nil, apperrors.ErrNotRootBuilder
	}
	if err := s.checkReadOnly(b); err != nil {
		return nil, err
	}

	global := s.ctx.GlobalStore()
	var adapter *HookAdapter
	for attempt := 0; ; attempt++ {
		adapter = NewHookAdapter(hook, s.ctx, s.mountBuilders(b))
		_, err := global.Store().Merge(ctx, b.StoreBuilder(global), adapter, info)
		if err == nil {
			break
		}
		if !errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		if attempt >= s.maxRetries {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrMaxRetriesExceeded, err)
		}
		s.logger.DebugContext(ctx, "commit conflict, retrying", "attempt", attempt+1, "error", err)
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	if s.ctx.registry.HasNonDefaultMounts() {
		if err := s.commitMounts(ctx, adapter, info); err != nil {
			return nil, err
		}
	}

	root, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.Reset(root); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "commit complete", "message", info.Message())
	return root, nil
}

func (s *Store) checkReadOnly(b *Builder) error {
	for _, ms := range s.ctx.NonDefaultStores() {
		if ms.Mount().IsReadOnly() && b.IsStoreModified(ms) {
			return commit.NewFailedError(commit.TypeAccess, codeReadOnlyMount,
				"cannot change content of mount "+ms.Name(), apperrors.ErrReadOnlyMount)
		}
	}
	return nil
}

// mountBuilders hands the mounted stores' builders of b to a new attempt.
func (s *Store) mountBuilders(b *Builder) map[*MountedStore]nodestate.Builder {
	builders := make(map[*MountedStore]nodestate.Builder, len(s.ctx.mounted))
	for _, ms := range s.ctx.NonDefaultStores() {
		builders[ms] = b.StoreBuilder(ms)
	}
	return builders
}

func (s *Store) commitMounts(ctx context.Context, adapter *HookAdapter, info *commit.Info) error {
	committed := []string{s.ctx.GlobalStore().Name()}
	for _, ms := range s.ctx.NonDefaultStores() {
		_, modified, err := adapter.MountBuilder(ms)
		if err != nil {
			return &PartialCommitError{Committed: committed, Failed: ms.Name(), Err: err}
		}
		if !modified {
			continue
		}
		if ms.Mount().IsReadOnly() {
			s.logger.WarnContext(ctx, "ignoring changes to read-only mount", "mount", ms.Name())
			continue
		}
		if err := s.commitMount(ctx, ms, adapter, info); err != nil {
			return &PartialCommitError{Committed: committed, Failed: ms.Name(), Err: err}
		}
		committed = append(committed, ms.Name())
	}
	return nil
}

// commitMount merges ms's part of the adapter's result. Every attempt starts
// from a builder derived anew, which the store rebases onto its current head.
func (s *Store) commitMount(ctx context.Context, ms *MountedStore, adapter *HookAdapter, info *commit.Info) error {
	for attempt := 0; ; attempt++ {
		b, modified, err := adapter.MountBuilder(ms)
		if err != nil {
			return err
		}
		if !modified {
			return nil
		}
		_, err = ms.Store().Merge(ctx, b, commit.EmptyHook, info)
		if err == nil {
			s.logger.DebugContext(ctx, "mount committed", "mount", ms.Name())
			return nil
		}
		if !errors.Is(err, apperrors.ErrConflict) {
			return err
		}
		if attempt >= s.maxRetries {
			return fmt.Errorf("%w: %w", apperrors.ErrMaxRetriesExceeded, err)
		}
		s.logger.DebugContext(ctx, "mount conflict, retrying", "mount", ms.Name(), "attempt", attempt+1)
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
}
