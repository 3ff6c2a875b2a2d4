// Package store provides the physical node stores that the composite layer
// presents as one tree: an in-memory store and a store persisted as git
// objects.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/commit"
	"github.com/fclairamb/treemount/internal/nodestate"
)

// NodeStore is the capability every physical store offers.
type NodeStore interface {
	// Root returns the current head state.
	Root(ctx context.Context) (nodestate.NodeState, error)

	// Rebase folds writes committed since the builder's base into the builder
	// and returns the merged state. Contradicting changes fail with
	// apperrors.ErrConflict.
	Rebase(b nodestate.Builder) (nodestate.NodeState, error)

	// Merge rebases the builder, runs hook on (head, rebased) and atomically
	// replaces the head with the hook's result. If another writer moved the
	// head in between, Merge fails with apperrors.ErrConflict. On success the
	// builder is reset onto the new head.
	Merge(ctx context.Context, b nodestate.Builder, hook commit.Hook, info *commit.Info) (nodestate.NodeState, error)

	// Reset discards the builder's changes and rebases it onto the head.
	Reset(b nodestate.Builder) (nodestate.NodeState, error)
}

const defaultCompressionThreshold = 4 << 10

type options struct {
	logger            *slog.Logger
	authorName        string
	authorEmail       string
	compressThreshold int
}

// Option configures a store.
type Option func(*options)

// WithLogger sets a custom logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithAuthor sets the commit author of a GitStore.
func WithAuthor(name, email string) Option {
	return func(o *options) {
		o.authorName = name
		o.authorEmail = email
	}
}

// WithCompressionThreshold sets the encoded property size above which a
// GitStore compresses property blobs. Zero or less disables compression.
func WithCompressionThreshold(n int) Option {
	return func(o *options) {
		o.compressThreshold = n
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:            slog.Default(),
		authorName:        "treemount",
		authorEmail:       "treemount@localhost",
		compressThreshold: defaultCompressionThreshold,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// runHook runs the merge hook and normalizes its result into a memory state
// based on head, so that stores never retain foreign NodeState
// implementations.
func runHook(
	hook commit.Hook, head, rebased nodestate.NodeState, info *commit.Info,
) (nodestate.NodeState, error) {
	if hook == nil {
		hook = commit.EmptyHook
	}
	result, err := hook.ProcessCommit(head, rebased, info)
	if err != nil {
		return nil, err
	}
	if result == nil || !result.Exists() {
		return nil, fmt.Errorf("%w: hook returned a non-existing root", apperrors.ErrInvariantViolation)
	}
	if _, ok := result.(*nodestate.MemoryNodeState); ok {
		return result, nil
	}
	b := nodestate.NewBuilder(head)
	if err := nodestate.Apply(result, head, b); err != nil {
		return nil, fmt.Errorf("copy hook result: %w", err)
	}
	return b.NodeState(), nil
}
