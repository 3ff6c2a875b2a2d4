package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/commit"
	"github.com/fclairamb/treemount/internal/nodestate"
)

// MemoryStore implements NodeStore with the head held in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	head   nodestate.NodeState
	logger *slog.Logger
}

// NewMemoryStore creates a store whose initial head is root, or an empty
// node if root is nil.
func NewMemoryStore(root nodestate.NodeState, opts ...Option) *MemoryStore {
	if root == nil || !root.Exists() {
		root = nodestate.EmptyNode
	}
	o := newOptions(opts)
	return &MemoryStore{head: root, logger: o.logger}
}

// Root returns the current head.
func (s *MemoryStore) Root(_ context.Context) (nodestate.NodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, nil
}

// Rebase folds the current head into b.
func (s *MemoryStore) Rebase(b nodestate.Builder) (nodestate.NodeState, error) {
	s.mu.RLock()
	head := s.head
	s.mu.RUnlock()

	return rebase(b, head)
}

// Reset rebases b onto the head, discarding its changes.
func (s *MemoryStore) Reset(b nodestate.Builder) (nodestate.NodeState, error) {
	s.mu.RLock()
	head := s.head
	s.mu.RUnlock()

	if err := b.Reset(head); err != nil {
		return nil, fmt.Errorf("reset builder: %w", err)
	}
	return head, nil
}

// Merge rebases b, runs hook and swaps the head if no other merge happened
// in between.
func (s *MemoryStore) Merge(
	ctx context.Context, b nodestate.Builder, hook commit.Hook, info *commit.Info,
) (nodestate.NodeState, error) {
	s.mu.RLock()
	head := s.head
	s.mu.RUnlock()

	rebased, err := rebase(b, head)
	if err != nil {
		s.logger.DebugContext(ctx, "rebase failed", "error", err)
		return nil, err
	}

	result, err := runHook(hook, head, rebased, info)
	if err != nil {
		s.logger.DebugContext(ctx, "commit hook rejected merge", "error", err)
		return nil, err
	}

	s.mu.Lock()
	if s.head != head {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "head moved during merge")
		return nil, fmt.Errorf("%w: head moved during merge", apperrors.ErrConflict)
	}
	s.head = result
	s.mu.Unlock()

	if err := b.Reset(result); err != nil {
		return nil, fmt.Errorf("reset builder: %w", err)
	}
	s.logger.DebugContext(ctx, "merge complete", "message", info.Message())
	return result, nil
}
