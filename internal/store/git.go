package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/klauspost/compress/zstd"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/commit"
	"github.com/fclairamb/treemount/internal/nodestate"
)

const (
	// CurrentVersion is the store format written by this package.
	CurrentVersion = "1"

	versionSection = "treemount"
	versionKey     = "version"

	propsEntry    = "p"
	childrenEntry = "c"

	// Directory permissions: rwxr-x---
	dirPerm = 0o750
)

// Property blob formats, stored as the first byte of each blob.
const (
	blobPlain byte = iota
	blobZstd
)

// HeadRef is the branch holding the store's commits.
var HeadRef = plumbing.NewBranchReferenceName("main")

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// GitStore implements NodeStore on top of a bare git repository. Every node
// is a git tree holding a property blob and a tree of children, and every
// merge is a commit on HeadRef.
type GitStore struct {
	dir    string
	repo   *git.Repository
	mu     sync.RWMutex // guards HeadRef within the process
	opts   *options
	logger *slog.Logger

	cacheMu sync.RWMutex
	states  map[plumbing.Hash]*nodestate.MemoryNodeState
	hashes  map[*nodestate.MemoryNodeState]plumbing.Hash
}

// OpenGitStore opens the store at dir, initializing a new repository if the
// directory holds none. An existing repository must carry CurrentVersion.
func OpenGitStore(dir string, opts ...Option) (*GitStore, error) {
	if dir == "" {
		return nil, apperrors.ErrStoreDirRequired
	}
	o := newOptions(opts)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	repo, err := git.PlainOpen(dir)
	created := false
	if errors.Is(err, git.ErrRepositoryNotExists) {
		o.logger.Info("initializing store", "dir", dir)
		repo, err = git.PlainInitWithOptions(dir, &git.PlainInitOptions{
			InitOptions: git.InitOptions{DefaultBranch: HeadRef},
			Bare:        true,
		})
		created = true
	}
	if err != nil {
		return nil, fmt.Errorf("open git repo: %w", err)
	}

	if created {
		if err := WriteVersion(repo, CurrentVersion); err != nil {
			return nil, err
		}
	} else if err := checkVersion(repo); err != nil {
		return nil, err
	}

	return &GitStore{
		dir:    dir,
		repo:   repo,
		opts:   o,
		logger: o.logger,
		states: make(map[plumbing.Hash]*nodestate.MemoryNodeState),
		hashes: make(map[*nodestate.MemoryNodeState]plumbing.Hash),
	}, nil
}

// Dir returns the repository directory.
func (s *GitStore) Dir() string {
	return s.dir
}

// Root loads the head state.
func (s *GitStore) Root(ctx context.Context) (nodestate.NodeState, error) {
	ref, head, err := s.head()
	if err != nil {
		return nil, err
	}
	if ref != nil {
		s.logger.DebugContext(ctx, "loaded head", "commit", ref.Hash().String())
	}
	return head, nil
}

// Rebase folds the current head into b.
func (s *GitStore) Rebase(b nodestate.Builder) (nodestate.NodeState, error) {
	_, head, err := s.head()
	if err != nil {
		return nil, err
	}
	return rebase(b, head)
}

// Reset rebases b onto the head, discarding its changes.
func (s *GitStore) Reset(b nodestate.Builder) (nodestate.NodeState, error) {
	_, head, err := s.head()
	if err != nil {
		return nil, err
	}
	if err := b.Reset(head); err != nil {
		return nil, fmt.Errorf("reset builder: %w", err)
	}
	return head, nil
}

// Merge rebases b, runs hook, writes the result and moves HeadRef with a
// compare-and-swap. A concurrent writer, in this process or another one,
// makes Merge fail with apperrors.ErrConflict.
func (s *GitStore) Merge(
	ctx context.Context, b nodestate.Builder, hook commit.Hook, info *commit.Info,
) (nodestate.NodeState, error) {
	ref, head, err := s.head()
	if err != nil {
		return nil, err
	}

	rebased, err := rebase(b, head)
	if err != nil {
		s.logger.DebugContext(ctx, "rebase failed", "dir", s.dir, "error", err)
		return nil, err
	}

	result, err := runHook(hook, head, rebased, info)
	if err != nil {
		s.logger.DebugContext(ctx, "commit hook rejected merge", "dir", s.dir, "error", err)
		return nil, err
	}

	if nodestate.Identical(result, head) && ref != nil {
		s.logger.DebugContext(ctx, "nothing to commit", "dir", s.dir)
		if err := b.Reset(head); err != nil {
			return nil, fmt.Errorf("reset builder: %w", err)
		}
		return head, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if moved, err := s.headMoved(ref); err != nil {
		return nil, err
	} else if moved {
		s.logger.DebugContext(ctx, "head moved during merge", "dir", s.dir)
		return nil, fmt.Errorf("%w: %s moved during merge", apperrors.ErrConflict, HeadRef)
	}

	treeHash, err := s.writeNode(result)
	if err != nil {
		return nil, err
	}
	commitHash, err := s.writeCommit(treeHash, ref, info)
	if err != nil {
		return nil, err
	}

	newRef := plumbing.NewHashReference(HeadRef, commitHash)
	if err := s.repo.Storer.CheckAndSetReference(newRef, ref); err != nil {
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			s.logger.DebugContext(ctx, "head moved during merge", "dir", s.dir)
			return nil, fmt.Errorf("%w: %s moved during merge", apperrors.ErrConflict, HeadRef)
		}
		return nil, fmt.Errorf("update %s: %w", HeadRef, err)
	}

	state, err := s.load(treeHash)
	if err != nil {
		return nil, err
	}
	if err := b.Reset(state); err != nil {
		return nil, fmt.Errorf("reset builder: %w", err)
	}

	s.logger.DebugContext(ctx, "merge complete", "dir", s.dir, "commit", commitHash.String())
	return state, nil
}

// head returns the current head reference (nil for an empty store) and its
// state.
func (s *GitStore) head() (*plumbing.Reference, nodestate.NodeState, error) {
	s.mu.RLock()
	ref, err := s.repo.Reference(HeadRef, true)
	s.mu.RUnlock()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nodestate.EmptyNode, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", HeadRef, err)
	}

	c, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, nil, fmt.Errorf("read commit %s: %w", ref.Hash(), err)
	}
	state, err := s.load(c.TreeHash)
	if err != nil {
		return nil, nil, err
	}
	return ref, state, nil
}

// headMoved reports whether HeadRef no longer points where ref did. The
// caller holds s.mu.
func (s *GitStore) headMoved(ref *plumbing.Reference) (bool, error) {
	current, err := s.repo.Reference(HeadRef, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return ref != nil, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", HeadRef, err)
	}
	return ref == nil || current.Hash() != ref.Hash(), nil
}

// load reads the node stored in tree h, reusing previously loaded subtrees.
func (s *GitStore) load(h plumbing.Hash) (*nodestate.MemoryNodeState, error) {
	s.cacheMu.RLock()
	cached, ok := s.states[h]
	s.cacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	tree, err := s.repo.TreeObject(h)
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", h, err)
	}

	var props []nodestate.PropertyState
	children := make(map[string]nodestate.NodeState)
	for _, e := range tree.Entries {
		switch e.Name {
		case propsEntry:
			if props, err = s.readProperties(e.Hash); err != nil {
				return nil, err
			}
		case childrenEntry:
			if err := s.loadChildren(e.Hash, children); err != nil {
				return nil, err
			}
		}
	}

	state := nodestate.NewNodeState(props, children)
	s.remember(h, state)
	return state, nil
}

func (s *GitStore) loadChildren(h plumbing.Hash, children map[string]nodestate.NodeState) error {
	tree, err := s.repo.TreeObject(h)
	if err != nil {
		return fmt.Errorf("read children %s: %w", h, err)
	}
	for _, e := range tree.Entries {
		child, err := s.load(e.Hash)
		if err != nil {
			return err
		}
		children[e.Name] = child
	}
	return nil
}

func (s *GitStore) remember(h plumbing.Hash, state *nodestate.MemoryNodeState) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if existing, ok := s.states[h]; ok && existing != state {
		return
	}
	s.states[h] = state
	s.hashes[state] = h
}

func (s *GitStore) knownHash(state nodestate.NodeState) (plumbing.Hash, bool) {
	ms, ok := state.(*nodestate.MemoryNodeState)
	if !ok {
		return plumbing.ZeroHash, false
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	h, ok := s.hashes[ms]
	return h, ok
}

func (s *GitStore) readProperties(h plumbing.Hash) ([]nodestate.PropertyState, error) {
	blob, err := s.repo.BlobObject(h)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", h, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", h, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", h, err)
	}
	return decodePropertyBlob(data)
}

// writeNode stores state as git objects and returns its tree hash. Subtrees
// that were loaded from this store are not written again.
func (s *GitStore) writeNode(state nodestate.NodeState) (plumbing.Hash, error) {
	if h, ok := s.knownHash(state); ok {
		return h, nil
	}

	var entries []object.TreeEntry

	if names := state.ChildNodeNames(); len(names) > 0 {
		childEntries := make([]object.TreeEntry, 0, len(names))
		for _, name := range names {
			h, err := s.writeNode(state.ChildNode(name))
			if err != nil {
				return plumbing.ZeroHash, err
			}
			childEntries = append(childEntries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
		}
		// Git orders directory entries as if their names ended with a slash.
		slices.SortFunc(childEntries, func(a, b object.TreeEntry) int {
			return strings.Compare(a.Name+"/", b.Name+"/")
		})
		h, err := s.writeTree(childEntries)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: childrenEntry, Mode: filemode.Dir, Hash: h})
	}

	if state.PropertyCount() > 0 {
		data, err := encodePropertyBlob(state.Properties(), s.opts.compressThreshold)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		h, err := s.writeBlob(data)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: propsEntry, Mode: filemode.Regular, Hash: h})
	}

	return s.writeTree(entries)
}

func (s *GitStore) writeTree(entries []object.TreeEntry) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	tree := &object.Tree{Entries: entries}
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	h, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write tree: %w", err)
	}
	return h, nil
}

func (s *GitStore) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open blob writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close blob writer: %w", err)
	}
	h, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store blob: %w", err)
	}
	return h, nil
}

func (s *GitStore) writeCommit(tree plumbing.Hash, parent *plumbing.Reference, info *commit.Info) (plumbing.Hash, error) {
	when := time.Now()
	if info != nil && !info.Date.IsZero() {
		when = info.Date
	}
	sig := object.Signature{Name: s.opts.authorName, Email: s.opts.authorEmail, When: when}

	c := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   info.Message(),
		TreeHash:  tree,
	}
	if parent != nil {
		c.ParentHashes = []plumbing.Hash{parent.Hash()}
	}

	obj := s.repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	h, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write commit: %w", err)
	}
	return h, nil
}

func encodePropertyBlob(props []nodestate.PropertyState, threshold int) ([]byte, error) {
	data, err := nodestate.EncodeProperties(props)
	if err != nil {
		return nil, err
	}
	if threshold > 0 && len(data) > threshold {
		out := []byte{blobZstd}
		return zstdEncoder.EncodeAll(data, out), nil
	}
	return append([]byte{blobPlain}, data...), nil
}

func decodePropertyBlob(data []byte) ([]nodestate.PropertyState, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch data[0] {
	case blobPlain:
		return nodestate.DecodeProperties(data[1:])
	case blobZstd:
		raw, err := zstdDecoder.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompress properties: %w", err)
		}
		return nodestate.DecodeProperties(raw)
	default:
		return nil, fmt.Errorf("unknown property blob format %d", data[0])
	}
}

// ReadVersion returns the store version recorded in the repository config,
// or an empty string if none is recorded.
func ReadVersion(repo *git.Repository) (string, error) {
	cfg, err := repo.Config()
	if err != nil {
		return "", fmt.Errorf("read repository config: %w", err)
	}
	return cfg.Raw.Section(versionSection).Option(versionKey), nil
}

// WriteVersion records version in the repository config.
func WriteVersion(repo *git.Repository, version string) error {
	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read repository config: %w", err)
	}
	cfg.Raw.Section(versionSection).SetOption(versionKey, version)
	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("write repository config: %w", err)
	}
	return nil
}

func checkVersion(repo *git.Repository) error {
	v, err := ReadVersion(repo)
	if err != nil {
		return err
	}
	if v != CurrentVersion {
		return fmt.Errorf("%w: found %q, expected %q", apperrors.ErrStoreVersionMismatch, v, CurrentVersion)
	}
	return nil
}
