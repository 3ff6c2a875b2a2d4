package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/fclairamb/treemount/internal/apperrors"
)

// FileAccessMode selects how pack files are accessed while compacting.
type FileAccessMode int

const (
	// AccessDefault keeps pack descriptors open on 64-bit platforms.
	AccessDefault FileAccessMode = iota
	// AccessMemoryMapped keeps pack descriptors open for the whole run.
	AccessMemoryMapped
	// AccessRegular reopens pack files on every access.
	AccessRegular
	// AccessEnforcedRegular is AccessRegular forced by the platform.
	AccessEnforcedRegular
)

// String returns the label printed by the compact command.
func (m FileAccessMode) String() string {
	switch m {
	case AccessMemoryMapped:
		return "memory mapped access mode"
	case AccessRegular:
		return "regular access mode"
	case AccessEnforcedRegular:
		return "enforced regular access mode"
	default:
		return "default access mode"
	}
}

// ResolveAccessMode maps the optional --mmap flag to an access mode. Windows
// always uses regular access.
func ResolveAccessMode(mmap *bool) FileAccessMode {
	switch {
	case runtime.GOOS == "windows":
		return AccessEnforcedRegular
	case mmap == nil:
		return AccessDefault
	case *mmap:
		return AccessMemoryMapped
	default:
		return AccessRegular
	}
}

func (m FileAccessMode) keepDescriptors() bool {
	switch m {
	case AccessMemoryMapped:
		return true
	case AccessDefault:
		return strconv.IntSize == 64
	default:
		return false
	}
}

// CompactOptions configures Compact.
type CompactOptions struct {
	AccessMode FileAccessMode
	// Force upgrades a store whose version differs from CurrentVersion
	// instead of failing.
	Force  bool
	Logger *slog.Logger
}

// FileEntry describes a file of the store directory.
type FileEntry struct {
	Name    string
	ModTime time.Time
	Size    int64
}

// ListFiles lists the regular files below dir, sorted by name.
func ListFiles(dir string) ([]FileEntry, error) {
	var files []FileEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, FileEntry{Name: filepath.ToSlash(rel), ModTime: info.ModTime(), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	slices.SortFunc(files, func(a, b FileEntry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return files, nil
}

// TotalSize sums the sizes of files.
func TotalSize(files []FileEntry) int64 {
	var n int64
	for _, f := range files {
		n += f.Size
	}
	return n
}

// FileNames returns the set of names in files.
func FileNames(files []FileEntry) map[string]struct{} {
	out := make(map[string]struct{}, len(files))
	for _, f := range files {
		out[f.Name] = struct{}{}
	}
	return out
}

// Compact repacks every object reachable from the store's references into a
// single pack and removes unreachable and already packed loose objects. It
// must not run while another process writes to the store.
func Compact(ctx context.Context, dir string, opts CompactOptions) error {
	if dir == "" {
		return apperrors.ErrStoreDirRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	st := filesystem.NewStorageWithOptions(osfs.New(dir), cache.NewObjectLRUDefault(), filesystem.Options{
		KeepDescriptors: opts.AccessMode.keepDescriptors(),
	})
	defer func() { _ = st.Close() }()

	repo, err := git.Open(st, nil)
	if err != nil {
		return fmt.Errorf("open git repo: %w", err)
	}

	if err := ensureVersion(ctx, repo, opts.Force, logger); err != nil {
		return err
	}

	start := time.Now()

	logger.DebugContext(ctx, "pruning unreachable objects", "dir", dir)
	pruned := 0
	err = repo.Prune(git.PruneOptions{
		OnlyObjectsOlderThan: start,
		Handler: func(h plumbing.Hash) error {
			pruned++
			return repo.DeleteObject(h)
		},
	})
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	logger.DebugContext(ctx, "repacking objects", "dir", dir, "pruned", pruned)
	if err := repo.RepackObjects(&git.RepackConfig{OnlyDeletePacksOlderThan: start}); err != nil {
		return fmt.Errorf("repack: %w", err)
	}

	removed, err := dropPackedLooseObjects(st, start)
	if err != nil {
		return err
	}

	logger.DebugContext(ctx, "compaction complete", "dir", dir, "pruned", pruned, "packed", removed)
	return nil
}

// ensureVersion checks the store version, upgrading it when force is set.
func ensureVersion(ctx context.Context, repo *git.Repository, force bool, logger *slog.Logger) error {
	v, err := ReadVersion(repo)
	if err != nil {
		return err
	}
	if v == CurrentVersion {
		return nil
	}
	if !force {
		return fmt.Errorf("%w: found %q, expected %q", apperrors.ErrStoreVersionMismatch, v, CurrentVersion)
	}
	logger.InfoContext(ctx, "upgrading store version", "from", v, "to", CurrentVersion)
	return WriteVersion(repo, CurrentVersion)
}

// dropPackedLooseObjects deletes the loose objects that existed before the
// repack started. After a prune and a repack they are all in the new pack.
func dropPackedLooseObjects(st *filesystem.Storage, before time.Time) (int, error) {
	var hashes []plumbing.Hash
	err := st.ForEachObjectHash(func(h plumbing.Hash) error {
		t, err := st.LooseObjectTime(h)
		if err != nil {
			return err
		}
		if t.Before(before) {
			hashes = append(hashes, h)
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return 0, fmt.Errorf("list loose objects: %w", err)
	}

	for _, h := range hashes {
		if err := st.DeleteLooseObject(h); err != nil {
			return 0, fmt.Errorf("delete loose object %s: %w", h, err)
		}
	}
	return len(hashes), nil
}
