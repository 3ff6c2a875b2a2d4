package mount

import (
	"fmt"
	"strings"

	"github.com/fclairamb/treemount/internal/apperrors"
)

// Root is the path of the root node.
const Root = "/"

// ValidatePath checks that path is absolute, has no trailing slash (except the
// root) and no empty, "." or ".." elements.
func ValidatePath(path string) error {
	if path == Root {
		return nil
	}
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidMountPath, path)
	}
	for _, elem := range strings.Split(path[1:], "/") {
		if elem == "" || elem == "." || elem == ".." {
			return fmt.Errorf("%w: %q", apperrors.ErrInvalidMountPath, path)
		}
	}
	return nil
}

// Elements splits a valid path into its names. The root has no elements.
func Elements(path string) []string {
	if path == Root || path == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// Concat appends a child name to a path.
func Concat(parent, name string) string {
	if parent == Root {
		return Root + name
	}
	return parent + "/" + name
}

// Parent returns the parent path. The parent of the root is the root.
func Parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return Root
	}
	return path[:i]
}

// Name returns the last element of path, or "" for the root.
func Name(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// IsAncestor reports whether ancestor is a strict ancestor of path.
func IsAncestor(ancestor, path string) bool {
	if ancestor == path {
		return false
	}
	if ancestor == Root {
		return true
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// IsAncestorOrSelf reports whether ancestor equals path or is one of its ancestors.
func IsAncestorOrSelf(ancestor, path string) bool {
	return ancestor == path || IsAncestor(ancestor, path)
}

// Relative returns the elements of path below ancestor, which must be an
// ancestor-or-self of path.
func Relative(ancestor, path string) []string {
	if ancestor == path {
		return nil
	}
	if ancestor == Root {
		return Elements(path)
	}
	return Elements(path[len(ancestor):])
}
