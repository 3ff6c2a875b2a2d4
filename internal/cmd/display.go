package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fclairamb/treemount/internal/mount"
	"github.com/fclairamb/treemount/internal/nodestate"
	"github.com/fclairamb/treemount/internal/store"
)

// printFileListing prints one line per store file.
func printFileListing(w io.Writer, files []store.FileEntry) {
	for _, f := range files {
		fmt.Fprintf(w, "        %s, %s\n", f.ModTime.Format(time.DateTime), f.Name)
	}
}

func printSize(w io.Writer, size int64) {
	fmt.Fprintf(w, "    size %s (%d bytes)\n", humanize.Bytes(uint64(max(size, 0))), size)
}

// printMounts prints the mount table, default mount first.
func printMounts(w io.Writer, registry *mount.Registry) {
	printMount(w, registry.DefaultMount())
	for _, m := range registry.NonDefaultMounts() {
		printMount(w, m)
	}
}

func printMount(w io.Writer, m *mount.Mount) {
	mode := "rw"
	if m.IsReadOnly() {
		mode = "ro"
	}
	paths := strings.Join(m.Paths(), ", ")
	if m.IsDefault() {
		paths = "(default)"
	}
	fmt.Fprintf(w, "%-12s %s  %s\n", m.Name(), mode, paths)
}

// printNodeTree prints the properties and children of state in tree format.
func printNodeTree(w io.Writer, state nodestate.NodeState, prefix string) {
	props := state.Properties()
	names := state.ChildNodeNames()
	total := len(props) + len(names)

	i := 0
	for _, p := range props {
		i++
		branch, _ := treeBranch(prefix, i == total)
		fmt.Fprintf(w, "%s%s@%s\n", prefix, branch, p)
	}
	for _, name := range names {
		i++
		branch, nextPrefix := treeBranch(prefix, i == total)
		fmt.Fprintf(w, "%s%s%s\n", prefix, branch, name)
		printNodeTree(w, state.ChildNode(name), nextPrefix)
	}
}

// treeBranch returns the tree characters of an entry and the prefix of its
// children.
func treeBranch(prefix string, isLast bool) (string, string) {
	if isLast {
		return "└── ", prefix + "    "
	}
	return "├── ", prefix + "│   "
}
