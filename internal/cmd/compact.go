package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/fclairamb/treemount/internal/store"
)

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:      "compact",
		Usage:     "Repack a store directory and prune unreachable objects",
		ArgsUsage: "<dir>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "mmap",
				Usage: "Keep pack files open (true) or reopen them on every access (false)",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Upgrade a store written by another version instead of failing",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd, nil)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.Args().First()
			if dir == "" {
				fmt.Fprintf(stderr(cmd), "usage: %s %s %s\n", cmd.Root().Name, cmd.Name, cmd.ArgsUsage)
				return cli.Exit("store directory is required", exitMissingArgs)
			}

			var mmap *bool
			if cmd.IsSet("mmap") {
				v := cmd.Bool("mmap")
				mmap = &v
			}

			return runCompact(ctx, stdout(cmd), dir, store.CompactOptions{
				AccessMode: store.ResolveAccessMode(mmap),
				Force:      cmd.Bool("force"),
			})
		},
	}
}

// runCompact compacts dir and reports the store files before and after.
func runCompact(ctx context.Context, w io.Writer, dir string, opts store.CompactOptions) error {
	start := time.Now()
	fmt.Fprintf(w, "Compacting %s with %s\n", dir, opts.AccessMode)

	before, err := store.ListFiles(dir)
	if err != nil {
		return compactFailed(w, start, err)
	}
	fmt.Fprintln(w, "    before ")
	printFileListing(w, before)
	printSize(w, store.TotalSize(before))

	fmt.Fprintln(w, "    -> compacting")
	if err := store.Compact(ctx, dir, opts); err != nil {
		return compactFailed(w, start, err)
	}

	after, err := store.ListFiles(dir)
	if err != nil {
		return compactFailed(w, start, err)
	}
	fmt.Fprintln(w, "    after ")
	printFileListing(w, after)
	printSize(w, store.TotalSize(after))

	removed, added := fileChanges(before, after)
	fmt.Fprintf(w, "    removed files %v\n", removed)
	fmt.Fprintf(w, "    added files %v\n", added)

	elapsed := time.Since(start)
	fmt.Fprintf(w, "Compaction succeeded in %s (%ds).\n", elapsed.Round(time.Millisecond), int(elapsed.Seconds()))
	return nil
}

func compactFailed(w io.Writer, start time.Time, err error) error {
	elapsed := time.Since(start)
	fmt.Fprintf(w, "Compaction failed in %s (%ds).\n", elapsed.Round(time.Millisecond), int(elapsed.Seconds()))
	return cli.Exit(err.Error(), exitFailure)
}

// fileChanges returns the names present only before and only after.
func fileChanges(before, after []store.FileEntry) (removed, added []string) {
	beforeNames := store.FileNames(before)
	afterNames := store.FileNames(after)
	removed = []string{}
	added = []string{}
	for _, f := range before {
		if _, ok := afterNames[f.Name]; !ok {
			removed = append(removed, f.Name)
		}
	}
	for _, f := range after {
		if _, ok := beforeNames[f.Name]; !ok {
			added = append(added, f.Name)
		}
	}
	return removed, added
}
