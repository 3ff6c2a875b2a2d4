package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/commit"
	"github.com/fclairamb/treemount/internal/composite"
	"github.com/fclairamb/treemount/internal/mount"
	"github.com/fclairamb/treemount/internal/nodestate"
)

func mountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "mounts",
		Usage: "Print the validated mount table",
		Flags: []cli.Flag{verboseFlag},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, err := cfg.Registry()
			if err != nil {
				return err
			}
			printMounts(stdout(cmd), registry)
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Print the mount owning each path",
		ArgsUsage: "<path>...",
		Flags:     []cli.Flag{verboseFlag},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, err := cfg.Registry()
			if err != nil {
				return err
			}
			if cmd.Args().Len() == 0 {
				return fmt.Errorf("%w: at least one path is required", apperrors.ErrInvalidMountPath)
			}
			w := stdout(cmd)
			for _, path := range cmd.Args().Slice() {
				if err := mount.ValidatePath(path); err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", path, registry.MountByPath(path).Name())
			}
			return nil
		},
	}
}

func treeCommand() *cli.Command {
	return &cli.Command{
		Name:      "tree",
		Usage:     "Print the composed tree",
		ArgsUsage: "[path]",
		Flags:     []cli.Flag{verboseFlag},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := mount.Root
			if cmd.Args().Present() {
				path = cmd.Args().First()
			}
			if err := mount.ValidatePath(path); err != nil {
				return err
			}

			s, err := openFromFlags(cmd)
			if err != nil {
				return err
			}
			root, err := s.Root(ctx)
			if err != nil {
				return err
			}

			state := nodestate.Navigate(root, mount.Elements(path)...)
			if !state.Exists() {
				return fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, path)
			}
			w := stdout(cmd)
			fmt.Fprintln(w, path)
			printNodeTree(w, state, "")
			return nil
		},
	}
}

func setCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Set a property, creating missing nodes along the path",
		ArgsUsage: "<path> <property> <value>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Property type: string, long, double, boolean, date, name, path or binary",
				Value: "string",
			},
			verboseFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 3 {
				return cli.Exit("usage: set <path> <property> <value>", exitMissingArgs)
			}
			path := cmd.Args().Get(0)
			if err := mount.ValidatePath(path); err != nil {
				return err
			}
			prop, err := parseProperty(cmd.String("type"), cmd.Args().Get(1), cmd.Args().Get(2))
			if err != nil {
				return err
			}

			return commitChange(ctx, cmd, "set "+path, func(b *composite.Builder) error {
				var node nodestate.Builder = b
				for _, name := range mount.Elements(path) {
					if node, err = node.AddChildNode(name); err != nil {
						return err
					}
				}
				return node.SetProperty(prop)
			})
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a node and its subtree",
		ArgsUsage: "<path>",
		Flags:     []cli.Flag{verboseFlag},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return cli.Exit("usage: remove <path>", exitMissingArgs)
			}
			if err := mount.ValidatePath(path); err != nil {
				return err
			}
			if path == mount.Root {
				return fmt.Errorf("%w: the root cannot be removed", apperrors.ErrInvalidMountPath)
			}

			return commitChange(ctx, cmd, "remove "+path, func(b *composite.Builder) error {
				node := nodestate.NavigateBuilder(b, mount.Elements(path)...)
				if !node.Exists() {
					return fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, path)
				}
				_, err := node.Remove()
				return err
			})
		},
	}
}

func openFromFlags(cmd *cli.Command) (*composite.Store, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openStore(cfg, logger)
}

// commitChange applies change to a fresh write view and merges it with
// action as the commit message.
func commitChange(ctx context.Context, cmd *cli.Command, action string, change func(*composite.Builder) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	b, err := s.Builder(ctx)
	if err != nil {
		return err
	}
	if err := change(b); err != nil {
		return err
	}

	info := commit.NewInfo(cfg.Git.User, map[string]string{"message": action})
	if _, err := s.Merge(ctx, b, nil, info); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	fmt.Fprintf(stdout(cmd), "%s: committed\n", action)
	return nil
}

// parseProperty builds a single-valued property from its command line form.
func parseProperty(typ, name, raw string) (nodestate.PropertyState, error) {
	var (
		t     nodestate.Type
		value any
		err   error
	)
	switch strings.ToLower(typ) {
	case "string", "":
		t, value = nodestate.TypeString, raw
	case "name":
		t, value = nodestate.TypeName, raw
	case "path":
		t, value = nodestate.TypePath, raw
	case "binary":
		t, value = nodestate.TypeBinary, []byte(raw)
	case "long":
		t = nodestate.TypeLong
		value, err = strconv.ParseInt(raw, 10, 64)
	case "double":
		t = nodestate.TypeDouble
		value, err = strconv.ParseFloat(raw, 64)
	case "boolean":
		t = nodestate.TypeBoolean
		value, err = strconv.ParseBool(raw)
	case "date":
		t = nodestate.TypeDate
		value, err = time.Parse(time.RFC3339, raw)
	default:
		return nodestate.PropertyState{}, fmt.Errorf("%w: unknown property type %q", apperrors.ErrInvalidConfig, typ)
	}
	if err != nil {
		return nodestate.PropertyState{}, fmt.Errorf("%w: %s: %w", apperrors.ErrInvalidPropertyValue, name, err)
	}
	return nodestate.NewProperty(name, t, value)
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:  "push",
		Usage: "Push every store that has a remote to it",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "check",
				Usage: "Only test the connection to each remote",
			},
			verboseFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			stores, err := openGitStores(cfg, logger)
			if err != nil {
				return err
			}

			w := stdout(cmd)
			var errs []error
			for _, gs := range stores {
				if !gs.remote.IsEnabled() {
					fmt.Fprintf(w, "%s: no remote\n", gs.name)
					continue
				}
				if cmd.Bool("check") {
					err = gs.remote.TestConnection(ctx)
				} else {
					err = gs.store.Push(ctx, gs.remote)
				}
				if err != nil {
					fmt.Fprintf(w, "%s: failed\n", gs.name)
					errs = append(errs, fmt.Errorf("store %s: %w", gs.name, err))
					continue
				}
				fmt.Fprintf(w, "%s: ok\n", gs.name)
			}
			return errors.Join(errs...)
		},
	}
}
