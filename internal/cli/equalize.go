package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matzehuels/portkeeper/pkg/equalize"
	"github.com/matzehuels/portkeeper/pkg/errors"
)

// equalizeCommand creates the equalize command.
func (c *CLI) equalizeCommand() *cobra.Command {
	var dryRun, unstable bool

	cmd := &cobra.Command{
		Use:   "equalize [atom...]",
		Short: "Keep only the best visible version of every slot",
		Long: `Equalize prunes the ebuild tree down to the best visible version of each
slot and replaces every kept ebuild with a symlink to a hidden canonical file,
so that a version bump changes a single symlink.

Atoms nothing can see lose their package directory. Without arguments every
atom of the tree is equalized. Running it twice on an unchanged tree does
nothing the second time.`,
		Example: `  # Preview the whole tree
  portkeeper equalize --dry-run

  # Equalize two packages for the unstable branch
  portkeeper equalize --unstable dev-libs/foo sys-apps/bar`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runEqualize(cmd.Context(), args, dryRun, unstable)
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "log what would change without touching the tree")
	cmd.Flags().BoolVar(&unstable, "unstable", false, "accept ~arch keywords")

	return cmd
}

// runEqualize equalizes atoms and prints the summary.
func (c *CLI) runEqualize(ctx context.Context, atoms []string, dryRun, unstable bool) error {
	for _, a := range atoms {
		if err := errors.ValidateAtom(a); err != nil {
			return err
		}
	}

	cfg, err := c.config()
	if err != nil {
		return err
	}
	tree, err := c.openTree(cfg)
	if err != nil {
		return err
	}
	defer tree.Close()
	if unstable {
		tree.SetStabilityPolicy(true)
	}

	eq, err := equalize.New(tree, equalize.Options{
		Root:   tree.Root(),
		DryRun: dryRun,
		Logger: loggerFromContext(ctx),
	})
	if err != nil {
		return err
	}

	prog := newProgress(loggerFromContext(ctx))
	sum, err := eq.Run(ctx, atoms)
	if err != nil {
		if errors.Is(err, errors.ErrCodeStaleCache) {
			printError("Metadata cache of %s is stale", tree.Root())
		}
		return err
	}
	prog.done("Equalization finished")

	if sum.Empty() {
		printSuccess("Tree already equalized")
	} else {
		printSuccess("Equalization complete")
		for _, line := range sum.Lines() {
			printDetail("%s", line)
		}
	}
	if dryRun {
		printDryRun()
	}
	return nil
}

