package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/errors"
	"github.com/matzehuels/portkeeper/pkg/portage"
)

// listCommand creates the list command.
func (c *CLI) listCommand() *cobra.Command {
	var all, unstable bool

	cmd := &cobra.Command{
		Use:   "list [atom...]",
		Short: "List candidates visible to the configured profiles",
		Long: `List the candidates of each atom with their slot and keywords.

Without arguments every atom of the tree is listed. Atoms may carry version
operators and slots (">=dev-libs/foo-1.2:0").`,
		Example: `  portkeeper list dev-libs/openssl
  portkeeper list --all -p amd64 -p arm64 sys-apps/busybox`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runList(cmd.Context(), args, all, unstable)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include candidates no profile can see")
	cmd.Flags().BoolVar(&unstable, "unstable", false, "accept ~arch keywords")

	return cmd
}

// runList prints one line per candidate.
func (c *CLI) runList(ctx context.Context, args []string, all, unstable bool) error {
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

	atoms := args
	if len(atoms) == 0 {
		if atoms, err = tree.AllAtoms(); err != nil {
			return err
		}
	}

	shown := 0
	for _, a := range atoms {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := listAtom(tree, a, all)
		if err != nil {
			if errors.Is(err, errors.ErrCodeInvalidAtom) {
				return err
			}
			loggerFromContext(ctx).Warn("cannot list atom", "atom", a, "err", err)
			continue
		}
		shown += n
	}

	if shown == 0 {
		printInfo("No candidates (profiles: %s)", cfg.ProfileNames())
	}
	return nil
}

func listAtom(tree *portage.Tree, a string, all bool) (int, error) {
	visible, err := tree.MatchVisible(a)
	if err != nil {
		return 0, err
	}
	cands := visible
	if all {
		if cands, err = tree.MatchAll(a); err != nil {
			return 0, err
		}
	}

	for _, cpv := range cands {
		vals, err := tree.AuxInfo(cpv, portage.KeySlot, portage.KeyKeywords)
		if err != nil {
			return 0, err
		}
		fmt.Fprintln(stdout, formatCandidate(cpv, vals[0], vals[1], slices.Contains(visible, cpv)))
	}
	return len(cands), nil
}

func formatCandidate(cpv atom.CPV, slot, keywords string, visible bool) string {
	name := StyleValue.Render(cpv.String())
	if !visible {
		name = styleMasked.Render(cpv.String())
	}
	if slot == "" {
		slot = "0"
	}
	return fmt.Sprintf("%s %s %s", name, StyleHighlight.Render(":"+slot), StyleDim.Render(strings.Join(strings.Fields(keywords), " ")))
}

