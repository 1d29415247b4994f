package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matzehuels/portkeeper/pkg/errors"
)

// lookupDebCommand creates the lookup-deb command.
func (c *CLI) lookupDebCommand() *cobra.Command {
	var (
		species       string
		caseSensitive bool
	)

	cmd := &cobra.Command{
		Use:   "lookup-deb <name_version_arch>...",
		Short: "Find the records a Debian package was built from",
		Long: `Find the records a Debian package was built from.

A package file name "<name>_<version>_<arch>" matches a record with the same
version whose name is either the Debian name or the Debian name minus one of
the record's naming suffixes for the species.`,
		Example: `  portkeeper lookup-deb -s rm busybox-rm_1.36.1_amd64`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLookupDeb(cmd.Context(), args, species, caseSensitive)
		},
	}

	cmd.Flags().StringVarP(&species, "species", "s", "", "species whose naming suffixes apply")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "compare names and versions exactly")
	_ = cmd.MarkFlagRequired("species")

	return cmd
}

// runLookupDeb prints the matches of each Debian name.
func (c *CLI) runLookupDeb(ctx context.Context, debNames []string, species string, caseSensitive bool) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	store, err := c.openStore(cfg)
	if err != nil {
		return err
	}

	missing := 0
	for _, deb := range debNames {
		recs, err := store.LookupDeb(deb, species, caseSensitive)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			printWarning("%s: no record", deb)
			missing++
			continue
		}
		for _, r := range recs {
			printInfo("%s %s %s %s", deb, StyleDim.Render(iconArrow), StyleValue.Render(r.String()), StyleDim.Render("["+r.Tree+"]"))
		}
	}
	loggerFromContext(ctx).Debug("looked up debian names", "count", len(debNames), "missing", missing)

	if missing > 0 {
		return errors.New(errors.ErrCodeNotFound, "%d of %d names have no record", missing, len(debNames))
	}
	return nil
}
