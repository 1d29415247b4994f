package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/portkeeper/pkg/errors"
	"github.com/matzehuels/portkeeper/pkg/pkgdb"
	"github.com/matzehuels/portkeeper/pkg/portage"
)

// rescanCommand creates the rescan command.
func (c *CLI) rescanCommand() *cobra.Command {
	var dryRun, noCache bool

	cmd := &cobra.Command{
		Use:   "rescan",
		Short: "Rebuild the package record store from the repository segments",
		Long: `Rescan walks every configured repository segment and rebuilds the record
store: one record per ebuild with its slot, masked and broken state, CPE
identifiers from metadata.xml, last change date from version control, and the
Debian naming suffixes and priorities declared by the auxiliary specs.

Curated values survive a rescan: unknown keys are carried over, CPE sets only
grow, and last-checked dates never move backwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRescan(cmd.Context(), dryRun, noCache)
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "scan without saving the store")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "do not cache preprocessed specs")

	return cmd
}

// runRescan rebuilds and saves the store.
func (c *CLI) runRescan(ctx context.Context, dryRun, noCache bool) error {
	logger := loggerFromContext(ctx)
	cfg, err := c.config()
	if err != nil {
		return err
	}
	store, err := c.openStore(cfg)
	if err != nil {
		return err
	}
	history, err := pkgdb.NewHistory(cfg.VCS)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "vcs")
	}

	specCache, err := newCache(noCache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer specCache.Close()

	spinner := newSpinnerWithContext(ctx, "Loading specs...")
	spinner.Start()
	specs, err := pkgdb.LoadSpecs(ctx, pkgdb.SpecOptions{
		Dir:          cfg.SpecsPath(),
		SpeciesGlob:  cfg.SpeciesGlob,
		Preprocessor: cfg.Preprocessor,
		Cache:        specCache,
		Keyer:        specKeyer(cfg),
		Logger:       logger,
	})
	if err != nil {
		spinner.StopWithError("Loading specs failed")
		return err
	}
	spinner.Stop()

	inspectors, closeAll := c.openInspectors(cfg, logger)
	defer closeAll()

	prog := newProgress(logger)
	sum, err := store.Rescan(ctx, pkgdb.RescanOptions{
		Workdir:    cfg.Root,
		Trees:      cfg.Trees,
		Inspectors: inspectors,
		History:    history,
		Specs:      specs,
	})
	if err != nil {
		return err
	}
	prog.done("Rescan finished")

	if !dryRun {
		if err := store.Save(); err != nil {
			return err
		}
	}

	printSuccess("Rescanned %d records", sum.Records)
	printStats(
		fmt.Sprintf("%d masked", sum.Masked),
		fmt.Sprintf("%d broken", sum.Broken),
		fmt.Sprintf("%d dated", sum.Dated),
		fmt.Sprintf("%d spec documents", specs.Len()),
	)
	if dryRun {
		printDryRun()
		return nil
	}
	printFile(store.Path())
	return nil
}

// openInspectors opens a repository session per segment that has a metadata
// cache. Segments without one are scanned without inspection.
func (c *CLI) openInspectors(cfg *Config, logger *log.Logger) (map[string]pkgdb.Inspector, func()) {
	inspectors := make(map[string]pkgdb.Inspector)
	var trees []*portage.Tree
	for _, seg := range cfg.Trees {
		tree, err := c.openSegment(cfg, filepath.Join(cfg.Root, seg))
		if err != nil {
			logger.Warn("segment will not be inspected", "segment", seg, "err", err)
			continue
		}
		inspectors[seg] = tree
		trees = append(trees, tree)
	}
	return inspectors, func() {
		for _, t := range trees {
			t.Close()
		}
	}
}
