package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/portkeeper/pkg/cache"
	"github.com/matzehuels/portkeeper/pkg/errors"
	"github.com/matzehuels/portkeeper/pkg/pkgdb"
)

// showCommand creates the show command.
func (c *CLI) showCommand() *cobra.Command {
	var noSpecs bool

	cmd := &cobra.Command{
		Use:   "show <category/name | name>",
		Short: "Show the stored records of a package",
		Long: `Show every stored record of a package and the auxiliary specs that mention it.

A bare name matches that package name in every category.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runShow(cmd.Context(), args[0], noSpecs)
		},
	}

	cmd.Flags().BoolVar(&noSpecs, "no-specs", false, "skip loading the auxiliary specs")

	return cmd
}

// runShow prints the records of one package.
func (c *CLI) runShow(ctx context.Context, arg string, noSpecs bool) error {
	if err := errors.ValidateAtom(arg); err != nil {
		return err
	}
	cfg, err := c.config()
	if err != nil {
		return err
	}
	store, err := c.openStore(cfg)
	if err != nil {
		return err
	}

	category, name, qualified := strings.Cut(arg, "/")
	if !qualified {
		name, category = category, ""
	}
	var recs []*pkgdb.Record
	for _, r := range store.SearchNames(name) {
		if category == "" || r.Category == category {
			recs = append(recs, r)
		}
	}
	if len(recs) == 0 {
		return errors.New(errors.ErrCodeNotFound, "no record of %s in %s", arg, store.Path())
	}

	for i, r := range recs {
		if i > 0 {
			printNewline()
		}
		printRecord(r)
	}

	if noSpecs {
		return nil
	}
	sc := c.specCache()
	defer sc.Close()
	specs, err := pkgdb.LoadSpecs(ctx, pkgdb.SpecOptions{
		Dir:          cfg.SpecsPath(),
		SpeciesGlob:  cfg.SpeciesGlob,
		Preprocessor: cfg.Preprocessor,
		Cache:        sc,
		Keyer:        specKeyer(cfg),
		Logger:       loggerFromContext(ctx),
	})
	if err != nil {
		return err
	}
	var refs []string
	for _, a := range uniqueAtoms(recs) {
		refs = append(refs, specs.Referencing(a)...)
	}
	printNewline()
	if len(refs) == 0 {
		printInfo("Not referenced by any spec")
		return nil
	}
	printInfo("Referenced by")
	for _, ref := range refs {
		printDetail("%s", ref)
	}
	return nil
}

// specCache returns the file cache, or a null cache when it is unavailable.
func (c *CLI) specCache() cache.Cache {
	fc, err := newCache(false)
	if err != nil {
		c.Logger.Debug("spec cache unavailable", "err", err)
		return cache.NewNullCache()
	}
	return fc
}

func printRecord(r *pkgdb.Record) {
	fmt.Fprintln(stdout, StyleTitle.Render(r.String())+" "+StyleDim.Render("["+r.Section+"]"))
	printKeyValue("Tree", r.Tree)
	slot := r.Slot
	if slot == "" {
		slot = "-"
	}
	printKeyValue("Slot", slot)
	if r.Masked {
		printKeyValue("Masked", styleMasked.Render("yes"))
	}
	if r.Broken {
		printKeyValue("Broken", styleMasked.Render("yes"))
	}
	if !r.LastChecked.IsZero() {
		printKeyValue("Checked", r.LastChecked.Format(pkgdb.TimeFormat))
	}
	if len(r.CPEs) > 0 {
		printKeyValue("CPEs", strings.Join(r.SortedCPEs(), " "))
	}
	for _, species := range slices.Sorted(maps.Keys(r.DebSuffixes)) {
		printKeyValue("Suffix", species+": "+strings.Join(r.DebSuffixes[species], " "))
	}
	for _, species := range slices.Sorted(maps.Keys(r.Priority)) {
		printKeyValue("Priority", species+": "+strings.Join(r.Priority[species], " "))
	}
	for _, f := range r.Extra {
		printKeyValue(f.Key, f.Value)
	}
}

func uniqueAtoms(recs []*pkgdb.Record) []string {
	var out []string
	for _, r := range recs {
		if !slices.Contains(out, r.Atom()) {
			out = append(out, r.Atom())
		}
	}
	return out
}
