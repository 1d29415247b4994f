package cli

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/portkeeper/pkg/closure"
	"github.com/matzehuels/portkeeper/pkg/depexpr"
)

// depsCommand creates the deps command.
func (c *CLI) depsCommand() *cobra.Command {
	var (
		asJSON  bool
		useAll  bool
		noStore bool
		use     []string
	)

	cmd := &cobra.Command{
		Use:   "deps <dependency>...",
		Short: "Resolve the dependency closure of packages",
		Long: `Resolve the transitive DEPEND and RDEPEND closure of a dependency expression.

Arguments are joined into one expression, so groups and USE conditionals can
be given as in an ebuild. Dependencies already curated in the record store are
treated as satisfied and not expanded. Blockers are ignored and every
alternative of an any-of group is followed.

Dependencies no visible candidate satisfies are reported as unresolved.`,
		Example: `  portkeeper deps dev-libs/foo
  portkeeper deps --use ssl --json '>=net-misc/curl-8' 'ipv6? ( net-libs/foo )'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &closure.Resolver{UseAll: useAll, Use: use}
			return c.runDeps(cmd.Context(), strings.Join(args, " "), r, noStore, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the closure as JSON")
	cmd.Flags().BoolVar(&useAll, "use-all", false, "follow every USE-conditional group")
	cmd.Flags().StringSliceVar(&use, "use", nil, "enabled USE flags (comma-separated or repeated)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "resolve every dependency against the tree")
	cmd.MarkFlagsMutuallyExclusive("use-all", "use")

	return cmd
}

// depEntry is one element of the JSON output.
type depEntry struct {
	Status string `json:"status"`
	CPV    string `json:"cpv,omitempty"`
	Dep    string `json:"dep,omitempty"`
}

// runDeps resolves expr and prints the closure.
func (c *CLI) runDeps(ctx context.Context, expr string, r *closure.Resolver, noStore, asJSON bool) error {
	nodes, err := depexpr.Parse(expr, depexpr.Options{MatchAll: r.UseAll, Use: r.Use})
	if err != nil {
		return err
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

	r.Repo = tree
	r.Logger = loggerFromContext(ctx)
	if !noStore {
		store, err := c.openStore(cfg)
		if err != nil {
			return err
		}
		r.Store = store
	}

	entries := []depEntry{}
	unresolved := 0
	for m := range r.Closure(nodes, nil) {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := depEntry{Status: m.Status.String()}
		if m.Status == closure.Resolved {
			e.CPV = m.CPV.String()
		} else {
			e.Dep = m.Expr
			unresolved++
		}
		entries = append(entries, e)
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		if e.CPV != "" {
			printInfo("%s", e.CPV)
		} else {
			printWarning("unresolved: %s", e.Dep)
		}
	}
	if len(entries) == 0 {
		printSuccess("Nothing to resolve; every dependency is curated")
	}
	if unresolved > 0 {
		printDetail("%d of %d dependencies unresolved", unresolved, len(entries))
	}
	return nil
}
