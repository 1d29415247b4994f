// Package pkg provides the libraries behind portkeeper, a maintenance tool for
// curated ebuild trees.
//
// # Overview
//
// A curated tree is a set of repository segments (a main ebuild tree and
// overlays) together with a package record store, an INI file holding the
// per-version metadata maintainers curate by hand: CPE identifiers, Debian
// naming suffixes and priorities per species, last-checked dates.
//
// The libraries are layered:
//
//  1. [version], [atom] and [depexpr] - version ordering, package identities,
//     dependency atoms and dependency expressions
//  2. [portage] - the repository query capability: a multi-profile view over
//     an ebuild tree's metadata cache, indexed in bbolt
//  3. [pkgdb] - the record store: load, save, rescan and merge, plus the
//     auxiliary spec index that derives naming suffixes and priorities
//  4. [equalize] and [closure] - tree equalization and dependency closure
//     resolution, both on top of the query capability
//  5. [errors], [cache], [observability] and [buildinfo] - shared
//     infrastructure
//
// # Data Flow
//
//	ebuild tree + md5-cache
//	         ↓
//	    [portage] Tree (visibility, best candidates, aux metadata)
//	         ↓                      ↓
//	    [pkgdb] Rescan         [equalize] / [closure]
//	         ↓
//	    all.conf (record store)
//
// # Quick Start
//
// Equalize one package and rebuild the store:
//
//	tree, _ := portage.Open(portage.Options{
//	    Root:     "/srv/clip/portage",
//	    Profiles: []portage.Profile{{Name: "amd64", Arch: "amd64"}},
//	})
//	defer tree.Close()
//
//	eq, _ := equalize.New(tree, equalize.Options{Root: tree.Root()})
//	sum, _ := eq.Run(ctx, []string{"dev-libs/openssl"})
//	fmt.Println(strings.Join(sum.Lines(), "\n"))
//
//	store, _ := pkgdb.Open("/srv/clip/pkgdb/all.conf", nil)
//	_, _ = store.Rescan(ctx, pkgdb.RescanOptions{
//	    Workdir:    "/srv/clip",
//	    Trees:      []string{"portage", "portage-overlay"},
//	    Inspectors: map[string]pkgdb.Inspector{"portage": tree},
//	})
//	_ = store.Save()
//
// [version]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/version
// [atom]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/atom
// [depexpr]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/depexpr
// [portage]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/portage
// [pkgdb]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/pkgdb
// [equalize]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/equalize
// [closure]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/closure
// [errors]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/errors
// [cache]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/cache
// [observability]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/observability
// [buildinfo]: https://pkg.go.dev/github.com/matzehuels/portkeeper/pkg/buildinfo
package pkg
