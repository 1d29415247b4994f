// Package closure expands dependency expressions into the flat set of
// packages they transitively need.
//
// Leaves satisfied by the curated record store are taken as complete: they
// are marked seen and not expanded, since a curated package already carries
// its own dependencies. Every other leaf is resolved to the best visible
// candidate of the live repository and expanded through its DEPEND and
// RDEPEND; a leaf with no visible candidate yields an unresolved marker so
// callers can report unmet dependencies.
//
// Blockers are ignored. Any-of groups are approximated by expanding every
// alternative.
package closure

import (
	"iter"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/depexpr"
	"github.com/matzehuels/portkeeper/pkg/portage"
)

// Status tells resolved markers from unresolved ones.
type Status int

const (
	Resolved Status = iota
	Unresolved
)

func (s Status) String() string {
	if s == Resolved {
		return "resolved"
	}
	return "unresolved"
}

// Marker is one element of a closure: a concrete package of the live
// repository, or a dependency expression nothing satisfies.
type Marker struct {
	Status Status
	CPV    atom.CPV // set when Resolved
	Expr   string   // set when Unresolved
}

// Found returns a resolved marker.
func Found(cpv atom.CPV) Marker { return Marker{Status: Resolved, CPV: cpv} }

// NotFound returns an unresolved marker.
func NotFound(expr string) Marker { return Marker{Status: Unresolved, Expr: expr} }

func (m Marker) String() string {
	if m.Status == Resolved {
		return m.CPV.String()
	}
	return m.Expr
}

// Seen is the set of markers already produced or satisfied. Share one Seen
// across calls to avoid reprocessing packages in a larger walk.
type Seen map[Marker]struct{}

// Has reports whether m is in the set.
func (s Seen) Has(m Marker) bool {
	_, ok := s[m]
	return ok
}

// Add inserts m.
func (s Seen) Add(m Marker) { s[m] = struct{}{} }

// Repository is the live side of the resolution.
// *portage.Tree implements it.
type Repository interface {
	BestVisible(expr string) (atom.CPV, error)
	AuxInfo(cpv atom.CPV, fields ...string) ([]string, error)
}

// Store is the curated side of the resolution.
// *pkgdb.Store implements it.
type Store interface {
	Match(expr string) ([]atom.CPV, error)
}

// Resolver computes dependency closures.
type Resolver struct {
	Repo Repository
	// Store is optional; without it every leaf is resolved live.
	Store Store
	// UseAll follows every USE-conditional group. Otherwise only groups
	// whose flag is in Use are followed.
	UseAll bool
	Use    []string
	Logger *log.Logger
}

func (r *Resolver) logger() *log.Logger {
	if r.Logger == nil {
		return log.Default()
	}
	return r.Logger
}

// Closure yields the markers reachable from nodes, depth first, skipping any
// marker already in seen and adding every yielded or store-satisfied marker
// to it. A nil seen uses a fresh set per iteration.
func (r *Resolver) Closure(nodes []depexpr.Node, seen Seen) iter.Seq[Marker] {
	return func(yield func(Marker) bool) {
		if seen == nil {
			seen = Seen{}
		}
		r.walk(nodes, seen, yield)
	}
}

func (r *Resolver) walk(nodes []depexpr.Node, seen Seen, yield func(Marker) bool) bool {
	for _, n := range nodes {
		switch {
		case n.Kind == depexpr.Group:
			if !r.walk(n.Children, seen, yield) {
				return false
			}
			continue
		case n.Kind == depexpr.AnyOf, n.IsBlocker():
			continue
		}

		m, ok := r.resolve(n.Value, seen)
		if !ok || seen.Has(m) {
			continue
		}
		seen.Add(m)
		if !yield(m) {
			return false
		}
		if m.Status != Resolved {
			continue
		}
		deps, err := r.Dependencies(m.CPV)
		if err != nil {
			r.logger().Warn("not expanding dependencies", "cpv", m.CPV, "err", err)
			continue
		}
		if !r.walk(deps, seen, yield) {
			return false
		}
	}
	return true
}

// resolve maps a leaf to its marker. It reports false when the curated store
// satisfies the leaf, after marking the matching records seen.
func (r *Resolver) resolve(expr string, seen Seen) (Marker, bool) {
	if r.Store != nil {
		local, err := r.Store.Match(expr)
		if err != nil {
			r.logger().Warn("store lookup failed", "dep", expr, "err", err)
		}
		if len(local) > 0 {
			for _, cpv := range local {
				seen.Add(Found(cpv))
			}
			return Marker{}, false
		}
	}

	best, err := r.Repo.BestVisible(expr)
	if err != nil {
		r.logger().Warn("cannot resolve dependency", "dep", expr, "err", err)
		return NotFound(expr), true
	}
	if best.IsZero() {
		return NotFound(expr), true
	}
	return Found(best), true
}

// Dependencies returns the parsed DEPEND and RDEPEND of cpv.
func (r *Resolver) Dependencies(cpv atom.CPV) ([]depexpr.Node, error) {
	vals, err := r.Repo.AuxInfo(cpv, portage.KeyDepend, portage.KeyRDepend)
	if err != nil {
		return nil, err
	}
	return depexpr.Parse(strings.Join(vals, " "), depexpr.Options{MatchAll: r.UseAll, Use: r.Use})
}
