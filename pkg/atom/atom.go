// Package atom models package identities and dependency atoms of an ebuild
// repository.
//
// A [CPV] is a concrete candidate: category, package name and version
// ("dev-libs/openssl-1.0.2-r1"). An atom is the version-less "category/name"
// family. A [Dep] is a dependency constraint as written in DEPEND/RDEPEND or
// on a command line (">=dev-libs/openssl-1.0.2:0", "!<sys-apps/foo-2").
package atom

import (
	"fmt"
	"strings"

	"github.com/matzehuels/portkeeper/pkg/errors"
	"github.com/matzehuels/portkeeper/pkg/version"
)

// CPV identifies one concrete package version. The zero value means "none".
type CPV struct {
	Category string
	Name     string
	Version  string // includes the revision, e.g. "1.2-r1"
}

// ParseCPV parses "category/name-version".
//
// The version starts after the last hyphen that is followed by a digit, so
// package names containing hyphens ("foo-bar2-1.0") split correctly.
func ParseCPV(s string) (CPV, error) {
	cat, pf, ok := strings.Cut(s, "/")
	if !ok || cat == "" || strings.Contains(pf, "/") {
		return CPV{}, errors.New(errors.ErrCodeInvalidAtom, "not a category/name-version: %q", s)
	}
	name, ver, ok := SplitPF(pf)
	if !ok {
		return CPV{}, errors.New(errors.ErrCodeInvalidAtom, "no version in %q", s)
	}
	return CPV{Category: cat, Name: name, Version: ver}, nil
}

// MustParseCPV is like ParseCPV but panics on error. Intended for tests and
// static data.
func MustParseCPV(s string) CPV {
	c, err := ParseCPV(s)
	if err != nil {
		panic(err)
	}
	return c
}

// SplitPF splits "name-version" at the last hyphen followed by a digit.
func SplitPF(pf string) (name, ver string, ok bool) {
	for i := len(pf) - 2; i > 0; i-- {
		if pf[i] == '-' && pf[i+1] >= '0' && pf[i+1] <= '9' {
			return pf[:i], pf[i+1:], true
		}
	}
	return "", "", false
}

// String returns "category/name-version".
func (c CPV) String() string {
	if c.IsZero() {
		return ""
	}
	return c.Category + "/" + c.PF()
}

// PF returns "name-version".
func (c CPV) PF() string { return c.Name + "-" + c.Version }

// Atom returns the version-less "category/name".
func (c CPV) Atom() string { return c.Category + "/" + c.Name }

// IsZero reports whether c is the zero value.
func (c CPV) IsZero() bool { return c == CPV{} }

// Compare orders candidates by atom, then by version (ascending).
func Compare(a, b CPV) int {
	if c := strings.Compare(a.Atom(), b.Atom()); c != 0 {
		return c
	}
	return version.Compare(a.Version, b.Version)
}

// SplitAtom splits "category/name" and validates its shape.
func SplitAtom(s string) (category, name string, err error) {
	category, name, ok := strings.Cut(s, "/")
	if !ok || category == "" || name == "" || strings.Contains(name, "/") {
		return "", "", errors.New(errors.ErrCodeInvalidAtom, "not a category/name atom: %q", s)
	}
	return category, name, nil
}

// Op is a version operator of a dependency atom.
type Op string

// Version operators.
const (
	OpNone  Op = ""
	OpEq    Op = "="
	OpGlob  Op = "=*" // "=cat/pkg-1.2*": version prefix match
	OpTilde Op = "~"  // any revision of the version
	OpGe    Op = ">="
	OpGt    Op = ">"
	OpLe    Op = "<="
	OpLt    Op = "<"
)

// Dep is a parsed dependency atom.
type Dep struct {
	Raw      string
	Blocker  int // 0, 1 ("!") or 2 ("!!")
	Op       Op
	Category string
	Name     string
	Version  string
	Slot     string // "" when unconstrained
	SubSlot  string
	Repo     string
}

// ParseDep parses a dependency atom. USE dependencies ("[foo,-bar]") and
// slot operators (":=" and ":*") are accepted and ignored for matching.
func ParseDep(s string) (Dep, error) {
	d := Dep{Raw: s}
	rest := s
	switch {
	case strings.HasPrefix(rest, "!!"):
		d.Blocker, rest = 2, rest[2:]
	case strings.HasPrefix(rest, "!"):
		d.Blocker, rest = 1, rest[1:]
	}
	for _, op := range []Op{OpGe, OpLe, OpEq, OpTilde, OpGt, OpLt} {
		if strings.HasPrefix(rest, string(op)) {
			d.Op, rest = op, rest[len(op):]
			break
		}
	}
	if i := strings.IndexByte(rest, '['); i >= 0 {
		if !strings.HasSuffix(rest, "]") {
			return Dep{}, errors.New(errors.ErrCodeInvalidAtom, "unterminated USE dependency in %q", s)
		}
		rest = rest[:i]
	}
	if i := strings.Index(rest, "::"); i >= 0 {
		d.Repo, rest = rest[i+2:], rest[:i]
	}
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		slot := strings.TrimRight(rest[i+1:], "=*")
		d.Slot, d.SubSlot, _ = strings.Cut(slot, "/")
		rest = rest[:i]
	}

	if d.Op == OpNone {
		cat, name, err := SplitAtom(rest)
		if err != nil {
			return Dep{}, err
		}
		d.Category, d.Name = cat, name
		return d, nil
	}

	if d.Op == OpEq && strings.HasSuffix(rest, "*") {
		d.Op, rest = OpGlob, strings.TrimSuffix(rest, "*")
	}
	c, err := ParseCPV(rest)
	if err != nil {
		return Dep{}, fmt.Errorf("parse %q: %w", s, err)
	}
	d.Category, d.Name, d.Version = c.Category, c.Name, c.Version
	return d, nil
}

// Atom returns the dependency's "category/name".
func (d Dep) Atom() string { return d.Category + "/" + d.Name }

// Matches reports whether candidate c satisfies the atom and version
// constraint. Slots are not checked; see MatchesSlot.
func (d Dep) Matches(c CPV) bool {
	if c.Category != d.Category || c.Name != d.Name {
		return false
	}
	switch d.Op {
	case OpNone:
		return true
	case OpEq:
		return version.StripZeroRevision(c.Version) == version.StripZeroRevision(d.Version)
	case OpGlob:
		return strings.HasPrefix(c.Version, d.Version)
	case OpTilde:
		cb, _ := version.SplitRevision(c.Version)
		db, _ := version.SplitRevision(d.Version)
		return cb == db
	}
	// "1.0-r0" and "1.0" are the same version.
	cmp := version.Compare(version.StripZeroRevision(c.Version), version.StripZeroRevision(d.Version))
	switch d.Op {
	case OpGe:
		return cmp >= 0
	case OpGt:
		return cmp > 0
	case OpLe:
		return cmp <= 0
	case OpLt:
		return cmp < 0
	}
	return false
}

// MatchesSlot reports whether a candidate in slot satisfies the slot
// constraint. An unknown slot ("") never excludes a candidate.
func (d Dep) MatchesSlot(slot string) bool {
	if d.Slot == "" || slot == "" {
		return true
	}
	s, _, _ := strings.Cut(slot, "/")
	return s == d.Slot
}

// MatchFromList returns the candidates of list satisfying d, in list order.
func MatchFromList(d Dep, list []CPV) []CPV {
	var out []CPV
	for _, c := range list {
		if d.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}
