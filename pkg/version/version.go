// Package version implements the lenient total order used for package
// versions throughout portkeeper.
//
// Versions that follow the ebuild version grammar (digits separated by dots,
// an optional letter, _alpha/_beta/_pre/_rc/_p suffixes and a -rN revision)
// are compared with Gentoo semantics. Anything else falls back to a loose
// comparison: the string is cut into numeric runs and non-numeric runs,
// numeric runs compare numerically, other runs compare lexically, and a
// numeric run sorts before a non-numeric one. A version that is a prefix of
// another sorts first.
//
// Ties are broken by plain string comparison so the order is total, which
// keeps sorted output deterministic.
package version

import (
	"regexp"
	"slices"
	"strings"

	apk "github.com/knqyf263/go-apk-version"
)

// Compare returns -1 if a sorts before b, +1 if after, 0 if identical.
func Compare(a, b string) int {
	if a == b {
		return 0
	}
	va, errA := apk.NewVersion(a)
	vb, errB := apk.NewVersion(b)
	if errA == nil && errB == nil {
		switch {
		case va.LessThan(vb):
			return -1
		case vb.LessThan(va):
			return 1
		}
	}
	if c := Loose(a, b); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// Less reports whether a sorts strictly before b.
func Less(a, b string) bool { return Compare(a, b) < 0 }

// Loose compares a and b with the loose numeric-run rule only.
func Loose(a, b string) int {
	ca, cb := components(a), components(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if c := ca[i].compare(cb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(ca) < len(cb):
		return -1
	case len(ca) > len(cb):
		return 1
	}
	return 0
}

// SortDescending sorts versions newest first.
func SortDescending(vs []string) {
	slices.SortStableFunc(vs, func(a, b string) int { return Compare(b, a) })
}

var revisionRegex = regexp.MustCompile(`-r([0-9]+)$`)

// SplitRevision splits "1.2-r3" into ("1.2", "r3"). A version without an
// explicit revision has revision "r0".
func SplitRevision(v string) (base, rev string) {
	m := revisionRegex.FindStringSubmatchIndex(v)
	if m == nil {
		return v, "r0"
	}
	return v[:m[0]], "r" + v[m[2]:m[3]]
}

// StripZeroRevision drops an explicit "-r0" suffix: "1.2-r0" becomes "1.2".
func StripZeroRevision(v string) string {
	base, rev := SplitRevision(v)
	if rev == "r0" {
		return base
	}
	return v
}

type component struct {
	digits bool
	s      string
}

func (c component) compare(o component) int {
	switch {
	case c.digits && o.digits:
		return compareNumeric(c.s, o.s)
	case c.digits:
		return -1
	case o.digits:
		return 1
	}
	return strings.Compare(c.s, o.s)
}

// components cuts v into numeric and non-numeric runs; dots only separate.
func components(v string) []component {
	var out []component
	for len(v) > 0 {
		if v[0] == '.' {
			v = v[1:]
			continue
		}
		digits := isDigit(v[0])
		n := 1
		for n < len(v) && v[n] != '.' && isDigit(v[n]) == digits {
			n++
		}
		out = append(out, component{digits: digits, s: v[:n]})
		v = v[n:]
	}
	return out
}

// compareNumeric compares two digit strings of any length as numbers.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
