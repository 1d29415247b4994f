package equalize

import (
	"fmt"
	"slices"
	"strings"
)

// Summary tallies the effect of one equalization run.
type Summary struct {
	RemovedEbuilds  []string // "name-version", sorted
	RemovedPackages []string // "category/name", sorted
	RemovedHidden   []string // orphaned ".name.ebuild.N" files, sorted
	Symlinked       int
	Skipped         int
}

func addSorted(set []string, v string) []string {
	i, found := slices.BinarySearch(set, v)
	if found {
		return set
	}
	return slices.Insert(set, i, v)
}

// Empty reports whether the run changed nothing and skipped nothing.
func (s *Summary) Empty() bool {
	return len(s.RemovedEbuilds) == 0 && len(s.RemovedPackages) == 0 &&
		len(s.RemovedHidden) == 0 && s.Symlinked == 0 && s.Skipped == 0
}

// Lines renders the summary, e.g. "2 removed ebuilds: foo-1 foo-2".
func (s *Summary) Lines() []string {
	lines := []string{
		plural("removed ebuild", len(s.RemovedEbuilds), s.RemovedEbuilds),
		plural("removed package", len(s.RemovedPackages), s.RemovedPackages),
		plural("symlinked ebuild", s.Symlinked, nil),
	}
	if len(s.RemovedHidden) > 0 {
		lines = append(lines, plural("removed hidden file", len(s.RemovedHidden), s.RemovedHidden))
	}
	if s.Skipped > 0 {
		lines = append(lines, plural("skipped item", s.Skipped, nil))
	}
	return lines
}

func plural(name string, n int, elems []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", n, name)
	if n > 1 {
		b.WriteByte('s')
	}
	if len(elems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(elems, " "))
	}
	return b.String()
}
