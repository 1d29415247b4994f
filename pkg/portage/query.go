package portage

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/errors"
)

// AllAtoms lists the package directories of the tree. Categories come from
// profiles/categories when present, otherwise from every top-level directory
// that looks like a category ("dev-libs", "virtual").
func (t *Tree) AllAtoms() ([]string, error) {
	cats, err := t.categories()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, cat := range cats {
		entries, err := os.ReadDir(filepath.Join(t.root, cat))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "list category %s", cat)
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				out = append(out, cat+"/"+e.Name())
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func (t *Tree) categories() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(t.root, "profiles", "categories"))
	if err == nil {
		return strings.Fields(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "read categories")
	}
	entries, err := os.ReadDir(t.root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "list tree")
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && (strings.Contains(e.Name(), "-") || e.Name() == "virtual") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// match returns the entries matching expr sorted by ascending version.
func (t *Tree) match(expr string) ([]entry, error) {
	d, err := atom.ParseDep(expr)
	if err != nil {
		return nil, err
	}
	if d.Blocker != 0 {
		return nil, errors.New(errors.ErrCodeInvalidAtom, "cannot match a blocker: %q", expr)
	}
	all, err := t.candidates(d.Category, d.Name)
	if err != nil {
		return nil, err
	}
	var out []entry
	for _, e := range all {
		if d.Matches(e.cpv) && d.MatchesSlot(e.meta.slot()) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b entry) int { return atom.Compare(a.cpv, b.cpv) })
	return out, nil
}

func (t *Tree) visibleTo(p Profile, e entry) bool {
	if !p.accepts(e.meta.keywords(), t.unstable) {
		return false
	}
	slot := e.meta.slot()
	return !masked(t.masks, e.cpv, slot) && !masked(p.masks, e.cpv, slot)
}

func cpvs(entries []entry) []atom.CPV {
	out := make([]atom.CPV, len(entries))
	for i, e := range entries {
		out[i] = e.cpv
	}
	return out
}

// MatchAll returns every indexed candidate matching expr, ascending.
func (t *Tree) MatchAll(expr string) ([]atom.CPV, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries, err := t.match(expr)
	if err != nil {
		return nil, err
	}
	return cpvs(entries), nil
}

// MatchVisible returns the candidates matching expr that at least one profile
// can see, ascending.
func (t *Tree) MatchVisible(expr string) ([]atom.CPV, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries, err := t.match(expr)
	if err != nil {
		return nil, err
	}
	var out []atom.CPV
	for _, e := range entries {
		for _, p := range t.profiles {
			if t.visibleTo(p, e) {
				out = append(out, e.cpv)
				break
			}
		}
	}
	return out, nil
}

// BestVisibleSet returns, for each profile, its highest visible candidate
// matching expr. The result is deduplicated and sorted newest first.
func (t *Tree) BestVisibleSet(expr string) ([]atom.CPV, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries, err := t.match(expr)
	if err != nil {
		return nil, err
	}
	var out []atom.CPV
	for _, p := range t.profiles {
		for i := len(entries) - 1; i >= 0; i-- {
			if t.visibleTo(p, entries[i]) {
				if !slices.Contains(out, entries[i].cpv) {
					out = append(out, entries[i].cpv)
				}
				break
			}
		}
	}
	slices.SortFunc(out, func(a, b atom.CPV) int { return atom.Compare(b, a) })
	return out, nil
}

// BestVisible returns the highest candidate matching expr visible to any
// profile, or the zero CPV when there is none.
func (t *Tree) BestVisible(expr string) (atom.CPV, error) {
	set, err := t.BestVisibleSet(expr)
	if err != nil || len(set) == 0 {
		return atom.CPV{}, err
	}
	return set[0], nil
}

// AuxInfo returns the metadata values of cpv for fields, in order. Unknown
// fields yield "". A candidate missing from the index is an
// INSPECTION_FAILURE.
func (t *Tree) AuxInfo(cpv atom.CPV, fields ...string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	meta, ok, err := t.lookup(cpv)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInspectionFailure, err, "inspect %s", cpv)
	}
	if !ok {
		return nil, errors.New(errors.ErrCodeInspectionFailure, "%s is not in the metadata cache", cpv)
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = meta[f]
	}
	return out, nil
}

// Locate returns "<root>/<category>/<name>/<pf>.ebuild" when the package
// directory exists in the tree, "" otherwise. The recipe file itself may be
// missing (stale cache) or be a symlink (equalized tree).
func (t *Tree) Locate(cpv atom.CPV) (string, error) {
	for _, seg := range []string{cpv.Category, cpv.Name} {
		if err := errors.ValidateSegmentName(seg); err != nil {
			return "", err
		}
	}
	dir := filepath.Join(t.root, cpv.Category, cpv.Name)
	fi, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "locate %s", cpv)
	}
	if !fi.IsDir() {
		return "", nil
	}
	return filepath.Join(dir, cpv.PF()+".ebuild"), nil
}
