// Package equalize rewrites the file layout of an ebuild tree so that only
// the best visible version of each slot remains, under names that keep
// version-control diffs small.
//
// Each retained ebuild is renamed to a hidden canonical file
// ".<name>.ebuild.<N>", where N is its position in descending version order,
// and a symlink with the original visible name points to it. When a newer
// version replaces the best one, only that symlink changes; the hidden files
// of older versions keep their names. Ebuilds already replaced by a symlink
// are left alone, so a second run on an unchanged tree does nothing.
//
// Atoms with no visible version at all lose their whole package directory.
//
// Every mutation is confined beneath the tree root; attempts to touch paths
// outside it are PROTECTED_PATH errors and are skipped.
package equalize

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/errors"
	"github.com/matzehuels/portkeeper/pkg/observability"
	"github.com/matzehuels/portkeeper/pkg/version"
)

// Repository is the query capability the equalizer needs.
// *portage.Tree implements it.
type Repository interface {
	AllAtoms() ([]string, error)
	MatchAll(expr string) ([]atom.CPV, error)
	MatchVisible(expr string) ([]atom.CPV, error)
	BestVisibleSet(expr string) ([]atom.CPV, error)
	AuxInfo(cpv atom.CPV, fields ...string) ([]string, error)
	Locate(cpv atom.CPV) (string, error)
}

// Options configures an Equalizer.
type Options struct {
	// Root is the tree directory; no file outside it is modified.
	Root string
	// DryRun logs and tallies every mutation without performing it.
	DryRun bool
	Logger *log.Logger
}

// Equalizer equalizes atoms of one tree.
type Equalizer struct {
	repo   Repository
	fs     *guard
	logger *log.Logger
}

// New creates an Equalizer for repo.
func New(repo Repository, opts Options) (*Equalizer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	fs, err := newGuard(opts.Root, opts.DryRun, logger)
	if err != nil {
		return nil, err
	}
	return &Equalizer{repo: repo, fs: fs, logger: logger}, nil
}

// Run equalizes atoms, or every atom of the tree when atoms is empty.
// Per-atom failures, including filesystem errors on one package directory,
// are logged and counted as skips. A stale metadata cache or a cancelled
// context aborts the run.
func (e *Equalizer) Run(ctx context.Context, atoms []string) (sum *Summary, err error) {
	if len(atoms) == 0 {
		all, err := e.repo.AllAtoms()
		if err != nil {
			return nil, err
		}
		atoms = all
	}

	start := time.Now()
	observability.Operation().OnEqualizeStart(ctx, len(atoms))
	sum = &Summary{}
	defer func() {
		observability.Operation().OnEqualizeComplete(ctx, len(atoms), sum.Skipped, time.Since(start), err)
	}()
	for i, a := range atoms {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		e.logger.Info("equalizing", "progress", fmt.Sprintf("%d/%d", i+1, len(atoms)), "atom", a)
		if err := e.Atom(a, sum); err != nil {
			if errors.IsRecoverable(err) || errors.Is(err, errors.ErrCodeInternal) {
				e.logger.Warn("skipping atom", "atom", a, "err", err)
				sum.Skipped++
				continue
			}
			return sum, err
		}
	}
	return sum, nil
}

// Atom equalizes a single "category/name" atom, adding to sum.
func (e *Equalizer) Atom(a string, sum *Summary) error {
	groups, err := SlotIndex(e.repo, a)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return e.removePackage(a, sum)
	}

	var retained []atom.CPV
	for _, g := range groups {
		for _, cpv := range g.Best {
			e.logger.Debug("found", "cpv", cpv, "slot", g.Slot)
			if !slices.Contains(retained, cpv) {
				retained = append(retained, cpv)
			}
		}
	}
	path, err := e.repo.Locate(retained[0])
	if err != nil {
		return err
	}
	if path == "" {
		e.logger.Warn("package directory not found", "atom", a)
		sum.Skipped++
		return nil
	}
	return e.equalizeDir(filepath.Dir(path), retained, sum)
}

// removePackage deletes the directory of an atom without visible versions.
func (e *Equalizer) removePackage(a string, sum *Summary) error {
	all, err := e.repo.MatchAll(a)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return errors.New(errors.ErrCodeStaleCache,
			"%s is missing from the metadata cache; regenerate it (egencache --update) for this tree", a)
	}
	cpv := all[len(all)-1]
	path, err := e.repo.Locate(cpv)
	if err != nil {
		return err
	}
	if path == "" {
		e.logger.Debug("package directory already gone", "atom", a)
		return nil
	}
	dir := filepath.Dir(path)
	if err := e.fs.removeAll(dir); err != nil {
		if errors.Is(err, errors.ErrCodeProtectedPath) {
			e.logger.Debug("skipping package directory for deletion", "dir", dir, "err", err)
			return nil
		}
		return errors.Wrap(errors.ErrCodeInternal, err, "remove %s", dir)
	}
	sum.RemovedPackages = addSorted(sum.RemovedPackages, cpv.Atom())
	return nil
}

// visibleName is the ebuild base name of cpv without a "-r0" revision.
func visibleName(cpv atom.CPV) string {
	return cpv.Name + "-" + version.StripZeroRevision(cpv.Version)
}

func hiddenName(name string, i int) string {
	return fmt.Sprintf(".%s.ebuild.%d", name, i)
}

func (e *Equalizer) equalizeDir(dir string, retained []atom.CPV, sum *Summary) error {
	e.logger.Debug("working in", "dir", dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "read %s", dir)
	}
	name := retained[0].Name

	keep := make(map[string]bool, len(retained))
	for _, cpv := range retained {
		keep[visibleName(cpv)] = true
	}

	// Prune ebuilds (and their symlinks) that are no longer retained.
	// Hidden files behind pruned symlinks belong to dropped versions.
	released := make(map[string]bool)
	for _, ent := range entries {
		head, ok := strings.CutSuffix(ent.Name(), ".ebuild")
		if !ok || ent.IsDir() || keepsHead(keep, head) {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		if target, err := os.Readlink(path); err == nil {
			released[filepath.Base(target)] = true
		}
		if err := e.fs.remove(path); err != nil {
			if errors.Is(err, errors.ErrCodeProtectedPath) {
				e.logger.Warn("skipping file for deletion", "path", path, "err", err)
				continue
			}
			return errors.Wrap(errors.ErrCodeInternal, err, "remove %s", path)
		}
		sum.RemovedEbuilds = addSorted(sum.RemovedEbuilds, head)
	}

	// Hidden files still referenced by retained symlinks keep their names.
	claimed := make(map[string]bool)
	for _, cpv := range retained {
		link := filepath.Join(dir, visibleName(cpv)+".ebuild")
		if target, err := os.Readlink(link); err == nil {
			claimed[filepath.Base(target)] = true
		}
	}

	slices.SortFunc(retained, func(a, b atom.CPV) int { return version.Compare(b.Version, a.Version) })
	for i, cpv := range retained {
		if err := e.canonicalize(dir, cpv, i, claimed, released, sum); err != nil {
			return err
		}
	}

	// Hidden files nothing points to anymore.
	orphan := regexp.MustCompile(`^\.` + regexp.QuoteMeta(name) + `\.ebuild\.[0-9]+$`)
	for _, ent := range entries {
		if ent.IsDir() || !orphan.MatchString(ent.Name()) || claimed[ent.Name()] {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		if err := e.fs.remove(path); err != nil {
			if errors.Is(err, errors.ErrCodeProtectedPath) {
				e.logger.Warn("skipping hidden file for deletion", "path", path, "err", err)
				continue
			}
			return errors.Wrap(errors.ErrCodeInternal, err, "remove %s", path)
		}
		sum.RemovedHidden = addSorted(sum.RemovedHidden, ent.Name())
	}
	return nil
}

// keepsHead reports whether an ebuild base name belongs to a retained
// version, treating "foo-1.0-r0" and "foo-1.0" alike.
func keepsHead(keep map[string]bool, head string) bool {
	if keep[head] {
		return true
	}
	n, v, ok := atom.SplitPF(head)
	return ok && keep[n+"-"+version.StripZeroRevision(v)]
}

// canonicalize moves the ebuild of cpv at ordinal i to its hidden name and
// links the visible name to it.
func (e *Equalizer) canonicalize(dir string, cpv atom.CPV, i int, claimed, released map[string]bool, sum *Summary) error {
	visible := filepath.Join(dir, visibleName(cpv)+".ebuild")
	fi, err := os.Lstat(visible)
	if err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return nil // already equalized
	}

	hidden := hiddenName(cpv.Name, i)
	for j := 0; claimed[hidden]; j++ {
		hidden = hiddenName(cpv.Name, j)
	}
	hiddenPath := filepath.Join(dir, hidden)

	src := ""
	for _, cand := range []string{visible, filepath.Join(dir, cpv.PF()+".ebuild")} {
		if fi, err := os.Lstat(cand); err == nil && fi.Mode().IsRegular() {
			src = cand
			break
		}
	}

	switch {
	case src != "":
		if err := e.fs.rename(src, hiddenPath); err != nil {
			return e.skipOrFail(err, "skipping ebuild for move", src, hidden, sum)
		}
	case fileExists(hiddenPath):
		// Interrupted between rename and symlink, unless the file is left
		// over from another version.
		ok, err := e.recipeOf(cpv, hiddenPath)
		if err != nil {
			return err
		}
		if !ok || released[hidden] {
			e.logger.Warn("hidden ebuild belongs to another version", "cpv", cpv, "hidden", hidden)
			sum.Skipped++
			return nil
		}
		e.logger.Info("repairing half-equalized ebuild", "cpv", cpv, "hidden", hidden)
	default:
		e.logger.Warn("retained ebuild is missing", "cpv", cpv, "dir", dir)
		sum.Skipped++
		return nil
	}

	if err := e.fs.symlink(hidden, visible); err != nil {
		return e.skipOrFail(err, "skipping ebuild for symlink", visible, hidden, sum)
	}
	claimed[hidden] = true
	sum.Symlinked++
	return nil
}

func (e *Equalizer) skipOrFail(err error, msg, src, dst string, sum *Summary) error {
	if errors.Is(err, errors.ErrCodeProtectedPath) {
		e.logger.Warn(msg, "src", src, "dst", dst, "err", err)
		sum.Skipped++
		return nil
	}
	return errors.Wrap(errors.ErrCodeInternal, err, "%s -> %s", src, dst)
}

// recipeOf reports whether the file at path is the recipe the metadata cache
// describes for cpv. Cache entries without an _md5_ checksum accept any file.
func (e *Equalizer) recipeOf(cpv atom.CPV, path string) (bool, error) {
	vals, err := e.repo.AuxInfo(cpv, "_md5_")
	if err != nil {
		return false, err
	}
	if vals[0] == "" {
		return true, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, err, "read %s", path)
	}
	sum := md5.Sum(data)
	return strings.EqualFold(hex.EncodeToString(sum[:]), vals[0]), nil
}

func fileExists(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode().IsRegular()
}
