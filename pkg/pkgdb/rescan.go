package pkgdb

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/errors"
	"github.com/matzehuels/portkeeper/pkg/observability"
	"github.com/matzehuels/portkeeper/pkg/portage"
)

// Inspector is the part of the repository session a rescan needs.
// *portage.Tree implements it.
type Inspector interface {
	AuxInfo(cpv atom.CPV, fields ...string) ([]string, error)
	MatchVisible(expr string) ([]atom.CPV, error)
	// Reset re-acquires the session after a failed inspection.
	Reset() error
}

// RescanOptions configures Store.Rescan.
type RescanOptions struct {
	// Workdir contains the repository segments.
	Workdir string
	// Trees names the segments to scan, in order.
	Trees []string
	// Inspectors maps a segment to its repository session. Records of a
	// segment without one get no slot, broken or masked information.
	Inspectors map[string]Inspector
	// History provides last-checked dates. Optional.
	History History
	// Specs provides suffix and priority tokens. Optional.
	Specs *SpecIndex
}

// RescanSummary counts what a rescan observed.
type RescanSummary struct {
	Records int
	Broken  int
	Masked  int
	Dated   int // records with a last-checked date from history
}

// Rescan rebuilds the records from the repository segments and merges them
// into the store (see [Store.Merge]). Per-package inspection failures are
// recorded as broken and never abort the pass. The store is not saved.
func (s *Store) Rescan(ctx context.Context, opts RescanOptions) (sum RescanSummary, err error) {
	start := time.Now()
	observability.Operation().OnRescanStart(ctx, opts.Trees)
	defer func() {
		observability.Operation().OnRescanComplete(ctx, sum.Records, time.Since(start), err)
	}()

	var fresh []*Record
	for _, tree := range opts.Trees {
		if err := errors.ValidateSegmentName(tree); err != nil {
			return sum, err
		}
		recs, err := s.scanTree(opts.Workdir, tree)
		if err != nil {
			return sum, err
		}
		fresh = append(fresh, recs...)
	}

	cpes := make(map[string][]string)
	for _, r := range fresh {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		dir := filepath.Join(opts.Workdir, r.Tree, r.Category, r.Name)
		ids, ok := cpes[dir]
		if !ok {
			ids = readCPEs(filepath.Join(dir, "metadata.xml"), s.logger)
			cpes[dir] = ids
		}
		r.AddCPEs(ids...)

		if insp := opts.Inspectors[r.Tree]; insp != nil {
			s.inspect(r, insp)
		}
		if opts.Specs != nil {
			r.AddDebSuffixes(opts.Specs.Suffixes(r.Atom(), r.Version, r.Slot))
			r.AddPriority(opts.Specs.Priorities(r.Atom()))
		}
		if r.Broken {
			sum.Broken++
		}
		if r.Masked {
			sum.Masked++
		}
	}

	if opts.History != nil && len(fresh) > 0 {
		paths := make([]string, len(fresh))
		for i, r := range fresh {
			paths[i] = r.Path()
		}
		dates, err := opts.History.LastChanged(ctx, opts.Workdir, paths)
		if err != nil {
			s.logger.Warn("reading history failed, keeping stored dates", "err", err)
		}
		for _, r := range fresh {
			if t, ok := dates[r.Path()]; ok {
				r.LastChecked = t
				sum.Dated++
			}
		}
	}

	sum.Records = len(fresh)
	s.Merge(fresh)
	s.logger.Info("rescanned", "records", sum.Records, "broken", sum.Broken, "masked", sum.Masked)
	return sum, nil
}

// inspect fills slot, broken and masked from the live repository.
func (s *Store) inspect(r *Record, insp Inspector) {
	vals, err := insp.AuxInfo(r.CPV(), portage.KeySlot)
	if err != nil {
		s.logger.Warn("inspection failed, marking broken", "package", r, "err", err)
		r.Broken = true
		if err := insp.Reset(); err != nil {
			s.logger.Error("re-acquiring repository session failed", "err", err)
		}
		return
	}
	r.Slot = vals[0]

	vis, err := insp.MatchVisible("=" + r.CPV().String())
	if err != nil {
		s.logger.Warn("visibility check failed", "package", r, "err", err)
		return
	}
	r.Masked = len(vis) == 0
}

// scanTree lists "<tree>/<category>/<name>/<name>-<version>.ebuild" files.
// A missing segment has no records.
func (s *Store) scanTree(workdir, tree string) ([]*Record, error) {
	base := filepath.Join(workdir, tree)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		s.logger.Warn("repository segment not found", "tree", tree, "path", base)
		return nil, nil
	}

	var out []*Record
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(base, path)
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || (len(parts) == 1 && !isCategory(d.Name())) || len(parts) > 2 {
				return filepath.SkipDir
			}
			return nil
		}
		if len(parts) != 3 || !strings.HasSuffix(parts[2], ".ebuild") {
			return nil
		}
		name, ver, ok := atom.SplitPF(strings.TrimSuffix(parts[2], ".ebuild"))
		if !ok || name != parts[1] {
			return nil
		}
		out = append(out, NewRecord(tree, parts[0], name, ver))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "scan %s", base)
	}
	s.logger.Debug("scanned segment", "tree", tree, "ebuilds", len(out))
	return out, nil
}

// isCategory excludes the tree's non-package top-level directories.
func isCategory(name string) bool {
	switch name {
	case "metadata", "profiles", "eclass", "licenses", "scripts", "distfiles", "packages":
		return false
	}
	return strings.Contains(name, "-") || name == "virtual"
}
