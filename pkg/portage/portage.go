// Package portage answers identity, slot, visibility and dependency questions
// about the packages of an ebuild tree.
//
// A [Tree] reads the tree's metadata/md5-cache, which holds one KEY=VALUE
// file per candidate, and indexes it into a bbolt database kept in a cache
// directory. The index is rebuilt whenever the metadata cache changes.
//
// Visibility is evaluated against one or more [Profile] values at once: a
// candidate is visible when at least one profile accepts its KEYWORDS and
// does not mask it. Matching results are unions over all profiles.
//
// A Tree is a single shared session. Its stability policy
// ([Tree.SetStabilityPolicy]) affects every subsequent query, so callers must
// not change it while another operation is in flight.
package portage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	bolt "go.etcd.io/bbolt"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/errors"
)

// Metadata keys understood by AuxInfo.
const (
	KeySlot     = "SLOT"
	KeyKeywords = "KEYWORDS"
	KeyDepend   = "DEPEND"
	KeyRDepend  = "RDEPEND"
	KeyIUSE     = "IUSE"
	KeyEAPI     = "EAPI"
)

// Repository is the query capability consumed by the record store, the
// equalizer and the dependency resolver.
type Repository interface {
	// AllAtoms lists every "category/name" directory of the tree, sorted.
	AllAtoms() ([]string, error)
	// MatchAll returns every cached candidate matching expr, visible or not.
	MatchAll(expr string) ([]atom.CPV, error)
	// MatchVisible returns the candidates matching expr visible to at least
	// one profile.
	MatchVisible(expr string) ([]atom.CPV, error)
	// BestVisible returns the highest visible candidate, or the zero CPV.
	BestVisible(expr string) (atom.CPV, error)
	// BestVisibleSet returns the best visible candidate of each profile.
	BestVisibleSet(expr string) ([]atom.CPV, error)
	// AuxInfo returns the requested metadata values of cpv, in order.
	AuxInfo(cpv atom.CPV, fields ...string) ([]string, error)
	// Locate returns the recipe path of cpv beneath the tree, or "".
	Locate(cpv atom.CPV) (string, error)
	// SetStabilityPolicy toggles acceptance of unstable (~arch) keywords.
	SetStabilityPolicy(acceptUnstable bool)
	// Reset re-acquires the underlying session.
	Reset() error
}

// Profile is one visibility configuration.
type Profile struct {
	Name string
	// Arch is the stable keyword accepted by the profile, e.g. "amd64".
	Arch string
	// AcceptKeywords lists additional accepted keywords ("~amd64", "**").
	AcceptKeywords []string
	// PackageMask lists extra mask files, relative to the tree root unless
	// absolute.
	PackageMask []string

	masks []atom.Dep
}

// Options configures a Tree.
type Options struct {
	// Root is the ebuild tree directory.
	Root string
	// Profiles must contain at least one profile.
	Profiles []Profile
	// AcceptUnstable accepts ~arch keywords for every profile.
	AcceptUnstable bool
	// IndexDir holds the bbolt index. Defaults to a directory under
	// os.TempDir().
	IndexDir string
	Logger   *log.Logger
}

// Tree is a Repository backed by an ebuild tree and its metadata cache.
type Tree struct {
	root      string
	indexPath string
	logger    *log.Logger

	mu       sync.RWMutex
	db       *bolt.DB
	profiles []Profile
	masks    []atom.Dep // profiles/package.mask of the tree
	unstable bool
}

// Open opens the tree at opts.Root and (re)builds its index if needed.
func Open(opts Options) (*Tree, error) {
	if opts.Root == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "tree root is empty")
	}
	if len(opts.Profiles) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "no profile configured for %s", opts.Root)
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "resolve tree root")
	}
	if fi, err := os.Stat(filepath.Join(root, "metadata")); err != nil || !fi.IsDir() {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "ebuild tree is not valid (no metadata directory): %s", root)
	}

	indexDir := opts.IndexDir
	if indexDir == "" {
		indexDir = filepath.Join(os.TempDir(), "portkeeper")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	t := &Tree{
		root:      root,
		indexPath: indexPath(indexDir, root),
		logger:    logger,
		profiles:  append([]Profile(nil), opts.Profiles...),
		unstable:  opts.AcceptUnstable,
	}
	if err := t.open(); err != nil {
		return nil, err
	}

	names := make([]string, len(t.profiles))
	for i, p := range t.profiles {
		names[i] = p.Name
	}
	logger.Info("using profiles", "count", len(names), "profiles", names)
	return t, nil
}

// open loads the mask files and opens (and refreshes) the index session.
func (t *Tree) open() error {
	masks, err := readMaskFile(filepath.Join(t.root, "profiles", "package.mask"))
	if err != nil {
		return err
	}
	for i := range t.profiles {
		p := &t.profiles[i]
		p.masks = nil
		for _, f := range p.PackageMask {
			if !filepath.IsAbs(f) {
				f = filepath.Join(t.root, f)
			}
			m, err := readMaskFile(f)
			if err != nil {
				return err
			}
			p.masks = append(p.masks, m...)
		}
	}

	db, err := openIndex(t.indexPath, t.root, t.logger)
	if err != nil {
		return err
	}
	t.masks = masks
	t.db = db
	return nil
}

// Root returns the absolute tree directory.
func (t *Tree) Root() string { return t.root }

// Profiles returns the configured profiles.
func (t *Tree) Profiles() []Profile {
	return append([]Profile(nil), t.profiles...)
}

// SetStabilityPolicy toggles acceptance of ~arch keywords.
func (t *Tree) SetStabilityPolicy(acceptUnstable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unstable = acceptUnstable
}

// Reset closes and reopens the index session, re-reading mask files and
// rebuilding the index if the metadata cache changed.
func (t *Tree) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.db != nil {
		if err := t.db.Close(); err != nil {
			t.logger.Warn("closing index", "path", t.indexPath, "err", err)
		}
		t.db = nil
	}
	t.logger.Debug("session reset", "tree", t.root)
	return t.open()
}

// Close releases the index session.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	return err
}

var _ Repository = (*Tree)(nil)
