package equalize

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/portkeeper/pkg/errors"
)

// guard performs filesystem mutations confined beneath one tree root.
// In dry-run mode every mutation is checked and logged but not performed.
type guard struct {
	root   string // absolute, cleaned, without trailing slash
	dryRun bool
	logger *log.Logger
}

func newGuard(root string, dryRun bool, logger *log.Logger) (*guard, error) {
	if root == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "tree root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "resolve tree root")
	}
	if abs == string(filepath.Separator) {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "refusing to use the filesystem root as tree root")
	}
	return &guard{root: abs, dryRun: dryRun, logger: logger}, nil
}

// beneath returns the cleaned absolute form of path, or a PROTECTED_PATH
// error if it is not strictly inside the root.
func (g *guard) beneath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", path)
	}
	if !strings.HasPrefix(abs, g.root+string(filepath.Separator)) {
		return "", errors.New(errors.ErrCodeProtectedPath, "attempt to modify a file outside of %s: %s", g.root, abs)
	}
	return abs, nil
}

func (g *guard) remove(path string) error {
	p, err := g.beneath(path)
	if err != nil {
		return err
	}
	g.logger.Debug("removing file", "path", p, "dry_run", g.dryRun)
	if g.dryRun {
		return nil
	}
	return os.Remove(p)
}

func (g *guard) removeAll(path string) error {
	p, err := g.beneath(path)
	if err != nil {
		return err
	}
	g.logger.Debug("removing tree", "path", p, "dry_run", g.dryRun)
	if g.dryRun {
		return nil
	}
	return os.RemoveAll(p)
}

func (g *guard) rename(src, dst string) error {
	s, err := g.beneath(src)
	if err != nil {
		return err
	}
	d, err := g.beneath(dst)
	if err != nil {
		return err
	}
	g.logger.Debug("moving", "src", s, "dst", d, "dry_run", g.dryRun)
	if g.dryRun {
		return nil
	}
	return os.Rename(s, d)
}

// symlink creates link pointing to target, which must be a bare file name
// in the link's directory.
func (g *guard) symlink(target, link string) error {
	l, err := g.beneath(link)
	if err != nil {
		return err
	}
	if target == "" || target != filepath.Base(target) {
		return errors.New(errors.ErrCodeProtectedPath, "symlink target must be a file name: %q", target)
	}
	g.logger.Debug("linking", "link", l, "target", target, "dry_run", g.dryRun)
	if g.dryRun {
		return nil
	}
	return os.Symlink(target, l)
}
