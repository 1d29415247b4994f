package portage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	bolt "go.etcd.io/bbolt"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/cache"
	"github.com/matzehuels/portkeeper/pkg/errors"
)

// Index layout:
//
//	info/fingerprint  hash of the md5-cache listing (paths, sizes, mtimes)
//	info/tree         tree root the index was built from
//	info/built        RFC 3339 build time
//	pkgs/<cat>/<pn>/<version>  raw md5-cache entry
var (
	bucketInfo = []byte("info")
	bucketPkgs = []byte("pkgs")

	keyFingerprint = []byte("fingerprint")
	keyTree        = []byte("tree")
	keyBuilt       = []byte("built")
)

func md5CacheDir(root string) string {
	return filepath.Join(root, "metadata", "md5-cache")
}

func indexPath(dir, root string) string {
	return filepath.Join(dir, "index-"+cache.Hash([]byte(root))[:16]+".db")
}

// openIndex opens the index database, rebuilding it when the fingerprint of
// the metadata cache no longer matches.
func openIndex(path, root string, logger *log.Logger) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create index directory")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "open index %s", path)
	}

	fp, err := fingerprint(root)
	if err != nil {
		db.Close()
		return nil, err
	}

	current, err := storedFingerprint(db)
	if err != nil {
		logger.Warn("index unreadable, rebuilding", "path", path, "err", err)
	}
	if err == nil && current == fp {
		return db, nil
	}

	start := time.Now()
	n, err := buildIndex(db, root, fp)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("indexed metadata cache", "tree", root, "packages", n, "elapsed", time.Since(start).Round(time.Millisecond))
	return db, nil
}

// storedFingerprint returns the fingerprint the index was built from, "" for
// a fresh database.
func storedFingerprint(db *bolt.DB) (string, error) {
	var fp string
	err := db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketInfo); b != nil {
			fp = string(b.Get(keyFingerprint))
		}
		return nil
	})
	return fp, err
}

// fingerprint summarizes the md5-cache listing. A missing cache has a
// fingerprint too, so an ungenerated cache yields an empty index.
func fingerprint(root string) (string, error) {
	h := xxhash.New()
	dir := md5CacheDir(root)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		fmt.Fprintf(h, "%s %d %d\n", rel, info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "scan metadata cache")
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// buildIndex replaces the pkgs bucket with the current md5-cache content.
func buildIndex(db *bolt.DB, root, fp string) (int, error) {
	dir := md5CacheDir(root)
	count := 0
	err := db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketPkgs) != nil {
			if err := tx.DeleteBucket(bucketPkgs); err != nil {
				return err
			}
		}
		pkgB, err := tx.CreateBucket(bucketPkgs)
		if err != nil {
			return err
		}
		infoB, err := tx.CreateBucketIfNotExists(bucketInfo)
		if err != nil {
			return err
		}

		cats, err := os.ReadDir(dir)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		for _, cat := range cats {
			if !cat.IsDir() {
				continue
			}
			files, err := os.ReadDir(filepath.Join(dir, cat.Name()))
			if err != nil {
				return err
			}
			catB, err := pkgB.CreateBucketIfNotExists([]byte(cat.Name()))
			if err != nil {
				return err
			}
			for _, f := range files {
				if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
					continue
				}
				name, ver, ok := atom.SplitPF(f.Name())
				if !ok {
					continue
				}
				data, err := os.ReadFile(filepath.Join(dir, cat.Name(), f.Name()))
				if err != nil {
					return err
				}
				pnB, err := catB.CreateBucketIfNotExists([]byte(name))
				if err != nil {
					return err
				}
				if err := pnB.Put([]byte(ver), data); err != nil {
					return err
				}
				count++
			}
		}

		if err := infoB.Put(keyFingerprint, []byte(fp)); err != nil {
			return err
		}
		if err := infoB.Put(keyTree, []byte(root)); err != nil {
			return err
		}
		return infoB.Put(keyBuilt, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInternal, err, "build index for %s", root)
	}
	return count, nil
}

// entry is one indexed candidate.
type entry struct {
	cpv  atom.CPV
	meta metadata
}

// candidates returns every indexed candidate of "category/name", in
// unspecified order.
func (t *Tree) candidates(category, name string) ([]entry, error) {
	if t.db == nil {
		return nil, errors.New(errors.ErrCodeInternal, "session for %s is closed", t.root)
	}
	var out []entry
	err := t.db.View(func(tx *bolt.Tx) error {
		pkgB := tx.Bucket(bucketPkgs)
		if pkgB == nil {
			return nil
		}
		catB := pkgB.Bucket([]byte(category))
		if catB == nil {
			return nil
		}
		pnB := catB.Bucket([]byte(name))
		if pnB == nil {
			return nil
		}
		return pnB.ForEach(func(k, v []byte) error {
			out = append(out, entry{
				cpv:  atom.CPV{Category: category, Name: name, Version: string(k)},
				meta: parseMetadata(v),
			})
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "read index")
	}
	return out, nil
}

// lookup returns the metadata of one candidate.
func (t *Tree) lookup(cpv atom.CPV) (metadata, bool, error) {
	if t.db == nil {
		return nil, false, errors.New(errors.ErrCodeInternal, "session for %s is closed", t.root)
	}
	var meta metadata
	err := t.db.View(func(tx *bolt.Tx) error {
		pkgB := tx.Bucket(bucketPkgs)
		if pkgB == nil {
			return nil
		}
		catB := pkgB.Bucket([]byte(cpv.Category))
		if catB == nil {
			return nil
		}
		pnB := catB.Bucket([]byte(cpv.Name))
		if pnB == nil {
			return nil
		}
		if v := pnB.Get([]byte(cpv.Version)); v != nil {
			meta = parseMetadata(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeInternal, err, "read index")
	}
	return meta, meta != nil, nil
}
