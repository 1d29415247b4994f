// Package portagetest builds small ebuild trees on disk for tests.
package portagetest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/matzehuels/portkeeper/pkg/atom"
)

// Ebuild describes one candidate of a fixture tree.
type Ebuild struct {
	CPV      string // "dev-libs/foo-1.0"
	Slot     string // defaults to "0"
	Keywords string // defaults to "amd64"
	Depend   string
	RDepend  string
	IUSE     string
	Body     string // recipe content, defaults to "EAPI=7\n"

	// CacheOnly writes the md5-cache entry without the .ebuild file.
	CacheOnly bool
	// FileOnly writes the .ebuild file without a md5-cache entry.
	FileOnly bool
}

// WriteTree creates an ebuild tree under root containing ebuilds: the recipe
// files, their md5-cache entries and profiles/categories.
func WriteTree(t testing.TB, root string, ebuilds ...Ebuild) {
	t.Helper()

	mkdir(t, filepath.Join(root, "metadata", "md5-cache"))
	mkdir(t, filepath.Join(root, "profiles"))

	var cats []string
	for _, e := range ebuilds {
		cpv, err := atom.ParseCPV(e.CPV)
		if err != nil {
			t.Fatalf("portagetest: %v", err)
		}
		if !slices.Contains(cats, cpv.Category) {
			cats = append(cats, cpv.Category)
		}
		if !e.CacheOnly {
			dir := filepath.Join(root, cpv.Category, cpv.Name)
			mkdir(t, dir)
			write(t, filepath.Join(dir, cpv.PF()+".ebuild"), e.body())
		}
		if !e.FileOnly {
			mkdir(t, filepath.Join(root, "metadata", "md5-cache", cpv.Category))
			write(t, filepath.Join(root, "metadata", "md5-cache", cpv.Category, cpv.PF()), e.cacheEntry())
		}
	}
	slices.Sort(cats)

	existing, _ := os.ReadFile(filepath.Join(root, "profiles", "categories"))
	for _, c := range strings.Fields(string(existing)) {
		if !slices.Contains(cats, c) {
			cats = append(cats, c)
		}
	}
	slices.Sort(cats)
	write(t, filepath.Join(root, "profiles", "categories"), strings.Join(cats, "\n")+"\n")
}

// WriteMask writes profiles/package.mask.
func WriteMask(t testing.TB, root string, atoms ...string) {
	t.Helper()
	mkdir(t, filepath.Join(root, "profiles"))
	write(t, filepath.Join(root, "profiles", "package.mask"), "# masked\n"+strings.Join(atoms, "\n")+"\n")
}

// RemoveCache deletes the md5-cache entry of cpv.
func RemoveCache(t testing.TB, root, cpv string) {
	t.Helper()
	c, err := atom.ParseCPV(cpv)
	if err != nil {
		t.Fatalf("portagetest: %v", err)
	}
	if err := os.Remove(filepath.Join(root, "metadata", "md5-cache", c.Category, c.PF())); err != nil {
		t.Fatalf("portagetest: %v", err)
	}
}

func (e Ebuild) body() string {
	if e.Body == "" {
		return "EAPI=7\n"
	}
	return e.Body
}

func (e Ebuild) cacheEntry() string {
	slot := e.Slot
	if slot == "" {
		slot = "0"
	}
	kw := e.Keywords
	if kw == "" {
		kw = "amd64"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "DEPEND=%s\n", e.Depend)
	fmt.Fprintf(&b, "EAPI=7\n")
	fmt.Fprintf(&b, "IUSE=%s\n", e.IUSE)
	fmt.Fprintf(&b, "KEYWORDS=%s\n", kw)
	fmt.Fprintf(&b, "RDEPEND=%s\n", e.RDepend)
	fmt.Fprintf(&b, "SLOT=%s\n", slot)
	sum := md5.Sum([]byte(e.body()))
	fmt.Fprintf(&b, "_md5_=%s\n", hex.EncodeToString(sum[:]))
	return b.String()
}

func mkdir(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("portagetest: %v", err)
	}
}

func write(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("portagetest: %v", err)
	}
}
