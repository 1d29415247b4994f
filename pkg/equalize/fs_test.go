package equalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/portkeeper/pkg/errors"
)

func TestGuardBeneath(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "tree")
	g, err := newGuard(root, false, quietLogger())
	if err != nil {
		t.Fatalf("newGuard: %v", err)
	}

	tests := []struct {
		path string
		ok   bool
	}{
		{filepath.Join(root, "dev-libs", "foo", "foo-1.ebuild"), true},
		{filepath.Join(root, "dev-libs", "..", "x"), true},
		{root, false},
		{root + "2", false},
		{filepath.Join(root + "2", "dev-libs"), false},
		{filepath.Join(root, "..", "elsewhere"), false},
		{"/etc/passwd", false},
	}
	for _, tt := range tests {
		_, err := g.beneath(tt.path)
		if tt.ok && err != nil {
			t.Errorf("beneath(%q) = %v, want ok", tt.path, err)
		}
		if !tt.ok && !errors.Is(err, errors.ErrCodeProtectedPath) {
			t.Errorf("beneath(%q) = %v, want PROTECTED_PATH", tt.path, err)
		}
	}
}

func TestGuardRefusesOutsideMutation(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "tree")
	outside := filepath.Join(base, "outside.ebuild")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outside, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	g, err := newGuard(root, false, quietLogger())
	if err != nil {
		t.Fatalf("newGuard: %v", err)
	}

	for name, err := range map[string]error{
		"remove":    g.remove(outside),
		"removeAll": g.removeAll(base),
		"rename":    g.rename(outside, filepath.Join(root, "in")),
		"symlink":   g.symlink("outside.ebuild", outside+".link"),
		"target":    g.symlink("../outside.ebuild", filepath.Join(root, "link")),
	} {
		if !errors.Is(err, errors.ErrCodeProtectedPath) {
			t.Errorf("%s = %v, want PROTECTED_PATH", name, err)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("outside file touched: %v", err)
	}
	if entries, _ := os.ReadDir(root); len(entries) != 0 {
		t.Errorf("root modified: %v", entries)
	}
}

func TestGuardDryRun(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "foo-1.ebuild")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	g, err := newGuard(root, true, quietLogger())
	if err != nil {
		t.Fatalf("newGuard: %v", err)
	}
	if err := g.rename(file, filepath.Join(root, ".foo.ebuild.0")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := g.symlink(".foo.ebuild.0", filepath.Join(root, "foo-1.ebuild")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := g.remove(file); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if diff := cmp.Diff([]string{"foo-1.ebuild"}, listDir(t, root)); diff != "" {
		t.Errorf("dry run changed the tree (-want +got):\n%s", diff)
	}
}

func TestNewGuardRejectsFilesystemRoot(t *testing.T) {
	for _, root := range []string{"", "/"} {
		if _, err := newGuard(root, false, quietLogger()); !errors.Is(err, errors.ErrCodeInvalidConfig) {
			t.Errorf("newGuard(%q) = %v, want INVALID_CONFIG", root, err)
		}
	}
}

func TestSummaryLines(t *testing.T) {
	s := &Summary{}
	s.RemovedEbuilds = addSorted(s.RemovedEbuilds, "foo-2")
	s.RemovedEbuilds = addSorted(s.RemovedEbuilds, "foo-1")
	s.RemovedEbuilds = addSorted(s.RemovedEbuilds, "foo-2")
	s.RemovedPackages = addSorted(s.RemovedPackages, "app-misc/bar")
	s.RemovedHidden = addSorted(s.RemovedHidden, ".foo.ebuild.3")
	s.Symlinked = 3
	s.Skipped = 1

	want := []string{
		"2 removed ebuilds: foo-1 foo-2",
		"1 removed package: app-misc/bar",
		"3 symlinked ebuilds",
		"1 removed hidden file: .foo.ebuild.3",
		"1 skipped item",
	}
	if diff := cmp.Diff(want, s.Lines()); diff != "" {
		t.Errorf("Lines (-want +got):\n%s", diff)
	}
	if s.Empty() {
		t.Error("Empty() = true")
	}
	if !(&Summary{}).Empty() {
		t.Error("zero Summary not empty")
	}
}
