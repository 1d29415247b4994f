package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/portkeeper/pkg/errors"
	"github.com/matzehuels/portkeeper/pkg/portage/portagetest"
)

const rmSpec = `<spec>
  <config>
    <env>DEB_PRIORITY=Required</env>
    <pkg>
      <pkgnames>sys-apps/busybox dev-libs/foo</pkgnames>
      <env>DEB_NAME_SUFFIX=-rm</env>
    </pkg>
  </config>
</spec>
`

// captureStdout redirects command output to a buffer for the test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

// isolate points every XDG directory into the test's temp space.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

// workspace builds a root with two segments and one spec document.
func workspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	portagetest.WriteTree(t, filepath.Join(ws, "portage"),
		portagetest.Ebuild{CPV: "dev-libs/foo-1.0"},
		portagetest.Ebuild{CPV: "dev-libs/foo-2.0"},
		portagetest.Ebuild{CPV: "app-misc/bar-1.0", Keywords: "~amd64"},
		portagetest.Ebuild{CPV: "app-misc/top-1.0", RDepend: "dev-libs/foo dev-libs/ghost"},
	)
	portagetest.WriteTree(t, filepath.Join(ws, "portage-overlay"),
		portagetest.Ebuild{CPV: "sys-apps/busybox-1.36.1"},
	)
	specDir := filepath.Join(ws, "specs", "clip-rm")
	if err := os.MkdirAll(specDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(specDir, "rm.xml"), []byte(rmSpec), 0644); err != nil {
		t.Fatal(err)
	}
	return ws
}

// run executes the command line and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := captureStdout(t)
	c := New(io.Discard, LogInfo)
	root := c.RootCommand()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out
}

func assertContains(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output lacks %q:\n%s", w, out)
		}
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestList(t *testing.T) {
	isolate(t)
	ws := workspace(t)

	out := mustRun(t, "--root", ws, "list", "dev-libs/foo")
	assertContains(t, out, "dev-libs/foo-1.0", "dev-libs/foo-2.0", ":0", "amd64")

	out = mustRun(t, "--root", ws, "list", "app-misc/bar")
	assertContains(t, out, "No candidates")

	out = mustRun(t, "--root", ws, "list", "--all", "app-misc/bar")
	assertContains(t, out, "app-misc/bar-1.0", "~amd64")

	out = mustRun(t, "--root", ws, "list", "--unstable", "app-misc/bar")
	assertContains(t, out, "app-misc/bar-1.0")

	if _, err := run(t, "--root", ws, "list", "not an atom"); !errors.Is(err, errors.ErrCodeInvalidAtom) {
		t.Errorf("list of a bad atom = %v, want INVALID_ATOM", err)
	}
}

func TestEqualize(t *testing.T) {
	isolate(t)
	ws := workspace(t)
	foo := filepath.Join(ws, "portage", "dev-libs", "foo")

	out := mustRun(t, "--root", ws, "equalize", "--dry-run")
	assertContains(t, out, "1 removed ebuild: foo-1.0", "1 removed package: app-misc/bar", "dry run")
	if diff := cmp.Diff([]string{"foo-1.0.ebuild", "foo-2.0.ebuild"}, listDir(t, foo)); diff != "" {
		t.Errorf("dry run modified the tree (-want +got):\n%s", diff)
	}

	out = mustRun(t, "--root", ws, "equalize")
	assertContains(t, out, "Equalization complete", "2 symlinked ebuilds")
	if diff := cmp.Diff([]string{".foo.ebuild.0", "foo-2.0.ebuild"}, listDir(t, foo)); diff != "" {
		t.Errorf("equalized dir (-want +got):\n%s", diff)
	}
	if target, err := os.Readlink(filepath.Join(foo, "foo-2.0.ebuild")); err != nil || target != ".foo.ebuild.0" {
		t.Errorf("foo-2.0.ebuild -> %q, %v", target, err)
	}
	if _, err := os.Stat(filepath.Join(ws, "portage", "app-misc", "bar")); !os.IsNotExist(err) {
		t.Errorf("app-misc/bar still present: %v", err)
	}

	out = mustRun(t, "--root", ws, "equalize")
	assertContains(t, out, "Tree already equalized")
}

func TestEqualizeRejectsTraversal(t *testing.T) {
	isolate(t)
	ws := workspace(t)
	if _, err := run(t, "--root", ws, "equalize", "../etc"); !errors.Is(err, errors.ErrCodeInvalidAtom) {
		t.Errorf("equalize ../etc = %v, want INVALID_ATOM", err)
	}
}

func TestRescanShowLookup(t *testing.T) {
	isolate(t)
	ws := workspace(t)
	storePath := filepath.Join(ws, "pkgdb", "all.conf")

	out := mustRun(t, "--root", ws, "rescan", "--dry-run")
	assertContains(t, out, "Rescanned 5 records", "1 masked", "dry run")
	if _, err := os.Stat(storePath); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote the store: %v", err)
	}

	out = mustRun(t, "--root", ws, "rescan")
	assertContains(t, out, "Rescanned 5 records", storePath)

	out = mustRun(t, "--root", ws, "show", "dev-libs/foo")
	assertContains(t, out, "dev-libs/foo-1.0", "dev-libs/foo-2.0", "clip-rm: -rm", "Referenced by", "clip-rm/rm.xml")

	out = mustRun(t, "--root", ws, "show", "--no-specs", "busybox")
	assertContains(t, out, "sys-apps/busybox-1.36.1", "portage-overlay", "clip-rm: Required")

	out = mustRun(t, "--root", ws, "show", "bar")
	assertContains(t, out, "Masked")

	if _, err := run(t, "--root", ws, "show", "dev-libs/nothing"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("show of an unknown package = %v, want NOT_FOUND", err)
	}

	out = mustRun(t, "--root", ws, "lookup-deb", "-s", "clip-rm", "busybox-rm_1.36.1_amd64", "FOO_2.0_all")
	assertContains(t, out, "sys-apps/busybox-1.36.1", "dev-libs/foo-2.0")

	out, err := run(t, "--root", ws, "lookup-deb", "-s", "clip-rm", "busybox-gtw_1.36.1_amd64")
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("lookup-deb miss = %v, want NOT_FOUND", err)
	}
	assertContains(t, out, "no record")
}

func TestDeps(t *testing.T) {
	isolate(t)
	ws := workspace(t)

	out := mustRun(t, "--root", ws, "deps", "--json", "--no-store", "app-misc/top")
	var got []depEntry
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	want := []depEntry{
		{Status: "resolved", CPV: "app-misc/top-1.0"},
		{Status: "resolved", CPV: "dev-libs/foo-2.0"},
		{Status: "unresolved", Dep: "dev-libs/ghost"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("deps (-want +got):\n%s", diff)
	}

	out = mustRun(t, "--root", ws, "deps", "app-misc/top")
	assertContains(t, out, "dev-libs/foo-2.0", "unresolved: dev-libs/ghost", "1 of 3 dependencies unresolved")

	mustRun(t, "--root", ws, "rescan")
	out = mustRun(t, "--root", ws, "deps", "app-misc/top")
	assertContains(t, out, "every dependency is curated")

	if _, err := run(t, "--root", ws, "deps", "("); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("deps of a broken expression = %v, want INVALID_INPUT", err)
	}
}

func TestCacheCommands(t *testing.T) {
	isolate(t)
	ws := workspace(t)

	dir := strings.TrimSpace(mustRun(t, "cache", "path"))
	if want := filepath.Join(os.Getenv("XDG_CACHE_HOME"), appName); dir != want {
		t.Errorf("cache path = %q, want %q", dir, want)
	}

	out := mustRun(t, "cache", "clear")
	assertContains(t, out, "Cache is empty")

	mustRun(t, "--root", ws, "list", "dev-libs/foo")
	out = mustRun(t, "cache", "clear")
	assertContains(t, out, "Cleared 1 cached entries")
	if entries := listDir(t, dir); len(entries) != 0 {
		t.Errorf("cache dir not empty: %v", entries)
	}
}

func TestCompletion(t *testing.T) {
	out := mustRun(t, "completion", "bash")
	assertContains(t, out, "portkeeper")

	if _, err := run(t, "completion", "tcsh"); err == nil {
		t.Error("completion tcsh succeeded")
	}
}

func TestVerboseQuietExclusive(t *testing.T) {
	if _, err := run(t, "-v", "-q", "cache", "path"); err == nil {
		t.Error("-v -q accepted")
	}
}
