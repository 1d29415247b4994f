package pkgdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/portkeeper/pkg/portage"
	"github.com/matzehuels/portkeeper/pkg/portage/portagetest"
)

// resetCounter counts session re-acquisitions.
type resetCounter struct {
	Inspector
	resets int
}

func (r *resetCounter) Reset() error {
	r.resets++
	return r.Inspector.Reset()
}

// fakeHistory returns fixed dates.
type fakeHistory map[string]time.Time

func (h fakeHistory) LastChanged(_ context.Context, _ string, paths []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	for _, p := range paths {
		if t, ok := h[p]; ok {
			out[p] = t
		}
	}
	return out, nil
}

const fooMetadata = `<?xml version="1.0" encoding="UTF-8"?>
<pkgmetadata>
  <maintainer type="person"><email>dev@example.org</email></maintainer>
  <upstream>
    <remote-id type="github">foo/foo</remote-id>
    <remote-id type="cpe">cpe:/a:foo_project:foo</remote-id>
    <remote-id type="cpe">  </remote-id>
  </upstream>
</pkgmetadata>
`

func rescanFixture(t *testing.T) (workdir string, tree *portage.Tree) {
	t.Helper()
	workdir = t.TempDir()
	main := filepath.Join(workdir, "portage")
	portagetest.WriteTree(t, main,
		portagetest.Ebuild{CPV: "dev-libs/foo-1.0"},
		portagetest.Ebuild{CPV: "dev-libs/foo-2.0", Slot: "2/2.1", Keywords: "~amd64"},
		portagetest.Ebuild{CPV: "app-misc/bar-1.0", FileOnly: true},
	)
	if err := os.WriteFile(filepath.Join(main, "dev-libs", "foo", "metadata.xml"), []byte(fooMetadata), 0644); err != nil {
		t.Fatal(err)
	}
	// Canonical hidden files and stray files are not records.
	for _, name := range []string{".foo.ebuild.0", "Manifest", "foo-1.0.ebuild.orig"} {
		if err := os.WriteFile(filepath.Join(main, "dev-libs", "foo", name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	portagetest.WriteTree(t, filepath.Join(workdir, "portage-overlay"),
		portagetest.Ebuild{CPV: "sys-apps/busybox-1.36.1"},
	)

	tree, err := portage.Open(portage.Options{
		Root:     main,
		Profiles: []portage.Profile{{Name: "default", Arch: "amd64"}},
		IndexDir: t.TempDir(),
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("portage.Open: %v", err)
	}
	t.Cleanup(func() { tree.Close() })
	return workdir, tree
}

func TestRescan(t *testing.T) {
	workdir, tree := rescanFixture(t)
	insp := &resetCounter{Inspector: tree}

	s := New(filepath.Join(workdir, "pkgdb", "all.conf"), quietLogger())
	curated := NewRecord("portage", "dev-libs", "foo", "1.0")
	curated.LastChecked = date("2025-01-01T00:00:00Z")
	curated.AddCPEs("cpe:/a:foo:foo")
	curated.Extra = []Field{{"owner", "alice"}}
	s.Merge([]*Record{curated})

	sum, err := s.Rescan(context.Background(), RescanOptions{
		Workdir:    workdir,
		Trees:      []string{"portage", "portage-overlay", "portage-missing"},
		Inspectors: map[string]Inspector{"portage": insp},
		History: fakeHistory{
			"portage/dev-libs/foo/foo-1.0.ebuild": date("2020-01-01T00:00:00Z"),
			"portage/dev-libs/foo/foo-2.0.ebuild": date("2021-01-01T00:00:00Z"),
		},
		Specs: NewSpecIndex(parseDoc(t, "clip-rm", "rm.xml", rmSpec)),
	})
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}

	wantSum := RescanSummary{Records: 4, Broken: 1, Masked: 1, Dated: 2}
	if sum != wantSum {
		t.Errorf("summary = %+v, want %+v", sum, wantSum)
	}
	if insp.resets != 1 {
		t.Errorf("session reset %d times, want 1", insp.resets)
	}

	want := []string{
		"bar.0=app-misc/bar-1.0",
		"busybox.0=sys-apps/busybox-1.36.1",
		"foo.1=dev-libs/foo-2.0",
		"foo.0=dev-libs/foo-1.0",
	}
	if diff := cmp.Diff(want, sections(s)); diff != "" {
		t.Fatalf("sections (-want +got):\n%s", diff)
	}

	bar := s.Section("bar.0")
	if !bar.Broken || bar.Slot != "" {
		t.Errorf("bar = %+v, want broken without slot", bar)
	}

	foo1 := s.Section("foo.0")
	if foo1.Slot != "0" || foo1.Masked || foo1.Broken {
		t.Errorf("foo-1.0 = %+v, want visible slot 0", foo1)
	}
	if want := date("2025-01-01T00:00:00Z"); !foo1.LastChecked.Equal(want) {
		t.Errorf("foo-1.0 LastChecked = %v, want curated %v", foo1.LastChecked, want)
	}
	if diff := cmp.Diff([]string{"cpe:/a:foo:foo", "cpe:/a:foo_project:foo"}, foo1.SortedCPEs()); diff != "" {
		t.Errorf("foo-1.0 CPEs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Field{{"owner", "alice"}}, foo1.Extra); diff != "" {
		t.Errorf("foo-1.0 Extra (-want +got):\n%s", diff)
	}

	foo2 := s.Section("foo.1")
	if foo2.Slot != "2/2.1" || !foo2.Masked {
		t.Errorf("foo-2.0 = %+v, want masked slot 2/2.1", foo2)
	}
	if want := date("2021-01-01T00:00:00Z"); !foo2.LastChecked.Equal(want) {
		t.Errorf("foo-2.0 LastChecked = %v, want %v", foo2.LastChecked, want)
	}

	bb := s.Section("busybox.0")
	if bb.Tree != "portage-overlay" || bb.Slot != "" || bb.Masked {
		t.Errorf("busybox = %+v, want uninspected overlay record", bb)
	}
	if diff := cmp.Diff(map[string][]string{"clip-rm": {"-rm", "_"}}, bb.DebSuffixes); diff != "" {
		t.Errorf("busybox DebSuffixes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string][]string{"clip-rm": {"Important", "Required"}}, bb.Priority); diff != "" {
		t.Errorf("busybox Priority (-want +got):\n%s", diff)
	}
}

func TestRescanIdempotentSave(t *testing.T) {
	workdir, tree := rescanFixture(t)
	path := filepath.Join(workdir, "pkgdb", "all.conf")
	opts := RescanOptions{
		Workdir:    workdir,
		Trees:      []string{"portage", "portage-overlay"},
		Inspectors: map[string]Inspector{"portage": tree},
	}

	s := New(path, quietLogger())
	if _, err := s.Rescan(context.Background(), opts); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, _ := os.ReadFile(path)

	s2, err := Open(path, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s2.Rescan(context.Background(), opts); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if err := s2.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, _ := os.ReadFile(path)
	if diff := cmp.Diff(string(first), string(second)); diff != "" {
		t.Errorf("second rescan changed the store (-first +second):\n%s", diff)
	}
}

func TestRescanRejectsBadSegment(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "all.conf"), quietLogger())
	if _, err := s.Rescan(context.Background(), RescanOptions{Workdir: t.TempDir(), Trees: []string{"../etc"}}); err == nil {
		t.Error("expected error for path traversal in segment name")
	}
}

func TestReadCPEs(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want []string
	}{
		{
			name: "invalid identifiers are dropped",
			ids:  []string{"cpe:/a:vendor:product", "not a cpe", "cpe:vendor"},
			want: []string{"cpe:/a:vendor:product"},
		},
		{
			name: "same platform in both bindings",
			ids:  []string{"cpe:/a:vendor:product", "cpe:2.3:a:vendor:product:*:*:*:*:*:*:*:*", "cpe:/a:vendor:product:1.0"},
			want: []string{"cpe:/a:vendor:product", "cpe:/a:vendor:product:1.0"},
		},
		{
			name: "nothing valid",
			ids:  []string{"n/a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b strings.Builder
			b.WriteString("<pkgmetadata><upstream>\n")
			for _, id := range tt.ids {
				fmt.Fprintf(&b, "<remote-id type=\"cpe\">%s</remote-id>\n", id)
			}
			b.WriteString("</upstream></pkgmetadata>\n")
			path := filepath.Join(t.TempDir(), "metadata.xml")
			if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, readCPEs(path, quietLogger())); diff != "" {
				t.Errorf("readCPEs (-want +got):\n%s", diff)
			}
		})
	}

	if got := readCPEs(filepath.Join(t.TempDir(), "missing.xml"), quietLogger()); got != nil {
		t.Errorf("readCPEs(missing) = %v", got)
	}
}
