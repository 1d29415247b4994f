package pkgdb

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewHistory(t *testing.T) {
	tests := []struct {
		name    string
		want    History
		wantErr bool
	}{
		{"svn", SVN{}, false},
		{"git", Git{}, false},
		{"none", nil, false},
		{"", nil, false},
		{"cvs", nil, true},
	}
	for _, tt := range tests {
		got, err := NewHistory(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewHistory(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NewHistory(%q) = %#v, want %#v", tt.name, got, tt.want)
		}
	}
}

func TestParseSVNInfo(t *testing.T) {
	out := `Path: portage/dev-libs/foo/foo-1.0.ebuild
Name: foo-1.0.ebuild
Working Copy Root Path: /src
URL: svn://example.org/trunk/portage/dev-libs/foo/foo-1.0.ebuild
Revision: 100
Node Kind: file
Last Changed Author: bob
Last Changed Rev: 42
Last Changed Date: 2020-03-04 05:06:07 +0100 (Wed, 04 Mar 2020)

Path: portage/dev-libs/bar/bar-2.ebuild
Name: bar-2.ebuild
Node Kind: file

Path: portage/dev-libs/baz/baz-3.ebuild
Last Changed Date: 2019-12-31 23:00:00 -0200 (Tue, 31 Dec 2019)

`
	got := parseSVNInfo([]byte(out))
	want := map[string]time.Time{
		"portage/dev-libs/foo/foo-1.0.ebuild": time.Date(2020, 3, 4, 4, 6, 7, 0, time.UTC),
		"portage/dev-libs/baz/baz-3.ebuild":   time.Date(2020, 1, 1, 1, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseSVNInfo (-want +got):\n%s", diff)
	}
}

func TestParseGitLog(t *testing.T) {
	out := "\x002021-01-02T03:04:05+00:00\n\nportage/a-b/c/c-1.ebuild\nportage/a-b/d/d-1.ebuild\n" +
		"\x002020-01-01T00:00:00+01:00\n\nportage/a-b/c/c-1.ebuild\nportage/a-b/e/e-1.ebuild\n"
	got := parseGitLog([]byte(out))
	want := map[string]time.Time{
		"portage/a-b/c/c-1.ebuild": time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC),
		"portage/a-b/d/d-1.ebuild": time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC),
		"portage/a-b/e/e-1.ebuild": time.Date(2019, 12, 31, 23, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseGitLog (-want +got):\n%s", diff)
	}
}

func TestGitLastChanged(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	ebuild := filepath.Join("portage", "dev-libs", "foo", "foo-1.0.ebuild")
	if err := os.MkdirAll(filepath.Join(dir, filepath.Dir(ebuild)), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ebuild), []byte("EAPI=7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{
			"-c", "user.name=test", "-c", "user.email=test@example.org", "-c", "commit.gpgsign=false",
		}, args...)...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_DATE=2020-02-03T04:05:06Z",
			"GIT_COMMITTER_DATE=2020-02-03T04:05:06Z",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	git("init", "-q")
	git("add", ".")
	git("commit", "-q", "-m", "add foo")

	got, err := Git{}.LastChanged(context.Background(), dir, []string{
		"portage/dev-libs/foo/foo-1.0.ebuild",
		"portage/dev-libs/bar/bar-1.0.ebuild",
	})
	if err != nil {
		t.Fatalf("LastChanged: %v", err)
	}
	want := map[string]time.Time{
		"portage/dev-libs/foo/foo-1.0.ebuild": time.Date(2020, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LastChanged (-want +got):\n%s", diff)
	}
}
