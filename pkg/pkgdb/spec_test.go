package pkgdb

import (
	"context"
	"encoding/xml"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const rmSpec = `<spec>
  <config>
    <env>DEB_PRIORITY=Required</env>
    <pkg>
      <pkgnames>sys-apps/busybox app-misc/foo</pkgnames>
      <env>DEB_NAME_SUFFIX=-rm,DEB_PRIORITY=Important</env>
      <pkgkey>rm-core</pkgkey>
    </pkg>
    <pkg>
      <pkgnames>sys-apps/busybox-static</pkgnames>
      <env>DEB_NAME_SUFFIX=-static</env>
      <pkgkey>rm-static</pkgkey>
    </pkg>
  </config>
  <config>
    <pkg>
      <pkgnames>=sys-apps/busybox-1.36*</pkgnames>
      <pkgkey>rm-plain</pkgkey>
    </pkg>
  </config>
</spec>
`

const gtwSpec = `<spec>
  <config>
    <pkg>
      <pkgnames>dev-lang/python:3.11 dev-lang/python:3.12</pkgnames>
      <env>DEB_SLOT_NAME_SUFFIX=yes</env>
    </pkg>
    <pkg>
      <pkgnames>dev-lang/python:3.11</pkgnames>
      <env>DEB_NAME_SUFFIX=-legacy</env>
    </pkg>
  </config>
</spec>
`

func parseDoc(t *testing.T, species, name, content string) *SpecDoc {
	t.Helper()
	doc := &SpecDoc{Species: species, Name: name}
	if err := xml.Unmarshal([]byte(content), &doc.Root); err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	return doc
}

func writeSpecs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testIndex(t *testing.T) *SpecIndex {
	return NewSpecIndex(
		parseDoc(t, "clip-gtw", "gtw.xml", gtwSpec),
		parseDoc(t, "clip-rm", "rm.xml", rmSpec),
	)
}

func TestSuffixes(t *testing.T) {
	ix := testIndex(t)
	tests := []struct {
		name    string
		atom    string
		version string
		slot    string
		want    map[string][]string
	}{
		{
			name: "explicit suffix plus fallback", atom: "sys-apps/busybox", version: "1.36.1", slot: "0",
			want: map[string][]string{"clip-rm": {"-rm", "_"}},
		},
		{
			name: "fallback version prefix fails", atom: "sys-apps/busybox", version: "1.35.0", slot: "0",
			want: map[string][]string{"clip-rm": {"-rm"}},
		},
		{
			name: "hyphenated neighbour is not a reference", atom: "sys-apps/busybox-static", version: "1.36.1", slot: "0",
			want: map[string][]string{"clip-rm": {"-static"}},
		},
		{
			name: "slot as suffix", atom: "dev-lang/python", version: "3.12.2", slot: "3.12",
			want: map[string][]string{"clip-gtw": {"3.12"}},
		},
		{
			name: "slot constrained suffix", atom: "dev-lang/python", version: "3.11.8", slot: "3.11",
			want: map[string][]string{"clip-gtw": {"-legacy", "3.11"}},
		},
		{
			name: "sub-slotted package", atom: "dev-lang/python", version: "3.11.8", slot: "3.11/3.11",
			want: map[string][]string{"clip-gtw": {"-legacy", "3.11"}},
		},
		{
			name: "unreferenced", atom: "dev-libs/openssl", version: "3.0", slot: "0",
			want: map[string][]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ix.Suffixes(tt.atom, tt.version, tt.slot)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Suffixes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPriorities(t *testing.T) {
	ix := testIndex(t)
	got := ix.Priorities("sys-apps/busybox")
	want := map[string][]string{"clip-rm": {"Important", "Required"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Priorities (-want +got):\n%s", diff)
	}
	if got := ix.Priorities("dev-lang/python"); len(got) != 0 {
		t.Errorf("Priorities(python) = %v, want none", got)
	}
}

func TestReferencing(t *testing.T) {
	ix := testIndex(t)
	if diff := cmp.Diff([]string{"clip-rm/rm.xml"}, ix.Referencing("app-misc/foo")); diff != "" {
		t.Errorf("Referencing (-want +got):\n%s", diff)
	}
	if got := ix.Referencing("app-misc/fo"); got != nil {
		t.Errorf("Referencing(prefix) = %v, want none", got)
	}
}

func TestLoadSpecs(t *testing.T) {
	dir := writeSpecs(t, map[string]string{
		"clip-rm/rm.xml":      rmSpec,
		"clip-rm/broken.xml":  "<spec><config></spec>",
		"clip-gtw/gtw.xml":    gtwSpec,
		"clip-gtw/notes.txt":  "ignored",
		"other/unrelated.xml": "<spec/>",
	})

	ix, err := LoadSpecs(context.Background(), SpecOptions{Dir: dir, SpeciesGlob: "clip-*", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("LoadSpecs: %v", err)
	}
	if ix.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (broken document skipped)", ix.Len())
	}
	if diff := cmp.Diff([]string{"clip-gtw", "clip-rm"}, ix.Species()); diff != "" {
		t.Errorf("Species (-want +got):\n%s", diff)
	}

	all, err := LoadSpecs(context.Background(), SpecOptions{Dir: dir, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("LoadSpecs: %v", err)
	}
	if diff := cmp.Diff([]string{"clip-gtw", "clip-rm", "other"}, all.Species()); diff != "" {
		t.Errorf("Species with default glob (-want +got):\n%s", diff)
	}

	if _, err := LoadSpecs(context.Background(), SpecOptions{Dir: dir, SpeciesGlob: "[", Logger: quietLogger()}); err == nil {
		t.Error("expected error for invalid glob")
	}

	empty, err := LoadSpecs(context.Background(), SpecOptions{Dir: filepath.Join(dir, "missing"), Logger: quietLogger()})
	if err != nil || empty.Len() != 0 {
		t.Errorf("LoadSpecs(missing) = %d docs, %v", empty.Len(), err)
	}
}

// memCache is an in-memory cache.Cache that counts hits.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = data
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Close() error { return nil }

func TestLoadSpecsPreprocessor(t *testing.T) {
	if _, err := exec.LookPath("sed"); err != nil {
		t.Skip("sed not available")
	}
	dir := writeSpecs(t, map[string]string{
		"clip-rm/rm.xml": `# 1 "rm.xml"
<spec><config><pkg>
<pkgnames>sys-apps/busybox</pkgnames>
<env>DEB_NAME_SUFFIX=@SUFFIX@</env>
</pkg></config></spec>
`,
	})
	c := &memCache{}
	opts := SpecOptions{
		Dir:          dir,
		Preprocessor: []string{"sed", "s/@SUFFIX@/-rm/"},
		Cache:        c,
		Logger:       quietLogger(),
	}
	ix, err := LoadSpecs(context.Background(), opts)
	if err != nil {
		t.Fatalf("LoadSpecs: %v", err)
	}
	want := map[string][]string{"clip-rm": {"-rm"}}
	if diff := cmp.Diff(want, ix.Suffixes("sys-apps/busybox", "1.0", "0")); diff != "" {
		t.Errorf("Suffixes (-want +got):\n%s", diff)
	}
	if len(c.data) != 1 {
		t.Fatalf("cached %d entries, want 1", len(c.data))
	}

	if _, err := LoadSpecs(context.Background(), opts); err != nil {
		t.Fatalf("LoadSpecs: %v", err)
	}
	if c.hits != 1 {
		t.Errorf("cache hits = %d, want 1", c.hits)
	}
}

func TestLoadSpecsPreprocessorFailure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	dir := writeSpecs(t, map[string]string{"clip-rm/rm.xml": rmSpec})
	ix, err := LoadSpecs(context.Background(), SpecOptions{
		Dir:          dir,
		Preprocessor: []string{"false"},
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("LoadSpecs: %v", err)
	}
	if ix.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ix.Len())
	}
}
