package pkgdb

import (
	"bytes"
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/portkeeper/pkg/cache"
	"github.com/matzehuels/portkeeper/pkg/errors"
	"github.com/matzehuels/portkeeper/pkg/observability"
)

// SpecNode is one element of an auxiliary spec document.
type SpecNode struct {
	XMLName xml.Name
	Text    string     `xml:",chardata"`
	Nodes   []SpecNode `xml:",any"`
}

// Child returns the first direct child element named name, or nil.
func (n *SpecNode) Child(name string) *SpecNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			return &n.Nodes[i]
		}
	}
	return nil
}

// ChildText returns the trimmed text of the first child named name.
func (n *SpecNode) ChildText(name string) string {
	if c := n.Child(name); c != nil {
		return strings.TrimSpace(c.Text)
	}
	return ""
}

// walk calls fn for n and every descendant, depth first, with its parent.
func (n *SpecNode) walk(parent *SpecNode, fn func(node, parent *SpecNode)) {
	fn(n, parent)
	for i := range n.Nodes {
		n.Nodes[i].walk(n, fn)
	}
}

// SpecDoc is a parsed spec document of one species.
type SpecDoc struct {
	Species string
	Name    string // file base name
	Root    SpecNode
}

// SpecOptions configures LoadSpecs.
type SpecOptions struct {
	// Dir holds one subdirectory per species.
	Dir string
	// SpeciesGlob selects species directories. Defaults to "*".
	SpeciesGlob string
	// Preprocessor is an optional argv run on each document with the
	// document path appended. Output lines starting with "#" are dropped.
	Preprocessor []string

	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger
}

// SpecIndex holds the parsed spec documents, grouped by species.
type SpecIndex struct {
	docs []*SpecDoc
}

// NewSpecIndex builds an index from already parsed documents.
func NewSpecIndex(docs ...*SpecDoc) *SpecIndex {
	return &SpecIndex{docs: docs}
}

// LoadSpecs reads every "<Dir>/<species>/*.xml" document. A document that
// fails to preprocess or parse is logged and skipped; only an invalid glob
// fails the load. A missing Dir yields an empty index.
func LoadSpecs(ctx context.Context, opts SpecOptions) (*SpecIndex, error) {
	if opts.SpeciesGlob == "" {
		opts.SpeciesGlob = "*"
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNullCache()
	}
	if opts.Keyer == nil {
		opts.Keyer = cache.NewDefaultKeyer()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	paths, err := filepath.Glob(filepath.Join(opts.Dir, opts.SpeciesGlob, "*.xml"))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "species glob %q", opts.SpeciesGlob)
	}
	slices.Sort(paths)

	ix := &SpecIndex{}
	for _, path := range paths {
		doc, err := loadSpec(ctx, path, opts)
		if err != nil {
			opts.Logger.Warn("skipping spec", "path", path, "err", err)
			continue
		}
		ix.docs = append(ix.docs, doc)
	}
	opts.Logger.Debug("loaded specs", "dir", opts.Dir, "docs", len(ix.docs), "skipped", len(paths)-len(ix.docs))
	return ix, nil
}

func loadSpec(ctx context.Context, path string, opts SpecOptions) (*SpecDoc, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuxSpecParse, err, "read %s", path)
	}
	if len(opts.Preprocessor) > 0 {
		if content, err = preprocess(ctx, path, content, opts); err != nil {
			return nil, err
		}
	}

	doc := &SpecDoc{
		Species: filepath.Base(filepath.Dir(path)),
		Name:    filepath.Base(path),
	}
	if err := xml.Unmarshal(content, &doc.Root); err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuxSpecParse, err, "parse %s", path)
	}
	return doc, nil
}

func preprocess(ctx context.Context, path string, content []byte, opts SpecOptions) ([]byte, error) {
	key := opts.Keyer.SpecKey(path, content, opts.Preprocessor)
	if data, ok, err := opts.Cache.Get(ctx, key); err == nil && ok {
		observability.Cache().OnCacheHit(ctx, "spec")
		return data, nil
	}
	observability.Cache().OnCacheMiss(ctx, "spec")

	args := append(slices.Clone(opts.Preprocessor[1:]), path)
	out, err := run(ctx, "", opts.Preprocessor[0], args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuxSpecParse, err, "preprocess %s", path)
	}
	var buf bytes.Buffer
	for line := range bytes.Lines(out) {
		if bytes.HasPrefix(line, []byte("#")) {
			continue
		}
		buf.Write(line)
	}
	data := buf.Bytes()
	if err := opts.Cache.Set(ctx, key, data, 0); err != nil {
		opts.Logger.Debug("caching preprocessed spec failed", "path", path, "err", err)
	} else {
		observability.Cache().OnCacheSet(ctx, "spec", len(data))
	}
	return data, nil
}

// Len returns the number of loaded documents.
func (ix *SpecIndex) Len() int { return len(ix.docs) }

// Species returns the distinct species in sorted order.
func (ix *SpecIndex) Species() []string {
	var out []string
	for _, d := range ix.docs {
		if !slices.Contains(out, d.Species) {
			out = append(out, d.Species)
		}
	}
	slices.Sort(out)
	return out
}

var (
	debSuffixRegex   = regexp.MustCompile(`DEB_NAME_SUFFIX=([^,<]+)`)
	debPriorityRegex = regexp.MustCompile(`DEB_PRIORITY=(\w*)`)
)

const (
	envNameSuffix     = "DEB_NAME_SUFFIX"
	envSlotNameSuffix = "DEB_SLOT_NAME_SUFFIX=yes"
	envPrefix         = "DEB_"

	// fallbackSuffix marks that the unsuffixed package name is built too.
	fallbackSuffix = "_"
)

// atomMatcher recognizes references to one atom in pkgnames text.
type atomMatcher struct {
	ref  *regexp.Regexp // any reference
	ver  *regexp.Regexp // "=<atom>-<version prefix>"
	slot *regexp.Regexp // "<atom>:<slot>"
}

func newAtomMatcher(a string) atomMatcher {
	q := regexp.QuoteMeta(a)
	return atomMatcher{
		ref:  regexp.MustCompile(`(?:^|[\s=<>~!])` + q + `(?:$|[\s:*\[]|-[0-9])`),
		ver:  regexp.MustCompile(`=` + q + `-([^*\s]+)`),
		slot: regexp.MustCompile(`(?:^|[\s=<>~!])` + q + `:(\S+)`),
	}
}

// constrained reports whether the version-prefix and slot constraints found
// in pkgnames, if any, hold for ver and slot.
func (m atomMatcher) constrained(pkgnames, ver, slot string) bool {
	if sm := m.ver.FindStringSubmatch(pkgnames); sm != nil && !strings.HasPrefix(ver, sm[1]) {
		return false
	}
	if sm := m.slot.FindStringSubmatch(pkgnames); sm != nil && !sameSlot(sm[1], slot) {
		return false
	}
	return true
}

// sameSlot compares a slot constraint with a package slot, ignoring
// sub-slots and slot operators.
func sameSlot(constraint, slot string) bool {
	constraint = strings.TrimRight(constraint, "=*")
	if constraint == slot {
		return true
	}
	base, _, _ := strings.Cut(constraint, "/")
	have, _, _ := strings.Cut(slot, "/")
	return base == have
}

// pkgNodes calls fn for every <pkg> element whose pkgnames reference the atom.
func (ix *SpecIndex) pkgNodes(m atomMatcher, fn func(doc *SpecDoc, pkg, parent *SpecNode)) {
	for _, doc := range ix.docs {
		doc.Root.walk(nil, func(n, parent *SpecNode) {
			if n.XMLName.Local != "pkg" {
				return
			}
			if m.ref.MatchString(n.ChildText("pkgnames")) {
				fn(doc, n, parent)
			}
		})
	}
}

// Suffixes returns the Debian naming suffixes per species for one package
// version. Three tiers contribute in order: explicit DEB_NAME_SUFFIX
// directives, slot-as-suffix directives and, for species that already carry
// a suffix, the fallback "_" for nodes that build the package unrenamed.
func (ix *SpecIndex) Suffixes(a, ver, slot string) map[string][]string {
	m := newAtomMatcher(a)
	out := make(map[string][]string)

	ix.pkgNodes(m, func(doc *SpecDoc, pkg, _ *SpecNode) {
		env := pkg.ChildText("env")
		if !strings.Contains(env, envNameSuffix) {
			return
		}
		sm := debSuffixRegex.FindStringSubmatch(env)
		if sm == nil || !m.constrained(pkg.ChildText("pkgnames"), ver, slot) {
			return
		}
		out[doc.Species] = appendToken(out[doc.Species], strings.TrimSpace(sm[1]))
	})

	ix.pkgNodes(m, func(doc *SpecDoc, pkg, _ *SpecNode) {
		if !strings.Contains(pkg.ChildText("env"), envSlotNameSuffix) {
			return
		}
		for _, sm := range m.slot.FindAllStringSubmatch(pkg.ChildText("pkgnames"), -1) {
			if sameSlot(sm[1], slot) {
				s, _, _ := strings.Cut(strings.TrimRight(sm[1], "=*"), "/")
				out[doc.Species] = appendToken(out[doc.Species], s)
			}
		}
	})

	ix.pkgNodes(m, func(doc *SpecDoc, pkg, _ *SpecNode) {
		if strings.Contains(pkg.ChildText("env"), envPrefix) || len(out[doc.Species]) == 0 {
			return
		}
		if m.constrained(pkg.ChildText("pkgnames"), ver, slot) {
			out[doc.Species] = appendToken(out[doc.Species], fallbackSuffix)
		}
	})

	for species, toks := range out {
		if len(toks) == 0 {
			delete(out, species)
		}
	}
	return out
}

// Priorities returns the DEB_PRIORITY tokens per species for an atom: first
// from the env of each referencing <pkg> inside a <config>, then from the env
// of that enclosing <config>.
func (ix *SpecIndex) Priorities(a string) map[string][]string {
	m := newAtomMatcher(a)
	out := make(map[string][]string)
	add := func(species string, env *SpecNode) {
		if env == nil {
			return
		}
		if sm := debPriorityRegex.FindStringSubmatch(env.Text); sm != nil {
			out[species] = appendToken(out[species], sm[1])
		}
	}

	var parents []struct {
		species string
		config  *SpecNode
	}
	ix.pkgNodes(m, func(doc *SpecDoc, pkg, parent *SpecNode) {
		if parent == nil || parent.XMLName.Local != "config" {
			return
		}
		add(doc.Species, pkg.Child("env"))
		parents = append(parents, struct {
			species string
			config  *SpecNode
		}{doc.Species, parent})
	})
	for _, p := range parents {
		add(p.species, p.config.Child("env"))
	}

	for species, toks := range out {
		if len(toks) == 0 {
			delete(out, species)
		}
	}
	return out
}

// Referencing returns "species/document" for every document that mentions
// the atom in a pkgnames list.
func (ix *SpecIndex) Referencing(a string) []string {
	m := newAtomMatcher(a)
	var out []string
	ix.pkgNodes(m, func(doc *SpecDoc, _, _ *SpecNode) {
		name := doc.Species + "/" + doc.Name
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	})
	return out
}
