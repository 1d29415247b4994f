package pkgdb

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/version"
)

// TimeFormat is the persisted form of LastChecked (ISO 8601, UTC).
const TimeFormat = "2006-01-02T15:04:05Z"

// Persisted keys.
const (
	keyTree        = "portage-tree"
	keyCategory    = "category"
	keyName        = "name"
	keyVersion     = "version-clip"
	keyLastChecked = "last-checked"
	keyCPEs        = "cpes"
	keySlot        = "slot"
	keyBroken      = "broken"
	keyMasked      = "masked"

	suffixDebSuffix = "_deb_suffix"
	suffixPriority  = "_priority"
)

// Field is an opaque key/value pair carried through merges unchanged.
type Field struct {
	Key   string
	Value string
}

// Record is the curated metadata of one package version.
type Record struct {
	// Identity.
	Tree     string // repository segment, e.g. "portage-overlay"
	Category string
	Name     string
	Version  string

	LastChecked time.Time // zero when unknown
	CPEs        map[string]struct{}

	// DebSuffixes and Priority map a species to its tokens.
	DebSuffixes map[string][]string
	Priority    map[string][]string

	Slot   string
	Broken bool
	Masked bool

	// Extra holds unrecognized persisted keys in load order.
	Extra []Field

	// Section is the stable record identity in the persisted store.
	Section string
}

// NewRecord creates a record with the given identity.
func NewRecord(tree, category, name, ver string) *Record {
	return &Record{Tree: tree, Category: category, Name: name, Version: ver}
}

// CPV returns the record's package identity.
func (r *Record) CPV() atom.CPV {
	return atom.CPV{Category: r.Category, Name: r.Name, Version: r.Version}
}

// Atom returns "category/name".
func (r *Record) Atom() string { return r.Category + "/" + r.Name }

// Path returns the recipe path relative to the workspace root.
func (r *Record) Path() string {
	return r.Tree + "/" + r.Category + "/" + r.Name + "/" + r.Name + "-" + r.Version + ".ebuild"
}

func (r *Record) String() string { return r.CPV().String() }

// identity is the merge key of a record.
func (r *Record) identity() string {
	return r.Tree + "\x00" + r.Category + "\x00" + r.Name + "\x00" + r.Version
}

// AddCPEs adds identifiers to the record. The set never shrinks.
func (r *Record) AddCPEs(cpes ...string) {
	for _, c := range cpes {
		if c == "" {
			continue
		}
		if r.CPEs == nil {
			r.CPEs = make(map[string]struct{})
		}
		r.CPEs[c] = struct{}{}
	}
}

// SortedCPEs returns the identifiers in lexical order.
func (r *Record) SortedCPEs() []string {
	return slices.Sorted(maps.Keys(r.CPEs))
}

// AddDebSuffixes appends suffix tokens per species, skipping tokens the
// species already has.
func (r *Record) AddDebSuffixes(m map[string][]string) {
	r.DebSuffixes = addTokens(r.DebSuffixes, m)
}

// AddPriority appends priority tokens per species, skipping duplicates.
func (r *Record) AddPriority(m map[string][]string) {
	r.Priority = addTokens(r.Priority, m)
}

func addTokens(dst, src map[string][]string) map[string][]string {
	for species, toks := range src {
		for _, tok := range toks {
			if dst == nil {
				dst = make(map[string][]string)
			}
			dst[species] = appendToken(dst[species], tok)
		}
	}
	return dst
}

// appendToken appends tok unless it is empty or already a member.
func appendToken(toks []string, tok string) []string {
	if tok == "" || slices.Contains(toks, tok) {
		return toks
	}
	return append(toks, tok)
}

// fields returns the persisted key/value pairs, sorted by key then value.
func (r *Record) fields() []Field {
	fs := []Field{
		{keyTree, r.Tree},
		{keyCategory, r.Category},
		{keyName, r.Name},
		{keyVersion, r.Version},
	}
	if !r.LastChecked.IsZero() {
		fs = append(fs, Field{keyLastChecked, r.LastChecked.UTC().Format(TimeFormat)})
	}
	if len(r.CPEs) > 0 {
		fs = append(fs, Field{keyCPEs, strings.Join(r.SortedCPEs(), " ")})
	}
	for species, toks := range r.DebSuffixes {
		if len(toks) > 0 {
			fs = append(fs, Field{species + suffixDebSuffix, strings.Join(toks, " ")})
		}
	}
	for species, toks := range r.Priority {
		if len(toks) > 0 {
			fs = append(fs, Field{species + suffixPriority, strings.Join(toks, " ")})
		}
	}
	if r.Slot != "" {
		fs = append(fs, Field{keySlot, r.Slot})
	}
	if r.Broken {
		fs = append(fs, Field{keyBroken, strconv.FormatBool(true)})
	}
	if r.Masked {
		fs = append(fs, Field{keyMasked, strconv.FormatBool(true)})
	}
	// Typed values win over carried-forward keys of the same name.
	for _, f := range r.Extra {
		if !slices.ContainsFunc(fs, func(g Field) bool { return g.Key == f.Key }) {
			fs = append(fs, f)
		}
	}
	slices.SortFunc(fs, func(a, b Field) int {
		if c := strings.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return strings.Compare(a.Value, b.Value)
	})
	return fs
}

// compareRecords orders by (name, category) ascending, then version
// descending so the newest variant comes first.
func compareRecords(a, b *Record) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := strings.Compare(a.Category, b.Category); c != 0 {
		return c
	}
	if c := version.Compare(b.Version, a.Version); c != 0 {
		return c
	}
	return strings.Compare(a.Tree, b.Tree)
}
