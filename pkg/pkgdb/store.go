// Package pkgdb is the curated package record store.
//
// The store is a sectioned INI file; each section is one [Record] named by a
// stable section name ("openssl.0"). Sections are written sorted by package
// name, category and descending version, and the keys of each section are
// sorted, so an unchanged store saves to identical bytes and diffs cleanly
// under version control.
//
// [Store.Rescan] rebuilds the records from the live repository segments and
// merges them into the persisted ones without losing curated data: unknown
// keys are carried forward, last-checked dates never move backward and CPE
// identifiers are only ever added.
package pkgdb

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	debversion "github.com/knqyf263/go-deb-version"
	"gopkg.in/ini.v1"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/errors"
)

var loadOptions = ini.LoadOptions{
	IgnoreInlineComment:     true,
	PreserveSurroundedQuote: true,
}

// iniFormatMu guards the ini package's formatting switches, which writeINI
// flips for the duration of one write.
var iniFormatMu sync.Mutex

// writeINI writes cfg as "key = value" lines without column alignment and
// restores the ini package defaults afterwards.
func writeINI(cfg *ini.File, w io.Writer) error {
	iniFormatMu.Lock()
	defer iniFormatMu.Unlock()
	prettyFormat, prettyEqual := ini.PrettyFormat, ini.PrettyEqual
	ini.PrettyFormat, ini.PrettyEqual = false, true
	defer func() { ini.PrettyFormat, ini.PrettyEqual = prettyFormat, prettyEqual }()

	_, err := cfg.WriteTo(w)
	return err
}

// iniValue protects surrounding whitespace, which the reader would trim, by
// triple-quoting the value. Values holding a newline or backtick are
// triple-quoted by the writer itself.
func iniValue(v string) string {
	if strings.TrimSpace(v) != v && !strings.ContainsAny(v, "\n`") {
		return `"""` + v + `"""`
	}
	return v
}

// Store holds the records of one persisted store file.
type Store struct {
	path    string
	records []*Record
	logger  *log.Logger
}

// New returns an empty store backed by path. Nothing is read.
func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{path: path, logger: logger}
}

// Open creates a store backed by path and loads it. A missing file yields an
// empty store.
func Open(path string, logger *log.Logger) (*Store, error) {
	s := New(path, logger)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Records returns the records in persisted order.
func (s *Store) Records() []*Record { return s.records }

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Section returns the record persisted under name, or nil.
func (s *Store) Section(name string) *Record {
	for _, r := range s.records {
		if r.Section == name {
			return r
		}
	}
	return nil
}

// Load replaces the in-memory records with the content of the backing file.
// Every section must carry the identity keys; all offending sections are
// reported together and nothing is loaded.
func (s *Store) Load() error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.records = nil
		return nil
	}
	cfg, err := ini.LoadSources(loadOptions, s.path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeMalformedStore, err, "load %s", s.path)
	}

	var (
		records []*Record
		missing []error
	)
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			if len(sec.Keys()) > 0 {
				s.logger.Warn("ignoring keys outside of any section", "store", s.path, "count", len(sec.Keys()))
			}
			continue
		}
		r, err := s.parseSection(sec)
		if err != nil {
			missing = append(missing, err)
			continue
		}
		records = append(records, r)
	}
	if len(missing) > 0 {
		return errors.Wrap(errors.ErrCodeMalformedStore, stderrors.Join(missing...), "load %s", s.path)
	}

	s.records = records
	s.refresh()
	s.logger.Debug("loaded store", "path", s.path, "records", len(records))
	return nil
}

func (s *Store) parseSection(sec *ini.Section) (*Record, error) {
	r := &Record{Section: sec.Name()}
	var have [4]bool
	for _, k := range sec.Keys() {
		name, value := k.Name(), k.Value()
		switch {
		case name == keyTree:
			r.Tree, have[0] = value, true
		case name == keyCategory:
			r.Category, have[1] = value, true
		case name == keyName:
			r.Name, have[2] = value, true
		case name == keyVersion:
			r.Version, have[3] = value, true
		case name == keyLastChecked:
			t, err := time.Parse(TimeFormat, value)
			if err != nil {
				s.logger.Warn("keeping unparsable last-checked as is", "section", sec.Name(), "value", value)
				r.Extra = append(r.Extra, Field{name, value})
				continue
			}
			r.LastChecked = t.UTC()
		case name == keyCPEs:
			r.AddCPEs(strings.Fields(value)...)
		case strings.HasSuffix(name, suffixDebSuffix) && len(name) > len(suffixDebSuffix):
			species := strings.TrimSuffix(name, suffixDebSuffix)
			r.AddDebSuffixes(map[string][]string{species: strings.Fields(value)})
		case strings.HasSuffix(name, suffixPriority) && len(name) > len(suffixPriority):
			species := strings.TrimSuffix(name, suffixPriority)
			r.AddPriority(map[string][]string{species: strings.Fields(value)})
		case name == keySlot:
			r.Slot = value
		case name == keyBroken || name == keyMasked:
			b, err := strconv.ParseBool(value)
			if err != nil || !b {
				r.Extra = append(r.Extra, Field{name, value})
				continue
			}
			if name == keyBroken {
				r.Broken = true
			} else {
				r.Masked = true
			}
		default:
			r.Extra = append(r.Extra, Field{name, value})
		}
	}

	var absent []string
	for i, key := range []string{keyTree, keyCategory, keyName, keyVersion} {
		if !have[i] {
			absent = append(absent, key)
		}
	}
	if len(absent) > 0 {
		return nil, errors.New(errors.ErrCodeMissingMandatoryField,
			"section [%s] is missing %s", sec.Name(), strings.Join(absent, ", "))
	}
	return r, nil
}

// refresh sorts the records and names every unnamed one with the lowest
// unused "name.index".
func (s *Store) refresh() {
	slices.SortStableFunc(s.records, compareRecords)

	used := make(map[string]bool, len(s.records))
	for _, r := range s.records {
		if r.Section != "" {
			used[r.Section] = true
		}
	}
	for _, r := range s.records {
		if r.Section != "" {
			continue
		}
		for i := 0; ; i++ {
			name := fmt.Sprintf("%s.%d", r.Name, i)
			if !used[name] {
				r.Section = name
				used[name] = true
				break
			}
		}
	}
}

// Save writes the store atomically to its backing file.
func (s *Store) Save() error {
	s.refresh()

	cfg := ini.Empty(loadOptions)
	for _, r := range s.records {
		sec, err := cfg.NewSection(r.Section)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "section %s", r.Section)
		}
		for _, f := range r.fields() {
			if _, err := sec.NewKey(f.Key, iniValue(f.Value)); err != nil {
				return errors.Wrap(errors.ErrCodeInternal, err, "section %s key %s", r.Section, f.Key)
			}
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeINI(cfg, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	s.logger.Debug("saved store", "path", s.path, "records", len(s.records))
	return nil
}

// Merge replaces the records with fresh, carrying curated data forward.
//
// Fresh records first inherit the section name of the persisted record with
// the same identity; the rest get the lowest unused "name.index". Each fresh
// record is then paired with the persisted record of the same section: its
// extra fields are carried forward verbatim, the later last-checked date is
// kept and the CPE sets are united.
func (s *Store) Merge(fresh []*Record) {
	byIdentity := make(map[string]*Record, len(s.records))
	bySection := make(map[string]*Record, len(s.records))
	for _, r := range s.records {
		byIdentity[r.identity()] = r
		bySection[r.Section] = r
	}

	next := &Store{records: fresh, logger: s.logger}
	for _, r := range fresh {
		r.Section = ""
		if old, ok := byIdentity[r.identity()]; ok {
			r.Section = old.Section
		}
	}
	next.refresh()

	for _, r := range next.records {
		old, ok := bySection[r.Section]
		if !ok {
			continue
		}
		r.Extra = append([]Field(nil), old.Extra...)
		if old.LastChecked.After(r.LastChecked) {
			r.LastChecked = old.LastChecked
		}
		for c := range old.CPEs {
			r.AddCPEs(c)
		}
	}
	s.records = next.records
}

// Match returns the identities of the records satisfying the dependency
// atom expr. Record slots are honored when known.
func (s *Store) Match(expr string) ([]atom.CPV, error) {
	d, err := atom.ParseDep(expr)
	if err != nil {
		return nil, err
	}
	var out []atom.CPV
	for _, r := range s.records {
		if d.Matches(r.CPV()) && d.MatchesSlot(r.Slot) && !slices.Contains(out, r.CPV()) {
			out = append(out, r.CPV())
		}
	}
	return out, nil
}

// SearchNames returns the records whose package name is one of names.
func (s *Store) SearchNames(names ...string) []*Record {
	var out []*Record
	for _, r := range s.records {
		if slices.Contains(names, r.Name) {
			out = append(out, r)
		}
	}
	return out
}

// LookupDeb finds the records a Debian package was built from.
//
// debName has the form "<name>_<version>_<arch>". A record matches when its
// version equals the Debian version (by Debian rules, so an explicit zero
// epoch is ignored) and either its name equals the Debian
// name, or the Debian name is the record name followed by one of the
// record's naming suffixes for species. An exact name match ends the search.
func (s *Store) LookupDeb(debName, species string, caseSensitive bool) ([]*Record, error) {
	parts := strings.Split(debName, "_")
	if len(parts) < 3 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "not a <name>_<version>_<arch> package name: %q", debName)
	}
	norm := func(s string) string {
		if caseSensitive {
			return s
		}
		return strings.ToUpper(s)
	}
	name := norm(strings.Join(parts[:len(parts)-2], "_"))
	ver := norm(parts[len(parts)-2])
	debVer, debErr := debversion.NewVersion(parts[len(parts)-2])
	sameVersion := func(v string) bool {
		if norm(v) == ver {
			return true
		}
		if debErr != nil {
			return false
		}
		rv, err := debversion.NewVersion(v)
		return err == nil && rv.Equal(debVer)
	}

	var out []*Record
	for _, r := range s.records {
		if !sameVersion(r.Version) {
			continue
		}
		rname := norm(r.Name)
		if name == rname {
			return append(out, r), nil
		}
		suffix, ok := strings.CutPrefix(name, rname)
		if !ok {
			continue
		}
		for _, tok := range r.DebSuffixes[species] {
			if norm(tok) == suffix {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}
