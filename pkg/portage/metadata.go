package portage

import (
	"bufio"
	"bytes"
	"os"
	"strings"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/errors"
)

// metadata is one parsed md5-cache entry.
type metadata map[string]string

// parseMetadata parses KEY=VALUE lines. Lines without "=" are ignored.
func parseMetadata(data []byte) metadata {
	m := make(metadata)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}

// slot returns the SLOT value without its sub-slot. An ebuild without a SLOT
// is in slot "0".
func (m metadata) slot() string {
	s, _, _ := strings.Cut(m[KeySlot], "/")
	if s == "" {
		return "0"
	}
	return s
}

func (m metadata) keywords() []string {
	return strings.Fields(m[KeyKeywords])
}

// readMaskFile parses a package.mask file. A missing file is empty; invalid
// lines are ignored.
func readMaskFile(path string) ([]atom.Dep, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read mask file")
	}
	var out []atom.Dep
	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		d, err := atom.ParseDep(line)
		if err != nil || d.Blocker != 0 {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func masked(masks []atom.Dep, cpv atom.CPV, slot string) bool {
	for _, d := range masks {
		if d.Matches(cpv) && d.MatchesSlot(slot) {
			return true
		}
	}
	return false
}

// accepts reports whether the profile accepts one of keywords.
func (p Profile) accepts(keywords []string, unstable bool) bool {
	accepted := map[string]bool{p.Arch: true}
	if unstable {
		accepted["~"+p.Arch] = true
	}
	for _, k := range p.AcceptKeywords {
		accepted[k] = true
	}
	for _, kw := range keywords {
		switch {
		case strings.HasPrefix(kw, "-"):
			continue
		case accepted[kw], accepted["**"]:
			return true
		case accepted["*"] && !strings.HasPrefix(kw, "~"):
			return true
		case accepted["~*"] && strings.HasPrefix(kw, "~"):
			return true
		}
	}
	return false
}
