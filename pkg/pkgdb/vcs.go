package pkgdb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// History reports when recipe files last changed under version control.
type History interface {
	// LastChanged maps workspace-relative paths to their last change time.
	// Paths without history are simply absent from the result.
	LastChanged(ctx context.Context, workdir string, paths []string) (map[string]time.Time, error)
}

// NewHistory returns the History for a VCS name: "svn", "git", or "none"
// (and "") for no history.
func NewHistory(name string) (History, error) {
	switch name {
	case "svn":
		return SVN{}, nil
	case "git":
		return Git{}, nil
	case "", "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown vcs %q", name)
}

// SVN reads "Last Changed Date" from `svn info`.
type SVN struct{}

// LastChanged runs `svn info -- paths...` in workdir.
func (SVN) LastChanged(ctx context.Context, workdir string, paths []string) (map[string]time.Time, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	out, err := run(ctx, workdir, "svn", append([]string{"info", "--"}, paths...)...)
	if err != nil && len(out) == 0 {
		return nil, err
	}
	// svn info exits non-zero when some paths are unversioned but still
	// prints the blocks of the versioned ones.
	return parseSVNInfo(out), nil
}

var (
	svnPathRegex = regexp.MustCompile(`(?m)^Path: (.*)$`)
	svnDateRegex = regexp.MustCompile(`(?m)^Last Changed Date: ([0-9]{4}-[0-9]{2}-[0-9]{2} [0-9:]{8} [+-][0-9]{4})`)
)

const svnDateLayout = "2006-01-02 15:04:05 -0700"

func parseSVNInfo(out []byte) map[string]time.Time {
	res := make(map[string]time.Time)
	for _, block := range bytes.Split(out, []byte("\n\n")) {
		p := svnPathRegex.FindSubmatch(block)
		d := svnDateRegex.FindSubmatch(block)
		if p == nil || d == nil {
			continue
		}
		t, err := time.Parse(svnDateLayout, string(d[1]))
		if err != nil {
			continue
		}
		res[strings.TrimSpace(string(p[1]))] = t.UTC()
	}
	return res
}

// Git reads the committer date of the latest commit touching each path.
type Git struct{}

// LastChanged runs a single `git log` over the paths' top-level segments.
func (Git) LastChanged(ctx context.Context, workdir string, paths []string) (map[string]time.Time, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	var segments []string
	seen := make(map[string]bool)
	for _, p := range paths {
		seg, _, _ := strings.Cut(p, "/")
		if !seen[seg] {
			seen[seg] = true
			segments = append(segments, seg)
		}
	}
	args := append([]string{"log", "--relative", "--no-renames", "--format=%x00%cI", "--name-only", "--"}, segments...)
	out, err := run(ctx, workdir, "git", args...)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	res := make(map[string]time.Time)
	for path, t := range parseGitLog(out) {
		if want[path] {
			res[path] = t
		}
	}
	return res, nil
}

// parseGitLog parses `git log --format=%x00%cI --name-only` output, newest
// commit first, keeping the first date seen for each path.
func parseGitLog(out []byte) map[string]time.Time {
	res := make(map[string]time.Time)
	for _, commit := range bytes.Split(out, []byte{0}) {
		lines := strings.Split(strings.TrimSpace(string(commit)), "\n")
		if len(lines) == 0 || lines[0] == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[0]))
		if err != nil {
			continue
		}
		for _, l := range lines[1:] {
			l = strings.TrimSpace(l)
			if l == "" {
				continue
			}
			if _, ok := res[l]; !ok {
				res[l] = t.UTC()
			}
		}
	}
	return res
}

func run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
