package cli

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/portkeeper/pkg/errors"
	"github.com/matzehuels/portkeeper/pkg/portage"
)

// Config is the content of config.toml.
type Config struct {
	// Root is the workspace directory holding the repository segments.
	Root string `toml:"root"`
	// Trees lists the segments scanned by rescan.
	Trees []string `toml:"trees"`
	// Store is the record store file, relative to Root unless absolute.
	Store string `toml:"store"`
	// Specs is the auxiliary spec directory, relative to Root unless absolute.
	Specs        string   `toml:"specs"`
	SpeciesGlob  string   `toml:"species_glob"`
	Preprocessor []string `toml:"preprocessor"`
	// VCS is "git", "svn" or "none".
	VCS string `toml:"vcs"`

	Portage PortageConfig `toml:"portage"`
}

// PortageConfig selects the tree used for queries and equalization.
type PortageConfig struct {
	// Tree is a segment name under Root, or an absolute path.
	Tree           string          `toml:"tree"`
	AcceptUnstable bool            `toml:"accept_unstable"`
	Profiles       []ProfileConfig `toml:"profile"`
}

// ProfileConfig is one [[portage.profile]] table.
type ProfileConfig struct {
	Name           string   `toml:"name"`
	Arch           string   `toml:"arch"`
	AcceptKeywords []string `toml:"accept_keywords"`
	PackageMask    []string `toml:"package_mask"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults fills the keys a config file left out. Keys present but empty
// (trees = []) are kept so validate can reject them.
func (c *Config) setDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.Trees == nil {
		c.Trees = []string{"portage", "portage-overlay"}
	}
	if c.Store == "" {
		c.Store = filepath.Join("pkgdb", "all.conf")
	}
	if c.Specs == "" {
		c.Specs = "specs"
	}
	if c.SpeciesGlob == "" {
		c.SpeciesGlob = "*"
	}
	if c.VCS == "" {
		c.VCS = "none"
	}
	if c.Portage.Tree == "" {
		c.Portage.Tree = "portage"
	}
	if c.Portage.Profiles == nil {
		c.Portage.Profiles = []ProfileConfig{{Name: "amd64", Arch: "amd64"}}
	}
}

// configPath returns the default config file ($XDG_CONFIG_HOME/portkeeper/config.toml).
func configPath() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// loadConfig reads path over the defaults. An empty path means the default
// location, which may be absent; an explicit path must exist.
func loadConfig(path string, logger *log.Logger) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := configPath()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			logger.Debug("no config file, using defaults", "path", path)
			return DefaultConfig(), nil
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read config")
	}

	cfg := &Config{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
	}
	for _, key := range md.Undecoded() {
		logger.Warn("unknown config key", "path", path, "key", key.String())
	}
	logger.Debug("loaded config", "path", path)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Trees) == 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "trees is empty")
	}
	for _, t := range c.Trees {
		if err := errors.ValidateSegmentName(t); err != nil {
			return err
		}
	}
	switch c.VCS {
	case "none", "git", "svn":
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown vcs %q (want git, svn or none)", c.VCS)
	}
	if len(c.Portage.Profiles) == 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "no [[portage.profile]] configured")
	}
	for i, p := range c.Portage.Profiles {
		if p.Arch == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "portage.profile[%d] has no arch", i)
		}
	}
	return nil
}

// overrides are the command-line values that win over the config file.
type overrides struct {
	root     string
	portdir  string
	profiles []string
}

func (c *Config) apply(o overrides) {
	if o.root != "" {
		c.Root = o.root
	}
	if o.portdir != "" {
		c.Portage.Tree = o.portdir
	}
	if len(o.profiles) > 0 {
		c.Portage.Profiles = c.Portage.Profiles[:0]
		for _, arch := range o.profiles {
			c.Portage.Profiles = append(c.Portage.Profiles, ProfileConfig{Name: arch, Arch: arch})
		}
	}
}

// path resolves p against Root.
func (c *Config) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// StorePath returns the record store file.
func (c *Config) StorePath() string { return c.path(c.Store) }

// SpecsPath returns the auxiliary spec directory.
func (c *Config) SpecsPath() string { return c.path(c.Specs) }

// TreePath returns the directory of the query tree.
func (c *Config) TreePath() string { return c.path(c.Portage.Tree) }

// Profiles converts the profile tables.
func (c *Config) Profiles() []portage.Profile {
	out := make([]portage.Profile, 0, len(c.Portage.Profiles))
	for _, p := range c.Portage.Profiles {
		name := p.Name
		if name == "" {
			name = p.Arch
		}
		out = append(out, portage.Profile{
			Name:           name,
			Arch:           p.Arch,
			AcceptKeywords: slices.Clone(p.AcceptKeywords),
			PackageMask:    slices.Clone(p.PackageMask),
		})
	}
	return out
}

// ProfileNames returns the profile names for display.
func (c *Config) ProfileNames() string {
	names := make([]string, 0, len(c.Portage.Profiles))
	for _, p := range c.Profiles() {
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}
