// Package cli implements the portkeeper command-line interface.
//
// The commands maintain a curated ebuild tree: list shows what the
// configured profiles see, equalize trims the tree down to the best visible
// version of every slot, rescan rebuilds the package record store, and deps,
// show and lookup-deb query the store and the tree together.
//
// # Configuration
//
// Settings come from a TOML file (--config, else
// $XDG_CONFIG_HOME/portkeeper/config.toml); --root, --portdir and --profile
// override it.
//
// # Logging
//
// Commands log to stderr through charmbracelet/log: info by default, debug
// with --verbose, errors only with --quiet. The logger travels in the command
// context (see loggerFromContext).
package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/portkeeper/pkg/buildinfo"
	"github.com/matzehuels/portkeeper/pkg/cache"
	"github.com/matzehuels/portkeeper/pkg/pkgdb"
	"github.com/matzehuels/portkeeper/pkg/portage"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "portkeeper"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
	LogError = log.ErrorLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configFile string
	overrides  overrides
	cfg        *Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	var verbose, quiet bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Portkeeper maintains a curated ebuild tree and its package records",
		Long: `Portkeeper keeps a curated ebuild tree small and reviewable.

It trims the tree to the best visible version of every slot, tracks curated
per-package metadata (CPE identifiers, Debian naming suffixes, priorities) in
a record store, and resolves dependency closures against the tree.`,
		Version:       buildinfo.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case verbose:
				c.SetLogLevel(LogDebug)
			case quiet:
				c.SetLogLevel(LogError)
			}
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}
	root.SetVersionTemplate(buildinfo.Template())

	pf := root.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	pf.StringVar(&c.configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/portkeeper/config.toml)")
	pf.StringVar(&c.overrides.root, "root", "", "workspace directory containing the repository segments")
	pf.StringVarP(&c.overrides.portdir, "portdir", "d", "", "ebuild tree to query (segment name or path)")
	pf.StringArrayVarP(&c.overrides.profiles, "profile", "p", nil, "profile arch to consider (repeatable)")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddCommand(c.listCommand())
	root.AddCommand(c.equalizeCommand())
	root.AddCommand(c.rescanCommand())
	root.AddCommand(c.depsCommand())
	root.AddCommand(c.lookupDebCommand())
	root.AddCommand(c.showCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Shared Resources
// =============================================================================

// config loads the configuration once per process.
func (c *CLI) config() (*Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := loadConfig(c.configFile, c.Logger)
	if err != nil {
		return nil, err
	}
	cfg.apply(c.overrides)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// openTree opens the configured query tree. The caller closes it.
func (c *CLI) openTree(cfg *Config) (*portage.Tree, error) {
	return c.openSegment(cfg, cfg.TreePath())
}

func (c *CLI) openSegment(cfg *Config, dir string) (*portage.Tree, error) {
	return portage.Open(portage.Options{
		Root:           dir,
		Profiles:       cfg.Profiles(),
		AcceptUnstable: cfg.Portage.AcceptUnstable,
		IndexDir:       indexDir(),
		Logger:         c.Logger,
	})
}

// openStore loads the record store. A missing file yields an empty store.
func (c *CLI) openStore(cfg *Config) (*pkgdb.Store, error) {
	return pkgdb.Open(cfg.StorePath(), c.Logger)
}

func newCache(noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	dir, err := cacheDir()
	if err != nil {
		return cache.NewNullCache(), nil
	}
	return cache.NewFileCache(filepath.Join(dir, "specs"))
}

// specKeyer scopes spec cache keys to the workspace, so that several
// workspaces can share one cache directory.
func specKeyer(cfg *Config) cache.Keyer {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		root = cfg.Root
	}
	return cache.NewScopedKeyer(cache.NewDefaultKeyer(), "root:"+cache.Hash([]byte(root))[:12]+":")
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/portkeeper/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// indexDir holds the bbolt session indexes; "" lets portage pick a temp dir.
func indexDir() string {
	dir, err := cacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "index")
}
