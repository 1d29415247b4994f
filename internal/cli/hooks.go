package cli

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/portkeeper/pkg/observability"
)

// LogHooks reports library events to a logger at debug level.
type LogHooks struct {
	Logger *log.Logger
}

var (
	_ observability.OperationHooks = LogHooks{}
	_ observability.CacheHooks     = LogHooks{}
)

// RegisterHooks installs LogHooks for c's logger as the process-wide hooks.
func (c *CLI) RegisterHooks() {
	h := LogHooks{Logger: c.Logger}
	observability.SetOperationHooks(h)
	observability.SetCacheHooks(h)
}

func (h LogHooks) OnRescanStart(_ context.Context, trees []string) {
	h.Logger.Debug("rescan started", "trees", trees)
}

func (h LogHooks) OnRescanComplete(_ context.Context, records int, d time.Duration, err error) {
	h.Logger.Debug("rescan complete", "records", records, "elapsed", d.Round(time.Millisecond), "err", err)
}

func (h LogHooks) OnEqualizeStart(_ context.Context, atoms int) {
	h.Logger.Debug("equalize started", "atoms", atoms)
}

func (h LogHooks) OnEqualizeComplete(_ context.Context, atoms, skipped int, d time.Duration, err error) {
	h.Logger.Debug("equalize complete", "atoms", atoms, "skipped", skipped, "elapsed", d.Round(time.Millisecond), "err", err)
}

func (h LogHooks) OnCacheHit(_ context.Context, keyType string) {
	h.Logger.Debug("cache hit", "type", keyType)
}

func (h LogHooks) OnCacheMiss(_ context.Context, keyType string) {
	h.Logger.Debug("cache miss", "type", keyType)
}

func (h LogHooks) OnCacheSet(_ context.Context, keyType string, size int) {
	h.Logger.Debug("cache set", "type", keyType, "size", size)
}
