// Package cli implements the calnotes commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"calnotes/internal/config"
	"calnotes/internal/ics"
	appLog "calnotes/internal/log"
	"calnotes/internal/model"
	"calnotes/internal/section"
	"calnotes/internal/state"
	"calnotes/internal/syncer"
	"calnotes/internal/vault"
)

// ErrIncomplete is returned by commands whose run had source or note
// failures. The notes that could be updated were updated.
var ErrIncomplete = errors.New("sync finished with failures")

// Context carries the loaded configuration and the collaborators built from
// it. Collaborators are created on first use.
type Context struct {
	ConfigPath string
	Debug      bool
	Out        io.Writer

	// Now, Fetcher and Store replace the defaults when set.
	Now     func() time.Time
	Fetcher ics.Fetcher
	Store   vault.Store

	cfg    *config.Config
	syncer *syncer.Syncer
	ledger *state.Ledger

	// runMu serializes runs started by cron and by the API.
	runMu sync.Mutex
}

// Config loads the configuration once and configures logging from it.
func (c *Context) Config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", c.ConfigPath, err)
	}
	if err := appLog.Init(appLog.Options{Debug: c.Debug || cfg.Log.Debug, File: cfg.Log.File}); err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *Context) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Syncer validates the configuration and builds the orchestrator.
func (c *Context) Syncer() (*syncer.Syncer, error) {
	if c.syncer != nil {
		return c.syncer, nil
	}
	cfg, err := c.Config()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	placement, err := section.ParsePlacement(cfg.Section.Placement)
	if err != nil {
		return nil, err
	}

	if c.Fetcher == nil {
		timeout := cfg.FetchTimeout()
		c.Fetcher = ics.NewKindFetcher(ics.NewHTTPFetcher(cfg.CacheDir, timeout), ics.NewCalDAVFetcher(timeout))
	}
	if c.Store == nil {
		c.Store = vault.NewFS(vault.FSOptions{
			Dir:       cfg.Vault.Dir,
			Layout:    cfg.Vault.FilenameLayout,
			Extension: cfg.Vault.Extension,
			SkipDirs:  cfg.Vault.SkipDirs,
		})
	}

	s, err := syncer.New(c.Fetcher, c.Store, syncer.Options{
		Location:      loc,
		DefaultEmoji:  cfg.DefaultEmoji,
		Rules:         cfg.Rules(),
		Markers:       cfg.Markers(),
		Placement:     placement,
		FetchTimeout:  cfg.FetchTimeout(),
		CreateMissing: cfg.CreateMissing(),
		ClearStale:    cfg.Vault.ClearStale,
	})
	if err != nil {
		return nil, err
	}
	c.syncer = s
	return s, nil
}

// Ledger opens the run ledger.
func (c *Context) Ledger() (*state.Ledger, error) {
	if c.ledger != nil {
		return c.ledger, nil
	}
	cfg, err := c.Config()
	if err != nil {
		return nil, err
	}
	l, err := state.Open(cfg.StateDB)
	if err != nil {
		return nil, err
	}
	c.ledger = l
	return l, nil
}

// Close releases the ledger.
func (c *Context) Close() error {
	if c.ledger == nil {
		return nil
	}
	err := c.ledger.Close()
	c.ledger = nil
	return err
}

func (c *Context) sources() ([]model.Source, error) {
	cfg, err := c.Config()
	if err != nil {
		return nil, err
	}
	return cfg.ResolveSources(c.now())
}

// RunSync performs one full sync and records it in the ledger. A ledger
// failure is logged and does not fail the run.
func (c *Context) RunSync(ctx context.Context) (syncer.Report, state.Run, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	s, err := c.Syncer()
	if err != nil {
		return syncer.Report{}, state.Run{}, err
	}
	sources, err := c.sources()
	if err != nil {
		return syncer.Report{}, state.Run{}, err
	}
	// Notes may have been added by hand since the last run.
	if fs, ok := c.Store.(*vault.FS); ok {
		fs.Rescan()
	}

	report, err := s.Run(ctx, sources)
	if err != nil {
		return report, state.Run{}, err
	}

	run := state.FromReport(report)
	ledger, err := c.Ledger()
	if err != nil {
		appLog.Error("run not recorded: ledger unavailable", err)
		return report, run, nil
	}
	id, err := ledger.Record(ctx, run)
	if err != nil {
		appLog.Error("run not recorded", err)
		return report, run, nil
	}
	run.ID = id
	return report, run, nil
}

// Sync runs a sync for the status API.
func (c *Context) Sync(ctx context.Context) (state.Run, error) {
	_, run, err := c.RunSync(ctx)
	return run, err
}

// Collect computes the lines for every date without touching notes.
func (c *Context) Collect(ctx context.Context) (*model.DateGroup, syncer.Report, error) {
	s, err := c.Syncer()
	if err != nil {
		return nil, syncer.Report{}, err
	}
	sources, err := c.sources()
	if err != nil {
		return nil, syncer.Report{}, err
	}
	return s.Collect(ctx, sources)
}

// Agenda is Collect without the report, for the status API.
func (c *Context) Agenda(ctx context.Context) (*model.DateGroup, error) {
	group, _, err := c.Collect(ctx)
	return group, err
}
