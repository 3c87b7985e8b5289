package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/robfig/cron/v3"

	"calnotes/internal/config"
	appLog "calnotes/internal/log"
	"calnotes/internal/web"
)

// InitCmd writes a default configuration file.
type InitCmd struct {
	Force bool `help:"Overwrite an existing config file."`
}

func (cmd *InitCmd) Run(c *Context) error {
	if _, err := os.Stat(c.ConfigPath); err == nil && !cmd.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", c.ConfigPath)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := config.Save(c.ConfigPath, config.DefaultConfig()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(c.out(), "✓ Wrote %s\n", c.ConfigPath)
	fmt.Fprintln(c.out(), "  Set CALNOTES_PERSONAL_ICS (or edit sources) and run 'calnotes sync'.")
	return nil
}

// SyncCmd runs one sync pass.
type SyncCmd struct{}

func (cmd *SyncCmd) Run(ctx context.Context, c *Context) error {
	report, _, err := c.RunSync(ctx)
	if err != nil {
		return err
	}
	renderReport(c.out(), report)
	if !report.OK() {
		return ErrIncomplete
	}
	return nil
}

// DatesCmd prints the lines each date would receive without writing notes.
type DatesCmd struct{}

func (cmd *DatesCmd) Run(ctx context.Context, c *Context) error {
	group, report, err := c.Collect(ctx)
	if err != nil {
		return err
	}
	renderDates(c.out(), group)
	for _, f := range report.Failures {
		fmt.Fprintf(c.out(), "%s %v\n", dangerStyle.Render("✗"), f.Err)
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(c.out(), "%s %v\n", warningStyle.Render("⚠"), w)
	}
	return nil
}

// StatusCmd lists recent runs from the ledger.
type StatusCmd struct {
	Limit int `help:"Number of runs to show." default:"10"`
}

func (cmd *StatusCmd) Run(ctx context.Context, c *Context) error {
	cfg, err := c.Config()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	ledger, err := c.Ledger()
	if err != nil {
		return err
	}
	runs, err := ledger.Recent(ctx, cmd.Limit)
	if err != nil {
		return err
	}
	renderRuns(c.out(), runs, loc)
	return nil
}

// keepRuns bounds the ledger in watch mode.
const keepRuns = 500

// WatchCmd syncs now and then on the refresh schedule, optionally serving
// the status API.
type WatchCmd struct {
	Listen string `help:"HTTP listen address (overrides config if set)."`
}

func (cmd *WatchCmd) Run(ctx context.Context, c *Context) error {
	cfg, err := c.Config()
	if err != nil {
		return err
	}
	if _, err := c.Syncer(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	ledger, err := c.Ledger()
	if err != nil {
		return err
	}

	listen := cfg.Listen
	if cmd.Listen != "" {
		listen = cmd.Listen
	}
	appLog.Info("watch starting",
		"refresh", cfg.RefreshCron,
		"timezone", cfg.Timezone,
		"sources", len(cfg.Sources),
		"listen", listen,
	)

	runOnce := func() {
		if _, _, err := c.RunSync(ctx); err != nil {
			appLog.Error("scheduled sync failed", err)
			return
		}
		if _, err := ledger.Prune(ctx, keepRuns); err != nil {
			appLog.Warn("ledger prune failed", "error", err.Error())
		}
	}
	runOnce()

	sched := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := sched.AddFunc(cfg.RefreshCron, runOnce); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshCron, err)
	}
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
		appLog.Info("watch stopped")
	}()

	if listen == "" {
		<-ctx.Done()
		return nil
	}
	srv := web.NewServer(cfg.BasicAuth, c, ledger)
	return web.ListenAndServe(ctx, listen, srv.Handler())
}

// SecretSetCmd stores a source locator or password in the OS keyring.
type SecretSetCmd struct {
	Source   string `arg:"" help:"Source name."`
	Value    string `arg:"" help:"Feed URL, or the password with --password."`
	Password bool   `help:"Store the source's password instead of its locator."`
}

func (cmd *SecretSetCmd) Run(c *Context) error {
	user := cmd.Source
	if cmd.Password {
		user = config.PasswordUser(cmd.Source)
	}
	if err := config.SetSecret(user, cmd.Value); err != nil {
		return err
	}
	fmt.Fprintf(c.out(), "✓ Stored secret for %s in the OS keyring\n", user)
	return nil
}

// SecretDeleteCmd removes a source secret from the OS keyring.
type SecretDeleteCmd struct {
	Source   string `arg:"" help:"Source name."`
	Password bool   `help:"Delete the source's password instead of its locator."`
}

func (cmd *SecretDeleteCmd) Run(c *Context) error {
	user := cmd.Source
	if cmd.Password {
		user = config.PasswordUser(cmd.Source)
	}
	if err := config.DeleteSecret(user); err != nil {
		return err
	}
	fmt.Fprintf(c.out(), "✓ Deleted secret for %s\n", user)
	return nil
}
