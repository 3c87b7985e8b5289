package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"calnotes/internal/cli"
	"calnotes/internal/config"
	appLog "calnotes/internal/log"
)

var version = "0.1.0-dev"

func main() {
	var root cli.Root
	kctx := kong.Parse(&root,
		kong.Name("calnotes"),
		kong.Description("Mirror calendar feeds into a managed section of daily notes."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version":     version,
			"config_path": config.DefaultPath(),
		},
	)

	// Root context, canceled on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCtx := &cli.Context{
		ConfigPath: root.Config,
		Debug:      root.Debug,
	}
	kctx.BindTo(ctx, (*context.Context)(nil))

	err := kctx.Run(appCtx)
	if cerr := appCtx.Close(); cerr != nil {
		appLog.Error("failed to close state database", cerr)
	}
	if err != nil {
		if !errors.Is(err, cli.ErrIncomplete) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
