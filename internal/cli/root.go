package cli

import "github.com/alecthomas/kong"

// Root is the calnotes command tree.
type Root struct {
	Version kong.VersionFlag
	Config  string `help:"Config file path (.yaml or .toml)." type:"path" default:"${config_path}"`
	Debug   bool   `help:"Enable debug logging."`

	Init   InitCmd   `cmd:"" help:"Write a default config file."`
	Sync   SyncCmd   `cmd:"" help:"Sync calendar sections into daily notes once." default:"1"`
	Watch  WatchCmd  `cmd:"" help:"Sync now and then on the refresh schedule."`
	Dates  DatesCmd  `cmd:"" help:"Show the lines each date would receive, without writing."`
	Status StatusCmd `cmd:"" help:"Show recent runs."`
	Secret struct {
		Set    SecretSetCmd    `cmd:"" help:"Store a source URL or password in the OS keyring."`
		Delete SecretDeleteCmd `cmd:"" help:"Remove a source secret from the OS keyring."`
	} `cmd:"" help:"Manage source secrets."`
}
