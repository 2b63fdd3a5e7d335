package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glidenotes/notesync/internal/config"
	"github.com/glidenotes/notesync/internal/logging"
)

// cli holds state shared by every command.
type cli struct {
	v          *viper.Viper
	configPath string
	format     string
	cfg        *config.Config
	log        *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:           "notesync",
		Short:         "Local-first notes with background sync",
		Long:          "notesync keeps notes, folders and actions in a local SQLite store and syncs them with a remote service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				c.log.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "Config file (default: <data-dir>/notesync.yaml)")
	flags.StringP("data-dir", "d", config.DefaultDataDir(), "Data directory ($NOTESYNC_DATA_DIR)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.StringVarP(&c.format, "format", "f", formatText, "Output format: text, json or yaml")
	c.v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	c.v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		c.statusCmd(),
		c.syncCmd(),
		c.hydrateCmd(),
		c.pendingCmd(),
		c.failuresCmd(),
		c.noteCmd(),
		c.folderCmd(),
		c.actionCmd(),
		c.serveCmd(),
	)
	return root
}

// load resolves configuration and installs the global logger.
func (c *cli) load() error {
	if err := checkFormat(c.format); err != nil {
		return err
	}
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = logging.Init(cfg.LoggingOptions())
	return nil
}
