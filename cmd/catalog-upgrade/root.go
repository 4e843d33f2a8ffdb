package main

import (
	"io"

	"github.com/i5heu/ouroboros-catalog/internal/config"
	"github.com/i5heu/ouroboros-catalog/internal/keyValStore"
	"github.com/i5heu/ouroboros-catalog/pkg/logging"
	"github.com/i5heu/ouroboros-catalog/pkg/versionstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Process exit statuses. upgrade exits with ExitNoOp when the branch holds
// no legacy entries.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitNoOp    = 2
)

// exitError carries a process exit status that is not a plain failure.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// exitCode maps an error returned by the root command to a process status.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitFailure
}

// globals are the flags shared by every subcommand.
type globals struct {
	configPath string
	dataPath   string
	logLevel   string
	logFormat  string

	config config.Config
	log    *logrus.Logger
}

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	g := &globals{}
	rc := &cobra.Command{
		Use:   "catalog-upgrade",
		Short: "Upgrade legacy table metadata pointers in a versioned catalog store.",
		Long: `catalog-upgrade rewrites table entries that still use the legacy
metadata pointer encoding into the current encoding. The upgrade is staged on
a working branch and published with a single conditional branch assignment,
so a failed or interrupted run never leaves the upgraded branch half done.

Exit status: 0 when entries were upgraded, 2 when there was nothing to do,
1 on failure.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd.Flags(), stderr)
		},
	}

	flags := rc.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "Configuration file to read from.")
	flags.StringVar(&g.dataPath, "path", "", "Directory of the catalog store. Overrides store.path.")
	flags.StringVar(&g.logLevel, "log-level", "", "Log level. Overrides log.level.")
	flags.StringVar(&g.logFormat, "log-format", "", "Log format, text or json. Overrides log.format.")

	rc.AddCommand(newUpgradeCommand(g, stdout))
	rc.AddCommand(newBranchesCommand(g, stdout))
	rc.AddCommand(newLogCommand(g, stdout))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// load reads the config file and applies the flags that were set explicitly.
func (g *globals) load(flags *pflag.FlagSet, stderr io.Writer) error {
	c, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if flags.Changed("path") {
		c.Store.Path = g.dataPath
		c.Store.InMemory = false
	}
	if flags.Changed("log-level") {
		c.Log.Level = g.logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = g.logFormat
	}

	log, err := logging.New(logging.Options{Level: c.Log.Level, Format: c.Log.Format, Output: stderr})
	if err != nil {
		return err
	}
	g.config = c
	g.log = log
	return nil
}

// openStore opens the configured store. The returned func closes it.
func (g *globals) openStore() (*versionstore.Store, func(), error) {
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            []string{g.config.Store.Path},
		MinimumFreeSpace: g.config.Store.MinimumFreeSpace,
		InMemory:         g.config.Store.InMemory,
		Logger:           g.log,
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := versionstore.NewStore(kv, versionstore.Config{
		Logger:          g.log,
		KeyListDistance: g.config.Store.KeyListDistance,
		CommitCacheSize: g.config.Store.CommitCacheSize,
	})
	if err != nil {
		_ = kv.Close()
		return nil, nil, err
	}

	closeFn := func() {
		store.Close()
		reads, writes := kv.Counters()
		g.log.WithFields(logrus.Fields{"reads": reads, "writes": writes}).Debug("closing store")
		if err := kv.Close(); err != nil {
			g.log.WithError(err).Error("closing store")
		}
	}
	return store, closeFn, nil
}
