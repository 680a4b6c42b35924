// Command savesync synchronizes handheld-console save data with a central
// server: it enumerates titles across media sources, reconciles local and
// server state three-way, and uploads or downloads save bundles.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pepasjc/savesync/internal/api"
	"github.com/pepasjc/savesync/internal/config"
	"github.com/pepasjc/savesync/internal/journal"
	"github.com/pepasjc/savesync/internal/media"
	"github.com/pepasjc/savesync/internal/state"
	syncengine "github.com/pepasjc/savesync/internal/sync"
	"github.com/pepasjc/savesync/internal/titles"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagRoot    string
	flagVerbose bool
	flagDebug   bool
	flagQuiet   bool
)

// CLIContext bundles the loaded config, logger, and storage root. Created
// once in PersistentPreRunE and carried in the command context.
type CLIContext struct {
	Cfg    *config.AppConfig
	Logger *slog.Logger
	Fs     afero.Fs
	Root   string
}

type cliContextKey struct{}

// mustCLIContext extracts the CLIContext or panics; the command tree
// guarantees PersistentPreRunE populated it before any RunE runs.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext missing from command context")
	}

	return cc
}

// httpClientTimeout bounds metadata requests; transfers are small enough
// (the POST ceiling is well under a megabyte) to share it.
const httpClientTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "savesync",
		Short:   "Console save-data sync client",
		Long:    "Synchronizes handheld-console save data with a central server.",
		Version: version,
		// Errors and usage are printed by main, not by cobra.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagRoot, "root", "savesync",
		"storage root holding config.txt, state/, and the save archives")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newJournalCmd())

	return cmd
}

// loadCLIContext builds the logger, loads config.txt under the storage
// root, and stores the CLIContext in the command's context.
func loadCLIContext(cmd *cobra.Command) error {
	logger := buildLogger()
	fs := afero.NewOsFs()

	cfg, err := config.Load(fs, flagRoot, logger)
	if err != nil {
		return err
	}

	cc := &CLIContext{Cfg: cfg, Logger: logger, Fs: fs, Root: flagRoot}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger from the CLI flags: warnings by
// default, info with --verbose, debug with --debug, errors only with
// --quiet. The flags are mutually exclusive (cobra-enforced).
func buildLogger() *slog.Logger {
	level := slog.LevelWarn

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newAPIClient creates the server client from the loaded config.
func (cc *CLIContext) newAPIClient() *api.Client {
	httpClient := &http.Client{Timeout: httpClientTimeout}

	return api.NewClient(cc.Cfg.ServerURL, cc.Cfg.APIKey, cc.Cfg.ConsoleID, version, httpClient, cc.Logger)
}

// newAdapters wires the media adapters over the storage root. Desktop
// builds have no SPI bus; raw-cartridge titles surface a clear error when
// pushed or pulled here.
func (cc *CLIContext) newAdapters() *media.Adapters {
	archiveRoot := afero.NewBasePathFs(cc.Fs, cc.Root+"/saves")

	return &media.Adapters{
		Archive: media.NewArchiveAdapter(&media.DirOpener{Base: archiveRoot}, cc.Logger),
		Loose:   media.NewLooseFileAdapter(cc.Fs, cc.Logger),
	}
}

// newExecutor assembles the sync executor plus a cleanup func. The journal
// is best-effort: if its database cannot open, sync still runs.
func (cc *CLIContext) newExecutor(progress syncengine.ProgressFunc) (*syncengine.Executor, func(), error) {
	store := state.NewStore(cc.Fs, cc.Root+"/"+config.StateDirName, cc.Logger)

	jnl, err := journal.Open(cc.Root+"/journal.db", cc.Logger)
	if err != nil {
		cc.Logger.Warn("transfer journal unavailable", "error", err)
		jnl = nil
	}

	cleanup := func() {
		if jnl != nil {
			jnl.Close()
		}
	}

	exec := syncengine.NewExecutor(cc.newAPIClient(), cc.newAdapters(), store,
		jnl, cc.Cfg.ConsoleID, progress, cc.Logger)

	return exec, cleanup, nil
}

// enumerate scans all configured media sources for titles.
func (cc *CLIContext) enumerate(ctx context.Context) ([]*titles.Title, error) {
	sys := newDirLister(cc.Fs, cc.Root+"/saves")

	var roms *titles.ROMScanner
	if cc.Cfg.SaveDir != "" {
		roms = titles.NewROMScanner(cc.Fs, cc.Cfg.SaveDir, cc.Logger)
	}

	e := titles.NewEnumerator(sys, roms, nil, cc.newAPIClient(), cc.Logger)

	return e.Enumerate(ctx)
}

// findTitle resolves a user-supplied selector — hex title ID or product
// code, case-insensitive — against the enumerated list.
func findTitle(list []*titles.Title, selector string) (*titles.Title, error) {
	for _, t := range list {
		if strings.EqualFold(t.HexID(), selector) || strings.EqualFold(t.ProductCode, selector) {
			return t, nil
		}
	}

	return nil, fmt.Errorf("no title matches %q (try 'savesync list')", selector)
}

// progressPrinter reports executor checkpoints to stderr unless quiet.
func progressPrinter() syncengine.ProgressFunc {
	return func(msg string) {
		statusf("%s\n", msg)
	}
}
