package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/schaermu/modsync/internal/activation"
	"github.com/schaermu/modsync/internal/config"
	"github.com/schaermu/modsync/internal/manifest"
	"github.com/schaermu/modsync/internal/settings"
	"github.com/schaermu/modsync/internal/sync"
	"github.com/schaermu/modsync/internal/transfer"
	"github.com/schaermu/modsync/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile      string
	settingsFile string
	logLevel     string
	logFormat    string

	// Sync flags
	syncDir string
	noPrune bool
	dryRun  bool
	strict  bool
)

var errNoModFolder = errors.New("mod folder not set; pass --dir or run 'modsync folder DIR'")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "modsync",
	Short: "Keep a local mod folder in sync with a published modpack manifest",
	Long: `modsync makes a local directory mirror the file set described by a remote
JSON manifest. Files are compared by SHA-256; missing or outdated files are
downloaded and files the manifest no longer lists are removed.

It can run once (sync) or as a long-running webhook daemon that re-syncs
whenever the modpack repository receives a push.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the mod folder with the manifest once",
	Long: `Sync fetches the manifest, hashes every local file it names, downloads the
ones that are missing or outdated, verifies them and removes files that are
no longer listed.

The target directory is taken from --dir, then sync.dir in the config file,
then the folder saved by a previous run. A directory passed with --dir is
remembered for later runs.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var folderCmd = &cobra.Command{
	Use:   "folder [DIR]",
	Short: "Show or set the saved mod folder",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFolder,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve reconciles once, then listens for GitHub webhook events and re-runs the
reconciliation when a matching push arrives. Deliveries must carry a valid
X-Hub-Signature-256 header. A socket passed in by systemd is used when present.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "modsync %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "", "file remembering the last mod folder (default is in the user config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	syncCmd.Flags().StringVar(&syncDir, "dir", "", "mod folder to reconcile")
	syncCmd.Flags().BoolVar(&noPrune, "no-prune", false, "keep files that are not listed in the manifest")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero if any file failed to download or verify")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, logger, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := openSettings(logger)
	if err != nil {
		return err
	}

	dir, explicit, err := resolveDir(cfg, store)
	if err != nil {
		return err
	}
	if explicit {
		if err := store.Save(settings.Settings{ModFolder: dir}); err != nil {
			logger.Warn("failed to remember mod folder", "path", store.Path(), "error", err)
		}
	}

	out := cmd.OutOrStdout()
	opts := sync.Options{
		Dir:    dir,
		Prune:  cfg.Sync.Prune && !noPrune,
		DryRun: dryRun,
	}
	engine := newEngine(cfg, afero.NewOsFs(), progressTo(out), logger, opts)

	_, _ = fmt.Fprintf(out, "Starting update for: %s\n", dir)
	result, err := engine.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	printSummary(out, result)

	if strict && result.HasFailures() {
		return fmt.Errorf("%d file(s) could not be synchronized", failureCount(result))
	}
	return nil
}

func runFolder(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	store, err := openSettings(setupLogger(os.Stderr))
	if err != nil {
		return err
	}

	if len(args) == 0 {
		st, err := store.Load()
		if err != nil {
			return err
		}
		if st.ModFolder == "" {
			_, _ = fmt.Fprintln(out, "Mod folder not set. Please set it first.")
			return nil
		}
		_, _ = fmt.Fprintf(out, "Current mod folder: %s\n", st.ModFolder)
		return nil
	}

	dir, err := absDir(args[0])
	if err != nil {
		return err
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	if err := store.Save(settings.Settings{ModFolder: dir}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Mod folder set to: %s\n", dir)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, logger, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()

	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid serve configuration: %w", err)
	}

	store, err := openSettings(logger)
	if err != nil {
		return err
	}
	dir, _, err := resolveDir(cfg, store)
	if err != nil {
		return err
	}

	opts := sync.Options{Dir: dir, Prune: cfg.Sync.Prune}
	progress := sync.ProgressFunc(func(msg string) {
		logger.Debug(msg)
	})
	engine := newEngine(cfg, afero.NewOsFs(), progress, logger, opts)

	server, err := webhook.NewServer(cfg, engine, logger)
	if err != nil {
		return err
	}

	ln, activated, err := activation.Listen(cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}
	if activated {
		logger.Info("using systemd socket activation", "addr", ln.Addr().String())
	}

	return server.Start(ctx, ln)
}

// newEngine wires the transfer client, manifest fetcher and reconciler.
func newEngine(cfg *config.Config, fs afero.Fs, progress sync.Progress, logger *slog.Logger, opts sync.Options) *sync.Engine {
	client := transfer.NewClient(fs,
		transfer.WithUserAgent(cfg.HTTP.UserAgent),
		transfer.WithTimeout(cfg.HTTP.Timeout))
	fetcher := manifest.NewFetcher(client)
	return sync.NewEngine(cfg, fs, fetcher, client, progress, logger, opts)
}

func progressTo(w io.Writer) sync.Progress {
	return sync.ProgressFunc(func(msg string) {
		_, _ = fmt.Fprintln(w, msg)
	})
}

func printSummary(w io.Writer, r *sync.Result) {
	counts := r.Summary()
	_, _ = fmt.Fprintln(w, "--------------------")
	if r.DryRun {
		_, _ = fmt.Fprintf(w, "Dry run: %d up to date, %d to download, %d to remove\n",
			counts[sync.OutcomeUpToDate], counts[sync.OutcomePending], len(r.Orphans))
		return
	}
	_, _ = fmt.Fprintf(w, "%d up to date, %d downloaded, %d failed, %d removed\n",
		counts[sync.OutcomeUpToDate],
		counts[sync.OutcomeDownloaded]+counts[sync.OutcomeMissingDownloaded],
		failureCount(r),
		len(r.Removed))
	_, _ = fmt.Fprintln(w, "Update complete!")
}

func failureCount(r *sync.Result) int {
	return r.Count(sync.OutcomeHashMismatch) + r.Count(sync.OutcomeDownloadFailed) +
		r.Count(sync.OutcomeSkipped) + len(r.RemoveFailures)
}

// resolveDir picks the target directory: --dir, then sync.dir, then the
// saved folder. The boolean is true when it came from --dir.
func resolveDir(cfg *config.Config, store *settings.Store) (string, bool, error) {
	if syncDir != "" {
		dir, err := absDir(syncDir)
		return dir, true, err
	}
	if cfg.Sync.Dir != "" {
		return cfg.Sync.Dir, false, nil
	}

	st, err := store.Load()
	if err != nil {
		return "", false, err
	}
	if st.ModFolder == "" {
		return "", false, errNoModFolder
	}
	return st.ModFolder, false, nil
}

func absDir(path string) (string, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand %q: %w", path, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	return abs, nil
}

func openSettings(logger *slog.Logger) (*settings.Store, error) {
	path := settingsFile
	if path == "" {
		var err error
		if path, err = settings.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return settings.NewStore(afero.NewOsFs(), path, logger), nil
}

// bootstrap loads the configuration and builds the logger. When log.file is
// set, records are also written to a size-rotated file; the returned func
// closes it.
func bootstrap() (*config.Config, *slog.Logger, func(), error) {
	logger := setupLogger(os.Stderr)

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Log.File == "" {
		return cfg, logger, func() {}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}
	logger = setupLogger(io.MultiWriter(os.Stderr, rotator))
	return cfg, logger, func() { _ = rotator.Close() }, nil
}

func setupLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// loadConfig reads --config when given. Otherwise the default path is used if
// it exists and built-in defaults apply if it does not.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		path, err := config.ExpandPath(config.DefaultConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default config path: %w", err)
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			logger.Debug("no config file found, using defaults", "path", path)
			return config.Default(), nil
		}
		configPath = path
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"manifest", cfg.Manifest.URL,
		"base_url", cfg.Manifest.BaseURL,
		"dir", cfg.Sync.Dir,
		"prune", cfg.Sync.Prune)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
