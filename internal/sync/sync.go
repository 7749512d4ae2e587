package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/schaermu/modsync/internal/config"
	"github.com/schaermu/modsync/internal/digest"
	"github.com/schaermu/modsync/internal/inventory"
	"github.com/schaermu/modsync/internal/manifest"
)

// ManifestSource retrieves the desired file set
type ManifestSource interface {
	Fetch(ctx context.Context, url string) (*manifest.Manifest, error)
}

// Downloader streams a remote resource to a local path
type Downloader interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// Options are the per-invocation parameters of a run
type Options struct {
	Dir    string // target directory
	Prune  bool   // delete local files not named by the manifest
	DryRun bool   // decide but do not download or delete
}

// Engine orchestrates the reconciliation process
type Engine struct {
	cfg        *config.Config
	fs         afero.Fs
	manifests  ManifestSource
	downloader Downloader
	progress   Progress
	logger     *slog.Logger
	opts       Options
}

// NewEngine creates a new reconciliation engine. A nil progress discards
// status lines.
func NewEngine(cfg *config.Config, fs afero.Fs, manifests ManifestSource, downloader Downloader,
	progress Progress, logger *slog.Logger, opts Options) *Engine {
	if progress == nil {
		progress = Discard
	}
	return &Engine{
		cfg:        cfg,
		fs:         fs,
		manifests:  manifests,
		downloader: downloader,
		progress:   progress,
		logger:     logger,
		opts:       opts,
	}
}

// Run executes one complete reconciliation pass. It returns an error only
// when the manifest cannot be acquired or the target directory cannot be
// listed; per-entry and per-orphan failures are reported in the Result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.logger.Info("starting reconciliation",
		"manifest", e.cfg.Manifest.URL,
		"dir", e.opts.Dir,
		"prune", e.opts.Prune,
		"dry_run", e.opts.DryRun)

	if e.opts.Dir == "" {
		return nil, fmt.Errorf("no target directory set")
	}

	e.report("Fetching manifest...")
	m, err := e.manifests.Fetch(ctx, e.cfg.Manifest.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire manifest: %w", err)
	}
	e.report("Manifest loaded. Checking mods...")
	e.reportf("Found %d mods in manifest", len(m.Entries))

	snapshot, err := inventory.Scan(e.fs, e.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan target directory: %w", err)
	}
	e.reportf("Found %d existing files in mod folder", len(snapshot))
	e.logger.Info("local inventory", "files", len(snapshot))

	result := &Result{
		Dir:     e.opts.Dir,
		DryRun:  e.opts.DryRun,
		Entries: make([]EntryResult, 0, len(m.Entries)),
	}

	for _, entry := range m.Entries {
		result.Entries = append(result.Entries, e.reconcileEntry(ctx, entry))
	}

	if e.opts.Prune {
		e.removeOrphans(m, snapshot, result)
	}

	e.logger.Info("reconciliation finished",
		"up_to_date", result.Count(OutcomeUpToDate),
		"downloaded", result.Count(OutcomeDownloaded)+result.Count(OutcomeMissingDownloaded),
		"hash_mismatch", result.Count(OutcomeHashMismatch),
		"failed", result.Count(OutcomeDownloadFailed),
		"skipped", result.Count(OutcomeSkipped),
		"removed", len(result.Removed))

	return result, nil
}

// reconcileEntry decides whether entry needs fetching and, if so, downloads
// and verifies it.
func (e *Engine) reconcileEntry(ctx context.Context, entry manifest.Entry) EntryResult {
	res := EntryResult{
		Name: entry.Name,
		URL:  entry.ResolveURL(e.cfg.Manifest.BaseURL, e.cfg.Manifest.ModsPath),
	}
	if err := entry.CheckName(); err != nil {
		res.Outcome = OutcomeSkipped
		res.Err = err
		e.logger.Warn("skipping manifest entry", "name", entry.Name, "error", err)
		e.reportf("Skipping %s: not a file inside the mod folder", entry.Name)
		return res
	}
	if !entry.WellFormedDigest() {
		e.logger.Warn("manifest digest is not a sha256 hex string", "name", entry.Name, "sha256", entry.SHA256)
	}
	path := filepath.Join(e.opts.Dir, filepath.FromSlash(entry.Name))

	localHash, err := digest.File(e.fs, path)
	switch {
	case errors.Is(err, digest.ErrNotFound):
		res.Missing = true
		e.reportf("Missing: %s. Will download.", entry.Name)
	case err != nil:
		// Unreadable local file; replace it like an outdated one.
		e.logger.Warn("failed to hash local file", "name", entry.Name, "error", err)
		e.reportf("Outdated: %s. Will download.", entry.Name)
	case digest.Equal(localHash, entry.SHA256):
		res.Outcome = OutcomeUpToDate
		e.reportf("Up to date: %s", entry.Name)
		return res
	default:
		e.logger.Debug("digest mismatch", "name", entry.Name, "local", localHash, "expected", entry.SHA256)
		e.reportf("Outdated: %s. Will download.", entry.Name)
	}

	if e.opts.DryRun {
		res.Outcome = OutcomePending
		e.reportf("[dry-run] would download: %s from %s", entry.Name, res.URL)
		return res
	}

	e.reportf("Downloading: %s from %s", entry.Name, res.URL)
	n, err := e.downloader.Download(ctx, res.URL, path)
	res.Bytes = n
	if err != nil {
		res.Outcome = OutcomeDownloadFailed
		res.Err = err
		e.logger.Warn("download failed", "name", entry.Name, "url", res.URL, "error", err)
		e.reportf("Download failed for %s: %v", entry.Name, err)
		return res
	}

	newHash, err := digest.File(e.fs, path)
	if err != nil || !digest.Equal(newHash, entry.SHA256) {
		// The mismatching file stays on disk; there is no retry.
		res.Outcome = OutcomeHashMismatch
		res.Err = err
		e.logger.Warn("hash mismatch after download",
			"name", entry.Name, "expected", entry.SHA256, "actual", newHash)
		e.reportf("Hash mismatch after download: %s", entry.Name)
		return res
	}

	if res.Missing {
		res.Outcome = OutcomeMissingDownloaded
	} else {
		res.Outcome = OutcomeDownloaded
	}
	e.logger.Debug("downloaded", "name", entry.Name, "bytes", n)
	e.reportf("Download successful: %s", entry.Name)
	return res
}

// removeOrphans deletes every snapshot file not named by the manifest.
func (e *Engine) removeOrphans(m *manifest.Manifest, snapshot inventory.Inventory, result *Result) {
	e.report("Checking for files to remove...")

	wanted := m.Names()
	for _, name := range snapshot.Sorted() {
		if _, ok := wanted[name]; ok {
			continue
		}
		result.Orphans = append(result.Orphans, name)

		if e.opts.DryRun {
			e.reportf("[dry-run] would remove: %s", name)
			continue
		}

		if err := e.fs.Remove(filepath.Join(e.opts.Dir, name)); err != nil {
			result.RemoveFailures = append(result.RemoveFailures, RemoveFailure{Name: name, Err: err})
			e.logger.Warn("failed to remove orphan", "name", name, "error", err)
			e.reportf("Failed to remove: %s (%v)", name, err)
			continue
		}
		result.Removed = append(result.Removed, name)
		e.logger.Info("removed orphan", "name", name)
		e.reportf("Removed: %s", name)
	}

	switch {
	case e.opts.DryRun && len(result.Orphans) > 0:
		e.reportf("Would remove %d file(s)", len(result.Orphans))
	case len(result.Removed) > 0:
		e.reportf("Removed %d file(s)", len(result.Removed))
	default:
		e.report("No files needed removal")
	}
}

func (e *Engine) report(msg string) {
	e.progress.Report(msg)
}

func (e *Engine) reportf(format string, args ...any) {
	e.progress.Report(fmt.Sprintf(format, args...))
}
