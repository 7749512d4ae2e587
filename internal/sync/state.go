package sync

// Outcome is what happened to a single manifest entry during a run
type Outcome string

const (
	// OutcomeUpToDate means the local file already had the expected digest.
	OutcomeUpToDate Outcome = "up-to-date"
	// OutcomeDownloaded means an outdated file was replaced and verified.
	OutcomeDownloaded Outcome = "downloaded"
	// OutcomeMissingDownloaded means an absent file was fetched and verified.
	OutcomeMissingDownloaded Outcome = "missing-downloaded"
	// OutcomeHashMismatch means the downloaded file does not match the
	// manifest digest. The file is left in place.
	OutcomeHashMismatch Outcome = "hash-mismatch"
	// OutcomeDownloadFailed means the transfer itself failed.
	OutcomeDownloadFailed Outcome = "download-failed"
	// OutcomePending means a download is needed but the run was a dry run.
	OutcomePending Outcome = "pending"
	// OutcomeSkipped means the entry's name points outside the target
	// directory, so it was neither downloaded nor written.
	OutcomeSkipped Outcome = "skipped"
)

// Failed reports whether the outcome leaves the entry absent or stale.
func (o Outcome) Failed() bool {
	return o == OutcomeHashMismatch || o == OutcomeDownloadFailed || o == OutcomeSkipped
}

// EntryResult records the outcome for one manifest entry
type EntryResult struct {
	Name    string
	URL     string // resolved source location
	Missing bool   // no local file existed before the run
	Outcome Outcome
	Bytes   int64 // bytes written by the download, if any
	Err     error // transfer or verification error, if any
}

// RemoveFailure records an orphan that could not be deleted
type RemoveFailure struct {
	Name string
	Err  error
}

// Result is the outcome of a single reconciliation pass
type Result struct {
	Dir     string
	DryRun  bool
	Entries []EntryResult

	// Orphans are the local files not named by the manifest. Only computed
	// when pruning is enabled.
	Orphans []string
	// Removed lists the orphans actually deleted.
	Removed        []string
	RemoveFailures []RemoveFailure
}

// Count returns the number of entries with the given outcome.
func (r *Result) Count(o Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

// Summary counts entries per outcome. Outcomes that did not occur are absent.
func (r *Result) Summary() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, e := range r.Entries {
		counts[e.Outcome]++
	}
	return counts
}

// Downloads returns the number of entries that were fetched, successfully
// or not.
func (r *Result) Downloads() int {
	n := 0
	for _, e := range r.Entries {
		switch e.Outcome {
		case OutcomeDownloaded, OutcomeMissingDownloaded, OutcomeHashMismatch, OutcomeDownloadFailed:
			n++
		}
	}
	return n
}

// HasFailures reports whether any entry failed or any orphan could not be
// removed.
func (r *Result) HasFailures() bool {
	if len(r.RemoveFailures) > 0 {
		return true
	}
	for _, e := range r.Entries {
		if e.Outcome.Failed() {
			return true
		}
	}
	return false
}

// Progress receives human-readable status lines during a run. Report is
// called synchronously from the reconciling goroutine and must not block.
type Progress interface {
	Report(msg string)
}

// ProgressFunc adapts a function to the Progress interface
type ProgressFunc func(msg string)

// Report calls f(msg).
func (f ProgressFunc) Report(msg string) {
	f(msg)
}

// Discard is a Progress that drops every message.
var Discard Progress = ProgressFunc(func(string) {})
