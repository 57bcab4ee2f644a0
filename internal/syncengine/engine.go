// Package syncengine executes sync runs: partitioning selected items
// into uploads and downloads, pre-creating directories, transferring
// with retry and verification, and keeping the journal and index
// current as the run progresses.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/joe/dirsync/internal/compare"
	"github.com/joe/dirsync/internal/index"
	"github.com/joe/dirsync/internal/journal"
	"github.com/joe/dirsync/internal/profile"
	"github.com/joe/dirsync/internal/state"
	"github.com/joe/dirsync/pkg/storage"
	"github.com/joe/dirsync/pkg/syncerrors"
)

// Sentinel errors surfaced by the executor.
var (
	// ErrCancelled is returned when a run is stopped by Cancel.
	ErrCancelled = errors.New("sync cancelled")
	// ErrPairBusy is returned when a run is already in progress for
	// the same (local, remote) pair.
	ErrPairBusy = errors.New("a sync run is already in progress for this pair")
)

// keepAliveDelay paces transfers on serialized-connection backends so
// a keep-alive never lands on an in-flight data connection.
const keepAliveDelay = 500 * time.Millisecond

// activeRuns tracks pairs with a run in flight, so two runs never
// race on the same journal and index.
var activeRuns sync.Map

// Report summarizes one execution run.
type Report struct {
	Uploaded    int      `json:"uploaded"`
	Downloaded  int      `json:"downloaded"`
	Skipped     int      `json:"skipped"`
	DirsCreated int      `json:"dirs_created"`
	Errors      []string `json:"errors"`
	TotalBytes  int64    `json:"total_bytes"`
	DurationMS  int64    `json:"duration_ms"`
}

// Succeeded reports full success: at least nothing failed.
func (r *Report) Succeeded() bool {
	return len(r.Errors) == 0
}

// Config wires an Executor.
type Config struct {
	// Remote is the backend being synced against.
	Remote storage.Client
	// LocalRoot and RemoteRoot are the pair's roots.
	LocalRoot  string
	RemoteRoot string
	// Options controls comparison during Analyze.
	Options compare.Options
	// Retry and Verify govern the transfer loop.
	Retry  profile.RetryPolicy
	Verify profile.VerifyPolicy
	// Resume continues the pair's latest incomplete journal instead of
	// starting fresh.
	Resume bool
	// JournalStore and IndexStore persist run state. Either may be nil
	// to disable that persistence (tests, one-off runs).
	JournalStore *journal.Store
	IndexStore   *index.Store
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Events receives engine events when non-nil. The subscriber must
	// drain the channel for the run's lifetime.
	Events chan<- Event
}

// Executor owns the state of one run at a time for one pair.
type Executor struct {
	remote     storage.Client
	local      storage.Client
	localRoot  string
	remoteRoot string
	options    compare.Options
	retry      profile.RetryPolicy
	verify     profile.VerifyPolicy
	resume     bool

	journalStore *journal.Store
	indexStore   *index.Store
	clock        clockwork.Clock
	events       chan<- Event

	cancelChan chan struct{}
	cancelOnce sync.Once

	// In-flight transfer arena plus the finished set that suppresses
	// late progress events.
	mu       sync.Mutex
	inflight map[string]*inflightTransfer
	finished map[string]bool
}

// inflightTransfer is one arena record, keyed by transfer id.
type inflightTransfer struct {
	id           string
	relativePath string
	action       journal.Action
	startedAt    time.Time
}

// NewExecutor creates an Executor from cfg.
func NewExecutor(cfg Config) *Executor {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Executor{
		remote:       cfg.Remote,
		local:        storage.NewLocal(),
		localRoot:    cfg.LocalRoot,
		remoteRoot:   cfg.RemoteRoot,
		options:      cfg.Options,
		retry:        cfg.Retry,
		verify:       cfg.Verify,
		resume:       cfg.Resume,
		journalStore: cfg.JournalStore,
		indexStore:   cfg.IndexStore,
		clock:        clock,
		events:       cfg.Events,
		cancelChan:   make(chan struct{}),
		inflight:     make(map[string]*inflightTransfer),
		finished:     make(map[string]bool),
	}
}

// Cancel signals the run to stop. Items not yet started are marked
// skipped; the in-flight item finishes or fails naturally. Safe to
// call more than once and from any goroutine.
func (e *Executor) Cancel() {
	e.cancelOnce.Do(func() {
		close(e.cancelChan)
	})
}

// cancelled reports whether Cancel has been called.
func (e *Executor) cancelled() bool {
	select {
	case <-e.cancelChan:
		return true
	default:
		return false
	}
}

func (e *Executor) emit(event Event) {
	if e.events != nil {
		e.events <- event
	}
}

// Analyze scans both roots concurrently and classifies every path,
// consulting the pair's index when one exists.
func (e *Executor) Analyze(ctx context.Context) ([]compare.Comparison, error) {
	var (
		wg          sync.WaitGroup
		localFiles  map[string]storage.FileInfo
		remoteFiles map[string]storage.FileInfo
		localErr    error
		remoteErr   error
	)

	wg.Add(2)

	go func() {
		defer wg.Done()

		e.emit(ScanStarted{Root: e.localRoot})

		localFiles, localErr = e.local.ListDirectory(ctx, e.localRoot, func(p storage.ScanProgress) {
			e.emit(ScanProgress{Root: p.Root, FilesFound: p.FilesFound})
		})

		e.emit(ScanComplete{Root: e.localRoot, FilesFound: len(localFiles)})
	}()

	go func() {
		defer wg.Done()

		e.emit(ScanStarted{Root: e.remoteRoot, Remote: true})

		remoteFiles, remoteErr = e.remote.ListDirectory(ctx, e.remoteRoot, func(p storage.ScanProgress) {
			e.emit(ScanProgress{Root: p.Root, FilesFound: p.FilesFound})
		})

		e.emit(ScanComplete{Root: e.remoteRoot, FilesFound: len(remoteFiles)})
	}()

	wg.Wait()

	if localErr != nil {
		return nil, fmt.Errorf("local scan failed: %w", localErr)
	}

	if remoteErr != nil {
		return nil, fmt.Errorf("remote scan failed: %w", remoteErr)
	}

	var lookup compare.IndexLookup

	if e.indexStore != nil {
		if ix, err := e.indexStore.Load(e.localRoot, e.remoteRoot); err == nil && ix != nil {
			lookup = ix.Lookup
		}
	}

	e.emit(CompareStarted{})

	comparisons := compare.Build(localFiles, remoteFiles, e.options, lookup)

	e.emit(CompareComplete{Comparisons: comparisons})

	return comparisons, nil
}

// Run executes the selected items plus standalone directory creations
// and returns the report. Per-item failures are recorded, never fatal;
// the returned error covers run-level problems only (busy pair,
// journal persistence).
func (e *Executor) Run(ctx context.Context, selected []compare.Comparison, dirs []compare.Comparison) (*Report, error) {
	pairKey := state.PairKey(e.localRoot, e.remoteRoot)
	if _, loaded := activeRuns.LoadOrStore(pairKey, true); loaded {
		return nil, ErrPairBusy
	}
	defer activeRuns.Delete(pairKey)

	start := e.clock.Now()
	report := &Report{}

	jrnl, err := e.prepareJournal(selected, dirs)
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{
		"run_id": jrnl.ID,
		"local":  e.localRoot,
		"remote": e.remoteRoot,
		"items":  len(selected),
	})
	logger.Info("sync run starting")
	e.emit(RunStarted{RunID: jrnl.ID, Items: len(selected)})

	items := e.partition(selected, jrnl, report)

	e.precreateAncestors(ctx, items)
	e.createStandaloneDirs(ctx, dirs, jrnl, report)

	updates := make(map[string]index.Entry)

	e.runItems(ctx, items, jrnl, report, updates)

	// A run stopped by Cancel or by context cancellation is interrupted,
	// not finished; leaving Completed unset keeps it resumable.
	if !e.cancelled() && ctx.Err() == nil {
		jrnl.MarkCompleted()
	}

	e.persistJournal(jrnl)
	e.persistIndex(updates)

	report.DurationMS = e.clock.Since(start).Milliseconds()

	logger.WithFields(log.Fields{
		"uploaded":   report.Uploaded,
		"downloaded": report.Downloaded,
		"skipped":    report.Skipped,
		"errors":     len(report.Errors),
		"bytes":      report.TotalBytes,
	}).Info("sync run finished")
	e.emit(RunComplete{Report: report})

	return report, nil
}

// runItem is one transfer the run will attempt.
type runItem struct {
	comparison compare.Comparison
	action     journal.Action
}

// prepareJournal resumes the pair's incomplete journal or starts a
// fresh one, seeding pending entries for everything the run covers.
func (e *Executor) prepareJournal(selected, dirs []compare.Comparison) (*journal.Journal, error) {
	var jrnl *journal.Journal

	if e.resume && e.journalStore != nil {
		resumable, err := e.journalStore.LoadResumable(e.localRoot, e.remoteRoot)
		if err == nil && resumable != nil {
			jrnl = resumable
		}
	}

	if jrnl == nil {
		jrnl = journal.New(e.localRoot, e.remoteRoot, e.options.Direction, e.retry, e.verify)
	}

	for _, comp := range selected {
		jrnl.Seed(comp.RelativePath, actionFor(comp.Status))
	}

	for _, comp := range dirs {
		jrnl.Seed(comp.RelativePath, journal.ActionMkdir)
	}

	if e.journalStore != nil {
		if err := e.journalStore.Save(jrnl); err != nil {
			return nil, err
		}
	}

	return jrnl, nil
}

// partition filters selected items down to the transfers the direction
// permits. Items whose journal entry already completed (resume) are
// reported skipped.
func (e *Executor) partition(selected []compare.Comparison, jrnl *journal.Journal, report *Report) []runItem {
	var items []runItem

	for _, comp := range selected {
		if comp.IsDir {
			continue
		}

		action := actionFor(comp.Status)
		if !e.directionPermits(action) {
			continue
		}

		if entry := jrnl.Entry(comp.RelativePath); entry != nil && entry.Status == journal.StatusCompleted {
			// Finished in the interrupted run being resumed.
			report.Skipped++

			continue
		}

		items = append(items, runItem{comparison: comp, action: action})
	}

	return items
}

// actionFor maps a status to the transfer it implies.
func actionFor(status compare.Status) journal.Action {
	switch status {
	case compare.StatusLocalNewer, compare.StatusLocalOnly:
		return journal.ActionUpload
	default:
		return journal.ActionDownload
	}
}

// directionPermits rejects transfers the run's direction rules out.
func (e *Executor) directionPermits(action journal.Action) bool {
	switch e.options.Direction {
	case compare.DirectionLocalToRemote:
		return action == journal.ActionUpload
	case compare.DirectionRemoteToLocal:
		return action == journal.ActionDownload
	default:
		return true
	}
}

// precreateAncestors creates every directory the transfers will write
// into, parents before children. Already-exists failures are expected
// and swallowed; anything else surfaces when the transfer itself
// fails.
func (e *Executor) precreateAncestors(ctx context.Context, items []runItem) {
	remoteDirs := make(map[string]bool)
	localDirs := make(map[string]bool)

	for _, item := range items {
		parent := path.Dir(item.comparison.RelativePath)
		if parent == "." || parent == "/" {
			continue
		}

		if item.action == journal.ActionUpload {
			remoteDirs[parent] = true
		} else {
			localDirs[parent] = true
		}
	}

	for _, rel := range sortByDepth(remoteDirs) {
		err := e.remote.Mkdir(ctx, path.Join(e.remoteRoot, rel))
		if err != nil && !isExistsError(err) {
			log.WithError(err).WithField("dir", rel).Warn("failed to pre-create remote directory")
		}
	}

	for _, rel := range sortByDepth(localDirs) {
		err := e.local.Mkdir(ctx, filepath.Join(e.localRoot, filepath.FromSlash(rel)))
		if err != nil && !isExistsError(err) {
			log.WithError(err).WithField("dir", rel).Warn("failed to pre-create local directory")
		}
	}
}

// createStandaloneDirs creates the empty directories that exist on one
// side only, parents before children, recording per-directory outcome.
func (e *Executor) createStandaloneDirs(ctx context.Context, dirs []compare.Comparison, jrnl *journal.Journal, report *Report) {
	ordered := make([]compare.Comparison, len(dirs))
	copy(ordered, dirs)

	sort.Slice(ordered, func(i, k int) bool {
		return pathDepth(ordered[i].RelativePath) < pathDepth(ordered[k].RelativePath)
	})

	for _, comp := range ordered {
		if entry := jrnl.Entry(comp.RelativePath); entry != nil && entry.Status == journal.StatusCompleted {
			// Created in the interrupted run being resumed.
			continue
		}

		var err error

		switch comp.Status {
		case compare.StatusLocalOnly:
			if !e.directionPermits(journal.ActionUpload) {
				continue
			}

			err = e.remote.Mkdir(ctx, path.Join(e.remoteRoot, comp.RelativePath))
		case compare.StatusRemoteOnly:
			if !e.directionPermits(journal.ActionDownload) {
				continue
			}

			err = e.local.Mkdir(ctx, filepath.Join(e.localRoot, filepath.FromSlash(comp.RelativePath)))
		default:
			continue
		}

		if err != nil && !isExistsError(err) {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", comp.RelativePath, err))
			_ = jrnl.Transition(comp.RelativePath, journal.StatusFailed)
			jrnl.RecordError(comp.RelativePath, syncerrors.Classify(err, comp.RelativePath))
		} else {
			report.DirsCreated++
			_ = jrnl.Transition(comp.RelativePath, journal.StatusCompleted)
			e.emit(DirCreated{RelativePath: comp.RelativePath})
		}

		e.persistJournal(jrnl)
	}
}

// runItems is the sequential transfer loop.
func (e *Executor) runItems(ctx context.Context, items []runItem, jrnl *journal.Journal, report *Report, updates map[string]index.Entry) {
	for i, item := range items {
		if e.cancelled() || ctx.Err() != nil {
			e.markRemainingSkipped(items[i:], jrnl, report)

			return
		}

		e.runOneItem(ctx, item, jrnl, report, updates)

		// Serialized backends get a keep-alive and a breather between
		// transfers so the next command never lands on a busy data
		// connection.
		if i < len(items)-1 && e.remote.Hints().SerializedConnections {
			_ = e.remote.KeepAlive(ctx)
			e.clock.Sleep(keepAliveDelay)
		}
	}
}

// markRemainingSkipped journals every not-yet-started item as skipped
// after cancellation.
func (e *Executor) markRemainingSkipped(remaining []runItem, jrnl *journal.Journal, report *Report) {
	for _, item := range remaining {
		_ = jrnl.Transition(item.comparison.RelativePath, journal.StatusSkipped)
		report.Skipped++
	}

	e.persistJournal(jrnl)
}

// runOneItem performs a single transfer end to end: journal bookkeeping,
// retrying transfer, verification, and report accounting.
func (e *Executor) runOneItem(ctx context.Context, item runItem, jrnl *journal.Journal, report *Report, updates map[string]index.Entry) {
	rel := item.comparison.RelativePath

	_ = jrnl.Transition(rel, journal.StatusInProgress)
	e.persistJournal(jrnl)

	e.emit(ItemStarted{RelativePath: rel, Action: item.action, Size: sourceSize(item)})

	transferID := uuid.NewString()
	e.trackTransfer(transferID, rel, item.action)

	bytes, err := e.transferWithRetry(ctx, item, jrnl, transferID)

	e.finishTransfer(transferID)

	if err != nil {
		info := syncerrors.Classify(err, rel)
		jrnl.RecordError(rel, info)
		_ = jrnl.Transition(rel, journal.StatusFailed)
		e.persistJournal(jrnl)

		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rel, err))

		log.WithError(err).WithFields(log.Fields{
			"path": rel,
			"kind": info.Kind,
		}).Error("transfer failed")
		e.emit(ItemFailed{RelativePath: rel, Err: err})

		return
	}

	jrnl.RecordBytes(rel, bytes)
	report.TotalBytes += bytes

	if verifyErr := e.verifyItem(ctx, rel, item.action); verifyErr != nil {
		jrnl.RecordVerified(rel, false)
		_ = jrnl.Transition(rel, journal.StatusVerifyFailed)
		e.persistJournal(jrnl)

		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rel, verifyErr))
		e.emit(ItemFailed{RelativePath: rel, Err: verifyErr})

		return
	}

	if e.verify != profile.VerifyNone {
		jrnl.RecordVerified(rel, true)
	}

	_ = jrnl.Transition(rel, journal.StatusCompleted)
	e.persistJournal(jrnl)

	if item.action == journal.ActionUpload {
		report.Uploaded++
	} else {
		report.Downloaded++
	}

	updates[rel] = winningEntry(item)

	e.emit(ItemComplete{RelativePath: rel, Action: item.action, Bytes: bytes})
}

// transferWithRetry attempts the transfer up to Retry.MaxRetries
// times, backing off between attempts and resetting connection state
// with a keep-alive after each retryable failure.
func (e *Executor) transferWithRetry(ctx context.Context, item runItem, jrnl *journal.Journal, transferID string) (int64, error) {
	rel := item.comparison.RelativePath

	maxAttempts := e.retry.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		jrnl.RecordAttempt(rel)

		bytes, err := e.transferOnce(ctx, item, transferID)
		if err == nil {
			return bytes, nil
		}

		lastErr = err

		info := syncerrors.Classify(err, rel)
		if !info.Retryable || attempt == maxAttempts {
			break
		}

		log.WithError(err).WithFields(log.Fields{
			"path":    rel,
			"attempt": attempt,
			"kind":    info.Kind,
		}).Warn("transfer attempt failed; retrying")

		// Reset session state before the next attempt.
		_ = e.remote.KeepAlive(ctx)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-e.cancelChan:
			return 0, ErrCancelled
		case <-e.clock.After(backoffDelay(e.retry, attempt)):
		}
	}

	return 0, lastErr
}

// transferOnce performs one attempt, bounded by the policy timeout.
func (e *Executor) transferOnce(ctx context.Context, item runItem, transferID string) (int64, error) {
	if e.retry.TimeoutMS > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.retry.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	rel := item.comparison.RelativePath
	localPath := filepath.Join(e.localRoot, filepath.FromSlash(rel))
	remotePath := path.Join(e.remoteRoot, rel)

	progress := e.progressFunc(transferID, rel)

	if item.action == journal.ActionUpload {
		return e.remote.Upload(ctx, localPath, remotePath, progress)
	}

	return e.remote.Download(ctx, remotePath, localPath, progress)
}

// progressFunc routes backend progress into the event stream,
// suppressing callbacks that arrive after the transfer finished.
func (e *Executor) progressFunc(transferID, rel string) storage.TransferProgressFunc {
	if e.events == nil {
		return nil
	}

	return func(p storage.TransferProgress) {
		e.mu.Lock()
		done := e.finished[transferID]
		e.mu.Unlock()

		if done {
			return
		}

		e.emit(ItemProgress{RelativePath: rel, Transferred: p.Transferred, Total: p.Total})
	}
}

// verifyItem applies the verification policy to a finished transfer.
func (e *Executor) verifyItem(ctx context.Context, rel string, action journal.Action) error {
	if e.verify == profile.VerifyNone {
		return nil
	}

	verifier := &Verifier{
		Local:      e.local,
		Remote:     e.remote,
		LocalRoot:  e.localRoot,
		RemoteRoot: e.remoteRoot,
	}

	return verifier.Check(ctx, e.verify, rel, action)
}

// trackTransfer inserts an in-flight arena record.
func (e *Executor) trackTransfer(transferID, rel string, action journal.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inflight[transferID] = &inflightTransfer{
		id:           transferID,
		relativePath: rel,
		action:       action,
		startedAt:    e.clock.Now(),
	}
}

// finishTransfer removes the arena record and remembers the id so late
// progress events are discarded.
func (e *Executor) finishTransfer(transferID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.inflight, transferID)
	e.finished[transferID] = true
}

// InFlight returns the relative paths of transfers currently running.
func (e *Executor) InFlight() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths := make([]string, 0, len(e.inflight))
	for _, t := range e.inflight {
		paths = append(paths, t.relativePath)
	}

	sort.Strings(paths)

	return paths
}

func (e *Executor) persistJournal(jrnl *journal.Journal) {
	if e.journalStore == nil {
		return
	}

	if err := e.journalStore.Save(jrnl); err != nil {
		log.WithError(err).Warn("failed to persist journal")
	}
}

// persistIndex merges the run's successful paths into the pair index,
// preserving entries the run did not touch.
func (e *Executor) persistIndex(updates map[string]index.Entry) {
	if e.indexStore == nil || len(updates) == 0 {
		return
	}

	ix, err := e.indexStore.Load(e.localRoot, e.remoteRoot)
	if err != nil || ix == nil {
		ix = index.New(e.localRoot, e.remoteRoot)
	}

	ix.Merge(updates, e.clock.Now())

	if err := e.indexStore.Save(ix); err != nil {
		log.WithError(err).Warn("failed to persist sync index")
	}
}

// winningEntry returns the index entry for the side that won the
// transfer.
func winningEntry(item runItem) index.Entry {
	var info *storage.FileInfo

	if item.action == journal.ActionUpload {
		info = item.comparison.Local
	} else {
		info = item.comparison.Remote
	}

	if info == nil {
		return index.Entry{}
	}

	return index.Entry{
		Size:     info.Size,
		Modified: info.Modified,
		IsDir:    info.IsDir,
	}
}

// sourceSize returns the size of the side being transferred from.
func sourceSize(item runItem) int64 {
	if item.action == journal.ActionUpload && item.comparison.Local != nil {
		return item.comparison.Local.Size
	}

	if item.action == journal.ActionDownload && item.comparison.Remote != nil {
		return item.comparison.Remote.Size
	}

	return 0
}

// backoffDelay computes the wait before the next attempt: linear when
// the multiplier is 1 or less, exponential otherwise, capped at the
// policy maximum.
func backoffDelay(rp profile.RetryPolicy, attempt int) time.Duration {
	base := time.Duration(rp.BaseDelayMS) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}

	var wait time.Duration
	if rp.BackoffMultiplier > 1 {
		wait = time.Duration(float64(base) * math.Pow(rp.BackoffMultiplier, float64(attempt-1)))
	} else {
		wait = base * time.Duration(attempt)
	}

	if maxWait := time.Duration(rp.MaxDelayMS) * time.Millisecond; maxWait > 0 && wait > maxWait {
		wait = maxWait
	}

	return wait
}

// sortByDepth returns the set's paths ordered parents-first.
func sortByDepth(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for rel := range set {
		out = append(out, rel)
	}

	sort.Slice(out, func(i, k int) bool {
		di, dk := pathDepth(out[i]), pathDepth(out[k])
		if di != dk {
			return di < dk
		}

		return out[i] < out[k]
	})

	return out
}

func pathDepth(rel string) int {
	return strings.Count(rel, "/")
}

// isExistsError matches the backend-specific flavors of "already
// exists" that directory pre-creation must swallow.
func isExistsError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "exist") || strings.Contains(msg, "550")
}
