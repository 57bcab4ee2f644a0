// Command dirsync compares and synchronizes a local directory with a
// remote one (another local path or an SFTP location), in either or
// both directions.
package main

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	log "github.com/sirupsen/logrus"

	"github.com/joe/dirsync/internal/canary"
	"github.com/joe/dirsync/internal/compare"
	"github.com/joe/dirsync/internal/config"
	"github.com/joe/dirsync/internal/index"
	"github.com/joe/dirsync/internal/journal"
	"github.com/joe/dirsync/internal/multipath"
	"github.com/joe/dirsync/internal/profile"
	"github.com/joe/dirsync/internal/schedule"
	"github.com/joe/dirsync/internal/selection"
	"github.com/joe/dirsync/internal/syncengine"
	"github.com/joe/dirsync/pkg/storage"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal(err)
	}

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, cfg); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch {
	case cfg.Verbose:
		log.SetLevel(log.DebugLevel)
	case cfg.Quiet:
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

func dispatch(ctx context.Context, cfg *config.Config) error {
	switch {
	case cfg.Compare != nil:
		return runCompare(ctx, cfg.Compare)
	case cfg.Sync != nil:
		return runSync(ctx, cfg.Sync)
	case cfg.Canary != nil:
		return runCanary(ctx, cfg.Canary)
	case cfg.Pair != nil:
		return runPair(ctx, cfg.Pair)
	case cfg.Schedule != nil:
		return runSchedule(ctx, cfg.Schedule)
	case cfg.Template != nil:
		return runTemplate(cfg.Template)
	case cfg.Profile != nil:
		return runProfile(cfg.Profile)
	default:
		return fmt.Errorf("no command given (try --help)")
	}
}

// openPair resolves the two roots and opens a client for the remote
// side. The local side must be a plain directory.
func openPair(local, remote string) (storage.Client, string, string, error) {
	localParsed, err := storage.ParsePath(local)
	if err != nil {
		return nil, "", "", err
	}

	if localParsed.IsRemote {
		return nil, "", "", fmt.Errorf("the first root must be a local directory, got %s", local)
	}

	if info, err := os.Stat(localParsed.LocalPath); err != nil || !info.IsDir() {
		return nil, "", "", fmt.Errorf("local root %s is not an accessible directory", local)
	}

	remoteParsed, err := storage.ParsePath(remote)
	if err != nil {
		return nil, "", "", err
	}

	client, err := remoteParsed.Client()
	if err != nil {
		return nil, "", "", err
	}

	return client, localParsed.LocalPath, remoteParsed.Root(), nil
}

func runCompare(ctx context.Context, cmd *config.CompareCmd) error {
	client, localRoot, remoteRoot, err := openPair(cmd.Local, cmd.Remote)
	if err != nil {
		return err
	}
	defer client.Close()

	var indexStore *index.Store

	if !cmd.NoIndex {
		if indexStore, err = index.NewStore(); err != nil {
			return err
		}
	}

	executor := syncengine.NewExecutor(syncengine.Config{
		Remote:     client,
		LocalRoot:  localRoot,
		RemoteRoot: remoteRoot,
		Options:    config.CompareOptions(cmd.Direction, cmd.Checksum, cmd.Exclude),
		IndexStore: indexStore,
	})

	comparisons, err := executor.Analyze(ctx)
	if err != nil {
		return err
	}

	counts := make(map[compare.Status]int)

	for _, comp := range comparisons {
		counts[comp.Status]++

		if comp.Status == compare.StatusIdentical && !cmd.All {
			continue
		}

		fmt.Printf("%-14s %s  (%s)\n", comp.Status, comp.RelativePath, comp.Reason)
	}

	fmt.Printf("\n%d compared: %d identical, %d local newer, %d remote newer, %d local only, %d remote only, %d conflicts, %d size mismatches\n",
		len(comparisons),
		counts[compare.StatusIdentical],
		counts[compare.StatusLocalNewer],
		counts[compare.StatusRemoteNewer],
		counts[compare.StatusLocalOnly],
		counts[compare.StatusRemoteOnly],
		counts[compare.StatusConflict],
		counts[compare.StatusSizeMismatch])

	return nil
}

func runSync(ctx context.Context, cmd *config.SyncCmd) error {
	opts := config.CompareOptions(cmd.Direction, cmd.Checksum, cmd.Exclude)
	retry := profile.DefaultRetryPolicy()
	verify := cmd.Verify

	if cmd.Profile != "" {
		store, err := profile.NewStore()
		if err != nil {
			return err
		}

		prof, err := store.Get(cmd.Profile)
		if err != nil {
			return err
		}

		opts = prof.CompareOptions()
		opts.ExcludePatterns = append(opts.ExcludePatterns, cmd.Exclude...)
		retry = prof.Retry
		verify = prof.Verify
	}

	if cmd.MaxRetries > 0 {
		retry.MaxRetries = cmd.MaxRetries
	}

	return syncPair(ctx, cmd.Local, cmd.Remote, opts, retry, verify, cmd.Resume, !cmd.Yes)
}

// syncPair runs the whole pipeline for one pair: analyze, select,
// confirm, execute, report.
func syncPair(ctx context.Context, local, remote string, opts compare.Options, retry profile.RetryPolicy, verify profile.VerifyPolicy, resume, confirm bool) error {
	client, localRoot, remoteRoot, err := openPair(local, remote)
	if err != nil {
		return err
	}
	defer client.Close()

	indexStore, err := index.NewStore()
	if err != nil {
		return err
	}

	journalStore, err := journal.NewStore()
	if err != nil {
		return err
	}

	events := make(chan syncengine.Event, 64)

	executor := syncengine.NewExecutor(syncengine.Config{
		Remote:       client,
		LocalRoot:    localRoot,
		RemoteRoot:   remoteRoot,
		Options:      opts,
		Retry:        retry,
		Verify:       verify,
		Resume:       resume,
		JournalStore: journalStore,
		IndexStore:   indexStore,
		Events:       events,
	})

	rendererDone := make(chan struct{})
	go renderEvents(events, rendererDone)

	defer func() {
		close(events)
		<-rendererDone
	}()

	comparisons, err := executor.Analyze(ctx)
	if err != nil {
		return err
	}

	selector := selection.NewSelector(opts.Direction)
	selector.Load(comparisons)

	selected := selector.Selected()
	dirs := selector.SyncableDirs()

	if len(selected) == 0 && len(dirs) == 0 {
		fmt.Println("Nothing to sync: both sides are in step.")

		return nil
	}

	if confirm && !promptApproval(selected, dirs) {
		fmt.Println("Aborted.")

		return nil
	}

	// A signal cancels the run cooperatively: finished items stay
	// recorded, the rest are journaled as skipped.
	go func() {
		<-ctx.Done()
		executor.Cancel()
	}()

	report, err := executor.Run(ctx, selected, dirs)
	if err != nil {
		return err
	}

	printReport(report)

	return nil
}

// renderEvents is the single subscriber draining the engine's event
// channel, rendering a progress bar over the run's items.
func renderEvents(events <-chan syncengine.Event, done chan<- struct{}) {
	defer close(done)

	var bar *pb.ProgressBar

	for event := range events {
		switch e := event.(type) {
		case syncengine.ScanComplete:
			log.WithFields(log.Fields{"root": e.Root, "files": e.FilesFound}).Debug("scan complete")
		case syncengine.RunStarted:
			if e.Items > 0 {
				bar = pb.StartNew(e.Items)
			}
		case syncengine.ItemStarted:
			log.WithFields(log.Fields{"path": e.RelativePath, "action": e.Action}).Debug("transferring")
		case syncengine.ItemComplete:
			if bar != nil {
				bar.Increment()
			}
		case syncengine.ItemFailed:
			if bar != nil {
				bar.Increment()
			}
		case syncengine.RunComplete:
			if bar != nil {
				bar.Finish()
				bar = nil
			}
		}
	}

	if bar != nil {
		bar.Finish()
	}
}

func promptApproval(selected []compare.Comparison, dirs []compare.Comparison) bool {
	uploads, downloads := 0, 0

	for _, comp := range selected {
		switch comp.Status {
		case compare.StatusLocalNewer, compare.StatusLocalOnly:
			uploads++
		default:
			downloads++
		}
	}

	fmt.Printf("Plan: %d uploads, %d downloads, %d directories to create.\n", uploads, downloads, len(dirs))
	fmt.Print("Proceed? [y/N] ")

	reader := bufio.NewReader(os.Stdin)

	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	answer = strings.ToLower(strings.TrimSpace(answer))

	return answer == "y" || answer == "yes"
}

func printReport(report *syncengine.Report) {
	fmt.Printf("\nUploaded:     %d\n", report.Uploaded)
	fmt.Printf("Downloaded:   %d\n", report.Downloaded)
	fmt.Printf("Skipped:      %d\n", report.Skipped)
	fmt.Printf("Dirs created: %d\n", report.DirsCreated)
	fmt.Printf("Bytes moved:  %d\n", report.TotalBytes)
	fmt.Printf("Duration:     %s\n", time.Duration(report.DurationMS)*time.Millisecond)

	if len(report.Errors) > 0 {
		fmt.Printf("\n%d errors:\n", len(report.Errors))

		for _, msg := range report.Errors {
			fmt.Printf("  %s\n", msg)
		}
	}
}

func runCanary(ctx context.Context, cmd *config.CanaryCmd) error {
	client, localRoot, remoteRoot, err := openPair(cmd.Local, cmd.Remote)
	if err != nil {
		return err
	}
	defer client.Close()

	indexStore, err := index.NewStore()
	if err != nil {
		return err
	}

	executor := syncengine.NewExecutor(syncengine.Config{
		Remote:     client,
		LocalRoot:  localRoot,
		RemoteRoot: remoteRoot,
		Options:    config.CompareOptions(cmd.Direction, false, cmd.Exclude),
		IndexStore: indexStore,
	})

	comparisons, err := executor.Analyze(ctx)
	if err != nil {
		return err
	}

	strategy := canary.StrategyFirst
	if strings.EqualFold(cmd.Strategy, "random") {
		strategy = canary.StrategyRandom
	}

	sampler := &canary.Sampler{
		Percent:  cmd.Percent,
		Strategy: strategy,
		Rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	result := sampler.Run(comparisons, cmd.Direction)

	fmt.Printf("Sampled %d of %d files:\n", result.SampledFiles, result.TotalFiles)

	for _, sr := range result.Results {
		fmt.Printf("  %-9s %s (%d bytes)\n", sr.Action, sr.RelativePath, sr.Bytes)
	}

	projected := result.ProjectedSummary()

	fmt.Printf("\nProjected full run: %d uploads, %d downloads, %d conflicts, ~%d bytes\n",
		projected.WouldUpload, projected.WouldDownload, projected.Conflicts, projected.EstimatedTransferSize)

	return nil
}

func runPair(ctx context.Context, cmd *config.PairCmd) error {
	manager, err := multipath.NewManager()
	if err != nil {
		return err
	}

	switch {
	case cmd.Add != nil:
		pair, err := manager.Add(cmd.Add.Name, cmd.Add.Local, cmd.Add.Remote)
		if err != nil {
			return err
		}

		fmt.Printf("Added pair %s (%s)\n", pair.Name, pair.ID)

		return nil
	case cmd.Edit != nil:
		if err := manager.Edit(cmd.Edit.Name, cmd.Edit.NewName, cmd.Edit.Local, cmd.Edit.Remote); err != nil {
			return err
		}

		if err := manager.Save(); err != nil {
			return err
		}

		fmt.Printf("Updated pair %s\n", cmd.Edit.Name)

		return nil
	case cmd.Remove != nil:
		if err := manager.Remove(cmd.Remove.Name); err != nil {
			return err
		}

		fmt.Printf("Removed pair %s\n", cmd.Remove.Name)

		return nil
	case cmd.List != nil:
		pairs := manager.Pairs()
		if len(pairs) == 0 {
			fmt.Println("No path pairs configured.")

			return nil
		}

		for _, p := range pairs {
			status := "enabled"
			if !p.Enabled {
				status = "disabled"
			}

			fmt.Printf("%-20s %-8s %s <-> %s\n", p.Name, status, p.LocalPath, p.RemotePath)
		}

		return nil
	case cmd.Enable != nil:
		return manager.SetEnabled(cmd.Enable.Name, true)
	case cmd.Disable != nil:
		return manager.SetEnabled(cmd.Disable.Name, false)
	case cmd.Sync != nil:
		if err := manager.SetParallel(cmd.Sync.Parallel); err != nil {
			return err
		}

		errs := manager.RunAll(ctx, func(ctx context.Context, pair multipath.PathPair) error {
			opts := compare.DefaultOptions()
			opts.ExcludePatterns = append(opts.ExcludePatterns, pair.ExcludeOverrides...)

			return syncPair(ctx, pair.LocalPath, pair.RemotePath, opts,
				profile.DefaultRetryPolicy(), profile.VerifySizeOnly, false, false)
		})
		if len(errs) > 0 {
			return fmt.Errorf("%d of %d pairs failed", len(errs), len(manager.Pairs()))
		}

		return nil
	default:
		return fmt.Errorf("pair: no subcommand given (try --help)")
	}
}

func runSchedule(ctx context.Context, cmd *config.ScheduleCmd) error {
	store, err := schedule.NewStore()
	if err != nil {
		return err
	}

	switch {
	case cmd.Show != nil:
		sched, err := store.Load(cmd.Show.Local, cmd.Show.Remote)
		if err != nil {
			return err
		}

		fmt.Printf("Enabled:  %v\n", sched.Enabled)
		fmt.Printf("Paused:   %v\n", sched.Paused)
		fmt.Printf("Interval: %ds\n", sched.IntervalSecs)

		if sched.TimeWindow != nil {
			fmt.Printf("Window:   %02d:%02d-%02d:%02d %v\n",
				sched.TimeWindow.StartHour, sched.TimeWindow.StartMinute,
				sched.TimeWindow.EndHour, sched.TimeWindow.EndMinute,
				sched.TimeWindow.Days)
		}

		if wait, ok := sched.NextSyncIn(time.Now()); ok {
			fmt.Printf("Next run: in %s\n", wait.Round(time.Second))
		}

		return nil
	case cmd.Set != nil:
		sched, err := store.Load(cmd.Set.Local, cmd.Set.Remote)
		if err != nil {
			return err
		}

		sched.IntervalSecs = cmd.Set.Interval

		if cmd.Set.Enable {
			sched.Enabled = true
		}

		if cmd.Set.Disable {
			sched.Enabled = false
		}

		if cmd.Set.Pause {
			sched.Paused = true
		}

		if cmd.Set.Unpause {
			sched.Paused = false
		}

		if cmd.Set.Window != "" {
			window, err := config.ParseWindow(cmd.Set.Window, cmd.Set.Days)
			if err != nil {
				return err
			}

			sched.TimeWindow = window
		}

		return store.Save(cmd.Set.Local, cmd.Set.Remote, sched)
	case cmd.Run != nil:
		scheduler := &schedule.Scheduler{
			Store:      store,
			LocalPath:  cmd.Run.Local,
			RemotePath: cmd.Run.Remote,
			Run: func(ctx context.Context) error {
				opts := compare.DefaultOptions()
				opts.Direction = cmd.Run.Direction

				return syncPair(ctx, cmd.Run.Local, cmd.Run.Remote, opts,
					profile.DefaultRetryPolicy(), profile.VerifySizeOnly, false, false)
			},
		}

		err := scheduler.Start(ctx)
		if err == context.Canceled {
			return nil
		}

		return err
	default:
		return fmt.Errorf("schedule: no subcommand given (try --help)")
	}
}

func runTemplate(cmd *config.TemplateCmd) error {
	switch {
	case cmd.Export != nil:
		store, err := profile.NewStore()
		if err != nil {
			return err
		}

		prof, err := store.Get(cmd.Export.Profile)
		if err != nil {
			return err
		}

		var patterns []profile.PathPattern

		if cmd.Export.Local != "" || cmd.Export.Remote != "" {
			patterns = append(patterns, profile.PathPattern{
				Local:  cmd.Export.Local,
				Remote: cmd.Export.Remote,
			})
		}

		tmpl := profile.NewTemplate(cmd.Export.Name, prof, patterns, nil)
		if err := profile.WriteTemplate(cmd.Export.Output, tmpl); err != nil {
			return err
		}

		fmt.Printf("Exported template to %s\n", cmd.Export.Output)

		return nil
	case cmd.Import != nil:
		tmpl, err := profile.ReadTemplate(cmd.Import.File)
		if err != nil {
			return err
		}

		store, err := profile.NewStore()
		if err != nil {
			return err
		}

		prof := tmpl.Profile
		prof.ID = ""
		prof.Name = tmpl.Name

		added, err := store.Add(prof)
		if err != nil {
			return err
		}

		fmt.Printf("Imported profile %s from template %s\n", added.Name, tmpl.Name)

		if len(tmpl.PathPatterns) > 0 {
			manager, err := multipath.NewManager()
			if err != nil {
				return err
			}

			for i, pattern := range tmpl.PathPatterns {
				name := tmpl.Name
				if i > 0 {
					name = fmt.Sprintf("%s-%d", tmpl.Name, i+1)
				}

				if _, err := manager.Add(name, pattern.Local, pattern.Remote); err != nil {
					log.WithError(err).WithField("pair", name).Warn("skipping template path pattern")
				}
			}
		}

		return nil
	default:
		return fmt.Errorf("template: no subcommand given (try --help)")
	}
}

func runProfile(cmd *config.ProfileCmd) error {
	store, err := profile.NewStore()
	if err != nil {
		return err
	}

	switch {
	case cmd.List != nil:
		profiles, err := store.List()
		if err != nil {
			return err
		}

		for _, p := range profiles {
			kind := "user"
			if p.BuiltIn {
				kind = "built-in"
			}

			fmt.Printf("%-16s %-9s direction=%s verify=%s checksum=%v\n",
				p.Name, kind, p.Direction, p.Verify, p.CompareChecksum)
		}

		return nil
	case cmd.Delete != nil:
		if err := store.Delete(cmd.Delete.Name); err != nil {
			return err
		}

		fmt.Printf("Deleted profile %s\n", cmd.Delete.Name)

		return nil
	default:
		return fmt.Errorf("profile: no subcommand given (try --help)")
	}
}
