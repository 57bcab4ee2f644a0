// Package config defines the CLI surface and turns parsed flags into
// engine settings.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alexflint/go-arg"

	"github.com/joe/dirsync/internal/compare"
	"github.com/joe/dirsync/internal/profile"
	"github.com/joe/dirsync/internal/schedule"
)

// PairArgs are the positional roots shared by the pipeline commands.
type PairArgs struct {
	Local  string `arg:"positional,required" help:"local root directory"`
	Remote string `arg:"positional,required" help:"remote root (local path or sftp://user@host/path)"`
}

// CompareCmd classifies a pair without transferring anything.
type CompareCmd struct {
	PairArgs
	Direction compare.Direction `arg:"-d,--direction" default:"bidirectional" help:"bidirectional, local_to_remote, or remote_to_local"`
	Checksum  bool              `arg:"--checksum" help:"also compare content checksums"`
	Exclude   []string          `arg:"--exclude,separate" help:"extra exclude pattern (repeatable)"`
	NoIndex   bool              `arg:"--no-index" help:"ignore the saved index for this pair"`
	All       bool              `arg:"--all" help:"show identical entries too"`
}

// SyncCmd runs a full compare-and-execute pass.
type SyncCmd struct {
	PairArgs
	Direction  compare.Direction    `arg:"-d,--direction" default:"bidirectional"`
	Checksum   bool                 `arg:"--checksum"`
	Exclude    []string             `arg:"--exclude,separate"`
	Profile    string               `arg:"-p,--profile" help:"profile to take settings from"`
	Verify     profile.VerifyPolicy `arg:"--verify" default:"size_only" help:"none, size_only, size_and_mtime, or full"`
	MaxRetries int                  `arg:"--max-retries" default:"3"`
	Resume     bool                 `arg:"--resume" help:"continue the pair's interrupted run"`
	Yes        bool                 `arg:"-y,--yes" help:"skip the confirmation prompt"`
}

// CanaryCmd samples the comparison set and projects a full run's
// impact without touching any file.
type CanaryCmd struct {
	PairArgs
	Direction compare.Direction `arg:"-d,--direction" default:"bidirectional"`
	Percent   int               `arg:"--percent" default:"10" help:"sample size as a percent of files (5-50)"`
	Strategy  string            `arg:"--strategy" default:"first" help:"first or random"`
	Exclude   []string          `arg:"--exclude,separate"`
}

// PairCmd groups path-pair management.
type PairCmd struct {
	Add     *PairAddCmd    `arg:"subcommand:add"`
	Edit    *PairEditCmd   `arg:"subcommand:edit"`
	Remove  *PairRemoveCmd `arg:"subcommand:remove"`
	List    *PairListCmd   `arg:"subcommand:list"`
	Enable  *PairToggleCmd `arg:"subcommand:enable"`
	Disable *PairToggleCmd `arg:"subcommand:disable"`
	Sync    *PairSyncCmd   `arg:"subcommand:sync"`
}

// PairAddCmd registers a new path pair.
type PairAddCmd struct {
	Name   string `arg:"positional,required"`
	Local  string `arg:"positional,required"`
	Remote string `arg:"positional,required"`
}

// PairEditCmd renames a pair or points it at new roots.
type PairEditCmd struct {
	Name    string `arg:"positional,required" help:"pair to edit (name or id)"`
	NewName string `arg:"--name" help:"new pair name"`
	Local   string `arg:"--local" help:"new local root"`
	Remote  string `arg:"--remote" help:"new remote root"`
}

// PairRemoveCmd deletes a path pair.
type PairRemoveCmd struct {
	Name string `arg:"positional,required"`
}

// PairListCmd lists all path pairs.
type PairListCmd struct{}

// PairToggleCmd enables or disables a pair.
type PairToggleCmd struct {
	Name string `arg:"positional,required"`
}

// PairSyncCmd syncs every enabled pair.
type PairSyncCmd struct {
	Parallel bool `arg:"--parallel" help:"run pairs concurrently"`
}

// ScheduleCmd groups schedule management.
type ScheduleCmd struct {
	Show *ScheduleShowCmd `arg:"subcommand:show"`
	Set  *ScheduleSetCmd  `arg:"subcommand:set"`
	Run  *ScheduleRunCmd  `arg:"subcommand:run"`
}

// ScheduleShowCmd prints a pair's schedule and the next-run estimate.
type ScheduleShowCmd struct {
	PairArgs
}

// ScheduleSetCmd updates a pair's schedule.
type ScheduleSetCmd struct {
	PairArgs
	Interval int64    `arg:"--interval" default:"3600" help:"seconds between runs (min 60)"`
	Enable   bool     `arg:"--enable"`
	Disable  bool     `arg:"--disable"`
	Pause    bool     `arg:"--pause"`
	Unpause  bool     `arg:"--unpause"`
	Window   string   `arg:"--window" help:"allowed window as HH:MM-HH:MM (may span midnight)"`
	Days     []string `arg:"--day,separate" help:"restrict window to a weekday (repeatable)"`
}

// ScheduleRunCmd runs the scheduler loop in the foreground.
type ScheduleRunCmd struct {
	PairArgs
	Direction compare.Direction `arg:"-d,--direction" default:"bidirectional"`
}

// TemplateCmd groups template export/import.
type TemplateCmd struct {
	Export *TemplateExportCmd `arg:"subcommand:export"`
	Import *TemplateImportCmd `arg:"subcommand:import"`
}

// TemplateExportCmd writes a portable sync template.
type TemplateExportCmd struct {
	Name    string `arg:"positional,required" help:"template name"`
	Output  string `arg:"-o,--output,required" help:"output file (must end in .aerosync.json)"`
	Profile string `arg:"-p,--profile" default:"standard"`
	Local   string `arg:"--local" help:"local path pattern"`
	Remote  string `arg:"--remote" help:"remote path pattern"`
}

// TemplateImportCmd reads a template and registers its profile.
type TemplateImportCmd struct {
	File string `arg:"positional,required"`
}

// ProfileCmd groups profile management.
type ProfileCmd struct {
	List   *ProfileListCmd   `arg:"subcommand:list"`
	Delete *ProfileDeleteCmd `arg:"subcommand:delete"`
}

// ProfileListCmd lists built-in and user profiles.
type ProfileListCmd struct{}

// ProfileDeleteCmd removes a user profile.
type ProfileDeleteCmd struct {
	Name string `arg:"positional,required"`
}

// Config is the parsed command line.
type Config struct {
	Compare  *CompareCmd  `arg:"subcommand:compare" help:"classify differences between two roots"`
	Sync     *SyncCmd     `arg:"subcommand:sync" help:"compare and transfer"`
	Canary   *CanaryCmd   `arg:"subcommand:canary" help:"dry-run a sample and project the impact"`
	Pair     *PairCmd     `arg:"subcommand:pair" help:"manage path pairs"`
	Schedule *ScheduleCmd `arg:"subcommand:schedule" help:"manage scheduled syncs"`
	Template *TemplateCmd `arg:"subcommand:template" help:"export or import portable templates"`
	Profile  *ProfileCmd  `arg:"subcommand:profile" help:"manage sync profiles"`

	Verbose bool `arg:"-v,--verbose" help:"debug logging"`
	Quiet   bool `arg:"-q,--quiet" help:"errors only"`
}

// Description is the program summary shown in --help.
func (Config) Description() string {
	return "dirsync keeps a local directory and a remote one in step, in either or both directions."
}

// Version reports the build version in --help output.
func (Config) Version() string {
	return "dirsync 1.0.0"
}

// ParseFlags parses os.Args into a Config.
func ParseFlags() (*Config, error) {
	var cfg Config

	arg.MustParse(&cfg)

	return &cfg, nil
}

// CompareOptions assembles comparator settings from compare-style
// flags.
func CompareOptions(direction compare.Direction, checksum bool, extraExcludes []string) compare.Options {
	opts := compare.DefaultOptions()
	opts.Direction = direction
	opts.CompareChecksum = checksum
	opts.ExcludePatterns = append(opts.ExcludePatterns, extraExcludes...)

	return opts
}

// ParseWindow parses "HH:MM-HH:MM" plus optional weekday names into a
// TimeWindow.
func ParseWindow(window string, days []string) (*schedule.TimeWindow, error) {
	parts := strings.Split(window, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid window %q (want HH:MM-HH:MM)", window)
	}

	startHour, startMinute, err := parseClock(parts[0])
	if err != nil {
		return nil, err
	}

	endHour, endMinute, err := parseClock(parts[1])
	if err != nil {
		return nil, err
	}

	tw := &schedule.TimeWindow{
		StartHour:   startHour,
		StartMinute: startMinute,
		EndHour:     endHour,
		EndMinute:   endMinute,
	}

	for _, day := range days {
		parsed, err := parseWeekday(day)
		if err != nil {
			return nil, err
		}

		tw.Days = append(tw.Days, parsed)
	}

	return tw, tw.Validate()
}

func parseClock(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}

	return hour, minute, nil
}

func parseWeekday(s string) (schedule.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mon", "monday":
		return schedule.Monday, nil
	case "tue", "tuesday":
		return schedule.Tuesday, nil
	case "wed", "wednesday":
		return schedule.Wednesday, nil
	case "thu", "thursday":
		return schedule.Thursday, nil
	case "fri", "friday":
		return schedule.Friday, nil
	case "sat", "saturday":
		return schedule.Saturday, nil
	case "sun", "sunday":
		return schedule.Sunday, nil
	default:
		return "", fmt.Errorf("invalid weekday %q", s)
	}
}
