// Package canary runs a bounded dry-run sample of a comparison set and
// projects the results onto the full set, so the cost of a sync can be
// judged before committing to it. A canary run never mutates a file.
package canary

import (
	"math/rand"
	"sort"

	"github.com/joe/dirsync/internal/compare"
)

// Sample percent bounds. Requests outside the range are clamped, and a
// non-empty set always samples at least one file.
const (
	MinPercent = 5
	MaxPercent = 50
)

// Strategy picks which files end up in the sample.
type Strategy string

// Sampling strategies. First is deterministic; Random spreads the
// sample across the set.
const (
	StrategyFirst  Strategy = "first"
	StrategyRandom Strategy = "random"
)

// Action is what a full run would do for a sampled file.
type Action string

// Simulated actions.
const (
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
	ActionDelete   Action = "delete"
	ActionSkip     Action = "skip"
)

// SampleResult is the simulated outcome for one sampled file.
type SampleResult struct {
	RelativePath string `json:"relative_path"`
	Action       Action `json:"action"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	Bytes        int64  `json:"bytes"`
}

// Summary aggregates the sampled outcomes.
type Summary struct {
	WouldUpload           int   `json:"would_upload"`
	WouldDownload         int   `json:"would_download"`
	WouldDelete           int   `json:"would_delete"`
	Conflicts             int   `json:"conflicts"`
	Errors                int   `json:"errors"`
	EstimatedTransferSize int64 `json:"estimated_transfer_size"`
}

// Result is the complete outcome of one canary run. Ephemeral: never
// persisted.
type Result struct {
	SampledFiles int            `json:"sampled_files"`
	TotalFiles   int            `json:"total_files"`
	Results      []SampleResult `json:"results"`
	Summary      Summary        `json:"summary"`
}

// Sampler configures a canary run.
type Sampler struct {
	// Percent of files to sample, clamped to [MinPercent, MaxPercent].
	Percent int
	// Strategy defaults to StrategyFirst.
	Strategy Strategy
	// Rand seeds random sampling; nil falls back to a fixed seed so
	// results stay reproducible.
	Rand *rand.Rand
}

// Run samples the non-directory comparisons and simulates what a full
// run with the given direction would do to each.
func (s *Sampler) Run(comparisons []compare.Comparison, direction compare.Direction) Result {
	files := make([]compare.Comparison, 0, len(comparisons))

	for _, comp := range comparisons {
		if !comp.IsDir {
			files = append(files, comp)
		}
	}

	sort.Slice(files, func(i, k int) bool {
		return files[i].RelativePath < files[k].RelativePath
	})

	result := Result{TotalFiles: len(files)}
	if len(files) == 0 {
		return result
	}

	sample := s.pick(files)
	result.SampledFiles = len(sample)

	for _, comp := range sample {
		action := plannedAction(comp.Status, direction)

		sr := SampleResult{
			RelativePath: comp.RelativePath,
			Action:       action,
			Success:      true,
		}

		switch action {
		case ActionUpload:
			result.Summary.WouldUpload++

			if comp.Local != nil {
				sr.Bytes = comp.Local.Size
			}
		case ActionDownload:
			result.Summary.WouldDownload++

			if comp.Remote != nil {
				sr.Bytes = comp.Remote.Size
			}
		case ActionDelete:
			result.Summary.WouldDelete++
		case ActionSkip:
			if comp.Status == compare.StatusConflict || comp.Status == compare.StatusSizeMismatch {
				result.Summary.Conflicts++
			}
		}

		result.Summary.EstimatedTransferSize += sr.Bytes
		result.Results = append(result.Results, sr)
	}

	return result
}

// pick selects the sample according to the configured percent and
// strategy.
func (s *Sampler) pick(files []compare.Comparison) []compare.Comparison {
	percent := s.Percent
	if percent < MinPercent {
		percent = MinPercent
	}

	if percent > MaxPercent {
		percent = MaxPercent
	}

	size := len(files) * percent / 100
	if size < 1 {
		size = 1
	}

	if size >= len(files) {
		return files
	}

	if s.Strategy != StrategyRandom {
		return files[:size]
	}

	rng := s.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	picked := rng.Perm(len(files))[:size]
	sort.Ints(picked)

	sample := make([]compare.Comparison, 0, size)
	for _, idx := range picked {
		sample = append(sample, files[idx])
	}

	return sample
}

// plannedAction maps a status and direction to the action a full run
// would take.
func plannedAction(status compare.Status, direction compare.Direction) Action {
	switch status {
	case compare.StatusLocalNewer, compare.StatusLocalOnly:
		if direction == compare.DirectionRemoteToLocal {
			return ActionSkip
		}

		return ActionUpload
	case compare.StatusRemoteNewer, compare.StatusRemoteOnly:
		if direction == compare.DirectionLocalToRemote {
			return ActionSkip
		}

		return ActionDownload
	default:
		return ActionSkip
	}
}

// ProjectedCount scales a sampled count up to the full population:
// count × total / sampled, rounded to nearest.
func (r Result) ProjectedCount(count int) int {
	if r.SampledFiles == 0 {
		return 0
	}

	return int(float64(count)*float64(r.TotalFiles)/float64(r.SampledFiles) + 0.5)
}

// ProjectedBytes scales the sampled transfer size up to the full
// population.
func (r Result) ProjectedBytes() int64 {
	if r.SampledFiles == 0 {
		return 0
	}

	return int64(float64(r.Summary.EstimatedTransferSize)*float64(r.TotalFiles)/float64(r.SampledFiles) + 0.5)
}

// ProjectedSummary scales every sampled count to the full population.
func (r Result) ProjectedSummary() Summary {
	return Summary{
		WouldUpload:           r.ProjectedCount(r.Summary.WouldUpload),
		WouldDownload:         r.ProjectedCount(r.Summary.WouldDownload),
		WouldDelete:           r.ProjectedCount(r.Summary.WouldDelete),
		Conflicts:             r.ProjectedCount(r.Summary.Conflicts),
		Errors:                r.ProjectedCount(r.Summary.Errors),
		EstimatedTransferSize: r.ProjectedBytes(),
	}
}
