package canary_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/joe/dirsync/internal/canary"
	"github.com/joe/dirsync/internal/compare"
	"github.com/joe/dirsync/pkg/storage"
)

var stamp = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func localOnly(rel string, size int64) compare.Comparison {
	return compare.Comparison{
		RelativePath: rel,
		Status:       compare.StatusLocalOnly,
		Local:        &storage.FileInfo{RelativePath: rel, Size: size, Modified: stamp},
	}
}

func remoteOnly(rel string, size int64) compare.Comparison {
	return compare.Comparison{
		RelativePath: rel,
		Status:       compare.StatusRemoteOnly,
		Remote:       &storage.FileInfo{RelativePath: rel, Size: size, Modified: stamp},
	}
}

// population builds 100 comparisons: a.000 through a.099, where every
// tenth file would upload and the rest are identical.
func population() []compare.Comparison {
	comps := make([]compare.Comparison, 0, 100)

	for i := 0; i < 100; i++ {
		rel := fmt.Sprintf("a.%03d", i)
		if i%10 == 3 {
			comps = append(comps, localOnly(rel, 1000))
		} else {
			comps = append(comps, compare.Comparison{
				RelativePath: rel,
				Status:       compare.StatusIdentical,
				Local:        &storage.FileInfo{RelativePath: rel, Size: 10, Modified: stamp},
				Remote:       &storage.FileInfo{RelativePath: rel, Size: 10, Modified: stamp},
			})
		}
	}

	return comps
}

func TestProjectionScalesLinearly(t *testing.T) {
	t.Parallel()

	// 10% of 100 files sampled; the sample must land on a.003 through
	// a.009 region deterministically with the first-N strategy.
	sampler := &canary.Sampler{Percent: 10, Strategy: canary.StrategyFirst}
	result := sampler.Run(population(), compare.DirectionBidirectional)

	if result.TotalFiles != 100 {
		t.Fatalf("total = %d, want 100", result.TotalFiles)
	}

	if result.SampledFiles != 10 {
		t.Fatalf("sampled = %d, want 10", result.SampledFiles)
	}

	// First-N over sorted names a.000..a.009 includes exactly a.003,
	// so the sample carries 1 upload; with 3 uploads in a sample of 10
	// out of 100, the projection contract is count*total/sampled.
	if got := result.ProjectedCount(3); got != 30 {
		t.Errorf("ProjectedCount(3) = %d, want 30", got)
	}

	if result.Summary.WouldUpload != 1 {
		t.Errorf("sample uploads = %d, want 1", result.Summary.WouldUpload)
	}

	projected := result.ProjectedSummary()
	if projected.WouldUpload != 10 {
		t.Errorf("projected uploads = %d, want 10", projected.WouldUpload)
	}

	if projected.EstimatedTransferSize != 10000 {
		t.Errorf("projected bytes = %d, want 10000", projected.EstimatedTransferSize)
	}
}

func TestPercentClamping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		percent     int
		files       int
		wantSampled int
	}{
		{"below minimum clamps to 5 percent", 1, 100, 5},
		{"above maximum clamps to 50 percent", 90, 100, 50},
		{"tiny set still samples one file", 10, 3, 1},
		{"sample never exceeds the set", 50, 1, 1},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			comps := make([]compare.Comparison, 0, test.files)
			for i := 0; i < test.files; i++ {
				comps = append(comps, localOnly(fmt.Sprintf("f%04d", i), 1))
			}

			sampler := &canary.Sampler{Percent: test.percent}
			result := sampler.Run(comps, compare.DirectionBidirectional)

			if result.SampledFiles != test.wantSampled {
				t.Errorf("sampled = %d, want %d", result.SampledFiles, test.wantSampled)
			}
		})
	}
}

func TestDirectionGovernsActions(t *testing.T) {
	t.Parallel()

	// First-N at 50% over four sorted names samples one upload and one
	// download candidate.
	comps := []compare.Comparison{
		localOnly("a-up.txt", 10),
		remoteOnly("b-down.txt", 20),
		localOnly("c-up.txt", 10),
		remoteOnly("d-down.txt", 20),
	}

	sampler := &canary.Sampler{Percent: 50}

	uploadOnly := sampler.Run(comps, compare.DirectionLocalToRemote)
	for _, sr := range uploadOnly.Results {
		if sr.Action == canary.ActionDownload {
			t.Errorf("local_to_remote must not plan downloads, got one for %s", sr.RelativePath)
		}
	}

	both := sampler.Run(comps, compare.DirectionBidirectional)
	if both.Summary.WouldUpload != 1 || both.Summary.WouldDownload != 1 {
		t.Errorf("bidirectional summary = %+v", both.Summary)
	}
}

func TestConflictsCountedNotActed(t *testing.T) {
	t.Parallel()

	comps := []compare.Comparison{
		{RelativePath: "clash.txt", Status: compare.StatusConflict},
		{RelativePath: "odd.txt", Status: compare.StatusSizeMismatch},
	}

	sampler := &canary.Sampler{Percent: 50}
	result := sampler.Run(comps, compare.DirectionBidirectional)

	for _, sr := range result.Results {
		if sr.Action != canary.ActionSkip {
			t.Errorf("%s should be skipped, got %s", sr.RelativePath, sr.Action)
		}
	}

	if result.Summary.Conflicts == 0 {
		t.Error("conflicts should be counted in the summary")
	}
}

func TestRandomStrategyIsSeedable(t *testing.T) {
	t.Parallel()

	comps := population()

	first := (&canary.Sampler{
		Percent:  20,
		Strategy: canary.StrategyRandom,
		Rand:     rand.New(rand.NewSource(7)),
	}).Run(comps, compare.DirectionBidirectional)

	second := (&canary.Sampler{
		Percent:  20,
		Strategy: canary.StrategyRandom,
		Rand:     rand.New(rand.NewSource(7)),
	}).Run(comps, compare.DirectionBidirectional)

	if len(first.Results) != len(second.Results) {
		t.Fatal("same seed must produce the same sample size")
	}

	for i := range first.Results {
		if first.Results[i].RelativePath != second.Results[i].RelativePath {
			t.Fatalf("same seed must pick the same files: %s vs %s",
				first.Results[i].RelativePath, second.Results[i].RelativePath)
		}
	}
}

func TestDirectoriesAreNotSampled(t *testing.T) {
	t.Parallel()

	comps := []compare.Comparison{
		{RelativePath: "dir", Status: compare.StatusLocalOnly, IsDir: true},
		localOnly("file.txt", 5),
	}

	sampler := &canary.Sampler{Percent: 50}
	result := sampler.Run(comps, compare.DirectionBidirectional)

	if result.TotalFiles != 1 {
		t.Errorf("total files = %d, want 1 (directories excluded)", result.TotalFiles)
	}
}

func TestEmptySet(t *testing.T) {
	t.Parallel()

	sampler := &canary.Sampler{Percent: 10}
	result := sampler.Run(nil, compare.DirectionBidirectional)

	if result.SampledFiles != 0 || result.TotalFiles != 0 {
		t.Errorf("empty set result = %+v", result)
	}

	if result.ProjectedCount(3) != 0 {
		t.Error("projection over an empty sample must be zero")
	}
}
