package compare_test

import (
	"testing"
	"time"

	"github.com/onsi/gomega"

	"github.com/joe/dirsync/internal/compare"
	"github.com/joe/dirsync/pkg/storage"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func file(rel string, size int64, modified time.Time) storage.FileInfo {
	return storage.FileInfo{
		Path:         "/" + rel,
		RelativePath: rel,
		Size:         size,
		Modified:     modified,
	}
}

func TestTimestampsEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    time.Time
		b    time.Time
		want bool
	}{
		{"exact match", baseTime, baseTime, true},
		{"within tolerance", baseTime, baseTime.Add(2 * time.Second), true},
		{"within tolerance reversed", baseTime.Add(2 * time.Second), baseTime, true},
		{"beyond tolerance", baseTime, baseTime.Add(3 * time.Second), false},
		{"unknown left side", time.Time{}, baseTime, false},
		{"unknown right side", baseTime, time.Time{}, false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if got := compare.TimestampsEqual(test.a, test.b); got != test.want {
				t.Errorf("TimestampsEqual = %v, want %v", got, test.want)
			}
		})
	}
}

func TestClassifyScenarios(t *testing.T) {
	t.Parallel()

	opts := compare.DefaultOptions()

	tests := []struct {
		name       string
		local      *storage.FileInfo
		remote     *storage.FileInfo
		wantStatus compare.Status
	}{
		{
			name: "same size and time is identical",
			local: &storage.FileInfo{
				RelativePath: "a.txt", Size: 100, Modified: baseTime,
			},
			remote: &storage.FileInfo{
				RelativePath: "a.txt", Size: 100, Modified: baseTime,
			},
			wantStatus: compare.StatusIdentical,
		},
		{
			name:  "missing locally is remote_only",
			local: nil,
			remote: &storage.FileInfo{
				RelativePath: "a.txt", Size: 100, Modified: baseTime,
			},
			wantStatus: compare.StatusRemoteOnly,
		},
		{
			name: "missing remotely is local_only",
			local: &storage.FileInfo{
				RelativePath: "a.txt", Size: 100, Modified: baseTime,
			},
			remote:     nil,
			wantStatus: compare.StatusLocalOnly,
		},
		{
			name: "newer local side wins",
			local: &storage.FileInfo{
				RelativePath: "a.txt", Size: 120, Modified: baseTime.Add(time.Hour),
			},
			remote: &storage.FileInfo{
				RelativePath: "a.txt", Size: 100, Modified: baseTime,
			},
			wantStatus: compare.StatusLocalNewer,
		},
		{
			name: "newer remote side wins",
			local: &storage.FileInfo{
				RelativePath: "a.txt", Size: 100, Modified: baseTime,
			},
			remote: &storage.FileInfo{
				RelativePath: "a.txt", Size: 100, Modified: baseTime.Add(time.Hour),
			},
			wantStatus: compare.StatusRemoteNewer,
		},
		{
			name: "size differs with undecidable timestamps",
			local: &storage.FileInfo{
				RelativePath: "a.txt", Size: 120,
			},
			remote: &storage.FileInfo{
				RelativePath: "a.txt", Size: 100,
			},
			wantStatus: compare.StatusSizeMismatch,
		},
		{
			name: "size differs within timestamp tolerance",
			local: &storage.FileInfo{
				RelativePath: "a.txt", Size: 120, Modified: baseTime,
			},
			remote: &storage.FileInfo{
				RelativePath: "a.txt", Size: 100, Modified: baseTime.Add(time.Second),
			},
			wantStatus: compare.StatusSizeMismatch,
		},
		{
			name: "directory on one side only conflicts",
			local: &storage.FileInfo{
				RelativePath: "a", IsDir: true,
			},
			remote: &storage.FileInfo{
				RelativePath: "a", Size: 10, Modified: baseTime,
			},
			wantStatus: compare.StatusConflict,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			status, reason := compare.Classify(test.local, test.remote, opts, nil)
			if status != test.wantStatus {
				t.Errorf("status = %s (%s), want %s", status, reason, test.wantStatus)
			}

			if reason == "" {
				t.Error("reason should never be empty")
			}
		})
	}
}

func TestClassifyChecksumConflict(t *testing.T) {
	t.Parallel()

	opts := compare.DefaultOptions()
	opts.CompareChecksum = true

	local := &storage.FileInfo{RelativePath: "a.txt", Size: 100, Checksum: "aaa"}
	remote := &storage.FileInfo{RelativePath: "a.txt", Size: 100, Checksum: "bbb"}

	status, _ := compare.Classify(local, remote, opts, nil)
	if status != compare.StatusConflict {
		t.Errorf("equal sizes with diverging checksums should conflict, got %s", status)
	}
}

func TestClassifyWithIndex(t *testing.T) {
	t.Parallel()

	opts := compare.DefaultOptions()

	indexed := func(string) (int64, time.Time, bool) {
		return 100, baseTime, true
	}

	tests := []struct {
		name       string
		local      storage.FileInfo
		remote     storage.FileInfo
		wantStatus compare.Status
	}{
		{
			name:       "neither changed since last sync",
			local:      file("a.txt", 100, baseTime),
			remote:     file("a.txt", 100, baseTime),
			wantStatus: compare.StatusIdentical,
		},
		{
			name:       "only local changed",
			local:      file("a.txt", 150, baseTime.Add(time.Hour)),
			remote:     file("a.txt", 100, baseTime),
			wantStatus: compare.StatusLocalNewer,
		},
		{
			name:       "only remote changed",
			local:      file("a.txt", 100, baseTime),
			remote:     file("a.txt", 90, baseTime.Add(time.Hour)),
			wantStatus: compare.StatusRemoteNewer,
		},
		{
			name:       "both changed is a conflict",
			local:      file("a.txt", 150, baseTime.Add(time.Hour)),
			remote:     file("a.txt", 90, baseTime.Add(2*time.Hour)),
			wantStatus: compare.StatusConflict,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			status, _ := compare.Classify(&test.local, &test.remote, opts, indexed)
			if status != test.wantStatus {
				t.Errorf("status = %s, want %s", status, test.wantStatus)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	t.Parallel()

	g := gomega.NewWithT(t)

	opts := compare.DefaultOptions()
	local := file("a.txt", 120, baseTime.Add(time.Hour))
	remote := file("a.txt", 100, baseTime)

	first, firstReason := compare.Classify(&local, &remote, opts, nil)

	for i := 0; i < 100; i++ {
		status, reason := compare.Classify(&local, &remote, opts, nil)
		g.Expect(status).To(gomega.Equal(first))
		g.Expect(reason).To(gomega.Equal(firstReason))
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	g := gomega.NewWithT(t)

	local := map[string]storage.FileInfo{
		"same.txt":        file("same.txt", 10, baseTime),
		"mine.txt":        file("mine.txt", 20, baseTime),
		"node_modules/x":  file("node_modules/x", 5, baseTime),
		"docs":            {RelativePath: "docs", IsDir: true},
		"docs/nested.txt": file("docs/nested.txt", 7, baseTime.Add(time.Hour)),
	}
	remote := map[string]storage.FileInfo{
		"same.txt":        file("same.txt", 10, baseTime),
		"theirs.txt":      file("theirs.txt", 30, baseTime),
		"docs":            {RelativePath: "docs", IsDir: true},
		"docs/nested.txt": file("docs/nested.txt", 7, baseTime),
	}

	comparisons := compare.Build(local, remote, compare.DefaultOptions(), nil)

	byPath := make(map[string]compare.Comparison)
	for _, comp := range comparisons {
		byPath[comp.RelativePath] = comp
	}

	g.Expect(byPath).NotTo(gomega.HaveKey("node_modules/x"), "excluded paths must not be compared")
	g.Expect(byPath["same.txt"].Status).To(gomega.Equal(compare.StatusIdentical))
	g.Expect(byPath["mine.txt"].Status).To(gomega.Equal(compare.StatusLocalOnly))
	g.Expect(byPath["theirs.txt"].Status).To(gomega.Equal(compare.StatusRemoteOnly))
	g.Expect(byPath["docs"].Status).To(gomega.Equal(compare.StatusIdentical))
	g.Expect(byPath["docs"].IsDir).To(gomega.BeTrue())
	g.Expect(byPath["docs/nested.txt"].Status).To(gomega.Equal(compare.StatusLocalNewer))

	// Results are sorted by relative path.
	for i := 1; i < len(comparisons); i++ {
		g.Expect(comparisons[i-1].RelativePath < comparisons[i].RelativePath).To(gomega.BeTrue())
	}
}

func TestBuildIdempotentInput(t *testing.T) {
	t.Parallel()

	g := gomega.NewWithT(t)

	local := map[string]storage.FileInfo{"a.txt": file("a.txt", 1, baseTime)}
	remote := map[string]storage.FileInfo{"a.txt": file("a.txt", 2, baseTime)}

	first := compare.Build(local, remote, compare.DefaultOptions(), nil)
	second := compare.Build(local, remote, compare.DefaultOptions(), nil)

	g.Expect(second).To(gomega.Equal(first))
}

func TestParseDirection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    compare.Direction
		wantErr bool
	}{
		{input: "bidirectional", want: compare.DirectionBidirectional},
		{input: "both", want: compare.DirectionBidirectional},
		{input: "upload", want: compare.DirectionLocalToRemote},
		{input: "local_to_remote", want: compare.DirectionLocalToRemote},
		{input: "download", want: compare.DirectionRemoteToLocal},
		{input: "REMOTE-TO-LOCAL", want: compare.DirectionRemoteToLocal},
		{input: "sideways", wantErr: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.input, func(t *testing.T) {
			t.Parallel()

			got, err := compare.ParseDirection(test.input)
			if test.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got != test.want {
				t.Errorf("ParseDirection(%q) = %s, want %s", test.input, got, test.want)
			}
		})
	}
}
