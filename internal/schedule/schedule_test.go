package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/joe/dirsync/internal/schedule"
)

// 2024-06-03 was a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2024, 6, 3, hour, minute, 0, 0, time.UTC)
}

func tuesday(hour, minute int) time.Time {
	return time.Date(2024, 6, 4, hour, minute, 0, 0, time.UTC)
}

func TestContainsTime(t *testing.T) {
	t.Parallel()

	daytime := schedule.TimeWindow{StartHour: 9, EndHour: 17}
	overnight := schedule.TimeWindow{StartHour: 22, EndHour: 6}

	tests := []struct {
		name   string
		window schedule.TimeWindow
		hour   int
		minute int
		want   bool
	}{
		{"inside daytime window", daytime, 12, 0, true},
		{"start is inclusive", daytime, 9, 0, true},
		{"end is exclusive", daytime, 17, 0, false},
		{"before daytime window", daytime, 8, 59, false},
		{"overnight before midnight", overnight, 23, 30, true},
		{"overnight after midnight", overnight, 2, 0, true},
		{"overnight gap", overnight, 12, 0, false},
		{"overnight end is exclusive", overnight, 6, 0, false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if got := test.window.ContainsTime(test.hour, test.minute); got != test.want {
				t.Errorf("ContainsTime(%d, %d) = %v, want %v", test.hour, test.minute, got, test.want)
			}
		})
	}
}

func TestOvernightDayCarryOver(t *testing.T) {
	t.Parallel()

	// A Monday 22:00-06:00 window: the after-midnight portion belongs
	// to Monday even though the clock says Tuesday.
	window := schedule.TimeWindow{
		StartHour: 22,
		EndHour:   6,
		Days:      []schedule.Weekday{schedule.Monday},
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday night is inside", monday(23, 0), true},
		{"tuesday early morning carries over", tuesday(2, 0), true},
		{"tuesday night is outside", tuesday(23, 0), false},
		{"monday early morning belongs to sunday", monday(2, 0), false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if got := window.Contains(test.at); got != test.want {
				t.Errorf("Contains(%v) = %v, want %v", test.at, got, test.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	bad := schedule.TimeWindow{StartHour: 25}
	if bad.Validate() == nil {
		t.Error("hour 25 should be rejected")
	}

	badMinute := schedule.TimeWindow{StartMinute: 61}
	if badMinute.Validate() == nil {
		t.Error("minute 61 should be rejected")
	}

	sched := schedule.Schedule{IntervalSecs: 30}
	if sched.Validate() == nil {
		t.Error("intervals below the floor should be rejected")
	}

	sched.IntervalSecs = schedule.MinIntervalSecs
	if err := sched.Validate(); err != nil {
		t.Errorf("minimum interval should validate: %v", err)
	}
}

func TestShouldRunNow(t *testing.T) {
	t.Parallel()

	now := monday(12, 0)
	window := &schedule.TimeWindow{StartHour: 9, EndHour: 17}

	tests := []struct {
		name  string
		sched schedule.Schedule
		want  bool
	}{
		{
			name:  "disabled never runs",
			sched: schedule.Schedule{IntervalSecs: 3600},
			want:  false,
		},
		{
			name:  "paused never runs",
			sched: schedule.Schedule{Enabled: true, Paused: true, IntervalSecs: 3600},
			want:  false,
		},
		{
			name:  "interval below the floor never runs",
			sched: schedule.Schedule{Enabled: true, IntervalSecs: 10},
			want:  false,
		},
		{
			name:  "never synced and enabled runs",
			sched: schedule.Schedule{Enabled: true, IntervalSecs: 3600},
			want:  true,
		},
		{
			name:  "interval not yet elapsed",
			sched: schedule.Schedule{Enabled: true, IntervalSecs: 3600, LastSync: now.Add(-time.Minute)},
			want:  false,
		},
		{
			name:  "interval elapsed",
			sched: schedule.Schedule{Enabled: true, IntervalSecs: 3600, LastSync: now.Add(-2 * time.Hour)},
			want:  true,
		},
		{
			name:  "inside the window",
			sched: schedule.Schedule{Enabled: true, IntervalSecs: 3600, TimeWindow: window},
			want:  true,
		},
		{
			name: "outside the window",
			sched: schedule.Schedule{
				Enabled:      true,
				IntervalSecs: 3600,
				TimeWindow:   &schedule.TimeWindow{StartHour: 22, EndHour: 23},
			},
			want: false,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if got := test.sched.ShouldRunNow(now); got != test.want {
				t.Errorf("ShouldRunNow = %v, want %v", got, test.want)
			}
		})
	}
}

func TestNextSyncIn(t *testing.T) {
	t.Parallel()

	now := monday(10, 30)

	disabled := schedule.Schedule{IntervalSecs: 3600}
	if _, ok := disabled.NextSyncIn(now); ok {
		t.Error("a disabled schedule has no next sync")
	}

	due := schedule.Schedule{Enabled: true, IntervalSecs: 3600}
	if wait, ok := due.NextSyncIn(now); !ok || wait != 0 {
		t.Errorf("never-synced schedule should be due now, got wait=%v ok=%v", wait, ok)
	}

	waiting := schedule.Schedule{
		Enabled:      true,
		IntervalSecs: 3600,
		LastSync:     now.Add(-30 * time.Minute),
	}
	if wait, ok := waiting.NextSyncIn(now); !ok || wait != 30*time.Minute {
		t.Errorf("mid-interval wait = %v ok=%v, want 30m", wait, ok)
	}

	// Outside a 12:00-14:00 window at 10:30, the estimate includes the
	// 90 minutes until the window opens.
	windowed := schedule.Schedule{
		Enabled:      true,
		IntervalSecs: 3600,
		TimeWindow:   &schedule.TimeWindow{StartHour: 12, EndHour: 14},
	}
	if wait, ok := windowed.NextSyncIn(now); !ok || wait != 90*time.Minute {
		t.Errorf("window wait = %v ok=%v, want 90m", wait, ok)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := schedule.NewStoreAt(t.TempDir())

	// Pairs without a saved schedule get the default.
	sched, err := store.Load("/local", "/remote")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if sched.Enabled || sched.IntervalSecs != 3600 {
		t.Errorf("default schedule = %+v", sched)
	}

	sched.Enabled = true
	sched.IntervalSecs = 300

	if err := store.Save("/local", "/remote", sched); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load("/local", "/remote")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if !loaded.Enabled || loaded.IntervalSecs != 300 {
		t.Errorf("reloaded schedule = %+v", loaded)
	}

	// Invalid schedules never hit disk.
	loaded.IntervalSecs = 1
	if store.Save("/local", "/remote", loaded) == nil {
		t.Error("saving a sub-floor interval should fail")
	}
}

func TestSchedulerFiresWhenDue(t *testing.T) {
	t.Parallel()

	store := schedule.NewStoreAt(t.TempDir())
	if err := store.Save("/local", "/remote", schedule.Schedule{
		Enabled:      true,
		IntervalSecs: 60,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	clock := clockwork.NewFakeClock()
	ran := make(chan struct{}, 8)

	scheduler := &schedule.Scheduler{
		Clock:      clock,
		Store:      store,
		LocalPath:  "/local",
		RemotePath: "/remote",
		Tick:       time.Second,
		Run: func(context.Context) error {
			ran <- struct{}{}

			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	// First tick: never synced, so the run fires.
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run never fired")
	}

	// Next tick lands inside the interval: no run.
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	// Once the interval elapses the pair fires again.
	clock.BlockUntil(1)
	clock.Advance(61 * time.Second)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not fire after the interval elapsed")
	}

	// The attempt was stamped so a crash cannot replay it immediately.
	sched, err := store.Load("/local", "/remote")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if sched.LastSync.IsZero() {
		t.Error("LastSync should be stamped after a run")
	}

	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Start returned %v, want context.Canceled", err)
	}
}
