package reaper

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeSweeper struct {
	purged      int
	orphans     int
	purgeErr    error
	gotCutoff   time.Time
	purgeCalls  int
	orphanCalls int
}

func (f *fakeSweeper) PurgeDeleted(ctx context.Context, cutoff time.Time) (int, error) {
	f.purgeCalls++
	f.gotCutoff = cutoff
	return f.purged, f.purgeErr
}

func (f *fakeSweeper) PurgeOrphanMessages(ctx context.Context) (int, error) {
	f.orphanCalls++
	return f.orphans, nil
}

func TestSweep(t *testing.T) {
	sweeper := &fakeSweeper{purged: 3, orphans: 1}
	r := New(sweeper, Config{SessionTTL: 30 * 24 * time.Hour}, slog.New(slog.DiscardHandler))

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sweeper.purgeCalls != 1 || sweeper.orphanCalls != 1 {
		t.Errorf("calls = %d/%d", sweeper.purgeCalls, sweeper.orphanCalls)
	}

	wantCutoff := time.Now().Add(-30 * 24 * time.Hour)
	if diff := sweeper.gotCutoff.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff = %v, want about %v", sweeper.gotCutoff, wantCutoff)
	}
}

func TestSweepPropagatesErrors(t *testing.T) {
	sweeper := &fakeSweeper{purgeErr: errors.New("disk full")}
	r := New(sweeper, Config{SessionTTL: time.Hour}, slog.New(slog.DiscardHandler))

	if err := r.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if sweeper.orphanCalls != 0 {
		t.Error("orphan sweep should not run after purge failure")
	}
}

func TestStartDisabledWithoutSchedule(t *testing.T) {
	r := New(&fakeSweeper{}, Config{}, slog.New(slog.DiscardHandler))
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// No cron was created; Stop is a no-op.
	r.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	r := New(&fakeSweeper{}, Config{Schedule: "not a cron line"}, slog.New(slog.DiscardHandler))
	if err := r.Start(); err == nil {
		r.Stop()
		t.Fatal("bad schedule accepted")
	}
}
