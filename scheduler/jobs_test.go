package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeWarmer struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeWarmer) WarmPairs(_ context.Context, ids ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	return len(ids)
}

func (f *fakeWarmer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePruner struct {
	cutoff time.Time
	err    error
}

func (f *fakePruner) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	f.cutoff = olderThan
	return 3, f.err
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPruneUsesRetentionCutoff(t *testing.T) {
	pruner := &fakePruner{}
	s := NewScheduler(Config{Retention: 48 * time.Hour}, nil, pruner, nil, quietLogger())
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.pruneArchive()
	if want := now.Add(-48 * time.Hour); !pruner.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", pruner.cutoff, want)
	}

	pruner.err = errors.New("disk full")
	s.pruneArchive()
}

func TestStartRunsWarmupImmediately(t *testing.T) {
	warmer := &fakeWarmer{}
	s := NewScheduler(Config{WarmExchanges: []string{"binance", "bybit"}}, warmer, nil, nil, quietLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for warmer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if warmer.count() == 0 {
		t.Fatal("warmup job did not run")
	}
	warmer.mu.Lock()
	got := warmer.calls[0]
	warmer.mu.Unlock()
	if len(got) != 2 || got[0] != "binance" {
		t.Errorf("warmed %v", got)
	}
}
