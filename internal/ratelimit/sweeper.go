package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepFunc is one periodic cleanup job. It returns how many entries it removed.
type SweepFunc func(ctx context.Context) (int, error)

// RunRecord tracks one sweep execution.
type RunRecord struct {
	Task      string    `json:"task"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
	Removed   int       `json:"removed"`
	Error     string    `json:"error,omitempty"`
}

type sweepTask struct {
	name string
	fn   SweepFunc
}

// Sweeper runs cleanup tasks on a cron schedule, outside any request path.
type Sweeper struct {
	mu       sync.Mutex
	cron     *cron.Cron
	schedule string
	tasks    []sweepTask
	runs     []RunRecord
}

// NewSweeper validates schedule (standard cron or @every descriptors).
func NewSweeper(schedule string) (*Sweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule: %w", err)
	}
	return &Sweeper{cron: cron.New(), schedule: schedule}, nil
}

// Add registers a task. Call before Start.
func (s *Sweeper) Add(name string, fn SweepFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, sweepTask{name: name, fn: fn})
}

// Start schedules every task and starts the cron loop.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	slog.Info("sweeper started", "schedule", s.schedule, "tasks", len(s.tasks))
	return nil
}

// Stop stops the cron loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce runs every task now and returns the records.
func (s *Sweeper) RunOnce(ctx context.Context) []RunRecord {
	s.mu.Lock()
	tasks := append([]sweepTask(nil), s.tasks...)
	s.mu.Unlock()

	records := make([]RunRecord, 0, len(tasks))
	for _, t := range tasks {
		records = append(records, s.execute(ctx, t))
	}

	s.mu.Lock()
	s.runs = append(s.runs, records...)
	if len(s.runs) > 1000 {
		s.runs = s.runs[len(s.runs)-500:]
	}
	s.mu.Unlock()
	return records
}

func (s *Sweeper) execute(ctx context.Context, t sweepTask) RunRecord {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	removed, err := t.fn(ctx)
	duration := time.Since(start)
	record := RunRecord{
		Task:      t.name,
		StartedAt: start,
		Duration:  duration.String(),
		Removed:   removed,
	}
	if err != nil {
		record.Error = err.Error()
		slog.Error("sweep failed", "task", t.name, "error", err, "duration", duration)
	} else {
		slog.Debug("sweep completed", "task", t.name, "removed", removed, "duration", duration)
	}
	return record
}

// Runs returns recent sweep records, oldest first.
func (s *Sweeper) Runs() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RunRecord(nil), s.runs...)
}
