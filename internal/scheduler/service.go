package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dwizi/lurker/internal/heartbeat"
)

const componentName = "scheduler"

var ErrUnknownJob = errors.New("unknown maintenance job")

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job is one periodic maintenance task.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// ParseSchedule validates a cron expression or descriptor such as
// "@every 1m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.Join(strings.Fields(expr), " ")
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// Service runs maintenance jobs on their cron schedules. A job still running
// when its next tick fires is skipped rather than stacked.
type Service struct {
	jobs     map[string]Job
	order    []string
	reporter heartbeat.Reporter
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func New(jobs []Job, reporter heartbeat.Reporter, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	service := &Service{
		jobs:     map[string]Job{},
		reporter: reporter,
		logger:   logger.With("component", componentName),
		running:  map[string]bool{},
	}
	for _, job := range jobs {
		name := strings.TrimSpace(job.Name)
		if name == "" || job.Run == nil {
			return nil, fmt.Errorf("maintenance job needs a name and a run func")
		}
		if _, err := ParseSchedule(job.Schedule); err != nil {
			return nil, fmt.Errorf("job %s: %w", name, err)
		}
		if _, exists := service.jobs[name]; exists {
			return nil, fmt.Errorf("duplicate maintenance job %s", name)
		}
		job.Name = name
		service.jobs[name] = job
		service.order = append(service.order, name)
	}
	return service, nil
}

func (s *Service) Name() string {
	return componentName
}

func (s *Service) Start(ctx context.Context) error {
	if len(s.jobs) == 0 {
		if s.reporter != nil {
			s.reporter.Disabled(componentName, "no maintenance jobs")
		}
		<-ctx.Done()
		return nil
	}
	runner := cron.New(cron.WithParser(scheduleParser), cron.WithLocation(time.UTC))
	for _, name := range s.order {
		job := s.jobs[name]
		if _, err := runner.AddFunc(job.Schedule, func() { _ = s.Run(ctx, job.Name) }); err != nil {
			return fmt.Errorf("schedule job %s: %w", job.Name, err)
		}
	}
	runner.Start()
	if s.reporter != nil {
		s.reporter.Beat(componentName, "started")
	}
	s.logger.Info("scheduler started", "jobs", strings.Join(s.order, ","))

	<-ctx.Done()
	<-runner.Stop().Done()
	if s.reporter != nil {
		s.reporter.Stopped(componentName, "stopped")
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// Run executes the named job now. It returns nil without running when the
// job is already in progress.
func (s *Service) Run(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn("maintenance job still running, skipping tick", "job", name)
		return nil
	}
	s.running[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		if s.reporter != nil {
			s.reporter.Degrade(componentName, "job "+name+" failed", err)
		}
		s.logger.Error("maintenance job failed", "job", name, "error", err)
		return fmt.Errorf("job %s: %w", name, err)
	}
	if s.reporter != nil {
		s.reporter.Beat(componentName, "job "+name+" completed")
	}
	s.logger.Debug("maintenance job completed", "job", name, "took", time.Since(started).String())
	return nil
}
