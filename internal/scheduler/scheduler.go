package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salonhub-backend/internal/clock"
	"salonhub-backend/internal/database"
	apperrors "salonhub-backend/internal/errors"
	"salonhub-backend/internal/models"
	"salonhub-backend/pkg/utils"
)

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salonhub_job_runs_total",
		Help: "Completed scheduler job runs by job and outcome.",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salonhub_job_duration_seconds",
		Help:    "Scheduler job run duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{"job"})
)

// Handler runs one job pass and returns a human-readable summary for the
// JobRun detail field.
type Handler func(ctx context.Context) (string, error)

// Schedule is a fixed daily or monthly trigger time.
type Schedule struct {
	Monthly bool
	Day     int // day of month for monthly schedules
	Hour    int
	Minute  int
}

// Next returns the first trigger time strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	if s.Monthly {
		candidate := time.Date(t.Year(), t.Month(), s.Day, s.Hour, s.Minute, 0, 0, t.Location())
		if candidate.After(t) {
			return candidate
		}
		return candidate.AddDate(0, 1, 0)
	}
	candidate := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, t.Location())
	if candidate.After(t) {
		return candidate
	}
	return candidate.AddDate(0, 0, 1)
}

func (s Schedule) String() string {
	if s.Monthly {
		return fmt.Sprintf("monthly day %d at %02d:%02d", s.Day, s.Hour, s.Minute)
	}
	return fmt.Sprintf("daily at %02d:%02d", s.Hour, s.Minute)
}

// Job is one named scheduled job.
type Job struct {
	ID       string
	Schedule Schedule
	Handler  Handler
}

// Scheduler drives the billing jobs on fixed cadences and accepts manual
// triggers. Cron and manual paths share one execution function; a JobRun
// row with the running outcome is the mutual-exclusion gate, so the same
// job never runs twice concurrently even across deployments sharing a
// database.
type Scheduler struct {
	db             *gorm.DB
	clk            clock.Clock
	maxRunDuration time.Duration
	log            *logrus.Entry

	mu      sync.RWMutex
	jobs    map[string]Job
	order   []string
	nextRun map[string]time.Time
	locks   map[string]*sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a scheduler. maxRunDuration bounds how long a RUNNING JobRun
// is honored before it is treated as abandoned.
func New(db *gorm.DB, clk clock.Clock, maxRunDuration time.Duration) *Scheduler {
	return &Scheduler{
		db:             db,
		clk:            clk,
		maxRunDuration: maxRunDuration,
		log:            logrus.WithField("component", "scheduler"),
		jobs:           make(map[string]Job),
		nextRun:        make(map[string]time.Time),
		locks:          make(map[string]*sync.Mutex),
		stopCh:         make(chan struct{}),
	}
}

// Register adds a job to the registry. It must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		s.order = append(s.order, job.ID)
		s.locks[job.ID] = &sync.Mutex{}
	}
	s.jobs[job.ID] = job
	s.nextRun[job.ID] = job.Schedule.Next(s.clk.Now())
	s.log.WithFields(logrus.Fields{
		"job":      job.ID,
		"schedule": job.Schedule.String(),
		"next_run": s.nextRun[job.ID],
	}).Info("job registered")
}

// Start launches the cron loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
	s.log.Info("scheduler started")
}

// Stop halts the cron loop. In-flight runs finish on their own.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	now := s.clk.Now()

	var due []string
	s.mu.Lock()
	for _, id := range s.order {
		if !s.nextRun[id].After(now) {
			due = append(due, id)
			s.nextRun[id] = s.jobs[id].Schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		jobID := id
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.RunJob(context.Background(), jobID, models.JobTriggerCron); err != nil {
				if apperrors.IsCode(err, apperrors.CodeJobAlreadyRunning) {
					s.log.WithField("job", jobID).Warn("cron trigger skipped, job already running")
					return
				}
				s.log.WithError(err).WithField("job", jobID).Error("job run failed")
			}
		}()
	}
}

// RunJob is the single execution path shared by the cron loop and the
// manual admin trigger. A trigger that finds the job already running is
// rejected, never queued.
func (s *Scheduler) RunJob(ctx context.Context, jobID, trigger string) error {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	lock := s.locks[jobID]
	s.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.CodeUnknownJob, fmt.Sprintf("unknown job %q", jobID))
	}

	// Acquisition is serialized per job in-process so two triggers cannot
	// both pass the existence check before either has committed. Across
	// processes the partial unique index on running rows catches the race.
	lock.Lock()
	run, err := s.acquire(ctx, jobID, trigger)
	lock.Unlock()
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"job":     jobID,
		"run_id":  run.RunID,
		"trigger": trigger,
	}).Info("job run started")

	// Duration is measured on the wall clock; the injected clock only
	// stamps the JobRun rows.
	started := time.Now()
	detail, runErr := s.invoke(ctx, job)
	elapsed := time.Since(started)

	outcome := models.JobOutcomeSuccess
	if runErr != nil {
		outcome = models.JobOutcomeFailed
		detail = runErr.Error()
	}

	finished := s.clk.Now()
	if err := s.db.WithContext(ctx).Model(&models.JobRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"outcome":     outcome,
			"finished_at": finished,
			"detail":      detail,
		}).Error; err != nil {
		s.log.WithError(err).WithField("job", jobID).Error("failed to finalize job run")
	}

	jobRunsTotal.WithLabelValues(jobID, outcome).Inc()
	jobDuration.WithLabelValues(jobID).Observe(elapsed.Seconds())

	if runErr != nil {
		s.log.WithError(runErr).WithFields(logrus.Fields{
			"job":    jobID,
			"run_id": run.RunID,
		}).Error("job run failed")
		return runErr
	}

	s.log.WithFields(logrus.Fields{
		"job":     jobID,
		"run_id":  run.RunID,
		"detail":  detail,
		"elapsed": elapsed,
	}).Info("job run finished")
	return nil
}

// invoke runs the handler with panic recovery; a panic becomes a failed run
// and a sentry event instead of taking the process down.
func (s *Scheduler) invoke(ctx context.Context, job Job) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			utils.CaptureSentryPanic("scheduler."+job.ID, r)
			err = fmt.Errorf("panic in job %s: %v", job.ID, r)
		}
	}()
	return job.Handler(ctx)
}

// acquire atomically check-and-sets the RUNNING JobRun for a job. A RUNNING
// row older than the max run duration is abandoned and superseded.
func (s *Scheduler) acquire(ctx context.Context, jobID, trigger string) (*models.JobRun, error) {
	now := s.clk.Now()
	run := &models.JobRun{
		JobID:     jobID,
		RunID:     uuid.NewString(),
		StartedAt: now,
		Outcome:   models.JobOutcomeRunning,
		Trigger:   trigger,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.JobRun
		err := database.ForUpdate(tx).
			Where("job_id = ? AND outcome = ?", jobID, models.JobOutcomeRunning).
			First(&existing).Error
		switch {
		case err == nil:
			if now.Sub(existing.StartedAt) < s.maxRunDuration {
				return apperrors.New(apperrors.CodeJobAlreadyRunning,
					fmt.Sprintf("job %q is already running", jobID))
			}
			// Stuck past the duration bound: treat as abandoned
			finished := now
			if err := tx.Model(&existing).Updates(map[string]interface{}{
				"outcome":     models.JobOutcomeFailed,
				"finished_at": finished,
				"detail":      "abandoned: exceeded max run duration",
			}).Error; err != nil {
				return err
			}
			s.log.WithFields(logrus.Fields{
				"job":    jobID,
				"run_id": existing.RunID,
			}).Warn("abandoned stuck job run")
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(run).Error
	})
	if err != nil {
		if database.IsDuplicateKey(err) {
			return nil, apperrors.New(apperrors.CodeJobAlreadyRunning,
				fmt.Sprintf("job %q is already running", jobID))
		}
		return nil, err
	}
	return run, nil
}

// JobStatus is the per-job view for the admin surface.
type JobStatus struct {
	ID               string         `json:"id"`
	Schedule         string         `json:"schedule"`
	NextRun          time.Time      `json:"next_scheduled_time"`
	LastRun          *models.JobRun `json:"last_run"`
	CurrentlyRunning bool           `json:"currently_running"`
}

// Status reports every registered job with its next trigger time and most
// recent run.
func (s *Scheduler) Status(ctx context.Context) ([]JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.order))
	for _, id := range s.order {
		job := s.jobs[id]

		var last models.JobRun
		var lastPtr *models.JobRun
		err := s.db.WithContext(ctx).
			Where("job_id = ?", id).
			Order("started_at DESC").
			First(&last).Error
		if err == nil {
			lastPtr = &last
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		statuses = append(statuses, JobStatus{
			ID:               id,
			Schedule:         job.Schedule.String(),
			NextRun:          s.nextRun[id],
			LastRun:          lastPtr,
			CurrentlyRunning: lastPtr != nil && lastPtr.Outcome == models.JobOutcomeRunning,
		})
	}
	return statuses, nil
}

// Known reports whether a job id is registered.
func (s *Scheduler) Known(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[jobID]
	return ok
}
