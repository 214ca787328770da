package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonhub-backend/internal/clock"
	apperrors "salonhub-backend/internal/errors"
	"salonhub-backend/internal/models"
	"salonhub-backend/internal/testutil"
)

func newScheduler(t *testing.T) (*Scheduler, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(testutil.OpenDB(t), clk, 30*time.Minute), clk
}

func TestScheduleNext(t *testing.T) {
	daily := Schedule{Hour: 3, Minute: 0}
	monthly := Schedule{Monthly: true, Day: 1, Hour: 2, Minute: 0}

	t.Run("daily before trigger time", func(t *testing.T) {
		at := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), daily.Next(at))
	})

	t.Run("daily after trigger time rolls to tomorrow", func(t *testing.T) {
		at := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), daily.Next(at))
	})

	t.Run("daily exactly at trigger rolls forward", func(t *testing.T) {
		at := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), daily.Next(at))
	})

	t.Run("monthly rolls to next month", func(t *testing.T) {
		at := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 4, 1, 2, 0, 0, 0, time.UTC), monthly.Next(at))
	})

	t.Run("monthly before this month's trigger", func(t *testing.T) {
		at := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC), monthly.Next(at))
	})
}

func TestRunJobSuccess(t *testing.T) {
	s, _ := newScheduler(t)
	s.Register(Job{
		ID:       "noop",
		Schedule: Schedule{Hour: 3},
		Handler: func(ctx context.Context) (string, error) {
			return "did nothing", nil
		},
	})

	require.NoError(t, s.RunJob(context.Background(), "noop", models.JobTriggerManual))

	var run models.JobRun
	require.NoError(t, s.db.Where("job_id = ?", "noop").First(&run).Error)
	assert.Equal(t, models.JobOutcomeSuccess, run.Outcome)
	assert.Equal(t, models.JobTriggerManual, run.Trigger)
	assert.Equal(t, "did nothing", run.Detail)
	assert.NotNil(t, run.FinishedAt)
	assert.NotEmpty(t, run.RunID)
}

func TestRunJobFailureRecordsDetail(t *testing.T) {
	s, _ := newScheduler(t)
	s.Register(Job{
		ID:       "broken",
		Schedule: Schedule{Hour: 3},
		Handler: func(ctx context.Context) (string, error) {
			return "", errors.New("boom")
		},
	})

	err := s.RunJob(context.Background(), "broken", models.JobTriggerManual)
	require.Error(t, err)

	var run models.JobRun
	require.NoError(t, s.db.Where("job_id = ?", "broken").First(&run).Error)
	assert.Equal(t, models.JobOutcomeFailed, run.Outcome)
	assert.Equal(t, "boom", run.Detail)
}

func TestRunJobUnknown(t *testing.T) {
	s, _ := newScheduler(t)
	err := s.RunJob(context.Background(), "no-such-job", models.JobTriggerManual)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUnknownJob))
}

// A manual trigger while the job is mid-run is rejected, not queued.
func TestRunJobRejectsWhileRunning(t *testing.T) {
	s, _ := newScheduler(t)

	release := make(chan struct{})
	entered := make(chan struct{})
	s.Register(Job{
		ID:       "slow",
		Schedule: Schedule{Hour: 3},
		Handler: func(ctx context.Context) (string, error) {
			close(entered)
			<-release
			return "done", nil
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		firstErr = s.RunJob(context.Background(), "slow", models.JobTriggerCron)
	}()

	<-entered
	err := s.RunJob(context.Background(), "slow", models.JobTriggerManual)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeJobAlreadyRunning))

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)

	// After completion a new trigger is accepted again.
	require.NoError(t, s.RunJob(context.Background(), "slow", models.JobTriggerManual))
}

// The schema itself rejects a second running row for the same job.
func TestRunningRowUniquePerJob(t *testing.T) {
	s, clk := newScheduler(t)

	first := models.JobRun{
		JobID:     "sweep",
		RunID:     "run-a",
		StartedAt: clk.Now(),
		Outcome:   models.JobOutcomeRunning,
		Trigger:   models.JobTriggerCron,
	}
	require.NoError(t, s.db.Create(&first).Error)

	second := models.JobRun{
		JobID:     "sweep",
		RunID:     "run-b",
		StartedAt: clk.Now(),
		Outcome:   models.JobOutcomeRunning,
		Trigger:   models.JobTriggerManual,
	}
	require.Error(t, s.db.Create(&second).Error)

	// Other jobs and finished rows are unaffected.
	other := models.JobRun{
		JobID:     "reminders",
		RunID:     "run-c",
		StartedAt: clk.Now(),
		Outcome:   models.JobOutcomeRunning,
		Trigger:   models.JobTriggerCron,
	}
	require.NoError(t, s.db.Create(&other).Error)

	require.NoError(t, s.db.Model(&first).Update("outcome", models.JobOutcomeFailed).Error)
	retry := models.JobRun{
		JobID:     "sweep",
		RunID:     "run-d",
		StartedAt: clk.Now(),
		Outcome:   models.JobOutcomeRunning,
		Trigger:   models.JobTriggerManual,
	}
	require.NoError(t, s.db.Create(&retry).Error)
}

// Two triggers racing before any run exists produce exactly one execution.
func TestConcurrentTriggersRunOnce(t *testing.T) {
	s, _ := newScheduler(t)

	release := make(chan struct{})
	var invocations int32
	s.Register(Job{
		ID:       "race",
		Schedule: Schedule{Hour: 3},
		Handler: func(ctx context.Context) (string, error) {
			atomic.AddInt32(&invocations, 1)
			<-release
			return "ok", nil
		},
	})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- s.RunJob(context.Background(), "race", models.JobTriggerManual)
		}()
	}

	// The loser is rejected immediately; the winner is still blocked in the
	// handler, so the first result is always the rejection.
	rejected := <-errs
	assert.True(t, apperrors.IsCode(rejected, apperrors.CodeJobAlreadyRunning))

	close(release)
	require.NoError(t, <-errs)
	assert.Equal(t, int32(1), atomic.LoadInt32(&invocations))

	var running int64
	s.db.Model(&models.JobRun{}).Where("job_id = ? AND outcome = ?", "race", models.JobOutcomeRunning).Count(&running)
	assert.Equal(t, int64(0), running)
}

// The duration histogram measures the wall clock, not the injected clock.
func TestJobDurationUsesWallClock(t *testing.T) {
	s, _ := newScheduler(t)
	s.Register(Job{
		ID:       "timed",
		Schedule: Schedule{Hour: 3},
		Handler:  func(ctx context.Context) (string, error) { return "ok", nil },
	})

	require.NoError(t, s.RunJob(context.Background(), "timed", models.JobTriggerManual))

	obs, err := jobDuration.GetMetricWithLabelValues("timed")
	require.NoError(t, err)
	var m dto.Metric
	require.NoError(t, obs.(prometheus.Metric).Write(&m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	assert.Less(t, m.GetHistogram().GetSampleSum(), 60.0)
}

// A RUNNING row older than the max run duration belongs to a crashed worker
// and is superseded.
func TestRunJobSupersedesStaleRun(t *testing.T) {
	s, clk := newScheduler(t)
	s.Register(Job{
		ID:       "sweep",
		Schedule: Schedule{Hour: 3},
		Handler: func(ctx context.Context) (string, error) {
			return "ok", nil
		},
	})

	stale := models.JobRun{
		JobID:     "sweep",
		RunID:     "stale-run",
		StartedAt: clk.Now().Add(-2 * time.Hour),
		Outcome:   models.JobOutcomeRunning,
		Trigger:   models.JobTriggerCron,
	}
	require.NoError(t, s.db.Create(&stale).Error)

	require.NoError(t, s.RunJob(context.Background(), "sweep", models.JobTriggerManual))

	var abandoned models.JobRun
	require.NoError(t, s.db.Where("run_id = ?", "stale-run").First(&abandoned).Error)
	assert.Equal(t, models.JobOutcomeFailed, abandoned.Outcome)
	assert.Contains(t, abandoned.Detail, "abandoned")

	var runs int64
	s.db.Model(&models.JobRun{}).Where("job_id = ? AND outcome = ?", "sweep", models.JobOutcomeSuccess).Count(&runs)
	assert.Equal(t, int64(1), runs)
}

func TestStatus(t *testing.T) {
	s, clk := newScheduler(t)
	s.Register(Job{
		ID:       "first",
		Schedule: Schedule{Hour: 3},
		Handler:  func(ctx context.Context) (string, error) { return "ok", nil },
	})
	s.Register(Job{
		ID:       "second",
		Schedule: Schedule{Monthly: true, Day: 1, Hour: 2},
		Handler:  func(ctx context.Context) (string, error) { return "ok", nil },
	})

	require.NoError(t, s.RunJob(context.Background(), "first", models.JobTriggerManual))

	statuses, err := s.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.Equal(t, "first", statuses[0].ID)
	require.NotNil(t, statuses[0].LastRun)
	assert.Equal(t, models.JobOutcomeSuccess, statuses[0].LastRun.Outcome)
	assert.False(t, statuses[0].CurrentlyRunning)
	assert.True(t, statuses[0].NextRun.After(clk.Now()))

	assert.Equal(t, "second", statuses[1].ID)
	assert.Nil(t, statuses[1].LastRun)
	assert.Equal(t, "monthly day 1 at 02:00", statuses[1].Schedule)
}
