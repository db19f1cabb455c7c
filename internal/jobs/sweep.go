package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// SweepTask is one cleanup step run on every sweep.
type SweepTask struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// SweepJob runs its tasks once at start and then on a fixed interval.
// A sweep that overruns the interval causes the next tick to be skipped.
type SweepJob struct {
	interval time.Duration
	tasks    []SweepTask
	cron     *cron.Cron
}

func NewSweepJob(interval time.Duration, tasks ...SweepTask) *SweepJob {
	return &SweepJob{
		interval: interval,
		tasks:    tasks,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{}))),
	}
}

func (j *SweepJob) Start() error {
	if _, err := j.cron.AddFunc(fmt.Sprintf("@every %s", j.interval), j.sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	go j.sweep()
	j.cron.Start()
	log.Info().Dur("interval", j.interval).Msg("sweep job started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *SweepJob) Stop() {
	<-j.cron.Stop().Done()
	log.Info().Msg("sweep job stopped")
}

func (j *SweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, task := range j.tasks {
		j.runTask(ctx, task)
	}
}

func (j *SweepJob) runTask(ctx context.Context, task SweepTask) {
	count, err := task.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to sweep %s", task.Name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("swept %s", task.Name)
	}
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
