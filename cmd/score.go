package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/db"
	"github.com/sells-group/permit-leads/internal/lock"
	"github.com/sells-group/permit-leads/internal/scorer"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute lead quality scores from recent feedback events",
	Long: `Decays feedback events older than scorer.decay_after_days, recomputes the
score of every lead with events in the last scorer.window_days, clamps it to
[scorer.min_score, scorer.max_score] and logs jurisdiction/trade cohorts whose
average falls below scorer.review_threshold. The run is one transaction.

Exits 1 when the run fails or any lead could not be scored.

Examples:
  # Run once (cron, CI, manual re-run)
  score

  # Stay resident and run nightly at 03:15
  score --schedule "15 3 * * *"

  # Use scorer.schedule from config
  score --daemon`,
	Args: cobra.NoArgs,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("schedule", "", "cron expression; keeps the process running and scores on schedule")
	f.Bool("daemon", false, "run on scorer.schedule from config")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("scorer"); err != nil {
		return err
	}

	schedule, _ := cmd.Flags().GetString("schedule")
	daemon, _ := cmd.Flags().GetBool("daemon")
	if schedule == "" && daemon {
		schedule = cfg.Scorer.Schedule
		if schedule == "" {
			return eris.New("score: --daemon needs scorer.schedule (PERMITS_SCORER_SCHEDULE)")
		}
	}

	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	locker, closeLocker, err := newLocker(ctx)
	if err != nil {
		return err
	}
	defer closeLocker()

	job := &scoreJob{
		scorer:  scorer.New(pool, scorer.ConfigFrom(cfg.Scorer)),
		locker:  locker,
		lockKey: cfg.Lock.Key,
		lockTTL: time.Duration(cfg.Lock.TTLSecs) * time.Second,
	}

	if schedule == "" {
		_, err := job.run(ctx)
		return err
	}
	return job.schedule(ctx, schedule)
}

// runner is the part of the scorer the job drives.
type runner interface {
	Run(ctx context.Context) (scorer.Report, error)
}

type scoreJob struct {
	scorer  runner
	locker  lock.Locker
	lockKey string
	lockTTL time.Duration
}

// run takes the lease, scores once and fails when any lead errored.
func (j *scoreJob) run(ctx context.Context) (scorer.Report, error) {
	log := zap.L().With(zap.String("command", "score"))

	release, err := j.locker.Acquire(ctx, j.lockKey, j.lockTTL)
	if err != nil {
		return scorer.Report{}, eris.Wrap(err, "score: acquire lease")
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.Warn("score: release lease", zap.Error(err))
		}
	}()

	rep, err := j.scorer.Run(ctx)
	if err != nil {
		return rep, eris.Wrap(err, "score: run")
	}

	log.Info("score: run complete",
		zap.String("run_id", rep.RunID),
		zap.Int64("events_decayed", rep.EventsDecayed),
		zap.Int("events_read", rep.EventsRead),
		zap.Int("leads_updated", rep.LeadsUpdated),
		zap.Int("lead_errors", rep.LeadErrors),
		zap.Int("cohorts", len(rep.Cohorts)),
		zap.Int("cohorts_flagged", rep.Flagged),
	)
	if rep.LeadErrors > 0 {
		return rep, eris.Errorf("score: %d leads could not be scored", rep.LeadErrors)
	}
	return rep, nil
}

// schedule runs the job on spec until ctx is cancelled. Overlapping ticks are
// skipped, and a run that loses the lock race to another host is not an error.
func (j *scoreJob) schedule(ctx context.Context, spec string) error {
	log := zap.L().With(zap.String("command", "score"), zap.String("schedule", spec))
	cl := cronLogger{log: log}

	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, func() {
		_, err := j.run(ctx)
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			log.Info("score: another run holds the lock, skipping")
		case err != nil:
			log.Error("score: scheduled run failed", zap.Error(err))
		}
		pushMetrics("score")
	}); err != nil {
		return eris.Wrapf(err, "score: invalid schedule %q", spec)
	}

	log.Info("cron started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("cron stopped")
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
