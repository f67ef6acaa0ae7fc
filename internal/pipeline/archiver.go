// Package pipeline runs the scheduled price history archive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

const (
	archiveLockKey = "archive:price_history"
	archiveLockTTL = 30 * time.Minute
)

// Archiver moves price history older than the retention window to cold
// storage. When a Locker is set only one sandbox instance archives per run.
type Archiver struct {
	archiver      domain.Archiver
	locker        domain.Locker
	retentionDays int
	trigger       <-chan struct{}
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. locker may be nil.
func NewArchiver(archiver domain.Archiver, locker domain.Locker, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		archiver:      archiver,
		locker:        locker,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// WithTrigger makes RunCron also run whenever a value arrives on ch.
func (a *Archiver) WithTrigger(ch <-chan struct{}) *Archiver {
	a.trigger = ch
	return a
}

// Run performs one archive pass and returns the number of archived points.
// A run skipped because another instance holds the lock returns 0 and nil.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	if a.locker != nil {
		release, err := a.locker.Acquire(ctx, archiveLockKey, archiveLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive run skipped, another instance holds the lock")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("pipeline: archive lock: %w", err)
		}
		defer release()
	}

	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.archiver.ArchivePriceHistory(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive price history before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("archived", n))
	return n, nil
}

// RunCron runs the archiver on a 5-field cron schedule until ctx is done.
// Triggered runs do not move the schedule. A failed run is logged and the
// schedule continues.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
		}
		wait := time.Until(next)
		a.logger.Debug("archiver waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		if err := a.waitAndRun(ctx, wait); err != nil {
			a.logger.Info("archiver cron stopped")
			return err
		}
	}
}

// waitAndRun sleeps until the next scheduled run, serving triggers on the
// way, then runs once. It only returns an error when ctx is done.
func (a *Archiver) waitAndRun(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.trigger:
			a.logger.Info("archive run triggered")
			a.runLogged(ctx)
		case <-timer.C:
			a.runLogged(ctx)
			return nil
		}
	}
}

func (a *Archiver) runLogged(ctx context.Context) {
	if _, err := a.Run(ctx); err != nil {
		a.logger.Error("archive run failed", slog.String("error", err.Error()))
	}
}

// ValidateCron reports whether expr is a schedule RunCron accepts.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

// cronField matches one field of a cron expression.
type cronField struct {
	any    bool
	values map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.any || f.values[v]
}

// parseCronField accepts "*", "*/n", single values, "a-b" ranges with an
// optional "/n" step, and comma separated lists of those.
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{any: true}, nil
	}

	f := cronField{values: make(map[int]bool)}
	for _, part := range strings.Split(field, ",") {
		rangePart, stepPart, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepPart)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", part)
			}
			step = n
		}

		from, to := lo, hi
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err1, err2 error
			from, err1 = strconv.Atoi(a)
			to, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", part)
			}
			from = v
			if !hasStep {
				to = v
			}
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("%q out of range %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			f.values[v] = true
		}
	}
	return f, nil
}

type schedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCron(expr string) (schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return schedule{}, fmt.Errorf("%s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return schedule{parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]}, nil
}

func (s schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dom.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dow.matches(int(t.Weekday()))
}

// next returns the first minute strictly after the given time that matches,
// searching at most a year ahead.
func (s schedule) next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for t.Before(limit) {
		if s.matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, errors.New("no matching time within one year")
}
