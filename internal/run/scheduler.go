package run

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Notifier delivers a run summary, e.g. to a chat channel.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

// RunAndNotify performs one pass and hands its summary to notifier (if any).
func RunAndNotify(ctx context.Context, runner *Runner, notifier Notifier) (Result, error) {
	res, err := runner.RunOnce(ctx)
	if err != nil {
		log.Printf("Status run error: %v", err)
	}
	summary := FormatRunSummary(runner.Cfg.TeamName, res)
	log.Printf("Status run complete ref=%s groups=%d jobs=%d", res.ReferenceDate, len(res.Groups), len(res.Jobs))

	if notifier != nil {
		if err != nil {
			summary += fmt.Sprintf("\nRun error: %v", err)
		}
		if postErr := notifier.Notify(ctx, summary); postErr != nil {
			log.Printf("Status run post error: %v", postErr)
		}
	}
	return res, err
}

// StartScheduler runs the status pass on cfg.StatusSchedule until ctx is
// done. Examples: "0 6 * * *" (daily 06:00), "0 6 * * 1-5" (weekdays).
func StartScheduler(ctx context.Context, runner *Runner, notifier Notifier) {
	expr := strings.TrimSpace(runner.Cfg.StatusSchedule)
	if expr == "" {
		log.Println("Status schedule disabled (status_schedule not set)")
		return
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		log.Printf("Invalid status_schedule '%s': %v, scheduled runs disabled", expr, err)
		return
	}
	log.Printf("Status run scheduled (cron: %s) for %d stats tables", expr, len(runner.Cfg.StatsTables))

	loc := runner.Cfg.Location
	if loc == nil {
		loc = time.Local
	}
	go func() {
		for {
			now := runner.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next status run at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			_, _ = RunAndNotify(ctx, runner, notifier)
		}
	}()
}
