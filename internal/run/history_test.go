package run

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
)

func TestHistoryReadsLatestRunAndGroupJobs(t *testing.T) {
	r, db := newTestRunner(t)
	seed(t, db)
	r.Submitter = &fakeSubmitter{fail: map[string]bool{"grp_b_stats_daily": true}}

	if _, err := r.History("grp_a", 7); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows before any run, got %v", err)
	}

	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	h, err := r.History("grp_a", 7)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if h.Run.Total != 3 || h.Run.Green != 1 || h.Run.Yellow != 1 || h.Run.Red != 1 {
		t.Fatalf("unexpected run: %+v", h.Run)
	}
	if len(h.Labels) != 3 || h.Labels[0].DeviceID != "a-green" {
		t.Fatalf("unexpected labels: %+v", h.Labels)
	}
	if len(h.Jobs) != 1 || h.Jobs[0].StatsTable != "grp_a_stats_daily" || h.Jobs[0].ExecutionID == "" {
		t.Fatalf("expected only the grp_a job, got %+v", h.Jobs)
	}

	text := FormatHistory(h)
	for _, want := range []string{
		"*Last run for `grp_a`* as of 2024-03-15 (thresholds 7/8/37)",
		"3 devices: 1 Green, 1 Yellow, 1 Red",
		"Yellow: a-yellow",
		"Red: a-red",
		"2024-03-15 `grp_a_stats_daily`: `exec-",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("history missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "a-green") {
		t.Fatalf("green devices should not be listed:\n%s", text)
	}
}

func TestHistoryShowsFailedJob(t *testing.T) {
	r, db := newTestRunner(t)
	seed(t, db)
	r.Submitter = &fakeSubmitter{fail: map[string]bool{"grp_b_stats_daily": true}}
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	h, err := r.History("grp_b", 7)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if text := FormatHistory(h); !strings.Contains(text, "`grp_b_stats_daily`: failed: ") {
		t.Fatalf("expected failed job in history:\n%s", text)
	}
}
