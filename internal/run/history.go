package run

import (
	"fmt"
	"strings"
	"time"

	"devstatus/internal/domain"
	"devstatus/internal/storage/sqlite"
)

// History is the latest stored run of a group plus the Athena jobs submitted
// for it in the lookback window.
type History struct {
	Run    domain.StatusRun
	Labels []domain.LabeledDevice
	Jobs   []domain.QueryJob
}

// History loads the newest stored run for groupID and the query jobs
// submitted for that group during the last days days. It returns
// sql.ErrNoRows when the group has never been run.
func (r *Runner) History(groupID string, days int) (History, error) {
	var h History
	latest, err := sqlite.LatestStatusRun(r.DB, groupID)
	if err != nil {
		return h, err
	}
	h.Run = latest

	labels, err := sqlite.GetRunLabels(r.DB, latest.ID)
	if err != nil {
		return h, fmt.Errorf("loading labels for run %d: %w", latest.ID, err)
	}
	h.Labels = labels

	now := r.Now().UTC()
	jobs, err := sqlite.GetQueryJobsByDateRange(r.DB, now.AddDate(0, 0, -days), now.Add(time.Second))
	if err != nil {
		return h, fmt.Errorf("loading query jobs: %w", err)
	}
	for _, j := range jobs {
		if j.GroupID == groupID {
			h.Jobs = append(h.Jobs, j)
		}
	}
	return h, nil
}

// FormatHistory renders a stored run for chat: counts, the non-Green devices
// and recent query executions.
func FormatHistory(h History) string {
	var b strings.Builder
	run := h.Run
	fmt.Fprintf(&b, "*Last run for `%s`* as of %s (thresholds %s)\n", run.GroupID, run.ReferenceDate, run.Thresholds)
	fmt.Fprintf(&b, "%d devices: %d Green, %d Yellow, %d Red", run.Total, run.Green, run.Yellow, run.Red)

	for _, label := range []domain.StatusLabel{domain.StatusYellow, domain.StatusRed} {
		var ids []string
		for _, ld := range h.Labels {
			if ld.Label == label {
				ids = append(ids, ld.DeviceID)
			}
		}
		if len(ids) > 0 {
			fmt.Fprintf(&b, "\n%s: %s", label, strings.Join(ids, ", "))
		}
	}
	if run.ReportPath != "" {
		fmt.Fprintf(&b, "\nReport: `%s`", run.ReportPath)
	}

	if len(h.Jobs) > 0 {
		b.WriteString("\nRecent Athena queries:")
		for _, j := range h.Jobs {
			if j.Error != "" {
				fmt.Fprintf(&b, "\n• %s `%s`: failed: %s", j.ReferenceDate, j.StatsTable, j.Error)
				continue
			}
			fmt.Fprintf(&b, "\n• %s `%s`: `%s`", j.ReferenceDate, j.StatsTable, j.ExecutionID)
		}
	}
	return b.String()
}
