package domain

import "time"

// StatusRun is one persisted classification pass for a device group.
type StatusRun struct {
	ID            int64
	GroupID       string
	ReferenceDate string
	Thresholds    string
	Total         int
	Green         int
	Yellow        int
	Red           int
	ReportPath    string
	CreatedAt     time.Time
}

// QueryJob records one asynchronous query submission. ExecutionID is empty
// when submission failed and Error holds the cause.
type QueryJob struct {
	ID            int64
	StatsTable    string
	GroupID       string
	ReferenceDate string
	ExecutionID   string
	Error         string
	SubmittedAt   time.Time
}

// TelemetryReport is one raw report timestamp (epoch seconds as text).
type TelemetryReport struct {
	DeviceID   string
	ReportedAt string
}

// RunFromReport flattens a StatusReport into its persisted form.
func RunFromReport(r StatusReport) StatusRun {
	return StatusRun{
		GroupID:       r.GroupID,
		ReferenceDate: r.ReferenceDate.String(),
		Thresholds:    r.Thresholds.String(),
		Total:         r.Total,
		Green:         r.Summary(StatusGreen).Count,
		Yellow:        r.Summary(StatusYellow).Count,
		Red:           r.Summary(StatusRed).Count,
	}
}
