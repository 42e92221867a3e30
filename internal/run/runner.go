package run

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"devstatus/internal/config"
	"devstatus/internal/domain"
	"devstatus/internal/integrations/athena"
	"devstatus/internal/integrations/llm"
	"devstatus/internal/query"
	"devstatus/internal/report"
	"devstatus/internal/storage/sqlite"
)

// QuerySubmitter starts an asynchronous query and returns its execution id.
type QuerySubmitter interface {
	Submit(ctx context.Context, job athena.Job) (string, error)
}

// Narrator turns group reports into a short prose summary.
type Narrator interface {
	Summarize(ctx context.Context, teamName string, reports []domain.StatusReport) (string, llm.LLMUsage, error)
}

type Runner struct {
	Cfg        config.Config
	DB         *sql.DB
	Classifier domain.Classifier
	Submitter  QuerySubmitter // nil disables query submission
	Narrator   Narrator       // nil disables the narrative
	Now        func() time.Time
}

type GroupResult struct {
	GroupID    string
	Report     domain.StatusReport
	Invalid    []string
	ReportPath string
	RunID      int64
	Err        error
}

type Result struct {
	ReferenceDate civil.Date
	Groups        []GroupResult
	Jobs          []domain.QueryJob
	Narrative     string
}

func NewRunner(cfg config.Config, db *sql.DB) *Runner {
	return &Runner{
		Cfg: cfg,
		DB:  db,
		Classifier: domain.Classifier{
			Thresholds:                   cfg.Thresholds,
			IgnorePreCommissionTelemetry: cfg.IgnorePreCommissionTelemetry,
		},
		Now: time.Now,
	}
}

func (r *Runner) ReferenceDate() civil.Date {
	return r.Cfg.Today(r.Now())
}

// ClassifyGroup labels every stored device of groupID. Devices whose dates
// are both malformed are left out of the report and returned as invalid.
func (r *Runner) ClassifyGroup(groupID string, ref civil.Date) (domain.StatusReport, []domain.LabeledDevice, []string, error) {
	raws, err := sqlite.LoadRawDevices(r.DB, groupID)
	if err != nil {
		return domain.StatusReport{}, nil, nil, fmt.Errorf("loading devices for group %s: %w", groupID, err)
	}

	var labeled []domain.LabeledDevice
	var invalid []string
	for _, raw := range raws {
		label, err := r.Classifier.ClassifyRaw(raw, ref)
		if err != nil {
			log.Printf("classify skipped device=%s group=%s: %v", raw.ID, groupID, err)
			invalid = append(invalid, raw.ID)
			continue
		}
		labeled = append(labeled, domain.LabeledDevice{DeviceID: raw.ID, Label: label})
	}

	rep, err := domain.Aggregate(labeled)
	if err != nil {
		return domain.StatusReport{}, nil, invalid, fmt.Errorf("group %s: %w", groupID, err)
	}
	rep.GroupID = groupID
	rep.ReferenceDate = ref
	rep.Thresholds = r.Classifier.Thresholds
	return rep, labeled, invalid, nil
}

// RunGroup classifies one group, writes its report file and records the run.
func (r *Runner) RunGroup(groupID string, ref civil.Date) GroupResult {
	res := GroupResult{GroupID: groupID}
	rep, labeled, invalid, err := r.ClassifyGroup(groupID, ref)
	res.Invalid = invalid
	if err != nil {
		res.Err = err
		return res
	}
	res.Report = rep

	path, err := report.WriteReportFile(report.RenderMarkdown(r.Cfg.TeamName, rep), r.Cfg.ReportOutputDir, rep)
	if err != nil {
		res.Err = fmt.Errorf("writing report for group %s: %w", groupID, err)
		return res
	}
	res.ReportPath = path

	rec := domain.RunFromReport(rep)
	rec.ReportPath = path
	runID, err := sqlite.InsertStatusRun(r.DB, rec, labeled)
	if err != nil {
		res.Err = fmt.Errorf("recording run for group %s: %w", groupID, err)
		return res
	}
	res.RunID = runID
	log.Printf("status run group=%s ref=%s total=%d green=%d yellow=%d red=%d invalid=%d",
		groupID, ref, rec.Total, rec.Green, rec.Yellow, rec.Red, len(invalid))
	return res
}

// RunGroups runs each group independently, at most MaxParallelGroups at a
// time. Results keep the order of groups.
func (r *Runner) RunGroups(ctx context.Context, groups []string, ref civil.Date) ([]GroupResult, error) {
	results := make([]GroupResult, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	limit := r.Cfg.MaxParallelGroups
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, group := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = GroupResult{GroupID: group, Err: err}
				return err
			}
			results[i] = r.RunGroup(group, ref)
			return nil
		})
	}
	return results, g.Wait()
}

// SubmitQueries renders and submits one status query per stats table. A
// failed submission is recorded and the loop moves on.
func (r *Runner) SubmitQueries(ctx context.Context, ref civil.Date) ([]domain.QueryJob, error) {
	if r.Submitter == nil {
		return nil, errors.New("query submission is not configured")
	}
	queries, err := query.Plan(query.Params{
		Catalog:                      r.Cfg.AthenaCatalog,
		Database:                     r.Cfg.AthenaDatabase,
		DevicesTable:                 r.Cfg.DevicesTable,
		CommissionDatesTable:         r.Cfg.CommissionDatesTable,
		ReferenceDate:                ref,
		Thresholds:                   r.Classifier.Thresholds,
		IgnorePreCommissionTelemetry: r.Classifier.IgnorePreCommissionTelemetry,
		PerDevice:                    r.Cfg.PerDeviceQueries,
	}, r.Cfg.StatsTables)
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.QueryJob, 0, len(queries))
	for _, q := range queries {
		job := domain.QueryJob{
			StatsTable:    q.Table,
			GroupID:       q.GroupID,
			ReferenceDate: ref.String(),
			SubmittedAt:   r.Now().UTC(),
		}
		id, err := r.Submitter.Submit(ctx, athena.Job{
			Query:          q.SQL,
			Catalog:        r.Cfg.AthenaCatalog,
			Database:       r.Cfg.AthenaDatabase,
			OutputLocation: r.Cfg.AthenaOutputLocation,
			WorkGroup:      r.Cfg.AthenaWorkGroup,
		})
		if err != nil {
			job.Error = err.Error()
			log.Printf("query submit failed table=%s: %v", q.Table, err)
		} else {
			job.ExecutionID = id
			log.Printf("query started table=%s execution_id=%s", q.Table, id)
		}
		if err := sqlite.InsertQueryJob(r.DB, job); err != nil {
			log.Printf("recording query job table=%s: %v", q.Table, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RunOnce classifies every stored group, optionally submits the engine
// queries and writes the narrative.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	ref := r.ReferenceDate()
	res := Result{ReferenceDate: ref}

	groups, err := sqlite.ListGroups(r.DB)
	if err != nil {
		return res, fmt.Errorf("listing groups: %w", err)
	}
	res.Groups, err = r.RunGroups(ctx, groups, ref)
	if err != nil {
		return res, err
	}

	if r.Submitter != nil {
		jobs, err := r.SubmitQueries(ctx, ref)
		if err != nil {
			log.Printf("query submission skipped: %v", err)
		}
		res.Jobs = jobs
	}

	if r.Narrator != nil {
		if reports := res.Reports(); len(reports) > 0 {
			text, _, err := r.Narrator.Summarize(ctx, r.Cfg.TeamName, reports)
			if err != nil {
				log.Printf("narrative skipped: %v", err)
			} else {
				res.Narrative = text
			}
		}
	}
	return res, nil
}

// Reports returns the successful group reports.
func (res Result) Reports() []domain.StatusReport {
	var out []domain.StatusReport
	for _, g := range res.Groups {
		if g.Err == nil {
			out = append(out, g.Report)
		}
	}
	return out
}

// FormatRunSummary renders a Result for chat.
func FormatRunSummary(teamName string, res Result) string {
	var b strings.Builder
	b.WriteString(report.FormatSlackSummary(teamName, res.Reports()))

	for _, g := range res.Groups {
		switch {
		case errors.Is(g.Err, domain.ErrEmptyPopulation):
			fmt.Fprintf(&b, "\n• `%s`: no classifiable devices", g.GroupID)
		case g.Err != nil:
			fmt.Fprintf(&b, "\n• `%s`: error: %v", g.GroupID, g.Err)
		}
		if len(g.Invalid) > 0 {
			fmt.Fprintf(&b, "\n• `%s`: %d device(s) with malformed dates skipped", g.GroupID, len(g.Invalid))
		}
	}

	if len(res.Jobs) > 0 {
		started := 0
		var failed []string
		for _, j := range res.Jobs {
			if j.Error == "" {
				started++
			} else {
				failed = append(failed, j.StatsTable)
			}
		}
		fmt.Fprintf(&b, "\nAthena queries started: %d/%d", started, len(res.Jobs))
		if len(failed) > 0 {
			fmt.Fprintf(&b, " (failed: %s)", strings.Join(failed, ", "))
		}
	}

	if res.Narrative != "" {
		b.WriteString("\n\n")
		b.WriteString(res.Narrative)
	}
	return b.String()
}
