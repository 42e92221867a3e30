package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"cloud.google.com/go/civil"

	"devstatus/internal/domain"
)

var ErrInvalidIdentifier = errors.New("invalid SQL identifier")

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

const statsTableSuffix = "_stats_daily"

// Params describes one device-status query against a single telemetry
// stats table.
type Params struct {
	Catalog              string
	Database             string
	DevicesTable         string
	CommissionDatesTable string
	StatsTable           string
	// GroupID restricts the commissioned device list. Empty means every group.
	GroupID       string
	ReferenceDate civil.Date
	Thresholds    domain.Thresholds

	IgnorePreCommissionTelemetry bool
	// PerDevice returns one status row per device instead of per-label counts.
	PerDevice bool
}

// Query is a rendered statement for one stats table.
type Query struct {
	Table   string
	GroupID string
	SQL     string
}

// GroupForTable derives the device group id from a stats table name,
// e.g. "mi_dev_spi_moe_mo1_stats_daily" -> "mi_dev_spi_moe_mo1".
func GroupForTable(table string) string {
	return strings.TrimSuffix(table, statsTableSuffix)
}

func validIdent(kind, v string) error {
	if !identRe.MatchString(v) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, v)
	}
	return nil
}

func (p Params) validate() error {
	checks := []struct{ kind, v string }{
		{"catalog", p.Catalog},
		{"database", p.Database},
		{"devices table", p.DevicesTable},
		{"commission dates table", p.CommissionDatesTable},
		{"stats table", p.StatsTable},
	}
	for _, c := range checks {
		if err := validIdent(c.kind, c.v); err != nil {
			return err
		}
	}
	if p.GroupID != "" {
		if err := validIdent("group id", p.GroupID); err != nil {
			return err
		}
	}
	if !p.ReferenceDate.IsValid() {
		return fmt.Errorf("invalid reference date %v", p.ReferenceDate)
	}
	return p.Thresholds.Validate()
}

type templateData struct {
	Params
	Ref       string
	GreenMax  int
	YellowMin int
	YellowMax int
}

// Build renders the status query for p. The CASE boundaries come from the
// same Thresholds the Go classifier uses.
func Build(p Params) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	data := templateData{
		Params:    p,
		Ref:       fmt.Sprintf("DATE '%s'", p.ReferenceDate.String()),
		GreenMax:  p.Thresholds.GreenMaxDays,
		YellowMin: p.Thresholds.YellowMinDays(),
		YellowMax: p.Thresholds.YellowMaxDays,
	}
	var b strings.Builder
	if err := statusTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering status query for %s: %w", p.StatsTable, err)
	}
	return b.String(), nil
}

// Plan renders one query per stats table. Group ids are derived from the
// table names unless base.GroupID is set.
func Plan(base Params, tables []string) ([]Query, error) {
	if len(tables) == 0 {
		return nil, errors.New("no stats tables configured")
	}
	queries := make([]Query, 0, len(tables))
	for _, table := range tables {
		p := base
		p.StatsTable = strings.TrimSpace(table)
		if p.GroupID == "" {
			p.GroupID = GroupForTable(p.StatsTable)
		}
		sql, err := Build(p)
		if err != nil {
			return nil, err
		}
		queries = append(queries, Query{Table: p.StatsTable, GroupID: p.GroupID, SQL: sql})
	}
	return queries, nil
}

var statusTemplate = template.Must(template.New("status").Parse(`WITH CommissionedDevicesList AS (
    SELECT id, device_group_id
    FROM {{.Catalog}}.{{.Database}}.{{.DevicesTable}}
{{- if .GroupID}}
    WHERE device_group_id = '{{.GroupID}}'
{{- end}}
),
CommissioningDates AS (
    SELECT id,
           CAST("timestamp" AS date) AS commissioning_date
    FROM {{.Catalog}}.{{.Database}}.{{.CommissionDatesTable}}
),
CommissionedDevices AS (
    SELECT cdl.id, cdl.device_group_id, cd.commissioning_date
    FROM CommissionedDevicesList cdl
    LEFT JOIN CommissioningDates cd ON cdl.id = cd.id
),
DeviceTimes AS (
    SELECT t.dId,
           date(from_unixtime(CAST(t.dTm AS BIGINT))) AS readable_dTm,
           c.commissioning_date
    FROM {{.Catalog}}.{{.Database}}.{{.StatsTable}} t
    LEFT JOIN CommissionedDevices c ON t.dId = c.id
),
AggregatedTimes AS (
    SELECT dId,
{{- if .IgnorePreCommissionTelemetry}}
           MAX(CASE
               WHEN readable_dTm IS NOT NULL AND commissioning_date IS NOT NULL AND readable_dTm >= commissioning_date THEN readable_dTm
               WHEN readable_dTm IS NOT NULL AND commissioning_date IS NULL THEN readable_dTm
               ELSE NULL
           END) AS latest_dTm,
{{- else}}
           MAX(readable_dTm) AS latest_dTm,
{{- end}}
           commissioning_date
    FROM DeviceTimes
    WHERE (readable_dTm <= {{.Ref}} OR readable_dTm IS NULL)
    GROUP BY dId, commissioning_date
),
DeviceStatuses AS (
    SELECT cd.id AS dId,
           COALESCE(agg.latest_dTm, cd.commissioning_date) AS reference_date,
           CASE
               WHEN agg.latest_dTm IS NOT NULL THEN
                   CASE
                       WHEN agg.latest_dTm >= {{.Ref}} - INTERVAL '{{.GreenMax}}' DAY THEN 'Green'
                       WHEN agg.latest_dTm BETWEEN {{.Ref}} - INTERVAL '{{.YellowMax}}' DAY AND {{.Ref}} - INTERVAL '{{.YellowMin}}' DAY THEN 'Yellow'
                       ELSE 'Red'
                   END
               WHEN cd.commissioning_date IS NOT NULL THEN
                   CASE
                       WHEN cd.commissioning_date >= {{.Ref}} - INTERVAL '{{.GreenMax}}' DAY THEN 'Green'
                       WHEN cd.commissioning_date BETWEEN {{.Ref}} - INTERVAL '{{.YellowMax}}' DAY AND {{.Ref}} - INTERVAL '{{.YellowMin}}' DAY THEN 'Yellow'
                       ELSE 'Red'
                   END
               ELSE 'Red'
           END AS device_status
    FROM CommissionedDevices cd
    LEFT JOIN AggregatedTimes agg ON cd.id = agg.dId
)
{{- if .PerDevice}}
SELECT dId,
       reference_date,
       device_status
FROM DeviceStatuses
ORDER BY device_status, dId
{{- else}},
StatusCounts AS (
    SELECT device_status,
           COUNT(*) AS count,
           ARRAY_AGG(dId) AS device_ids
    FROM DeviceStatuses
    GROUP BY device_status
),
TotalDevices AS (
    SELECT COUNT(*) AS total_count
    FROM DeviceStatuses
)
SELECT sc.device_status,
       ROUND((sc.count * 100.0 / td.total_count), 2) AS percentage,
       sc.count,
       sc.device_ids,
       td.total_count
FROM StatusCounts sc
CROSS JOIN TotalDevices td
ORDER BY sc.device_status
{{- end}}
`))
