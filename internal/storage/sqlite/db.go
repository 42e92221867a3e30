package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"devstatus/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// Group runs write concurrently; a single connection serializes them.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id           TEXT PRIMARY KEY,
		group_id     TEXT NOT NULL DEFAULT '',
		commissioned TEXT NOT NULL DEFAULT '',
		updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_devices_group ON devices(group_id);

	CREATE TABLE IF NOT EXISTS telemetry (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id   TEXT NOT NULL,
		reported_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_telemetry_device ON telemetry(device_id);

	CREATE TABLE IF NOT EXISTS status_runs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id       TEXT NOT NULL,
		reference_date TEXT NOT NULL,
		thresholds     TEXT NOT NULL,
		total          INTEGER NOT NULL,
		green          INTEGER NOT NULL,
		yellow         INTEGER NOT NULL,
		red            INTEGER NOT NULL,
		report_path    TEXT DEFAULT '',
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_status_runs_group ON status_runs(group_id, reference_date);

	CREATE TABLE IF NOT EXISTS status_run_devices (
		run_id    INTEGER NOT NULL,
		device_id TEXT NOT NULL,
		label     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_srd_run ON status_run_devices(run_id);

	CREATE TABLE IF NOT EXISTS query_jobs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		stats_table    TEXT NOT NULL,
		group_id       TEXT DEFAULT '',
		reference_date TEXT NOT NULL,
		execution_id   TEXT DEFAULT '',
		error          TEXT DEFAULT '',
		submitted_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_jobs_date ON query_jobs(submitted_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return db, nil
}

// UpsertDevices stores device identity and commissioning dates. Raw dates are
// kept verbatim so malformed values surface at classification time.
func UpsertDevices(db *sql.DB, devices []domain.RawDevice) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO devices (id, group_id, commissioned, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET group_id = excluded.group_id, commissioned = excluded.commissioned, updated_at = CURRENT_TIMESTAMP`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	stored := 0
	for _, d := range devices {
		if _, err := stmt.Exec(d.ID, d.GroupID, d.Commissioned); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, tx.Commit()
}

func ListGroups(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT group_id FROM devices ORDER BY group_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// LoadRawDevices returns every device in groupID with its raw telemetry
// timestamps, ordered by device id.
func LoadRawDevices(db *sql.DB, groupID string) ([]domain.RawDevice, error) {
	rows, err := db.Query(
		`SELECT d.id, d.group_id, d.commissioned, COALESCE(t.reported_at, '')
		 FROM devices d
		 LEFT JOIN telemetry t ON t.device_id = d.id
		 WHERE d.group_id = ?
		 ORDER BY d.id, t.id`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []domain.RawDevice
	for rows.Next() {
		var id, group, commissioned, reportedAt string
		if err := rows.Scan(&id, &group, &commissioned, &reportedAt); err != nil {
			return nil, err
		}
		if n := len(devices); n == 0 || devices[n-1].ID != id {
			devices = append(devices, domain.RawDevice{ID: id, GroupID: group, Commissioned: commissioned})
		}
		if reportedAt != "" {
			last := &devices[len(devices)-1]
			last.Reports = append(last.Reports, reportedAt)
		}
	}
	return devices, rows.Err()
}

func InsertStatusRun(db *sql.DB, run domain.StatusRun, labeled []domain.LabeledDevice) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO status_runs (group_id, reference_date, thresholds, total, green, yellow, red, report_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.GroupID, run.ReferenceDate, run.Thresholds, run.Total, run.Green, run.Yellow, run.Red, run.ReportPath,
	)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`INSERT INTO status_run_devices (run_id, device_id, label) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, ld := range labeled {
		if _, err := stmt.Exec(runID, ld.DeviceID, string(ld.Label)); err != nil {
			return 0, err
		}
	}
	return runID, tx.Commit()
}

// LatestStatusRun returns the newest run for groupID, or sql.ErrNoRows.
func LatestStatusRun(db *sql.DB, groupID string) (domain.StatusRun, error) {
	var run domain.StatusRun
	err := db.QueryRow(
		`SELECT id, group_id, reference_date, thresholds, total, green, yellow, red, report_path, created_at
		 FROM status_runs WHERE group_id = ? ORDER BY reference_date DESC, id DESC LIMIT 1`,
		groupID,
	).Scan(
		&run.ID, &run.GroupID, &run.ReferenceDate, &run.Thresholds, &run.Total,
		&run.Green, &run.Yellow, &run.Red, &run.ReportPath, &run.CreatedAt,
	)
	return run, err
}

// GetRunLabels returns the stored per-device labels of a run ordered by
// device id. An unknown stored label fails with domain.ErrInvalidInput.
func GetRunLabels(db *sql.DB, runID int64) ([]domain.LabeledDevice, error) {
	rows, err := db.Query(
		`SELECT device_id, label FROM status_run_devices WHERE run_id = ? ORDER BY device_id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LabeledDevice
	for rows.Next() {
		var ld domain.LabeledDevice
		var label string
		if err := rows.Scan(&ld.DeviceID, &label); err != nil {
			return nil, err
		}
		parsed, err := domain.ParseStatusLabel(label)
		if err != nil {
			return nil, fmt.Errorf("run %d device %s: %w", runID, ld.DeviceID, err)
		}
		ld.Label = parsed
		out = append(out, ld)
	}
	return out, rows.Err()
}

func InsertQueryJob(db *sql.DB, job domain.QueryJob) error {
	submittedAt := job.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}
	_, err := db.Exec(
		`INSERT INTO query_jobs (stats_table, group_id, reference_date, execution_id, error, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.StatsTable, job.GroupID, job.ReferenceDate, job.ExecutionID, job.Error, submittedAt,
	)
	return err
}

func GetQueryJobsByDateRange(db *sql.DB, from, to time.Time) ([]domain.QueryJob, error) {
	rows, err := db.Query(
		`SELECT id, stats_table, group_id, reference_date, execution_id, error, submitted_at
		 FROM query_jobs WHERE submitted_at >= ? AND submitted_at < ? ORDER BY submitted_at, id`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.QueryJob
	for rows.Next() {
		var j domain.QueryJob
		if err := rows.Scan(&j.ID, &j.StatsTable, &j.GroupID, &j.ReferenceDate, &j.ExecutionID, &j.Error, &j.SubmittedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ReplaceTelemetry drops stored reports for deviceIDs and inserts reports in
// one transaction, so re-importing an inventory does not duplicate rows.
func ReplaceTelemetry(db *sql.DB, deviceIDs []string, reports []domain.TelemetryReport) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	del, err := tx.Prepare(`DELETE FROM telemetry WHERE device_id = ?`)
	if err != nil {
		return 0, err
	}
	defer del.Close()
	for _, id := range deviceIDs {
		if _, err := del.Exec(id); err != nil {
			return 0, err
		}
	}

	ins, err := tx.Prepare(`INSERT INTO telemetry (device_id, reported_at) VALUES (?, ?)`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()
	inserted := 0
	for _, r := range reports {
		if _, err := ins.Exec(r.DeviceID, r.ReportedAt); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, tx.Commit()
}
