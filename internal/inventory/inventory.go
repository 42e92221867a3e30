package inventory

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"devstatus/internal/domain"
	"devstatus/internal/storage/sqlite"
)

// Inventory is the on-disk device list. Commissioning dates and report
// timestamps are kept as text; they are parsed at classification time.
type Inventory struct {
	Devices []Entry `yaml:"devices"`
}

type Entry struct {
	ID           string   `yaml:"id"`
	Group        string   `yaml:"group"`
	Commissioned string   `yaml:"commissioned"`
	Reports      []string `yaml:"reports"`
}

type ImportResult struct {
	Devices int
	Reports int
	Skipped int
}

func Load(path string) (Inventory, error) {
	var inv Inventory
	data, err := os.ReadFile(path)
	if err != nil {
		return inv, fmt.Errorf("read inventory: %w", err)
	}
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return inv, fmt.Errorf("parse inventory yaml: %w", err)
	}
	return inv, nil
}

// Import writes inventory devices and their reports into the store. Entries
// without an id are skipped; a later entry with the same id wins.
func Import(db *sql.DB, inv Inventory) (ImportResult, error) {
	var result ImportResult
	byID := make(map[string]int)
	var devices []domain.RawDevice
	var reports [][]string

	for _, e := range inv.Devices {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			result.Skipped++
			continue
		}
		dev := domain.RawDevice{
			ID:           id,
			GroupID:      strings.TrimSpace(e.Group),
			Commissioned: strings.TrimSpace(e.Commissioned),
		}
		if idx, ok := byID[id]; ok {
			log.Printf("inventory duplicate device id=%s, keeping last entry", id)
			devices[idx] = dev
			reports[idx] = e.Reports
			continue
		}
		byID[id] = len(devices)
		devices = append(devices, dev)
		reports = append(reports, e.Reports)
	}

	stored, err := sqlite.UpsertDevices(db, devices)
	if err != nil {
		return result, fmt.Errorf("storing devices: %w", err)
	}
	result.Devices = stored

	ids := make([]string, 0, len(devices))
	var telemetry []domain.TelemetryReport
	for i, d := range devices {
		ids = append(ids, d.ID)
		for _, r := range reports[i] {
			r = strings.TrimSpace(r)
			if r == "" {
				continue
			}
			telemetry = append(telemetry, domain.TelemetryReport{DeviceID: d.ID, ReportedAt: r})
		}
	}
	inserted, err := sqlite.ReplaceTelemetry(db, ids, telemetry)
	if err != nil {
		return result, fmt.Errorf("storing telemetry: %w", err)
	}
	result.Reports = inserted
	return result, nil
}

// ImportFile loads path and imports it.
func ImportFile(db *sql.DB, path string) (ImportResult, error) {
	inv, err := Load(path)
	if err != nil {
		return ImportResult{}, err
	}
	return Import(db, inv)
}
