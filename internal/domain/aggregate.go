package domain

import (
	"fmt"
	"math"
	"sort"

	"cloud.google.com/go/civil"
)

type LabeledDevice struct {
	DeviceID string
	Label    StatusLabel
}

type LabelSummary struct {
	Label      StatusLabel
	Count      int
	Percentage float64
	DeviceIDs  []string
}

// StatusReport is the per-label breakdown of one classification pass.
// Labels are always listed Green, Red, Yellow.
type StatusReport struct {
	GroupID       string
	ReferenceDate civil.Date
	Thresholds    Thresholds
	Total         int
	Labels        []LabelSummary
}

// Aggregate groups labeled devices and computes per-label percentages
// rounded to two decimals.
func Aggregate(labeled []LabeledDevice) (StatusReport, error) {
	if len(labeled) == 0 {
		return StatusReport{}, ErrEmptyPopulation
	}

	byLabel := make(map[StatusLabel][]string, 3)
	for _, ld := range labeled {
		if !ld.Label.Valid() {
			return StatusReport{}, fmt.Errorf("%w: device %s has label %q", ErrInvalidInput, ld.DeviceID, ld.Label)
		}
		byLabel[ld.Label] = append(byLabel[ld.Label], ld.DeviceID)
	}

	total := len(labeled)
	report := StatusReport{Total: total}
	for _, label := range Labels() {
		ids := byLabel[label]
		sort.Strings(ids)
		report.Labels = append(report.Labels, LabelSummary{
			Label:      label,
			Count:      len(ids),
			Percentage: roundPercent(len(ids), total),
			DeviceIDs:  ids,
		})
	}
	return report, nil
}

func roundPercent(count, total int) float64 {
	return math.Round(float64(count)*100.0/float64(total)*100) / 100
}

// Summary returns the entry for label, or a zero entry if absent.
func (r StatusReport) Summary(label StatusLabel) LabelSummary {
	for _, s := range r.Labels {
		if s.Label == label {
			return s
		}
	}
	return LabelSummary{Label: label}
}

// Healthy reports the share of Green devices.
func (r StatusReport) Healthy() float64 {
	return r.Summary(StatusGreen).Percentage
}
