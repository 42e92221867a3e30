package domain

import (
	"errors"
	"fmt"
	"strings"
)

// StatusLabel is the health bucket a device falls into for one reference date.
type StatusLabel string

const (
	StatusGreen  StatusLabel = "Green"
	StatusYellow StatusLabel = "Yellow"
	StatusRed    StatusLabel = "Red"
)

var (
	ErrInvalidInput      = errors.New("invalid device input")
	ErrEmptyPopulation   = errors.New("empty device population")
	ErrInvalidThresholds = errors.New("invalid status thresholds")
)

// Labels returns every label in report order (lexicographic).
func Labels() []StatusLabel {
	return []StatusLabel{StatusGreen, StatusRed, StatusYellow}
}

func (l StatusLabel) Valid() bool {
	switch l {
	case StatusGreen, StatusYellow, StatusRed:
		return true
	}
	return false
}

func ParseStatusLabel(s string) (StatusLabel, error) {
	for _, l := range Labels() {
		if strings.EqualFold(strings.TrimSpace(s), string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status label %q", ErrInvalidInput, s)
}

// Thresholds are the inclusive day offsets separating the labels.
// An age of 0..GreenMaxDays is Green, GreenMaxDays+1..YellowMaxDays is Yellow,
// anything older is Red.
type Thresholds struct {
	GreenMaxDays  int
	YellowMaxDays int
}

var (
	// DefaultThresholds is the 7/8/37 split.
	DefaultThresholds = Thresholds{GreenMaxDays: 7, YellowMaxDays: 37}
	// ExtendedThresholds is the 8/9/38 split used by the combined query.
	ExtendedThresholds = Thresholds{GreenMaxDays: 8, YellowMaxDays: 38}
)

func (t Thresholds) Validate() error {
	if t.GreenMaxDays < 0 {
		return fmt.Errorf("%w: green_max_days must be >= 0, got %d", ErrInvalidThresholds, t.GreenMaxDays)
	}
	if t.YellowMaxDays <= t.GreenMaxDays {
		return fmt.Errorf("%w: yellow_max_days (%d) must be greater than green_max_days (%d)", ErrInvalidThresholds, t.YellowMaxDays, t.GreenMaxDays)
	}
	return nil
}

// YellowMinDays is the first age that is no longer Green.
func (t Thresholds) YellowMinDays() int {
	return t.GreenMaxDays + 1
}

// LabelForAge maps a day offset to a label. Negative ages (dates after the
// reference date) are Green.
func (t Thresholds) LabelForAge(age int) StatusLabel {
	switch {
	case age <= t.GreenMaxDays:
		return StatusGreen
	case age <= t.YellowMaxDays:
		return StatusYellow
	default:
		return StatusRed
	}
}

func (t Thresholds) String() string {
	return fmt.Sprintf("%d/%d/%d", t.GreenMaxDays, t.YellowMinDays(), t.YellowMaxDays)
}
