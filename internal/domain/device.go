package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Device is a commissioned device with its resolved dates. A zero civil.Date
// means the date is unknown.
type Device struct {
	ID                string
	GroupID           string
	CommissioningDate civil.Date
	LastSeen          civil.Date
}

// RawDevice carries device dates as they are stored upstream: the
// commissioning date as text and telemetry report times as epoch seconds
// in text form.
type RawDevice struct {
	ID           string
	GroupID      string
	Commissioned string
	Reports      []string
}

func known(d civil.Date) bool {
	return d != civil.Date{}
}

// ParseCommissioningDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func ParseCommissioningDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if d, err := civil.ParseDate(s); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return civil.DateOf(ts.UTC()), nil
	}
	return civil.Date{}, fmt.Errorf("unparsable commissioning date %q", s)
}

// ReportDay truncates an epoch-seconds telemetry timestamp to its UTC day.
func ReportDay(raw string) (civil.Date, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return civil.Date{}, fmt.Errorf("unparsable report timestamp %q", raw)
	}
	return civil.DateOf(time.Unix(secs, 0).UTC()), nil
}

// LatestReportDay returns the newest report day on or before ref. Reports
// after ref are ignored so a skewed clock cannot hide an older valid reading.
// ok is false when no report qualifies; malformed is true when reports were
// supplied but none could be parsed.
func LatestReportDay(reports []string, ref civil.Date) (latest civil.Date, ok bool, malformed bool) {
	parsed := 0
	for _, r := range reports {
		if strings.TrimSpace(r) == "" {
			continue
		}
		day, err := ReportDay(r)
		if err != nil {
			continue
		}
		parsed++
		if day.After(ref) {
			continue
		}
		if !ok || day.After(latest) {
			latest = day
			ok = true
		}
	}
	return latest, ok, parsed == 0 && hasNonBlank(reports)
}

func hasNonBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// ResolveDevice parses a RawDevice against ref. A single malformed signal is
// dropped; when both signals are present but malformed the device is rejected
// with ErrInvalidInput.
func ResolveDevice(raw RawDevice, ref civil.Date) (Device, error) {
	dev := Device{ID: raw.ID, GroupID: raw.GroupID}

	commissionBad := false
	if strings.TrimSpace(raw.Commissioned) != "" {
		d, err := ParseCommissioningDate(raw.Commissioned)
		if err != nil {
			commissionBad = true
		} else {
			dev.CommissioningDate = d
		}
	}

	latest, ok, reportsBad := LatestReportDay(raw.Reports, ref)
	if ok {
		dev.LastSeen = latest
	}

	if commissionBad && reportsBad {
		return Device{}, fmt.Errorf("%w: device %s has malformed commissioning date %q and no parsable report timestamps",
			ErrInvalidInput, raw.ID, raw.Commissioned)
	}
	return dev, nil
}
