package domain

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

var testRef = civil.Date{Year: 2024, Month: time.March, Day: 15}

func TestClassifyLastSeenBoundaries(t *testing.T) {
	c := NewClassifier(DefaultThresholds)
	tests := []struct {
		age  int
		want StatusLabel
	}{
		{age: 0, want: StatusGreen},
		{age: 1, want: StatusGreen},
		{age: 7, want: StatusGreen},
		{age: 8, want: StatusYellow},
		{age: 10, want: StatusYellow},
		{age: 37, want: StatusYellow},
		{age: 38, want: StatusRed},
		{age: 400, want: StatusRed},
	}
	for _, tt := range tests {
		dev := Device{ID: "d", LastSeen: testRef.AddDays(-tt.age)}
		if got := c.Classify(dev, testRef); got != tt.want {
			t.Fatalf("age %d: got %s, want %s", tt.age, got, tt.want)
		}
	}
}

func TestClassifyExtendedThresholdBoundaries(t *testing.T) {
	c := NewClassifier(ExtendedThresholds)
	tests := []struct {
		age  int
		want StatusLabel
	}{
		{age: 8, want: StatusGreen},
		{age: 9, want: StatusYellow},
		{age: 38, want: StatusYellow},
		{age: 39, want: StatusRed},
	}
	for _, tt := range tests {
		dev := Device{ID: "d", LastSeen: testRef.AddDays(-tt.age)}
		if got := c.Classify(dev, testRef); got != tt.want {
			t.Fatalf("age %d: got %s, want %s", tt.age, got, tt.want)
		}
	}
}

func TestClassifyFallsBackToCommissioningDate(t *testing.T) {
	c := NewClassifier(DefaultThresholds)

	dev := Device{ID: "d", CommissioningDate: testRef.AddDays(-3)}
	if got := c.Classify(dev, testRef); got != StatusGreen {
		t.Fatalf("recently commissioned: got %s, want Green", got)
	}
	dev.CommissioningDate = testRef.AddDays(-20)
	if got := c.Classify(dev, testRef); got != StatusYellow {
		t.Fatalf("commissioned 20 days ago: got %s, want Yellow", got)
	}
	dev.CommissioningDate = testRef.AddDays(-38)
	if got := c.Classify(dev, testRef); got != StatusRed {
		t.Fatalf("commissioned 38 days ago: got %s, want Red", got)
	}
}

func TestClassifyTelemetryWinsOverCommissioning(t *testing.T) {
	c := NewClassifier(DefaultThresholds)
	dev := Device{
		ID:                "d",
		CommissioningDate: testRef.AddDays(-1),
		LastSeen:          testRef.AddDays(-60),
	}
	if got := c.Classify(dev, testRef); got != StatusRed {
		t.Fatalf("got %s, want Red from stale telemetry", got)
	}
}

func TestClassifyNoSignalsIsRed(t *testing.T) {
	c := NewClassifier(DefaultThresholds)
	if got := c.Classify(Device{ID: "d"}, testRef); got != StatusRed {
		t.Fatalf("got %s, want Red", got)
	}
}

func TestClassifyFutureLastSeenIsDiscarded(t *testing.T) {
	c := NewClassifier(DefaultThresholds)

	dev := Device{ID: "d", LastSeen: testRef.AddDays(1)}
	if got := c.Classify(dev, testRef); got != StatusRed {
		t.Fatalf("future last-seen without commissioning: got %s, want Red", got)
	}

	dev.CommissioningDate = testRef.AddDays(-15)
	if got := c.Classify(dev, testRef); got != StatusYellow {
		t.Fatalf("future last-seen with commissioning: got %s, want Yellow", got)
	}
}

func TestClassifyIgnorePreCommissionTelemetry(t *testing.T) {
	dev := Device{
		ID:                "d",
		CommissioningDate: testRef.AddDays(-2),
		LastSeen:          testRef.AddDays(-50),
	}

	c := NewClassifier(DefaultThresholds)
	if got := c.Classify(dev, testRef); got != StatusRed {
		t.Fatalf("default policy: got %s, want Red", got)
	}

	c.IgnorePreCommissionTelemetry = true
	if got := c.Classify(dev, testRef); got != StatusGreen {
		t.Fatalf("ignoring pre-commission telemetry: got %s, want Green", got)
	}
}

func epoch(d civil.Date, hour int) string {
	ts := time.Date(d.Year, d.Month, d.Day, hour, 30, 0, 0, time.UTC)
	return strconv.FormatInt(ts.Unix(), 10)
}

func TestClassifyRaw(t *testing.T) {
	c := NewClassifier(DefaultThresholds)

	label, err := c.ClassifyRaw(RawDevice{
		ID:      "d1",
		Reports: []string{epoch(testRef.AddDays(-40), 1), epoch(testRef.AddDays(-2), 23), epoch(testRef.AddDays(3), 0)},
	}, testRef)
	if err != nil {
		t.Fatalf("ClassifyRaw failed: %v", err)
	}
	if label != StatusGreen {
		t.Fatalf("got %s, want Green from newest non-future report", label)
	}

	label, err = c.ClassifyRaw(RawDevice{ID: "d2", Commissioned: "2024-02-20", Reports: []string{"garbage"}}, testRef)
	if err != nil {
		t.Fatalf("single malformed signal should be dropped, got %v", err)
	}
	if label != StatusYellow {
		t.Fatalf("got %s, want Yellow from commissioning date", label)
	}

	label, err = c.ClassifyRaw(RawDevice{ID: "d3", Commissioned: "2024-03-14T08:00:00Z"}, testRef)
	if err != nil {
		t.Fatalf("RFC3339 commissioning date failed: %v", err)
	}
	if label != StatusGreen {
		t.Fatalf("got %s, want Green", label)
	}

	label, err = c.ClassifyRaw(RawDevice{ID: "d4"}, testRef)
	if err != nil {
		t.Fatalf("absent dates are valid, got %v", err)
	}
	if label != StatusRed {
		t.Fatalf("got %s, want Red", label)
	}
}

func TestClassifyRawBothMalformed(t *testing.T) {
	c := NewClassifier(DefaultThresholds)
	_, err := c.ClassifyRaw(RawDevice{ID: "bad", Commissioned: "not-a-date", Reports: []string{"x", "y"}}, testRef)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds.Validate(); err != nil {
		t.Fatalf("default thresholds invalid: %v", err)
	}
	if err := ExtendedThresholds.Validate(); err != nil {
		t.Fatalf("extended thresholds invalid: %v", err)
	}
	for _, th := range []Thresholds{{GreenMaxDays: -1, YellowMaxDays: 5}, {GreenMaxDays: 7, YellowMaxDays: 7}} {
		if err := th.Validate(); !errors.Is(err, ErrInvalidThresholds) {
			t.Fatalf("Validate(%+v) = %v, want ErrInvalidThresholds", th, err)
		}
	}
	if got := DefaultThresholds.String(); got != "7/8/37" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseStatusLabel(t *testing.T) {
	got, err := ParseStatusLabel(" yellow ")
	if err != nil || got != StatusYellow {
		t.Fatalf("ParseStatusLabel = %q, %v", got, err)
	}
	if _, err := ParseStatusLabel("Blue"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
