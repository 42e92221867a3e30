package domain

import "cloud.google.com/go/civil"

// Classifier applies Thresholds to device dates. It is a pure value and safe
// to share across goroutines.
type Classifier struct {
	Thresholds Thresholds
	// IgnorePreCommissionTelemetry drops a last-seen date that is older than
	// the commissioning date, so the commissioning date is used instead.
	IgnorePreCommissionTelemetry bool
}

func NewClassifier(t Thresholds) Classifier {
	return Classifier{Thresholds: t}
}

// EffectiveDate returns the date the label is measured from, or false when
// the device has no usable signal.
func (c Classifier) EffectiveDate(d Device, ref civil.Date) (civil.Date, bool) {
	lastSeen := d.LastSeen
	if known(lastSeen) && lastSeen.After(ref) {
		lastSeen = civil.Date{}
	}
	if c.IgnorePreCommissionTelemetry && known(lastSeen) && known(d.CommissioningDate) &&
		lastSeen.Before(d.CommissioningDate) {
		lastSeen = civil.Date{}
	}
	if known(lastSeen) {
		return lastSeen, true
	}
	if known(d.CommissioningDate) {
		return d.CommissioningDate, true
	}
	return civil.Date{}, false
}

// Classify labels a single device. Telemetry wins over the commissioning
// date; a device with neither is Red.
func (c Classifier) Classify(d Device, ref civil.Date) StatusLabel {
	date, ok := c.EffectiveDate(d, ref)
	if !ok {
		return StatusRed
	}
	return c.Thresholds.LabelForAge(ref.DaysSince(date))
}

// ClassifyRaw resolves and labels a device in one step.
func (c Classifier) ClassifyRaw(raw RawDevice, ref civil.Date) (StatusLabel, error) {
	dev, err := ResolveDevice(raw, ref)
	if err != nil {
		return "", err
	}
	return c.Classify(dev, ref), nil
}

// ClassifyAll labels every device in order.
func (c Classifier) ClassifyAll(devices []Device, ref civil.Date) []LabeledDevice {
	out := make([]LabeledDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, LabeledDevice{DeviceID: d.ID, Label: c.Classify(d, ref)})
	}
	return out
}
