// Package shake turns a stream of accelerometer samples into a distress
// trigger when the device is shaken hard several times in quick succession.
package shake

import "time"

// Sample is one accelerometer reading stamped by the device.
type Sample struct {
	X, Y, Z float64
	At      time.Time
}

type Config struct {
	// Threshold is the jerk value a gated sample must exceed.
	Threshold float64
	// SampleGap is the minimum spacing between evaluated samples.
	SampleGap time.Duration
	// Window is how long a crossing counts towards the trigger.
	Window time.Duration
	// CountThreshold is the number of live crossings that triggers.
	CountThreshold int
}

// Observation is the result of one sample. When Crossed is set the caller
// must call Decay once Window has elapsed.
type Observation struct {
	Evaluated bool
	Crossed   bool
	Triggered bool
	Jerk      float64
}

// Detector holds the shake window of one device. It is not safe for
// concurrent use.
type Detector struct {
	cfg        Config
	seeded     bool
	lastAt     time.Time
	lastX      float64
	lastY      float64
	lastZ      float64
	shakeCount int
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Observe evaluates a sample. The first sample only seeds the window, and
// samples closer than SampleGap to the last evaluated one are dropped.
func (d *Detector) Observe(s Sample) Observation {
	if !d.seeded {
		d.seed(s)
		return Observation{}
	}

	dt := s.At.Sub(d.lastAt)
	if dt <= d.cfg.SampleGap {
		return Observation{}
	}

	dtMs := float64(dt) / float64(time.Millisecond)
	delta := s.X + s.Y + s.Z - d.lastX - d.lastY - d.lastZ
	if delta < 0 {
		delta = -delta
	}
	jerk := delta / dtMs * 10000
	d.seed(s)

	obs := Observation{Evaluated: true, Jerk: jerk}
	if jerk <= d.cfg.Threshold {
		return obs
	}

	obs.Crossed = true
	if d.shakeCount < d.cfg.CountThreshold {
		d.shakeCount++
	}
	if d.shakeCount >= d.cfg.CountThreshold {
		obs.Triggered = true
		d.shakeCount = 0
	}
	return obs
}

// Decay expires one crossing. The count never drops below zero.
func (d *Detector) Decay() {
	if d.shakeCount > 0 {
		d.shakeCount--
	}
}

// Count returns the number of live crossings.
func (d *Detector) Count() int { return d.shakeCount }

func (d *Detector) seed(s Sample) {
	d.seeded = true
	d.lastAt = s.At
	d.lastX, d.lastY, d.lastZ = s.X, s.Y, s.Z
}
