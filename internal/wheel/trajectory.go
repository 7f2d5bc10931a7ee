package wheel

import "time"

// EaseOutCubic decelerates to a stop: 1 - (1-p)^3.
func EaseOutCubic(p float64) float64 {
	inv := 1 - p
	return 1 - inv*inv*inv
}

// Trajectory describes one spin from its start rotation to where it stops.
type Trajectory struct {
	Start     float64       `json:"start"`
	End       float64       `json:"end"`
	Target    int           `json:"target"`
	Prize     Prize         `json:"prize"`
	Turns     int           `json:"turns"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Segments  int           `json:"segments"`
}

// Progress returns the elapsed fraction of the spin, clamped to [0, 1].
func (t Trajectory) Progress(now time.Time) float64 {
	if t.Duration <= 0 {
		return 1
	}
	p := float64(now.Sub(t.StartedAt)) / float64(t.Duration)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// At returns the displayed rotation at now. It reaches End exactly when the
// duration has elapsed and never moves counter-clockwise.
func (t Trajectory) At(now time.Time) float64 {
	p := t.Progress(now)
	if p >= 1 {
		return t.End
	}
	return t.Start + (t.End-t.Start)*EaseOutCubic(p)
}

// EndsAt is when the wheel comes to rest.
func (t Trajectory) EndsAt() time.Time {
	return t.StartedAt.Add(t.Duration)
}
