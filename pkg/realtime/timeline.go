package realtime

import "time"

// Timeline holds the timing state of one timed transition followed by a
// settle pause: when it started, how long it runs, and when it ended.
// It does not hold domain state; the owner composes it and reacts to
// Advance(now) by updating its own state.
type Timeline struct {
	Duration  time.Duration
	Settle    time.Duration
	StartedAt time.Time
	EndedAt   time.Time
}

// DefaultFrameInterval is roughly one display refresh at 60Hz.
const DefaultFrameInterval = 16 * time.Millisecond

// Active reports whether a transition is running or settling.
func (t *Timeline) Active() bool {
	return !t.StartedAt.IsZero()
}

// Start begins the transition at now.
func (t *Timeline) Start(now time.Time) {
	t.StartedAt = now
	t.EndedAt = time.Time{}
}

// Stop clears the timeline without completing it.
func (t *Timeline) Stop() {
	t.StartedAt = time.Time{}
	t.EndedAt = time.Time{}
}

// Progress returns the elapsed fraction of the transition in [0, 1].
func (t *Timeline) Progress(now time.Time) float64 {
	if !t.Active() {
		return 0
	}
	if !t.EndedAt.IsZero() || t.Duration <= 0 {
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

// NextWake returns when the owner should sample again: every frame while
// running (never past the end), then once at the end of the settle pause.
// If not active, returns (zero, false).
func (t *Timeline) NextWake(now time.Time, frame time.Duration) (time.Time, bool) {
	if !t.Active() {
		return time.Time{}, false
	}
	if t.EndedAt.IsZero() {
		end := t.StartedAt.Add(t.Duration)
		if frame <= 0 {
			frame = DefaultFrameInterval
		}
		next := now.Add(frame)
		if next.After(end) {
			next = end
		}
		return next, true
	}
	next := t.EndedAt.Add(t.Settle)
	if now.After(next) {
		return now, true
	}
	return next, true
}

// Advance updates timing state based on now. It sets EndedAt once the
// duration has elapsed (ended true), and on a later call, once the settle
// pause is over, clears the timeline (settled true). The two never happen in
// the same call, so the owner always observes the end before the settle.
func (t *Timeline) Advance(now time.Time) (ended bool, settled bool) {
	if !t.Active() {
		return false, false
	}
	end := t.StartedAt.Add(t.Duration)
	if t.EndedAt.IsZero() {
		if now.Before(end) {
			return false, false
		}
		t.EndedAt = end
		return true, false
	}
	if now.Before(t.EndedAt.Add(t.Settle)) {
		return false, false
	}
	t.Stop()
	return false, true
}
