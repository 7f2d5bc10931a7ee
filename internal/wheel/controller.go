package wheel

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"spinwheel/pkg/realtime"
)

// State is the spin controller's phase.
type State int

const (
	Idle State = iota
	Spinning
	Settling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Spinning:
		return "spinning"
	case Settling:
		return "settling"
	default:
		return "unknown"
	}
}

// SpinConfig holds the fixed design choices of a spin.
type SpinConfig struct {
	Duration      time.Duration
	Settle        time.Duration
	FrameInterval time.Duration
	MinTurns      int
	MaxTurns      int
}

// DefaultSpinConfig is 5 to 7 extra turns over 5.5s with a 200ms settle.
func DefaultSpinConfig() SpinConfig {
	return SpinConfig{
		Duration:      5500 * time.Millisecond,
		Settle:        200 * time.Millisecond,
		FrameInterval: realtime.DefaultFrameInterval,
		MinTurns:      5,
		MaxTurns:      7,
	}
}

// Frame is what a scheduler tick observes after calling Advance.
type Frame struct {
	State    State
	Rotation float64
	Progress float64
	// Next is when Advance should be called again; zero once idle.
	Next time.Time
	// Completed is set on the tick that delivered the spin result.
	Completed bool
	Result    SpinResult
}

// Controller orchestrates one spin at a time: it picks the winner, plans the
// trajectory and, driven by Advance, resolves the prize under the pointer.
type Controller struct {
	mu       sync.Mutex
	cfg      SpinConfig
	rng      RNG
	logger   *zap.Logger
	state    State
	rotation float64
	display  float64
	timeline realtime.Timeline
	traj     Trajectory
	roster   []Prize
	result   SpinResult
	handlers []func(SpinResult)
	closed   bool
}

// NewController creates an idle controller at rotation 0.
func NewController(cfg SpinConfig, rng RNG, logger *zap.Logger) *Controller {
	def := DefaultSpinConfig()
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.MinTurns < 1 {
		cfg.MinTurns = def.MinTurns
	}
	if cfg.MaxTurns < cfg.MinTurns {
		cfg.MaxTurns = cfg.MinTurns
	}
	if rng == nil {
		rng = DefaultRNG()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:    cfg,
		rng:    rng,
		logger: logger,
	}
}

// OnSpinEnd registers an observer fired exactly once per completed spin.
func (c *Controller) OnSpinEnd(fn func(SpinResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Spin starts a spin against roster. It is a no-op returning
// ErrSpinInProgress while a previous spin has not finished, and leaves the
// controller idle when nothing is in stock.
func (c *Controller) Spin(roster []Prize, now time.Time) (Trajectory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Trajectory{}, ErrClosed
	}
	if c.state != Idle {
		return Trajectory{}, ErrSpinInProgress
	}
	prize, err := PickWinner(roster, c.rng)
	if err != nil {
		return Trajectory{}, err
	}
	count := len(roster)
	target := IndexOf(roster, prize.ID)
	delta := RotationForTarget(target, count, c.rotation)
	turns := c.cfg.MinTurns + c.rng.Intn(c.cfg.MaxTurns-c.cfg.MinTurns+1)

	traj := Trajectory{
		Start:     c.rotation,
		End:       c.rotation + float64(turns)*FullTurn + delta,
		Target:    target,
		Prize:     prize,
		Turns:     turns,
		StartedAt: now,
		Duration:  c.cfg.Duration,
		Segments:  count,
	}
	c.timeline = realtime.Timeline{Duration: c.cfg.Duration, Settle: c.cfg.Settle}
	c.timeline.Start(now)
	c.traj = traj
	c.roster = CloneRoster(roster)
	c.display = traj.Start
	c.state = Spinning
	c.logger.Debug("spin started",
		zap.Int("prize_id", prize.ID),
		zap.Int("target", target),
		zap.Int("turns", turns),
		zap.Float64("start", traj.Start),
		zap.Float64("end", traj.End),
	)
	return traj, nil
}

// Advance samples the spin at now. Schedulers call it at Frame.Next until
// the controller is idle again.
func (c *Controller) Advance(now time.Time) Frame {
	c.mu.Lock()
	if c.closed || c.state == Idle {
		frame := Frame{State: c.state, Rotation: c.display}
		c.mu.Unlock()
		return frame
	}

	ended, settled := c.timeline.Advance(now)
	if ended && c.state == Spinning {
		c.completeLocked(now)
	}
	if settled && c.state == Settling {
		result := c.result
		handlers := slices.Clone(c.handlers)
		c.mu.Unlock()

		// Still Settling while observers run, so no new spin can start.
		for _, fn := range handlers {
			fn(result)
		}

		c.mu.Lock()
		c.state = Idle
		c.traj = Trajectory{}
		c.roster = nil
		frame := Frame{
			State:     Idle,
			Rotation:  c.display,
			Progress:  1,
			Completed: true,
			Result:    result,
		}
		c.mu.Unlock()
		return frame
	}

	if c.state == Spinning {
		c.display = c.traj.At(now)
	}
	next, _ := c.timeline.NextWake(now, c.cfg.FrameInterval)
	frame := Frame{
		State:    c.state,
		Rotation: c.display,
		Progress: c.traj.Progress(now),
		Next:     next,
	}
	c.mu.Unlock()
	return frame
}

func (c *Controller) completeLocked(now time.Time) {
	c.rotation = c.traj.End
	c.display = c.traj.End
	landed := c.roster[PrizeIndexAtPointer(c.traj.End, len(c.roster))]
	c.result = SpinResult{
		Prize:         landed,
		Intended:      c.traj.Prize,
		FinalRotation: c.traj.End,
		Timestamp:     now,
	}
	if c.result.Mismatch() {
		// The pointer shows landed, so landed is what the player wins.
		c.logger.Error("geometry mismatch",
			zap.Int("intended_id", c.traj.Prize.ID),
			zap.Int("landed_id", landed.ID),
			zap.Float64("rotation", c.traj.End),
			zap.Int("segments", len(c.roster)),
		)
	}
	c.state = Settling
}

// Close tears the controller down. A spin in flight is abandoned and its
// observers are never called.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.timeline.Stop()
	if c.state != Idle {
		c.logger.Debug("spin abandoned on close", zap.Float64("rotation", c.display))
	}
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Spinning reports whether a spin has started and its result is not yet delivered.
func (c *Controller) Spinning() bool {
	return c.State() != Idle
}

// Rotation returns the persisted rotation, which only moves when a spin completes.
func (c *Controller) Rotation() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rotation
}

// DisplayRotation returns the rotation as of the last Advance.
func (c *Controller) DisplayRotation() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display
}

// Trajectory returns the spin in flight, if any.
func (c *Controller) Trajectory() (Trajectory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return Trajectory{}, false
	}
	return c.traj, true
}

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
