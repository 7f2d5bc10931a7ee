package game

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"spinwheel/internal/repository"
	"spinwheel/internal/wheel"
	"spinwheel/pkg/realtime"
)

// Event names published to a wheel's subscribers.
const (
	EventSpin    = "spin"
	EventResult  = "result"
	EventRoster  = "roster"
	EventWinners = "winners"
	EventPlayers = "players"
)

// ErrWheelNotFound is returned for an id no wheel is registered under.
var ErrWheelNotFound = errors.New("wheel not found")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures a Store.
type Options struct {
	Repo   repository.Repository
	Roster []wheel.Prize
	Spin   wheel.SpinConfig
	// RNG is shared by every wheel; nil uses the default source.
	RNG    wheel.RNG
	Logger *zap.Logger
}

// Store holds wheels and delegates to realtime.RoomStore for broadcast and spin loops.
type Store struct {
	r      *realtime.RoomStore[*Wheel]
	opts   Options
	logger *zap.Logger
	mu     sync.Mutex // serializes OpenWheel so one id maps to one session
}

// NewStore creates a wheel store backed by opts.Repo.
func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		r:      realtime.NewRoomStore[*Wheel](),
		opts:   opts,
		logger: opts.Logger.Named("game"),
	}
}

// CreateWheel starts a new wheel with a fresh id and the configured roster.
func (s *Store) CreateWheel(ctx context.Context) (*Wheel, error) {
	return s.OpenWheel(ctx, newID())
}

// OpenWheel returns the wheel registered under id, creating it if needed.
// A wheel whose state is already in storage resumes from it.
func (s *Store) OpenWheel(ctx context.Context, id string) (*Wheel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.GetWheel(id); ok {
		return w, nil
	}
	w, err := NewWheel(ctx, id, s.opts.Roster, s.opts.Repo, s.opts.Spin, s.opts.RNG, s.logger)
	if err != nil {
		return nil, err
	}
	w.OnAward(func(o Outcome) { s.publishOutcome(id, o) })
	s.r.Create(id, w)
	s.logger.Info("wheel opened", zap.String("wheel_id", id))
	return w, nil
}

// GetWheel returns a wheel by ID if it exists.
func (s *Store) GetWheel(id string) (*Wheel, bool) {
	room, ok := s.r.Get(id)
	if !ok {
		return nil, false
	}
	return room.State, ok
}

// IDs lists the open wheels.
func (s *Store) IDs() []string {
	return s.r.IDs()
}

// Broadcaster returns the SSE broadcaster for a wheel, or nil.
func (s *Store) Broadcaster(id string) *realtime.Broadcaster {
	return s.r.Broadcaster(id)
}

// Publish notifies subscribers of a wheel update with typed events.
func (s *Store) Publish(id string, events ...string) {
	out := make([]realtime.Event, 0, len(events))
	for _, name := range events {
		out = append(out, realtime.Event{Name: name})
	}
	s.r.Publish(id, out...)
}

// SpinPayload is the data of a spin event: everything a client needs to
// animate the spin locally.
type SpinPayload struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Target      int     `json:"target"`
	PrizeID     int     `json:"prizeId"`
	Turns       int     `json:"turns"`
	Segments    int     `json:"segments"`
	StartedAtMs int64   `json:"startedAtMs"`
	DurationMs  int64   `json:"durationMs"`
	Spinner     string  `json:"spinner"`
}

// NewSpinPayload converts a trajectory to its client form.
func NewSpinPayload(traj wheel.Trajectory, spinner string) SpinPayload {
	return SpinPayload{
		Start:       traj.Start,
		End:         traj.End,
		Target:      traj.Target,
		PrizeID:     traj.Prize.ID,
		Turns:       traj.Turns,
		Segments:    traj.Segments,
		StartedAtMs: traj.StartedAt.UnixMilli(),
		DurationMs:  traj.Duration.Milliseconds(),
		Spinner:     spinner,
	}
}

// ResultPayload is the data of a result event.
type ResultPayload struct {
	Name      string `json:"name"`
	PrizeID   int    `json:"prizeId"`
	PrizeName string `json:"prizeName"`
	Icon      string `json:"icon"`
	Awarded   bool   `json:"awarded"`
	AtMs      int64  `json:"atMs"`
}

// Spin starts a spin on wheel id for playerID, schedules the spin loop and
// tells subscribers.
func (s *Store) Spin(ctx context.Context, id string, playerID string) (wheel.Trajectory, error) {
	w, ok := s.GetWheel(id)
	if !ok {
		return wheel.Trajectory{}, ErrWheelNotFound
	}
	traj, err := w.Spin(ctx, playerID, time.Now().UTC())
	if err != nil {
		return wheel.Trajectory{}, err
	}
	name, _ := w.PlayerName(playerID)
	data, err := json.MarshalToString(NewSpinPayload(traj, name))
	if err != nil {
		return wheel.Trajectory{}, fmt.Errorf("encode spin: %w", err)
	}
	s.EnsureSpinLoop(id)
	s.r.Publish(id, realtime.Event{Name: EventSpin, Data: data})
	return traj, nil
}

// Reset restores a wheel's roster and tells subscribers.
func (s *Store) Reset(ctx context.Context, id string, playerID string) error {
	w, ok := s.GetWheel(id)
	if !ok {
		return ErrWheelNotFound
	}
	if err := w.Reset(ctx, playerID); err != nil {
		return err
	}
	s.Publish(id, EventRoster, EventWinners)
	return nil
}

func (s *Store) publishOutcome(id string, o Outcome) {
	data, err := json.MarshalToString(ResultPayload{
		Name:      o.Name,
		PrizeID:   o.Prize.ID,
		PrizeName: o.Prize.Name,
		Icon:      o.Prize.Icon,
		Awarded:   o.Awarded,
		AtMs:      o.At.UnixMilli(),
	})
	if err != nil {
		s.logger.Error("encode result", zap.Error(err))
		return
	}
	s.r.Publish(id,
		realtime.Event{Name: EventResult, Data: data},
		realtime.Event{Name: EventRoster},
		realtime.Event{Name: EventWinners},
	)
}

// EnsureSpinLoop starts the loop that drives the wheel's controller, or
// wakes it if one is already running.
func (s *Store) EnsureSpinLoop(id string) {
	getState := func() *Wheel {
		w, _ := s.GetWheel(id)
		return w
	}
	tick := func(w *Wheel, now time.Time) (time.Time, []realtime.Event, bool) {
		if w == nil {
			return time.Time{}, nil, true
		}
		frame := w.Controller().Advance(now)
		if frame.State == wheel.Idle || frame.Next.IsZero() {
			// Results are published by the award callback.
			return time.Time{}, nil, true
		}
		return frame.Next, nil, false
	}
	s.r.RunLoop(id, getState, tick)
}

// Close stops every spin loop and tears down every wheel.
func (s *Store) Close() {
	for _, id := range s.r.IDs() {
		room, ok := s.r.Remove(id)
		if ok && room.State != nil {
			room.State.Close()
		}
	}
}

func newID() string {
	// 10 bytes -> 16 chars of base32, short and url-safe.
	buf := make([]byte, 10)
	_, _ = rand.Read(buf)
	encoder := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(encoder.EncodeToString(buf))
}
