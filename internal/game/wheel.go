package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"spinwheel/internal/repository"
	"spinwheel/internal/wheel"
)

var (
	// ErrUnknownPlayer is returned when a spin or reset comes from someone who never joined.
	ErrUnknownPlayer = errors.New("player has not joined this wheel")
	// ErrNotOwner is returned when a non-owner tries to reset the wheel.
	ErrNotOwner = errors.New("only the wheel owner can reset it")
)

// awardTimeout bounds the storage call made when a spin lands.
const awardTimeout = 5 * time.Second

// Player is someone who entered a name on a wheel.
type Player struct {
	ID       string
	Name     string
	JoinedAt time.Time
}

// Outcome is the most recent spin result, shown in the result modal.
type Outcome struct {
	Name  string
	Prize wheel.Prize
	At    time.Time
	// Awarded is false when the prize ran out between the draw and the award.
	Awarded bool
	Record  wheel.WinnerRecord
}

// Wheel is one prize wheel session: its controller, the cached roster and
// ledger, and the players who can spin it.
type Wheel struct {
	mu        sync.Mutex
	ID        string
	CreatedAt time.Time
	initial   []wheel.Prize
	repo      repository.Repository
	ctrl      *wheel.Controller
	logger    *zap.Logger
	roster    []wheel.Prize
	winners   []wheel.WinnerRecord
	players   map[string]*Player
	ownerID   string
	spinnerID string
	spinner   string
	last      *Outcome
	onAward   func(Outcome)
}

// NewWheel seeds storage with initial unless the wheel already has state,
// loads the caches and wires the controller's spin-end observer.
func NewWheel(ctx context.Context, id string, initial []wheel.Prize, repo repository.Repository, cfg wheel.SpinConfig, rng wheel.RNG, logger *zap.Logger) (*Wheel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("wheel_id", id))
	if err := repository.Seed(ctx, repo, id, initial); err != nil {
		return nil, fmt.Errorf("seed wheel %s: %w", id, err)
	}
	w := &Wheel{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		initial:   wheel.CloneRoster(initial),
		repo:      repo,
		ctrl:      wheel.NewController(cfg, rng, logger.Named("wheel")),
		logger:    logger,
		players:   make(map[string]*Player),
	}
	if err := w.refresh(ctx); err != nil {
		return nil, err
	}
	w.ctrl.OnSpinEnd(w.handleSpinEnd)
	return w, nil
}

// Controller exposes the spin controller for schedulers.
func (w *Wheel) Controller() *wheel.Controller {
	return w.ctrl
}

// AddPlayer registers a player; the first one becomes the owner.
func (w *Wheel) AddPlayer(name string) *Player {
	w.mu.Lock()
	defer w.mu.Unlock()
	player := &Player{
		ID:       newID(),
		Name:     name,
		JoinedAt: time.Now().UTC(),
	}
	w.players[player.ID] = player
	if w.ownerID == "" {
		w.ownerID = player.ID
	}
	return player
}

// PlayerName resolves a player's display name by ID.
func (w *Wheel) PlayerName(playerID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	player, ok := w.players[playerID]
	if !ok {
		return "", false
	}
	return player.Name, true
}

// IsOwner reports whether the given player ID owns the wheel.
func (w *Wheel) IsOwner(playerID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return playerID != "" && playerID == w.ownerID
}

// OnAward registers a callback run after every spin result has been
// processed, awarded or not.
func (w *Wheel) OnAward(fn func(Outcome)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onAward = fn
}

// Spin starts a spin for playerID against the freshest stored roster. A
// rejected spin leaves the cached roster as it was.
func (w *Wheel) Spin(ctx context.Context, playerID string, now time.Time) (wheel.Trajectory, error) {
	w.mu.Lock()
	_, joined := w.players[playerID]
	w.mu.Unlock()
	if !joined {
		return wheel.Trajectory{}, ErrUnknownPlayer
	}
	if w.ctrl.Spinning() {
		return wheel.Trajectory{}, wheel.ErrSpinInProgress
	}

	roster, err := w.repo.Roster(ctx, w.ID)
	if err != nil {
		return wheel.Trajectory{}, fmt.Errorf("load roster: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	player, ok := w.players[playerID]
	if !ok {
		return wheel.Trajectory{}, ErrUnknownPlayer
	}
	traj, err := w.ctrl.Spin(roster, now)
	if err != nil {
		return wheel.Trajectory{}, err
	}
	w.roster = roster
	w.spinnerID = player.ID
	w.spinner = player.Name
	w.logger.Info("spin started",
		zap.String("player", player.Name),
		zap.Int("prize_id", traj.Prize.ID),
		zap.Int("turns", traj.Turns),
	)
	return traj, nil
}

// handleSpinEnd commits the landed prize. Storage re-checks the stock, so a
// prize emptied by another writer since the draw is logged and dropped.
func (w *Wheel) handleSpinEnd(result wheel.SpinResult) {
	ctx, cancel := context.WithTimeout(context.Background(), awardTimeout)
	defer cancel()

	w.mu.Lock()
	winner := repository.Winner{ID: w.spinnerID, Name: w.spinner}
	w.mu.Unlock()

	outcome := Outcome{Name: winner.Name, Prize: result.Prize, At: result.Timestamp}
	record, err := w.repo.Award(ctx, w.ID, result.Prize.ID, winner, result.Timestamp)
	switch {
	case err == nil:
		outcome.Awarded = true
		outcome.Record = record
		outcome.Prize = record.Prize
		w.logger.Info("prize awarded",
			zap.String("player", winner.Name),
			zap.Int("prize_id", record.Prize.ID),
			zap.String("record_id", record.ID),
		)
	case errors.Is(err, repository.ErrStaleStock):
		w.logger.Warn("stale stock race",
			zap.String("player", winner.Name),
			zap.Int("prize_id", result.Prize.ID),
		)
	default:
		w.logger.Error("award failed",
			zap.Int("prize_id", result.Prize.ID),
			zap.Error(err),
		)
	}

	if err := w.refresh(ctx); err != nil {
		w.logger.Error("refresh after spin", zap.Error(err))
	}

	w.mu.Lock()
	w.last = &outcome
	w.spinnerID = ""
	w.spinner = ""
	onAward := w.onAward
	w.mu.Unlock()
	if onAward != nil {
		onAward(outcome)
	}
}

// refresh reloads the roster and ledger caches from storage.
func (w *Wheel) refresh(ctx context.Context) error {
	roster, err := w.repo.Roster(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	winners, err := w.repo.Winners(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("load winners: %w", err)
	}
	w.mu.Lock()
	w.roster = roster
	w.winners = winners
	w.mu.Unlock()
	return nil
}

// Reset restores the initial roster and clears the ledger. The rotation is
// left where it is. It is refused while a spin is in flight; w.mu is held
// throughout so no spin can start in between.
func (w *Wheel) Reset(ctx context.Context, playerID string) error {
	w.mu.Lock()
	if playerID == "" || playerID != w.ownerID {
		w.mu.Unlock()
		return ErrNotOwner
	}
	if w.ctrl.Spinning() {
		w.mu.Unlock()
		return wheel.ErrSpinInProgress
	}
	if err := w.repo.Reset(ctx, w.ID, w.initial); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("reset wheel %s: %w", w.ID, err)
	}
	w.last = nil
	w.mu.Unlock()

	w.logger.Info("wheel reset")
	return w.refresh(ctx)
}

// Close tears down the controller; a spin in flight is abandoned.
func (w *Wheel) Close() {
	w.ctrl.Close()
}

// WinnerEntry is a ledger record plus whether its prize has since run out.
type WinnerEntry struct {
	wheel.WinnerRecord
	OutOfStock bool
}

// Snapshot captures the state needed for rendering UI fragments.
type Snapshot struct {
	ID         string
	Roster     []wheel.Prize
	Winners    []WinnerEntry
	Available  int
	TotalStock int
	State      wheel.State
	Rotation   float64
	Trajectory *wheel.Trajectory
	Spinner    string
	Last       *Outcome
	Players    []string
}

// Snapshot returns a consistent view of the wheel. It never advances the
// controller; the spin loop does that.
func (w *Wheel) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	roster := wheel.CloneRoster(w.roster)
	stock := make(map[int]int, len(roster))
	for _, p := range roster {
		stock[p.ID] = p.Stock
	}
	winners := make([]WinnerEntry, 0, len(w.winners))
	for _, rec := range w.winners {
		s, ok := stock[rec.Prize.ID]
		winners = append(winners, WinnerEntry{
			WinnerRecord: rec,
			OutOfStock:   !ok || s <= 0,
		})
	}
	players := make([]string, 0, len(w.players))
	for _, p := range w.players {
		players = append(players, p.Name)
	}
	sort.Strings(players)

	snap := Snapshot{
		ID:         w.ID,
		Roster:     roster,
		Winners:    winners,
		Available:  len(wheel.Available(roster)),
		TotalStock: wheel.TotalStock(roster),
		State:      w.ctrl.State(),
		Rotation:   w.ctrl.DisplayRotation(),
		Spinner:    w.spinner,
		Players:    players,
	}
	if traj, ok := w.ctrl.Trajectory(); ok {
		snap.Trajectory = &traj
	}
	if w.last != nil {
		last := *w.last
		snap.Last = &last
	}
	return snap
}
