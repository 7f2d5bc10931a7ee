// Command simulate spins a wheel until it runs dry, on synthetic time, and
// reports how the prizes were handed out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"spinwheel/internal/config"
	"spinwheel/internal/game"
	"spinwheel/internal/logging"
	"spinwheel/internal/repository/memory"
	"spinwheel/internal/wheel"
)

func main() {
	configPath := flag.String("config", os.Getenv("WHEEL_CONFIG"), "path to a YAML config file")
	seed := flag.Uint64("seed", 1, "RNG seed; 0 uses a random source")
	maxSpins := flag.Int("spins", 0, "stop after this many spins; 0 runs until every prize is gone")
	players := flag.Int("players", 4, "number of players taking turns")
	flag.Parse()

	if err := run(*configPath, *seed, *maxSpins, *players); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, seed uint64, maxSpins, playerCount int) error {
	cfg, err := config.Load(configPath, "")
	if err != nil {
		return err
	}
	logger, err := logging.New("simulate", cfg.Log.Level, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if playerCount < 1 {
		return errors.New("need at least one player")
	}
	var rng wheel.RNG
	if seed != 0 {
		rng = wheel.NewSeededRNG(seed)
	}

	ctx := context.Background()
	w, err := game.NewWheel(ctx, cfg.Wheel.DefaultID, cfg.Wheel.Prizes, memory.New(), cfg.Spin.Wheel(), rng, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	ids := make([]string, playerCount)
	for i := range ids {
		ids[i] = w.AddPlayer(fmt.Sprintf("player-%d", i+1)).ID
	}

	won := map[string]int{}
	w.OnAward(func(o game.Outcome) {
		if o.Awarded {
			won[o.Prize.Name]++
		}
	})

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	spins := 0
	for maxSpins == 0 || spins < maxSpins {
		traj, err := w.Spin(ctx, ids[spins%len(ids)], now)
		if errors.Is(err, wheel.ErrOutOfStock) {
			break
		}
		if err != nil {
			return err
		}
		spins++
		logger.Debug("spin",
			zap.Int("n", spins),
			zap.String("prize", traj.Prize.Name),
			zap.Int("turns", traj.Turns),
			zap.Float64("end", traj.End),
		)
		now = settle(w.Controller(), now)
	}

	names := make([]string, 0, len(won))
	for name := range won {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]zap.Field, 0, len(names)+2)
	fields = append(fields, zap.Int("spins", spins), zap.Int("left", w.Snapshot().TotalStock))
	for _, name := range names {
		fields = append(fields, zap.Int(name, won[name]))
	}
	logger.Info("simulation finished", fields...)
	return nil
}

// settle drives c frame by frame until the spin completes and returns the
// synthetic time it ended at.
func settle(c *wheel.Controller, now time.Time) time.Time {
	for {
		f := c.Advance(now)
		if f.Completed || f.State == wheel.Idle || f.Next.IsZero() {
			return now
		}
		now = f.Next
	}
}
