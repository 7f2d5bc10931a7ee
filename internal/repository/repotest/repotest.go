// Package repotest checks that a repository.Repository behaves like the
// in-memory one. Each store's tests call Run with its own constructor.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spinwheel/internal/repository"
	"spinwheel/internal/wheel"
)

// Factory returns a fresh, empty repository.
type Factory func(t *testing.T) repository.Repository

// Roster is a small roster used by every check.
func Roster() []wheel.Prize {
	return []wheel.Prize{
		{ID: 1, Name: "Mug", Stock: 2, Icon: "mug", Color: "#1a237e"},
		{ID: 2, Name: "Sticker", Stock: 1, Icon: "sticker", Color: "#283593"},
		{ID: 3, Name: "T-shirt", Stock: 0, Icon: "shirt", Color: "#303f9f"},
	}
}

// Run runs the conformance checks against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newRepo(t)) })
	t.Run("SeedAndRoster", func(t *testing.T) { testSeedAndRoster(t, newRepo(t)) })
	t.Run("AwardDecrements", func(t *testing.T) { testAwardDecrements(t, newRepo(t)) })
	t.Run("AwardStaleStock", func(t *testing.T) { testAwardStaleStock(t, newRepo(t)) })
	t.Run("AwardUnknownPrize", func(t *testing.T) { testAwardUnknownPrize(t, newRepo(t)) })
	t.Run("ResetClearsLedger", func(t *testing.T) { testResetClearsLedger(t, newRepo(t)) })
	t.Run("WheelsAreIsolated", func(t *testing.T) { testWheelsAreIsolated(t, newRepo(t)) })
	t.Run("ConcurrentAwards", func(t *testing.T) { testConcurrentAwards(t, newRepo(t)) })
}

func testNotFound(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	if _, err := repo.Roster(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Roster: err = %v, want ErrNotFound", err)
	}
	if _, err := repo.Award(ctx, "missing", 1, repository.Winner{Name: "a"}, time.Now()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Award: err = %v, want ErrNotFound", err)
	}
}

func testSeedAndRoster(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	if err := repository.Seed(ctx, repo, "w", Roster()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	got, err := repo.Roster(ctx, "w")
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	want := Roster()
	if len(got) != len(want) {
		t.Fatalf("len(roster) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("roster[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	// Seeding again must not overwrite existing state.
	if _, err := repo.Award(ctx, "w", 1, repository.Winner{Name: "a"}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := repository.Seed(ctx, repo, "w", Roster()); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.Roster(ctx, "w")
	if got[0].Stock != 1 {
		t.Errorf("reseed overwrote stock: %d", got[0].Stock)
	}
	winners, err := repo.Winners(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if len(winners) != 1 {
		t.Errorf("len(winners) = %d, want 1", len(winners))
	}
}

func testAwardDecrements(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	if err := repo.Reset(ctx, "w", Roster()); err != nil {
		t.Fatal(err)
	}
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first, err := repo.Award(ctx, "w", 1, repository.Winner{ID: "p1", Name: "Ann"}, t0)
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if first.ID == "" {
		t.Error("record has no id")
	}
	if first.Name != "Ann" || first.PlayerID != "p1" || first.Prize.ID != 1 || !first.Timestamp.Equal(t0) {
		t.Errorf("record = %+v", first)
	}
	// The record holds the prize as it was before the decrement.
	if first.Prize.Stock != 2 {
		t.Errorf("snapshot stock = %d, want 2", first.Prize.Stock)
	}
	second, err := repo.Award(ctx, "w", 2, repository.Winner{ID: "p2", Name: "Bo"}, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID {
		t.Error("record ids collide")
	}

	roster, _ := repo.Roster(ctx, "w")
	if roster[0].Stock != 1 || roster[1].Stock != 0 || roster[2].Stock != 0 {
		t.Errorf("stock after awards = %d,%d,%d want 1,0,0", roster[0].Stock, roster[1].Stock, roster[2].Stock)
	}
	winners, err := repo.Winners(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if len(winners) != 2 || winners[0].Name != "Bo" || winners[1].Name != "Ann" {
		t.Errorf("winners not newest first: %+v", winners)
	}
	if len(winners) == 2 && (winners[0].PlayerID != "p2" || winners[1].PlayerID != "p1") {
		t.Errorf("player ids = %q,%q want p2,p1", winners[0].PlayerID, winners[1].PlayerID)
	}
}

func testAwardStaleStock(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	if err := repo.Reset(ctx, "w", Roster()); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Award(ctx, "w", 3, repository.Winner{Name: "a"}, time.Now()); !errors.Is(err, repository.ErrStaleStock) {
		t.Fatalf("err = %v, want ErrStaleStock", err)
	}
	winners, _ := repo.Winners(ctx, "w")
	if len(winners) != 0 {
		t.Errorf("stale award recorded a winner")
	}
	roster, _ := repo.Roster(ctx, "w")
	if roster[2].Stock != 0 {
		t.Errorf("stock went to %d", roster[2].Stock)
	}
}

func testAwardUnknownPrize(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	if err := repo.Reset(ctx, "w", Roster()); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Award(ctx, "w", 99, repository.Winner{Name: "a"}, time.Now()); !errors.Is(err, repository.ErrUnknownPrize) {
		t.Errorf("err = %v, want ErrUnknownPrize", err)
	}
}

func testResetClearsLedger(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	if err := repo.Reset(ctx, "w", Roster()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := repo.Award(ctx, "w", 1, repository.Winner{Name: "a"}, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.Reset(ctx, "w", Roster()); err != nil {
		t.Fatal(err)
	}
	roster, _ := repo.Roster(ctx, "w")
	if roster[0].Stock != 2 {
		t.Errorf("stock after reset = %d, want 2", roster[0].Stock)
	}
	winners, err := repo.Winners(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if len(winners) != 0 {
		t.Errorf("ledger after reset has %d entries", len(winners))
	}
}

func testWheelsAreIsolated(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	_ = repo.Reset(ctx, "a", Roster())
	_ = repo.Reset(ctx, "b", Roster())
	if _, err := repo.Award(ctx, "a", 2, repository.Winner{Name: "x"}, time.Now()); err != nil {
		t.Fatal(err)
	}
	roster, _ := repo.Roster(ctx, "b")
	if roster[1].Stock != 1 {
		t.Errorf("award on a changed b: stock %d", roster[1].Stock)
	}
	winners, _ := repo.Winners(ctx, "b")
	if len(winners) != 0 {
		t.Errorf("b has %d winners", len(winners))
	}
}

func testConcurrentAwards(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	roster := []wheel.Prize{{ID: 1, Name: "Last", Stock: 3}}
	if err := repo.Reset(ctx, "w", roster); err != nil {
		t.Fatal(err)
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		awarded int
		stale   int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Award(ctx, "w", 1, repository.Winner{Name: "racer"}, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				awarded++
			case errors.Is(err, repository.ErrStaleStock):
				stale++
			default:
				t.Errorf("Award: %v", err)
			}
		}()
	}
	wg.Wait()
	if awarded != 3 || stale != 7 {
		t.Errorf("awarded %d stale %d, want 3 and 7", awarded, stale)
	}
	got, _ := repo.Roster(ctx, "w")
	if got[0].Stock != 0 {
		t.Errorf("stock = %d, want 0", got[0].Stock)
	}
}
