package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"spinwheel/internal/repository"
	"spinwheel/internal/repository/memory"
	"spinwheel/internal/wheel"
	"spinwheel/pkg/realtime"
)

func fastSpin() wheel.SpinConfig {
	return wheel.SpinConfig{
		Duration:      40 * time.Millisecond,
		Settle:        5 * time.Millisecond,
		FrameInterval: 5 * time.Millisecond,
		MinTurns:      5,
		MaxTurns:      7,
	}
}

func newTestStore(t *testing.T, roster []wheel.Prize) (*Store, repository.Repository) {
	t.Helper()
	repo := memory.New()
	s := NewStore(Options{
		Repo:   repo,
		Roster: roster,
		Spin:   fastSpin(),
		RNG:    wheel.NewSeededRNG(1),
	})
	t.Cleanup(s.Close)
	return s, repo
}

func threePrizes() []wheel.Prize {
	return []wheel.Prize{
		{ID: 1, Name: "Mug", Stock: 2},
		{ID: 2, Name: "Pen", Stock: 3},
		{ID: 3, Name: "Cap", Stock: 1},
	}
}

func TestNewStore(t *testing.T) {
	s := NewStore(Options{Repo: memory.New()})
	if s == nil {
		t.Fatal("NewStore returned nil")
	}
}

func TestStore_CreateWheel_GetWheel(t *testing.T) {
	s, _ := newTestStore(t, threePrizes())
	w, err := s.CreateWheel(context.Background())
	if err != nil {
		t.Fatalf("CreateWheel: %v", err)
	}
	if w.ID == "" {
		t.Error("wheel ID is empty")
	}
	got, ok := s.GetWheel(w.ID)
	if !ok {
		t.Fatal("GetWheel returned false for existing wheel")
	}
	if got != w {
		t.Error("GetWheel returned different pointer")
	}
	if _, ok := s.GetWheel("nonexistent"); ok {
		t.Error("GetWheel should return false for missing ID")
	}
	again, err := s.OpenWheel(context.Background(), w.ID)
	if err != nil || again != w {
		t.Error("OpenWheel on an open id should return the same wheel")
	}
	snap := w.Snapshot()
	if snap.Available != 3 || snap.TotalStock != 6 {
		t.Errorf("available %d total %d, want 3 and 6", snap.Available, snap.TotalStock)
	}
}

func TestStore_Publish(t *testing.T) {
	s, _ := newTestStore(t, threePrizes())
	w, _ := s.CreateWheel(context.Background())
	hub := s.Broadcaster(w.ID)
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	s.Publish(w.ID, EventPlayers)
	got := <-ch
	if got.Name != EventPlayers {
		t.Errorf("got event %q, want players", got.Name)
	}
}

func TestWheel_AddPlayerOwnership(t *testing.T) {
	s, _ := newTestStore(t, threePrizes())
	w, _ := s.CreateWheel(context.Background())
	p1 := w.AddPlayer("alice")
	p2 := w.AddPlayer("bob")
	if p1.ID == p2.ID {
		t.Error("players share an id")
	}
	if !w.IsOwner(p1.ID) || w.IsOwner(p2.ID) || w.IsOwner("") {
		t.Error("first player should be the only owner")
	}
	if name, ok := w.PlayerName(p2.ID); !ok || name != "bob" {
		t.Errorf("PlayerName = %q,%v", name, ok)
	}
}

func TestStore_SpinRequiresPlayer(t *testing.T) {
	s, _ := newTestStore(t, threePrizes())
	w, _ := s.CreateWheel(context.Background())
	if _, err := s.Spin(context.Background(), w.ID, "nobody"); !errors.Is(err, ErrUnknownPlayer) {
		t.Errorf("err = %v, want ErrUnknownPlayer", err)
	}
	if _, err := s.Spin(context.Background(), "missing", "x"); !errors.Is(err, ErrWheelNotFound) {
		t.Errorf("err = %v, want ErrWheelNotFound", err)
	}
}

func waitEvent(t *testing.T, ch <-chan realtime.Event, name string) realtime.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Name == name {
				return e
			}
		case <-timeout:
			t.Fatalf("no %q event within 3s", name)
		}
	}
}

func TestStore_LastPrizeThenOutOfStock(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, []wheel.Prize{
		{ID: 1, Name: "A", Stock: 0},
		{ID: 2, Name: "B", Stock: 1},
		{ID: 3, Name: "C", Stock: 0},
	})
	w, _ := s.CreateWheel(ctx)
	p := w.AddPlayer("ann")
	ch := s.Broadcaster(w.ID).Subscribe()

	traj, err := s.Spin(ctx, w.ID, p.ID)
	if err != nil {
		t.Fatalf("Spin: %v", err)
	}
	if traj.Prize.ID != 2 {
		t.Fatalf("drew %d, want 2", traj.Prize.ID)
	}
	spin := waitEvent(t, ch, EventSpin)
	if spin.Data == "" {
		t.Error("spin event has no payload")
	}
	var payload SpinPayload
	if err := json.UnmarshalFromString(spin.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.PrizeID != 2 || payload.Spinner != "ann" || payload.DurationMs != 40 {
		t.Errorf("payload = %+v", payload)
	}

	result := waitEvent(t, ch, EventResult)
	var rp ResultPayload
	if err := json.UnmarshalFromString(result.Data, &rp); err != nil {
		t.Fatal(err)
	}
	if !rp.Awarded || rp.PrizeID != 2 || rp.Name != "ann" {
		t.Errorf("result = %+v", rp)
	}

	snap := w.Snapshot()
	if snap.Available != 0 || snap.TotalStock != 0 {
		t.Errorf("available %d total %d, want 0 and 0", snap.Available, snap.TotalStock)
	}
	if len(snap.Winners) != 1 {
		t.Fatalf("%d winners, want 1", len(snap.Winners))
	}
	rec := snap.Winners[0]
	if rec.Name != "ann" || rec.Prize.ID != 2 || rec.Prize.Stock != 1 || !rec.OutOfStock {
		t.Errorf("winner = %+v", rec)
	}
	if snap.Last == nil || !snap.Last.Awarded {
		t.Error("last outcome not recorded")
	}

	waitFor(t, func() bool { return !w.Controller().Spinning() })
	if _, err := s.Spin(ctx, w.ID, p.ID); !errors.Is(err, wheel.ErrOutOfStock) {
		t.Errorf("err = %v, want ErrOutOfStock", err)
	}
}

func TestStore_SpinInProgress(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, threePrizes())
	w, _ := s.CreateWheel(ctx)
	p := w.AddPlayer("ann")
	if _, err := s.Spin(ctx, w.ID, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Spin(ctx, w.ID, p.ID); !errors.Is(err, wheel.ErrSpinInProgress) {
		t.Errorf("err = %v, want ErrSpinInProgress", err)
	}
}

func TestStore_ManySpinsConserveStock(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, threePrizes())
	w, _ := s.CreateWheel(ctx)
	p := w.AddPlayer("ann")
	ch := s.Broadcaster(w.ID).Subscribe()
	for i := 0; i < 6; i++ {
		waitFor(t, func() bool { return !w.Controller().Spinning() })
		if _, err := s.Spin(ctx, w.ID, p.ID); err != nil {
			t.Fatalf("spin %d: %v", i, err)
		}
		waitEvent(t, ch, EventResult)
	}
	snap := w.Snapshot()
	if snap.TotalStock != 0 || len(snap.Winners) != 6 {
		t.Errorf("total %d winners %d, want 0 and 6", snap.TotalStock, len(snap.Winners))
	}
	waitFor(t, func() bool { return !w.Controller().Spinning() })
	if _, err := s.Spin(ctx, w.ID, p.ID); !errors.Is(err, wheel.ErrOutOfStock) {
		t.Errorf("err = %v, want ErrOutOfStock", err)
	}
}

func TestWheel_StaleStockIsDropped(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	w, err := NewWheel(ctx, "w", []wheel.Prize{{ID: 7, Name: "Last", Stock: 1}}, repo, fastSpin(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	p := w.AddPlayer("ann")
	now := time.Now().UTC()
	if _, err := w.Spin(ctx, p.ID, now); err != nil {
		t.Fatal(err)
	}
	// Someone else takes the last one while the wheel is turning.
	if _, err := repo.Award(ctx, "w", 7, repository.Winner{Name: "other"}, now); err != nil {
		t.Fatal(err)
	}
	var outcome *Outcome
	w.OnAward(func(o Outcome) { outcome = &o })
	driveToEnd(t, w.Controller(), now)

	if outcome == nil || outcome.Awarded {
		t.Fatalf("outcome = %+v, want a dropped award", outcome)
	}
	snap := w.Snapshot()
	if len(snap.Winners) != 1 || snap.Winners[0].Name != "other" {
		t.Errorf("winners = %+v, want only other", snap.Winners)
	}
	if snap.TotalStock != 0 {
		t.Errorf("stock = %d, want 0", snap.TotalStock)
	}
}

func TestWheel_Reset(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	w, err := NewWheel(ctx, "w", threePrizes(), repo, fastSpin(), wheel.NewSeededRNG(9), nil)
	if err != nil {
		t.Fatal(err)
	}
	owner := w.AddPlayer("owner")
	guest := w.AddPlayer("guest")
	now := time.Now().UTC()
	if _, err := w.Spin(ctx, guest.ID, now); err != nil {
		t.Fatal(err)
	}
	if err := w.Reset(ctx, owner.ID); !errors.Is(err, wheel.ErrSpinInProgress) {
		t.Errorf("reset while spinning: err = %v", err)
	}
	driveToEnd(t, w.Controller(), now)
	rotation := w.Controller().Rotation()

	if err := w.Reset(ctx, guest.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("guest reset: err = %v, want ErrNotOwner", err)
	}
	if err := w.Reset(ctx, owner.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	snap := w.Snapshot()
	if snap.TotalStock != 6 || len(snap.Winners) != 0 || snap.Last != nil {
		t.Errorf("after reset: total %d winners %d last %v", snap.TotalStock, len(snap.Winners), snap.Last)
	}
	if w.Controller().Rotation() != rotation {
		t.Error("reset moved the wheel")
	}
}

func TestWheel_RejectedSpinKeepsCachedRoster(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	w, err := NewWheel(ctx, "w", threePrizes(), repo, fastSpin(), wheel.NewSeededRNG(3), nil)
	if err != nil {
		t.Fatal(err)
	}
	p := w.AddPlayer("ann")
	now := time.Now().UTC()
	if _, err := w.Spin(ctx, p.ID, now); err != nil {
		t.Fatal(err)
	}
	// Another writer takes a prize while the wheel is turning.
	if _, err := repo.Award(ctx, "w", 2, repository.Winner{Name: "other"}, now); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Spin(ctx, p.ID, now); !errors.Is(err, wheel.ErrSpinInProgress) {
		t.Fatalf("err = %v, want ErrSpinInProgress", err)
	}
	if got := w.Snapshot().TotalStock; got != 6 {
		t.Errorf("total stock = %d, want 6 until the spin settles", got)
	}
}

func TestWheel_ResetMidSpinLeavesStorage(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	w, err := NewWheel(ctx, "w", threePrizes(), repo, fastSpin(), wheel.NewSeededRNG(5), nil)
	if err != nil {
		t.Fatal(err)
	}
	owner := w.AddPlayer("owner")
	now := time.Now().UTC()
	if _, err := w.Spin(ctx, owner.ID, now); err != nil {
		t.Fatal(err)
	}
	// Drain a prize in storage so an accepted reset would be visible.
	if _, err := repo.Award(ctx, "w", 2, repository.Winner{Name: "other"}, now); err != nil {
		t.Fatal(err)
	}
	if err := w.Reset(ctx, owner.ID); !errors.Is(err, wheel.ErrSpinInProgress) {
		t.Fatalf("err = %v, want ErrSpinInProgress", err)
	}
	roster, err := repo.Roster(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if got := wheel.TotalStock(roster); got != 5 {
		t.Errorf("stored stock = %d, want 5", got)
	}

	driveToEnd(t, w.Controller(), now)
	snap := w.Snapshot()
	if snap.TotalStock != 4 || len(snap.Winners) != 2 {
		t.Errorf("total %d winners %d, want 4 and 2", snap.TotalStock, len(snap.Winners))
	}
}

func TestStore_ResumesFromStorage(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	if err := repo.Reset(ctx, "main", []wheel.Prize{{ID: 1, Name: "A", Stock: 9}}); err != nil {
		t.Fatal(err)
	}
	s := NewStore(Options{Repo: repo, Roster: threePrizes(), Spin: fastSpin()})
	defer s.Close()
	w, err := s.OpenWheel(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	snap := w.Snapshot()
	if len(snap.Roster) != 1 || snap.Roster[0].Stock != 9 {
		t.Errorf("roster = %+v, want stored roster", snap.Roster)
	}
}

func TestStore_Close(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Options{Repo: memory.New(), Roster: threePrizes(), Spin: fastSpin()})
	w, _ := s.CreateWheel(ctx)
	p := w.AddPlayer("ann")
	if _, err := s.Spin(ctx, w.ID, p.ID); err != nil {
		t.Fatal(err)
	}
	s.Close()
	if !w.Controller().Closed() {
		t.Error("controller not closed")
	}
	if _, ok := s.GetWheel(w.ID); ok {
		t.Error("wheel still registered after Close")
	}
}

func driveToEnd(t *testing.T, c *wheel.Controller, now time.Time) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		f := c.Advance(now)
		if f.Completed {
			return
		}
		if f.State == wheel.Idle {
			t.Fatal("controller idle without completing")
		}
		now = f.Next
	}
	t.Fatal("spin never completed")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within 3s")
}
