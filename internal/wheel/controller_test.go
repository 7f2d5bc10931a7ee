package wheel

import (
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fixedRNG always returns val modulo n.
type fixedRNG struct{ val int }

func (r fixedRNG) Intn(n int) int { return r.val % n }

func testRoster() []Prize {
	return []Prize{
		{ID: 1, Name: "one", Stock: 5},
		{ID: 2, Name: "two", Stock: 5},
		{ID: 3, Name: "three", Stock: 5},
		{ID: 4, Name: "four", Stock: 5},
		{ID: 5, Name: "five", Stock: 5},
		{ID: 6, Name: "six", Stock: 20},
		{ID: 7, Name: "seven", Stock: 4},
		{ID: 8, Name: "eight", Stock: 50},
	}
}

func testConfig() SpinConfig {
	return SpinConfig{
		Duration:      5500 * time.Millisecond,
		Settle:        200 * time.Millisecond,
		FrameInterval: 16 * time.Millisecond,
		MinTurns:      5,
		MaxTurns:      7,
	}
}

// drive advances c frame by frame until it delivers a result or gives up.
func drive(t *testing.T, c *Controller, now time.Time) (Frame, time.Time) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		f := c.Advance(now)
		if f.Completed || f.State == Idle {
			return f, now
		}
		now = f.Next
	}
	t.Fatal("controller never went idle")
	return Frame{}, now
}

func TestController_SpinPlansTrajectory(t *testing.T) {
	now := time.Now().UTC()
	c := NewController(testConfig(), fixedRNG{val: 2}, nil)
	traj, err := c.Spin(testRoster(), now)
	if err != nil {
		t.Fatalf("Spin: %v", err)
	}
	if traj.Prize.ID != 3 || traj.Target != 2 {
		t.Errorf("prize %d target %d, want 3 and 2", traj.Prize.ID, traj.Target)
	}
	// fixedRNG{2}: turns = 5 + 2%3 = 7
	if traj.Turns != 7 {
		t.Errorf("turns %d, want 7", traj.Turns)
	}
	wantEnd := 7*360 + RotationForTarget(2, 8, 0)
	if math.Abs(traj.End-wantEnd) > 1e-9 {
		t.Errorf("end %v, want %v", traj.End, wantEnd)
	}
	if c.State() != Spinning || !c.Spinning() {
		t.Errorf("state %v, want spinning", c.State())
	}
	if got := PrizeIndexAtPointer(traj.End, traj.Segments); got != traj.Target {
		t.Errorf("trajectory ends on %d, want %d", got, traj.Target)
	}
}

func TestController_TurnsStayInRange(t *testing.T) {
	rng := NewSeededRNG(3)
	for i := 0; i < 200; i++ {
		c := NewController(testConfig(), rng, nil)
		traj, err := c.Spin(testRoster(), time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if traj.Turns < 5 || traj.Turns > 7 {
			t.Fatalf("turns %d outside 5..7", traj.Turns)
		}
		total := traj.End - traj.Start
		if total < 5*360 || total >= 8*360 {
			t.Fatalf("total rotation %v outside [1800, 2880)", total)
		}
	}
}

func TestController_SpinWhileSpinningIsNoop(t *testing.T) {
	now := time.Now().UTC()
	c := NewController(testConfig(), fixedRNG{val: 1}, nil)
	first, err := c.Spin(testRoster(), now)
	if err != nil {
		t.Fatal(err)
	}
	c.Advance(now.Add(time.Second))
	displayed := c.DisplayRotation()

	_, err = c.Spin(testRoster(), now.Add(time.Second))
	if !errors.Is(err, ErrSpinInProgress) {
		t.Fatalf("err = %v, want ErrSpinInProgress", err)
	}
	traj, ok := c.Trajectory()
	if !ok || traj != first {
		t.Error("trajectory changed by rejected spin")
	}
	if c.Rotation() != 0 {
		t.Errorf("persisted rotation %v, want 0", c.Rotation())
	}
	if c.DisplayRotation() != displayed {
		t.Error("display rotation changed by rejected spin")
	}
}

func TestController_OutOfStockStaysIdle(t *testing.T) {
	roster := []Prize{{ID: 1, Stock: 0}, {ID: 2, Stock: 0}, {ID: 3, Stock: 0}}
	c := NewController(testConfig(), nil, nil)
	_, err := c.Spin(roster, time.Now())
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("err = %v, want ErrOutOfStock", err)
	}
	if c.State() != Idle {
		t.Errorf("state %v, want idle", c.State())
	}
	if c.Rotation() != 0 || c.DisplayRotation() != 0 {
		t.Error("rotation moved without a spin")
	}
	if _, ok := c.Trajectory(); ok {
		t.Error("trajectory set without a spin")
	}
}

func TestController_AdvanceEasesMonotonically(t *testing.T) {
	now := time.Now().UTC()
	cfg := testConfig()
	c := NewController(cfg, fixedRNG{val: 0}, nil)
	traj, err := c.Spin(testRoster(), now)
	if err != nil {
		t.Fatal(err)
	}
	prev := traj.Start
	for ms := 0; ms <= 5500; ms += 100 {
		at := now.Add(time.Duration(ms) * time.Millisecond)
		f := c.Advance(at)
		if f.Rotation < prev {
			t.Fatalf("t=%dms: rotation went backwards %v < %v", ms, f.Rotation, prev)
		}
		p := float64(ms) / 5500
		want := traj.Start + (traj.End-traj.Start)*(1-math.Pow(1-p, 3))
		if math.Abs(f.Rotation-want) > 1e-6 {
			t.Errorf("t=%dms: rotation %v, want %v", ms, f.Rotation, want)
		}
		prev = f.Rotation
	}
	if c.DisplayRotation() != traj.End {
		t.Errorf("display %v, want exactly %v at the end", c.DisplayRotation(), traj.End)
	}
	if c.Rotation() != traj.End {
		t.Errorf("persisted rotation %v, want %v", c.Rotation(), traj.End)
	}
	if c.State() != Settling {
		t.Errorf("state %v, want settling before the settle delay passes", c.State())
	}
}

func TestController_OnSpinEndFiresOnceAfterSettle(t *testing.T) {
	now := time.Now().UTC()
	c := NewController(testConfig(), fixedRNG{val: 4}, nil)
	var results []SpinResult
	c.OnSpinEnd(func(r SpinResult) {
		if !c.Spinning() {
			t.Error("controller idle while onSpinEnd runs")
		}
		if _, err := c.Spin(testRoster(), r.Timestamp); !errors.Is(err, ErrSpinInProgress) {
			t.Errorf("spin inside onSpinEnd: err = %v", err)
		}
		results = append(results, r)
	})
	traj, err := c.Spin(testRoster(), now)
	if err != nil {
		t.Fatal(err)
	}

	end := traj.EndsAt()
	if f := c.Advance(end); f.Completed || f.State != Settling {
		t.Fatalf("at end: completed=%v state=%v, want settling", f.Completed, f.State)
	}
	if f := c.Advance(end.Add(100 * time.Millisecond)); f.Completed {
		t.Fatal("completed before settle delay")
	}
	f := c.Advance(end.Add(200 * time.Millisecond))
	if !f.Completed || f.State != Idle {
		t.Fatalf("after settle: completed=%v state=%v", f.Completed, f.State)
	}
	c.Advance(end.Add(time.Second))
	c.Advance(end.Add(2 * time.Second))

	if len(results) != 1 {
		t.Fatalf("onSpinEnd fired %d times, want 1", len(results))
	}
	if results[0].Prize.ID != traj.Prize.ID || results[0].Mismatch() {
		t.Errorf("landed on %d, intended %d", results[0].Prize.ID, traj.Prize.ID)
	}
	if results[0].FinalRotation != traj.End {
		t.Errorf("final rotation %v, want %v", results[0].FinalRotation, traj.End)
	}
	if c.State() != Idle {
		t.Errorf("state %v, want idle", c.State())
	}
}

func TestController_RotationAccumulatesAcrossSpins(t *testing.T) {
	now := time.Now().UTC()
	c := NewController(testConfig(), NewSeededRNG(11), nil)
	landed := 0
	c.OnSpinEnd(func(r SpinResult) {
		landed++
		if r.Mismatch() {
			t.Errorf("spin %d: landed %d, intended %d", landed, r.Prize.ID, r.Intended.ID)
		}
	})
	prev := 0.0
	for i := 0; i < 25; i++ {
		traj, err := c.Spin(testRoster(), now)
		if err != nil {
			t.Fatalf("spin %d: %v", i, err)
		}
		if traj.Start != prev {
			t.Fatalf("spin %d starts at %v, want %v", i, traj.Start, prev)
		}
		_, now = drive(t, c, now)
		prev = traj.End
	}
	if landed != 25 {
		t.Errorf("landed %d spins, want 25", landed)
	}
	if c.Rotation() != prev {
		t.Errorf("rotation %v, want %v", c.Rotation(), prev)
	}
}

func TestController_CloseSuppressesOnSpinEnd(t *testing.T) {
	now := time.Now().UTC()
	c := NewController(testConfig(), fixedRNG{val: 0}, nil)
	fired := false
	c.OnSpinEnd(func(SpinResult) { fired = true })
	traj, err := c.Spin(testRoster(), now)
	if err != nil {
		t.Fatal(err)
	}
	c.Advance(now.Add(time.Second))
	c.Close()

	c.Advance(traj.EndsAt())
	c.Advance(traj.EndsAt().Add(time.Second))
	if fired {
		t.Error("onSpinEnd fired after Close")
	}
	if _, err := c.Spin(testRoster(), now); !errors.Is(err, ErrClosed) {
		t.Errorf("spin after close: err = %v, want ErrClosed", err)
	}
	if !c.Closed() {
		t.Error("Closed() = false")
	}
}

func TestController_LastPrizeThenOutOfStock(t *testing.T) {
	now := time.Now().UTC()
	roster := []Prize{{ID: 1, Stock: 0}, {ID: 2, Stock: 1}, {ID: 3, Stock: 0}}
	c := NewController(testConfig(), NewSeededRNG(5), nil)
	c.OnSpinEnd(func(r SpinResult) {
		i := IndexOf(roster, r.Prize.ID)
		if roster[i].Stock > 0 {
			roster[i].Stock--
		}
	})
	traj, err := c.Spin(roster, now)
	if err != nil {
		t.Fatal(err)
	}
	if traj.Prize.ID != 2 {
		t.Fatalf("picked %d, want 2", traj.Prize.ID)
	}
	drive(t, c, now)
	if roster[1].Stock != 0 {
		t.Fatalf("stock %d, want 0", roster[1].Stock)
	}
	if _, err := c.Spin(roster, now.Add(time.Minute)); !errors.Is(err, ErrOutOfStock) {
		t.Errorf("err = %v, want ErrOutOfStock", err)
	}
}

func TestController_SingleSegment(t *testing.T) {
	now := time.Now().UTC()
	c := NewController(testConfig(), nil, nil)
	traj, err := c.Spin([]Prize{{ID: 9, Stock: 1}}, now)
	if err != nil {
		t.Fatal(err)
	}
	f, _ := drive(t, c, now)
	if f.Result.Prize.ID != 9 {
		t.Errorf("landed on %d, want 9", f.Result.Prize.ID)
	}
	if math.Mod(traj.End, 360) != 180 {
		t.Errorf("end %v should put the only center (180) under the pointer", traj.End)
	}
}

func TestController_LandedPrizeWinsOnGeometryMismatch(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	now := time.Now().UTC()
	c := NewController(testConfig(), fixedRNG{val: 0}, zap.New(core))
	traj, err := c.Spin(testRoster(), now)
	if err != nil {
		t.Fatal(err)
	}
	if traj.Prize.ID != 1 {
		t.Fatalf("drew %d, want 1", traj.Prize.ID)
	}

	// Skew the planned stop onto the next segment.
	c.mu.Lock()
	c.traj.End = c.traj.Start + float64(traj.Turns)*FullTurn + RotationForTarget(1, 8, c.traj.Start)
	c.mu.Unlock()

	var got []SpinResult
	c.OnSpinEnd(func(r SpinResult) { got = append(got, r) })
	f, _ := drive(t, c, traj.EndsAt())
	if !f.Completed {
		t.Fatalf("frame = %+v, want completed", f)
	}
	if f.Result.Prize.ID != 2 || f.Result.Intended.ID != 1 || !f.Result.Mismatch() {
		t.Errorf("result prize %d intended %d, want 2 and 1", f.Result.Prize.ID, f.Result.Intended.ID)
	}
	if len(got) != 1 || got[0].Prize.ID != 2 {
		t.Errorf("observers saw %+v, want one result for prize 2", got)
	}

	entries := logs.FilterMessage("geometry mismatch")
	if entries.Len() != 1 {
		t.Fatalf("%d mismatch logs, want 1", entries.Len())
	}
	fields := entries.All()[0].ContextMap()
	if fields["intended_id"] != int64(1) || fields["landed_id"] != int64(2) {
		t.Errorf("log fields = %v", fields)
	}
}
