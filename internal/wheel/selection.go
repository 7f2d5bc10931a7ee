package wheel

import (
	"math/rand/v2"
	"sync"
)

// RNG abstracts random number generation for deterministic testing.
type RNG interface {
	// Intn returns a non-negative random int in [0, n).
	Intn(n int) int
}

type stdRNG struct{}

func (stdRNG) Intn(n int) int { return rand.IntN(n) }

// DefaultRNG delegates to math/rand/v2 (auto-seeded).
func DefaultRNG() RNG { return stdRNG{} }

type seededRNG struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeededRNG returns a reproducible RNG, for tests and simulations.
// It is safe to share between wheels.
func NewSeededRNG(seed uint64) RNG {
	return &seededRNG{r: rand.New(rand.NewPCG(seed, 0))}
}

func (s *seededRNG) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

// PickWinner draws uniformly among the prizes that still have stock.
// Remaining stock only decides eligibility, never the odds.
func PickWinner(roster []Prize, rng RNG) (Prize, error) {
	candidates := Available(roster)
	if len(candidates) == 0 {
		return Prize{}, ErrOutOfStock
	}
	if rng == nil {
		rng = DefaultRNG()
	}
	return candidates[rng.Intn(len(candidates))], nil
}
