package wheel

import (
	"errors"
	"time"
)

var (
	// ErrOutOfStock is returned when no prize on the roster has stock left.
	ErrOutOfStock = errors.New("all prizes are out of stock")
	// ErrSpinInProgress is returned when spin is requested while the wheel is still moving.
	ErrSpinInProgress = errors.New("wheel is already spinning")
	// ErrClosed is returned once the controller has been torn down.
	ErrClosed = errors.New("wheel controller closed")
	// ErrInvalidSegment reports a segment count or index the wheel cannot draw.
	ErrInvalidSegment = errors.New("invalid segment")
)

// Prize is one slice of the wheel.
type Prize struct {
	ID    int    `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Stock int    `json:"stock" yaml:"stock"`
	Icon  string `json:"icon" yaml:"icon"`
	Color string `json:"color" yaml:"color"`
}

// InStock reports whether the prize can still be awarded.
func (p Prize) InStock() bool {
	return p.Stock > 0
}

// SpinResult is produced once per completed spin.
type SpinResult struct {
	Prize         Prize
	Intended      Prize
	FinalRotation float64
	Timestamp     time.Time
}

// Mismatch reports whether the landed prize differs from the one that was drawn.
func (r SpinResult) Mismatch() bool {
	return r.Prize.ID != r.Intended.ID
}

// WinnerRecord is an entry of the append-only winners ledger.
type WinnerRecord struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"playerId"`
	Name      string    `json:"name"`
	Prize     Prize     `json:"prize"`
	Timestamp time.Time `json:"timestamp"`
}

// CloneRoster returns a copy so callers cannot mutate shared state.
func CloneRoster(roster []Prize) []Prize {
	out := make([]Prize, len(roster))
	copy(out, roster)
	return out
}

// IndexOf returns the roster position of the prize with id, or -1.
func IndexOf(roster []Prize, id int) int {
	for i, p := range roster {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Available returns the prizes that still have stock, in roster order.
func Available(roster []Prize) []Prize {
	out := make([]Prize, 0, len(roster))
	for _, p := range roster {
		if p.InStock() {
			out = append(out, p)
		}
	}
	return out
}

// TotalStock sums the remaining stock of every prize.
func TotalStock(roster []Prize) int {
	total := 0
	for _, p := range roster {
		total += p.Stock
	}
	return total
}
