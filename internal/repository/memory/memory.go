// Package memory keeps wheels in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"spinwheel/internal/repository"
	"spinwheel/internal/wheel"
)

type entry struct {
	roster  []wheel.Prize
	winners []wheel.WinnerRecord // oldest first
}

type repo struct {
	mu     sync.Mutex
	wheels map[string]*entry
}

// New returns an empty in-memory repository.
func New() repository.Repository {
	return &repo{wheels: make(map[string]*entry)}
}

func (r *repo) Roster(_ context.Context, wheelID string) ([]wheel.Prize, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.wheels[wheelID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return wheel.CloneRoster(e.roster), nil
}

func (r *repo) Winners(_ context.Context, wheelID string) ([]wheel.WinnerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.wheels[wheelID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := make([]wheel.WinnerRecord, 0, len(e.winners))
	for i := len(e.winners) - 1; i >= 0; i-- {
		out = append(out, e.winners[i])
	}
	return out, nil
}

func (r *repo) Award(_ context.Context, wheelID string, prizeID int, winner repository.Winner, at time.Time) (wheel.WinnerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.wheels[wheelID]
	if !ok {
		return wheel.WinnerRecord{}, repository.ErrNotFound
	}
	i := wheel.IndexOf(e.roster, prizeID)
	if i < 0 {
		return wheel.WinnerRecord{}, fmt.Errorf("prize %d: %w", prizeID, repository.ErrUnknownPrize)
	}
	if !e.roster[i].InStock() {
		return wheel.WinnerRecord{}, fmt.Errorf("prize %d: %w", prizeID, repository.ErrStaleStock)
	}
	record := wheel.WinnerRecord{
		ID:        uuid.NewString(),
		PlayerID:  winner.ID,
		Name:      winner.Name,
		Prize:     e.roster[i],
		Timestamp: at,
	}
	e.roster[i].Stock--
	e.winners = append(e.winners, record)
	return record, nil
}

func (r *repo) Reset(_ context.Context, wheelID string, initial []wheel.Prize) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wheels[wheelID] = &entry{roster: wheel.CloneRoster(initial)}
	return nil
}

func (r *repo) Close() error {
	return nil
}
